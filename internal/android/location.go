package android

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"nlmirror/internal/types"
)

// Providers that receive every spoofed fix.
var MockProviders = []string{"gps", "network", "fused"}

const (
	MockAccuracy    = 5.0
	locationTimeout = 5 * time.Second
)

type runner interface {
	Run(ctx context.Context, script string) error
}

// Location spoofs positions through the location service's test
// providers.
type Location struct {
	sh runner

	mu      sync.Mutex
	started bool
}

func NewLocation(sh runner) *Location { return &Location{sh: sh} }

func (l *Location) run(script string) error {
	ctx, cancel := context.WithTimeout(context.Background(), locationTimeout)
	defer cancel()
	return l.sh.Run(ctx, script)
}

func (l *Location) StartMocking() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked()
}

func (l *Location) startLocked() error {
	if l.started {
		return nil
	}
	if err := l.run("appops set com.android.shell android:mock_location allow"); err != nil {
		log.Printf("location: appops: %v", err)
	}
	var errs []error
	added := 0
	for _, p := range MockProviders {
		err := l.run("cmd location providers add-test-provider " + p +
			" && cmd location providers set-test-provider-enabled " + p + " true")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("start mock location: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		log.Printf("location: %v", err)
	}
	l.started = true
	return nil
}

func (l *Location) StopMocking() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil
	}
	var errs []error
	for _, p := range MockProviders {
		if err := l.run("cmd location providers remove-test-provider " + p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	l.started = false
	return errors.Join(errs...)
}

// SetLocation pushes fix to every provider, starting mocking first if
// needed. The test provider command carries position, accuracy and time
// only.
func (l *Location) SetLocation(fix types.LocationFix) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.startLocked(); err != nil {
		return err
	}
	acc := fix.Accuracy
	if acc <= 0 {
		acc = MockAccuracy
	}
	args := fmt.Sprintf("--location %s,%s --accuracy %s --time %d",
		strconv.FormatFloat(fix.Lat, 'f', -1, 64),
		strconv.FormatFloat(fix.Lon, 'f', -1, 64),
		strconv.FormatFloat(acc, 'f', -1, 64),
		fix.Time.UnixMilli())
	var errs []error
	for _, p := range MockProviders {
		if err := l.run("cmd location providers set-test-provider-location " + p + " " + args); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	if len(errs) == len(MockProviders) {
		return errors.Join(errs...)
	}
	return nil
}
