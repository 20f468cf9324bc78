package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDisplay struct {
	mu    sync.Mutex
	w, h  int
	rot   int
	err   error
	block chan struct{}
}

func (d *fakeDisplay) PhysicalSize(ctx context.Context) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w, d.h, d.err
}

func (d *fakeDisplay) Rotation(ctx context.Context) (int, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rot, d.err
}

func (d *fakeDisplay) rotate(r int) {
	d.mu.Lock()
	d.rot = r
	d.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCurrentRotation(t *testing.T) {
	d := &fakeDisplay{w: 1080, h: 2400, rot: 1}
	w := New(d, Options{PollInterval: 5 * time.Millisecond})
	w.Start()
	defer w.Stop()

	if got := w.CurrentRotation(); got != 1 {
		t.Fatalf("rotation = %d, want 1", got)
	}
	g, ok := w.Current()
	if !ok || g.Width != 1080 || g.Height != 2400 {
		t.Fatalf("geometry = %+v ok=%v", g, ok)
	}
	if w.HasChanged() {
		t.Fatal("first reading must not raise the changed flag")
	}
}

func TestCurrentRotationFallsBackOnTimeout(t *testing.T) {
	d := &fakeDisplay{w: 1080, h: 2400, rot: 3, block: make(chan struct{})}
	w := New(d, Options{PollInterval: 5 * time.Millisecond, ReadyTimeout: 20 * time.Millisecond})
	w.Start()
	defer w.Stop()

	start := time.Now()
	if got := w.CurrentRotation(); got != FallbackRotation {
		t.Fatalf("rotation = %d, want fallback %d", got, FallbackRotation)
	}
	if time.Since(start) > time.Second {
		t.Fatal("CurrentRotation blocked past its timeout")
	}
}

func TestChangeFlagLatchesUntilReset(t *testing.T) {
	d := &fakeDisplay{w: 1080, h: 2400}
	w := New(d, Options{PollInterval: 5 * time.Millisecond})
	w.Start()
	defer w.Stop()
	w.CurrentRotation()

	d.rotate(1)
	waitFor(t, time.Second, w.HasChanged)

	// Still set on later polls even though the geometry is stable again.
	time.Sleep(20 * time.Millisecond)
	if !w.HasChanged() {
		t.Fatal("flag cleared without ResetChangeFlag")
	}

	w.ResetChangeFlag()
	time.Sleep(20 * time.Millisecond)
	if w.HasChanged() {
		t.Fatal("flag set again without a new transition")
	}
	if got := w.CurrentRotation(); got != 1 {
		t.Fatalf("rotation = %d, want 1", got)
	}

	d.rotate(0)
	waitFor(t, time.Second, w.HasChanged)
}

func TestReadErrorsKeepLastGeometry(t *testing.T) {
	d := &fakeDisplay{w: 720, h: 1280, rot: 2}
	w := New(d, Options{PollInterval: 5 * time.Millisecond})
	w.Start()
	defer w.Stop()
	w.CurrentRotation()

	d.mu.Lock()
	d.err = errors.New("dumpsys failed")
	d.mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	if w.HasChanged() {
		t.Fatal("read errors must not count as transitions")
	}
	if got := w.CurrentRotation(); got != 2 {
		t.Fatalf("rotation = %d, want 2", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	w := New(&fakeDisplay{}, Options{})
	w.Stop()
	w.Stop()
	w.Start()
}
