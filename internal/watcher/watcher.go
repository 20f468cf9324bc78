// Package watcher polls the device display for geometry transitions.
package watcher

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nlmirror/internal/types"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadyTimeout = 2 * time.Second

	// FallbackRotation is reported when no reading arrives in time.
	FallbackRotation = 0
)

type Options struct {
	PollInterval time.Duration
	ReadyTimeout time.Duration
}

// Watcher samples a DisplayInfo on its own goroutine and latches a changed
// flag whenever the size or rotation differs from the previous reading.
// The flag stays set until ResetChangeFlag.
type Watcher struct {
	display types.DisplayInfo
	opts    Options

	mu      sync.Mutex
	geom    types.Geometry
	hasGeom bool

	changed   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(display types.DisplayInfo, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		display: display,
		opts:    opts,
		ready:   make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (w *Watcher) Start() {
	w.startOnce.Do(func() { go w.run() })
}

func (w *Watcher) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("watcher: poll loop panic: %v", r)
		}
	}()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	var lastErr string
	for {
		if err := w.sample(); err != nil {
			if msg := err.Error(); msg != lastErr {
				log.Printf("watcher: read display: %v", err)
				lastErr = msg
			}
		} else {
			lastErr = ""
		}
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) sample() error {
	rot, err := w.display.Rotation(w.ctx)
	if err != nil {
		return err
	}
	width, height, err := w.display.PhysicalSize(w.ctx)
	if err != nil {
		return err
	}
	g := types.Geometry{Width: width, Height: height, Rotation: rot}

	w.mu.Lock()
	prev, had := w.geom, w.hasGeom
	w.geom, w.hasGeom = g, true
	w.mu.Unlock()

	if had && prev != g {
		log.Printf("watcher: geometry %dx%d rot %d -> %dx%d rot %d",
			prev.Width, prev.Height, prev.Rotation, g.Width, g.Height, g.Rotation)
		w.changed.Store(true)
	}
	w.readyOnce.Do(func() { close(w.ready) })
	return nil
}

// Current waits up to the ready timeout for the first reading. ok is false
// if none arrived; the geometry then carries the fallback rotation.
func (w *Watcher) Current() (g types.Geometry, ok bool) {
	select {
	case <-w.ready:
	case <-time.After(w.opts.ReadyTimeout):
		log.Printf("watcher: no reading within %v", w.opts.ReadyTimeout)
		return types.Geometry{Rotation: FallbackRotation}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.geom, true
}

func (w *Watcher) CurrentRotation() int {
	g, _ := w.Current()
	return g.Rotation
}

func (w *Watcher) HasChanged() bool { return w.changed.Load() }

func (w *Watcher) ResetChangeFlag() { w.changed.Store(false) }

// Stop cancels the poll loop and waits for it up to the ready timeout.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		started := true
		w.startOnce.Do(func() {
			started = false
			close(w.done)
		})
		if !started {
			return
		}
		select {
		case <-w.done:
		case <-time.After(w.opts.ReadyTimeout):
			log.Printf("watcher: poll loop did not exit within %v", w.opts.ReadyTimeout)
		}
	})
}
