// Package pipeline owns one capture surface + hardware encoder pair and
// forwards the encoder's output units to a sink.
package pipeline

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nlmirror/internal/types"
)

// ErrConfigure means neither the requested nor the fallback configuration
// could be set up.
var ErrConfigure = errors.New("encoder configuration failed")

const (
	DefaultDequeueTimeout = 10 * time.Millisecond
	DefaultJoinTimeout    = time.Second
)

var (
	evStarts    = expvar.NewInt("pipeline_starts")
	evFallbacks = expvar.NewInt("pipeline_fallbacks")
	evUnits     = expvar.NewInt("pipeline_units")
	evParamSets = expvar.NewInt("pipeline_parameter_sets")
)

// Sink receives encoded units in encoder order. It must not block.
type Sink func(types.EncodedUnit)

type Options struct {
	DequeueTimeout time.Duration
	JoinTimeout    time.Duration
	// Gate is shared by every pipeline of one device. Nil gives the
	// pipeline a private gate.
	Gate *Gate
}

type Pipeline struct {
	encoders types.EncoderProvider
	capture  types.CaptureProvider
	sink     Sink
	opts     Options

	mu      sync.Mutex
	enc     types.Encoder
	surface types.CaptureSurface
	cfg     types.EncoderConfig
	held    bool
	quit    chan struct{}
	done    chan struct{}
	err     error
	running atomic.Bool
}

func New(encoders types.EncoderProvider, capture types.CaptureProvider, sink Sink, opts Options) *Pipeline {
	if opts.DequeueTimeout <= 0 {
		opts.DequeueTimeout = DefaultDequeueTimeout
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Gate == nil {
		opts.Gate = NewGate()
	}
	return &Pipeline{
		encoders: encoders,
		capture:  capture,
		sink:     sink,
		opts:     opts,
	}
}

// Start configures the encoder at cfg's size rounded up to multiples of
// 16, retrying once at the fallback size, then binds a capture surface and
// starts draining the encoder. g is the source geometry the request was
// derived from. Start waits for the device's gate and gives up when ctx is
// done, releasing anything it configured.
func (p *Pipeline) Start(ctx context.Context, g types.Geometry, cfg types.EncoderConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return errors.New("pipeline already running")
	}
	if g.Width <= 0 || g.Height <= 0 || cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: degenerate geometry %dx%d (target %dx%d)",
			ErrConfigure, g.Width, g.Height, cfg.Width, cfg.Height)
	}

	requested := cfg
	requested.Width, requested.Height = Round16(cfg.Width), Round16(cfg.Height)
	fallback := cfg
	fallback.Width, fallback.Height = FallbackSize(cfg.Width, cfg.Height)

	if err := p.opts.Gate.Acquire(ctx); err != nil {
		return fmt.Errorf("waiting for encoder: %w", err)
	}
	p.held = true

	var errs []error
	for i, attempt := range []types.EncoderConfig{requested, fallback} {
		if i > 0 {
			evFallbacks.Add(1)
			log.Printf("pipeline: %dx%d rejected, retrying at %dx%d", requested.Width, requested.Height, attempt.Width, attempt.Height)
		}
		enc, surface, err := p.open(attempt)
		if err == nil && ctx.Err() != nil {
			surface.Release()
			enc.Stop()
			enc.Release()
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			p.releaseGate()
			return fmt.Errorf("start %dx%d: %w", attempt.Width, attempt.Height, ctx.Err())
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.enc, p.surface, p.cfg = enc, surface, attempt
		p.err = nil
		p.quit = make(chan struct{})
		p.done = make(chan struct{})
		p.running.Store(true)
		evStarts.Add(1)
		go p.drain(enc, p.quit, p.done)
		log.Printf("pipeline: started %dx%d @ %d bps, %d fps", attempt.Width, attempt.Height, attempt.Bitrate, attempt.FrameRate)
		return nil
	}
	p.releaseGate()
	return fmt.Errorf("%w: %w", ErrConfigure, errors.Join(errs...))
}

// releaseGate must be called with p.mu held.
func (p *Pipeline) releaseGate() {
	if p.held {
		p.held = false
		p.opts.Gate.Release()
	}
}

// open runs one configuration attempt, cleaning up whatever it set up on
// failure.
func (p *Pipeline) open(cfg types.EncoderConfig) (types.Encoder, types.CaptureSurface, error) {
	enc, err := p.encoders.NewEncoder(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("configure %dx%d: %w", cfg.Width, cfg.Height, err)
	}
	surface, err := p.capture.AcquireSurface(enc.InputSurface(), cfg.Width, cfg.Height)
	if err != nil {
		enc.Release()
		return nil, nil, fmt.Errorf("capture surface %dx%d: %w", cfg.Width, cfg.Height, err)
	}
	if err := enc.Start(); err != nil {
		surface.Release()
		enc.Release()
		return nil, nil, fmt.Errorf("start encoder %dx%d: %w", cfg.Width, cfg.Height, err)
	}
	return enc, surface, nil
}

// drain forwards the output of one run. quit belongs to that run only, so
// a loop abandoned by Stop never feeds the sink after a restart.
func (p *Pipeline) drain(enc types.Encoder, quit, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			p.fail(quit, fmt.Errorf("encoder output loop panic: %v", r))
		}
	}()

	stopped := func() bool {
		select {
		case <-quit:
			return true
		default:
			return false
		}
	}
	for !stopped() {
		out, err := enc.Dequeue(p.opts.DequeueTimeout)
		if stopped() {
			return
		}
		if err != nil {
			p.fail(quit, err)
			return
		}
		if out == nil {
			continue
		}
		if out.FormatChanged {
			for _, ps := range out.ParameterSets {
				evParamSets.Add(1)
				p.sink(types.EncodedUnit{PTS: 0, Payload: ps, IsParameterSet: true})
			}
			continue
		}
		if len(out.Unit.Payload) == 0 {
			continue
		}
		evUnits.Add(1)
		p.sink(out.Unit)
	}
}

// fail records err for the run owning quit. Failures of an abandoned run
// are only logged.
func (p *Pipeline) fail(quit chan struct{}, err error) {
	log.Printf("pipeline: encoder output failed: %v", err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quit != quit {
		return
	}
	if p.err == nil {
		p.err = err
	}
	p.running.Store(false)
}

// Done is closed when the output loop of the current run exits. It is nil
// before the first successful Start.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err reports why the output loop stopped on its own.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Config returns the configuration the encoder is actually running with.
func (p *Pipeline) Config() types.EncoderConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Pipeline) Running() bool { return p.running.Load() }

// Stop releases the capture surface, stops and releases the encoder,
// frees the gate and joins the output loop. It is safe to call at any
// time, any number of times.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	enc, surface, done := p.enc, p.surface, p.done
	p.enc, p.surface = nil, nil
	held := p.held
	p.held = false
	if p.quit != nil {
		close(p.quit)
		p.quit = nil
	}
	p.running.Store(false)
	p.mu.Unlock()

	if surface != nil {
		if err := surface.Release(); err != nil {
			log.Printf("pipeline: release surface: %v", err)
		}
	}
	if enc != nil {
		if err := enc.Stop(); err != nil {
			log.Printf("pipeline: stop encoder: %v", err)
		}
		enc.Release()
	}
	if held {
		p.opts.Gate.Release()
	}
	if enc != nil && done != nil {
		select {
		case <-done:
		case <-time.After(p.opts.JoinTimeout):
			log.Printf("pipeline: output loop did not exit within %v", p.opts.JoinTimeout)
		}
	}
}
