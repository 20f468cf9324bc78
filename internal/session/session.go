// Package session runs one mirroring connection: handshake, pipeline,
// geometry-driven reconfiguration and ordered teardown.
package session

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"nlmirror/internal/input"
	"nlmirror/internal/packet"
	"nlmirror/internal/pipeline"
	"nlmirror/internal/types"
	"nlmirror/internal/watcher"
	"nlmirror/internal/wire"
)

const (
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultJoinTimeout      = time.Second
	DefaultHandshakeTimeout = 500 * time.Millisecond
	statsInterval           = 5 * time.Second
)

var evReconfigures = expvar.NewInt("session_reconfigures")

type State int32

const (
	Idle State = iota
	Negotiating
	Streaming
	Reconfiguring
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Streaming:
		return "streaming"
	case Reconfiguring:
		return "reconfiguring"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config holds the collaborators and tunables shared by every session of
// one device.
type Config struct {
	Display  types.DisplayInfo
	Encoders types.EncoderProvider
	Capture  types.CaptureProvider
	// Scaler, when set, is reconfigured on every pipeline start.
	Scaler *input.Scaler
	// Gate serialises encoder ownership across the device's sessions. A
	// Manager fills it in when nil.
	Gate *pipeline.Gate

	// Encoder is the template for every pipeline start; size and bitrate
	// are filled in per start.
	Encoder   types.EncoderConfig
	Handshake wire.Handshake

	HandshakeTimeout time.Duration
	PollInterval     time.Duration
	JoinTimeout      time.Duration
	Channel          packet.Options
	Watcher          watcher.Options
	Stats            bool
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.Handshake.Bitrate <= 0 {
		c.Handshake.Bitrate = wire.DefaultBitrate
	}
	if c.Handshake.MaxSize <= 0 {
		c.Handshake.MaxSize = wire.DefaultMaxSize
	}
	return c
}

type Session struct {
	ID   string
	cfg  Config
	conn net.Conn

	state atomic.Int32
	hs    wire.Handshake

	ch    *packet.Channel
	pipe  *pipeline.Pipeline
	watch *watcher.Watcher

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	// ctx is cancelled by Stop and bounds waits on the encoder.
	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func New(id string, conn net.Conn, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		ID:   id,
		cfg:  cfg,
		conn: conn,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	chOpts := cfg.Channel
	if chOpts.Name == "" {
		chOpts.Name = "writer " + id
	}
	s.ch = packet.New(conn, chOpts)
	s.pipe = pipeline.New(cfg.Encoders, cfg.Capture, s.enqueue, pipeline.Options{
		JoinTimeout: cfg.JoinTimeout,
		Gate:        cfg.Gate,
	})
	s.watch = watcher.New(cfg.Display, cfg.Watcher)
	return s
}

func (s *Session) enqueue(u types.EncodedUnit) {
	s.ch.Enqueue(wire.PacketFromUnit(u))
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		log.Printf("session %s: %s -> %s", s.ID, prev, st)
	}
}

// Handshake returns the negotiated parameters once past Negotiating.
func (s *Session) Handshake() wire.Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hs
}

// Encoder returns the configuration of the running pipeline.
func (s *Session) Encoder() types.EncoderConfig { return s.pipe.Config() }

// Done is closed after the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session stopped, or nil for a requested stop or a
// peer disconnect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop asks the session to shut down. It does not wait.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
}

func (s *Session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// StopAndWait stops the session and joins it for at most timeout. It
// reports whether the session finished in time.
func (s *Session) StopAndWait(timeout time.Duration) bool {
	s.Stop()
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		log.Printf("session %s: did not stop within %v", s.ID, timeout)
		return false
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Stop()
}

// Run drives the session until the peer disconnects, Stop is called or an
// unrecoverable error occurs. Cleanup always runs before it returns.
func (s *Session) Run() (err error) {
	defer close(s.done)
	defer s.shutdown()
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("session panic: %v", r))
		}
		err = s.Err()
	}()

	s.setState(Negotiating)
	hs, r := wire.ReadHandshake(s.conn, s.cfg.HandshakeTimeout, s.cfg.Handshake)
	s.mu.Lock()
	s.hs = hs
	s.mu.Unlock()
	log.Printf("session %s: bitrate=%d max_size=%d", s.ID, hs.Bitrate, hs.MaxSize)

	if s.stopping() {
		return nil
	}

	s.ch.Start()
	s.watch.Start()
	go s.readPeer(r)

	if err := s.startPipeline(); err != nil {
		if !s.stopping() {
			s.fail(err)
		}
		return nil
	}
	s.setState(Streaming)
	s.stream()
	return nil
}

// readPeer discards anything the viewer sends and stops the session once
// the connection is closed.
func (s *Session) readPeer(r io.Reader) {
	_, err := io.Copy(io.Discard, r)
	if s.stopping() {
		return
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		log.Printf("session %s: read: %v", s.ID, err)
	}
	log.Printf("session %s: peer disconnected", s.ID)
	s.Stop()
}

func (s *Session) stream() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	lastStats := time.Now()

	for {
		select {
		case <-s.stop:
			return
		case <-s.ch.Done():
			s.fail(fmt.Errorf("writer: %w", s.ch.Err()))
			return
		case <-s.pipe.Done():
			s.fail(fmt.Errorf("pipeline: %w", s.pipe.Err()))
			return
		case <-ticker.C:
		}

		if s.watch.HasChanged() {
			if err := s.reconfigure(); err != nil {
				if !s.stopping() {
					s.fail(err)
				}
				return
			}
		}
		if s.cfg.Stats && time.Since(lastStats) >= statsInterval {
			st := s.ch.Stats()
			log.Printf("session %s: queued=%d dropped=%d written=%d backlog=%d",
				s.ID, st.Queued, st.Dropped, st.Written, s.ch.Len())
			lastStats = time.Now()
		}
	}
}

// reconfigure replaces the capture/encoder pair. The socket and its writer
// stay up.
func (s *Session) reconfigure() error {
	s.setState(Reconfiguring)
	evReconfigures.Add(1)
	s.pipe.Stop()
	s.watch.ResetChangeFlag()
	if err := s.startPipeline(); err != nil {
		return err
	}
	s.setState(Streaming)
	return nil
}

func (s *Session) startPipeline() error {
	g, err := s.geometry()
	if err != nil {
		return err
	}
	hs := s.Handshake()
	lw, lh := g.Logical()
	tw, th := pipeline.TargetSize(lw, lh, hs.MaxSize)

	cfg := s.cfg.Encoder
	cfg.Width, cfg.Height = tw, th
	cfg.Bitrate = hs.Bitrate
	if err := s.pipe.Start(s.ctx, g, cfg); err != nil {
		return err
	}
	eff := s.pipe.Config()
	if s.cfg.Scaler != nil {
		s.cfg.Scaler.Configure(lw, lh, eff.Width, eff.Height)
	}
	log.Printf("session %s: logical %dx%d rot %d, encoding %dx%d", s.ID, lw, lh, g.Rotation, eff.Width, eff.Height)
	return nil
}

// geometry reads the watcher, falling back to a direct size query when the
// watcher has no reading yet.
func (s *Session) geometry() (types.Geometry, error) {
	g, ok := s.watch.Current()
	if ok {
		return g, nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JoinTimeout)
	defer cancel()
	w, h, err := s.cfg.Display.PhysicalSize(ctx)
	if err != nil {
		return g, fmt.Errorf("display size: %w", err)
	}
	g.Width, g.Height = w, h
	return g, nil
}

// shutdown stops the pipeline, watcher, writer and socket in that order.
// Each step runs regardless of how the previous one went.
func (s *Session) shutdown() {
	s.Stop()
	s.setState(Stopping)

	step := func(name string, fn func()) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("session %s: %s cleanup panic: %v", s.ID, name, r)
			}
		}()
		fn()
	}
	step("pipeline", s.pipe.Stop)
	step("watcher", s.watch.Stop)
	step("writer", func() { s.ch.Stop(s.cfg.JoinTimeout) })
	step("socket", func() {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("session %s: close: %v", s.ID, err)
		}
	})

	s.setState(Stopped)
	if err := s.Err(); err != nil {
		log.Printf("session %s: stopped: %v", s.ID, err)
	} else {
		log.Printf("session %s closed", s.ID)
	}
}
