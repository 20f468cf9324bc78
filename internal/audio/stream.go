package audio

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"nlmirror/internal/packet"
	"nlmirror/internal/types"
	"nlmirror/internal/wire"

	"github.com/google/uuid"
)

const DefaultJoinTimeout = time.Second

type Options struct {
	SampleRate  int
	Channels    int
	Codec       string
	Channel     packet.Options
	JoinTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = SampleRate
	}
	if o.Channels <= 0 {
		o.Channels = Channels
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	return o
}

// Stream writes the audio header and then one packet per codec frame read
// from src.
type Stream struct {
	ID    string
	opts  Options
	conn  net.Conn
	src   types.PCMSource
	codec Codec
	ch    *packet.Channel
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewStream(id string, conn net.Conn, src types.PCMSource, codec Codec, opts Options) *Stream {
	opts = opts.withDefaults()
	chOpts := opts.Channel
	if chOpts.Name == "" {
		chOpts.Name = "audio writer " + id
	}
	return &Stream{
		ID:    id,
		opts:  opts,
		conn:  conn,
		src:   src,
		codec: codec,
		ch:    packet.New(conn, chOpts),
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Stop interrupts Run by closing the source.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if err := s.src.Close(); err != nil {
			log.Printf("audio %s: close source: %v", s.ID, err)
		}
	})
}

func (s *Stream) StopAndWait(timeout time.Duration) bool {
	s.Stop()
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		log.Printf("audio %s: did not stop within %v", s.ID, timeout)
		return false
	}
}

func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run streams until the source ends, the writer fails or Stop is called.
func (s *Stream) Run() (err error) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audio stream panic: %v", r)
		}
		s.Stop()
		s.ch.Stop(s.opts.JoinTimeout)
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			log.Printf("audio %s: close: %v", s.ID, cerr)
		}
		if err != nil {
			log.Printf("audio %s: stopped: %v", s.ID, err)
		} else {
			log.Printf("audio %s closed", s.ID)
		}
	}()

	hdr := wire.AudioHeader{SampleRate: s.opts.SampleRate, Channels: s.opts.Channels, Codec: s.codec.Type()}
	if err := wire.WriteAudioHeader(s.conn, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	s.ch.Start()

	bytesPerSec := int64(s.opts.SampleRate * s.opts.Channels * 2)
	buf := make([]byte, s.codec.FrameBytes())
	var start, total int64
	for {
		if _, err := io.ReadFull(s.src, buf); err != nil {
			if s.stopped() || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read pcm: %w", err)
		}
		if start == 0 {
			start = s.now().UnixMicro()
		}
		pts := start + total*1_000_000/bytesPerSec
		total += int64(len(buf))

		payload, err := s.codec.Encode(buf)
		if err != nil {
			log.Printf("audio %s: %v", s.ID, err)
			continue
		}
		s.ch.Enqueue(wire.EncodePacket(pts, payload))

		select {
		case <-s.ch.Done():
			return fmt.Errorf("writer: %w", s.ch.Err())
		default:
		}
	}
}

// Manager keeps a single audio stream per device; a new connection stops
// the previous stream first.
type Manager struct {
	strategies []Strategy
	opts       Options

	switching sync.Mutex
	mu        sync.Mutex
	active    *Stream
}

func NewManager(strategies []Strategy, opts Options) *Manager {
	return &Manager{strategies: strategies, opts: opts.withDefaults()}
}

// Handle opens a capture source for conn and streams until it ends. If no
// source can be opened the connection is closed and an ErrNoCapture error
// returned.
func (m *Manager) Handle(conn net.Conn) error {
	id := uuid.New().String()

	m.switching.Lock()
	if old := m.Active(); old != nil {
		log.Printf("audio %s: replacing active stream %s", id, old.ID)
		old.StopAndWait(m.opts.JoinTimeout)
	}
	codec, err := NewCodec(m.opts.Codec, m.opts.SampleRate, m.opts.Channels)
	if err != nil {
		m.switching.Unlock()
		conn.Close()
		return err
	}
	src, _, err := OpenFirst(m.strategies, m.opts.SampleRate, m.opts.Channels)
	if err != nil {
		m.switching.Unlock()
		conn.Close()
		return err
	}
	s := NewStream(id, conn, src, codec, m.opts)
	m.mu.Lock()
	m.active = s
	m.mu.Unlock()
	m.switching.Unlock()

	go s.watchPeer()
	err = s.Run()

	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
	return err
}

// watchPeer stops the stream once the viewer hangs up.
func (s *Stream) watchPeer() {
	io.Copy(io.Discard, s.conn)
	s.Stop()
}

func (m *Manager) Active() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Stop() {
	m.switching.Lock()
	defer m.switching.Unlock()
	if s := m.Active(); s != nil {
		s.StopAndWait(m.opts.JoinTimeout)
	}
}
