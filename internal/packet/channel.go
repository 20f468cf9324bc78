// Package packet implements the bounded hand-off between an encoder
// callback and the socket writer.
package packet

import (
	"bufio"
	"errors"
	"expvar"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is reported by Err after Stop.
var ErrClosed = errors.New("packet channel closed")

const (
	DefaultCapacity      = 100
	DefaultFlushBatch    = 10
	DefaultFlushInterval = 100 * time.Millisecond
)

var (
	evQueued  = expvar.NewInt("packets_queued")
	evDropped = expvar.NewInt("packets_dropped")
	evWritten = expvar.NewInt("packets_written")
)

type Options struct {
	Capacity      int
	FlushBatch    int
	FlushInterval time.Duration
	Name          string
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.FlushBatch <= 0 {
		o.FlushBatch = DefaultFlushBatch
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.Name == "" {
		o.Name = "writer"
	}
	return o
}

type Stats struct {
	Queued  uint64
	Dropped uint64
	Written uint64
}

// Channel queues wire-ready packets and drains them onto a writer from a
// dedicated goroutine. Enqueue never blocks: when the queue is full the
// new packet is dropped.
type Channel struct {
	opts  Options
	queue chan []byte
	bw    *bufio.Writer

	running  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	start    sync.Once

	mu  sync.Mutex
	err error

	queued  atomic.Uint64
	dropped atomic.Uint64
	written atomic.Uint64
}

func New(w io.Writer, opts Options) *Channel {
	opts = opts.withDefaults()
	return &Channel{
		opts:  opts,
		queue: make(chan []byte, opts.Capacity),
		bw:    bufio.NewWriterSize(w, 64*1024),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Calling it again is a no-op.
func (c *Channel) Start() {
	c.start.Do(func() {
		c.running.Store(true)
		go c.run()
	})
}

// Enqueue offers pkt to the writer. It returns false when the channel is
// not running or already holds Capacity packets.
func (c *Channel) Enqueue(pkt []byte) bool {
	if !c.running.Load() {
		return false
	}
	select {
	case c.queue <- pkt:
		c.queued.Add(1)
		evQueued.Add(1)
		return true
	default:
		c.dropped.Add(1)
		evDropped.Add(1)
		return false
	}
}

func (c *Channel) Len() int { return len(c.queue) }

func (c *Channel) Cap() int { return cap(c.queue) }

// Done is closed once the writer goroutine has exited, either after Stop
// or on a write error.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the write error that stopped the writer, ErrClosed after
// Stop, or nil while running.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) Stats() Stats {
	return Stats{
		Queued:  c.queued.Load(),
		Dropped: c.dropped.Load(),
		Written: c.written.Load(),
	}
}

// Stop asks the writer to exit and waits up to timeout for it. Packets
// still queued are discarded. Returns false if the writer did not exit in
// time; it is abandoned in that case.
func (c *Channel) Stop(timeout time.Duration) bool {
	c.running.Store(false)
	c.setErr(ErrClosed)
	c.stopOnce.Do(func() { close(c.stop) })
	// Never started: nothing to wait for.
	c.start.Do(func() { close(c.done) })

	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		log.Printf("%s: writer did not stop within %v, abandoning", c.opts.Name, timeout)
		return false
	}
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.running.Store(false)

	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		pending = 0
		return c.bw.Flush()
	}

	for {
		select {
		case <-c.stop:
			_ = flush()
			return
		case pkt := <-c.queue:
			if _, err := c.bw.Write(pkt); err != nil {
				c.fail(err)
				return
			}
			c.written.Add(1)
			evWritten.Add(1)
			pending++
			if pending >= c.opts.FlushBatch {
				if err := flush(); err != nil {
					c.fail(err)
					return
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Channel) fail(err error) {
	c.setErr(err)
	log.Printf("%s: write failed, stopping: %v", c.opts.Name, err)
}
