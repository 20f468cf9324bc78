package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const sendBuffer = 64 * 1024

// Listener accepts connections on one port and hands each to handle on its
// own goroutine. Stopping a listener closes the socket and every
// connection it accepted; other listeners are unaffected.
type Listener struct {
	Name   string
	ln     net.Listener
	handle func(net.Conn)

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// Listen binds addr. The accept loop starts with Serve.
func Listen(name, addr string, handle func(net.Conn)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s listener: %w", name, err)
	}
	return &Listener{
		Name:    name,
		ln:      ln,
		handle:  handle,
		conns:   make(map[net.Conn]struct{}),
		stopped: make(chan struct{}),
	}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until Stop. Transient accept errors are
// retried with backoff.
func (l *Listener) Serve() error {
	log.Printf("server: %s listening on %s", l.Name, l.ln.Addr())
	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stopped:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			log.Printf("server: %s accept error: %v; retrying in %v", l.Name, err, delay)
			select {
			case <-time.After(delay):
				continue
			case <-l.stopped:
				return nil
			}
		}
		delay = 0
		tune(conn)
		if !l.track(conn) {
			conn.Close()
			return nil
		}
		l.wg.Add(1)
		go l.serveConn(conn)
	}
}

func (l *Listener) serveConn(conn net.Conn) {
	defer l.wg.Done()
	defer l.untrack(conn)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("server: %s connection %s panicked: %v", l.Name, conn.RemoteAddr(), r)
		}
		conn.Close()
	}()
	l.handle(conn)
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	if l.conns != nil {
		delete(l.conns, conn)
	}
	l.mu.Unlock()
}

// Stop closes the socket and any open connections, then waits up to
// timeout for the connection goroutines to return.
func (l *Listener) Stop(timeout time.Duration) bool {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.ln.Close()
		l.mu.Lock()
		for c := range l.conns {
			c.Close()
		}
		l.conns = nil
		l.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Printf("server: %s: connections still running after %v", l.Name, timeout)
		return false
	}
}

// tune applies the stream socket options: no Nagle delay, keep-alive and
// a 64 KiB send buffer.
func tune(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetNoDelay(true); err != nil {
		log.Printf("server: set nodelay: %v", err)
	}
	if err := tc.SetKeepAlive(true); err != nil {
		log.Printf("server: set keepalive: %v", err)
	}
	if err := tc.SetWriteBuffer(sendBuffer); err != nil {
		log.Printf("server: set send buffer: %v", err)
	}
}
