package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"nlmirror/internal/command"

	"github.com/google/uuid"
)

// StreamHandler owns the stream connections of one port. Handle blocks for
// the lifetime of the stream; Stop ends the active stream.
type StreamHandler interface {
	Handle(conn net.Conn) error
	Stop()
}

// Config holds all server configuration.
type Config struct {
	VideoAddr   string
	CommandAddr string
	AudioAddr   string
	// WebSocketAddr, when set, serves the command protocol over WebSocket
	// at /command.
	WebSocketAddr string

	Video    StreamHandler
	Audio    StreamHandler
	Commands *command.Dispatcher

	StopTimeout time.Duration
}

// Server is the listener set: video, command and audio ports plus the
// optional WebSocket bridge.
type Server struct {
	cfg Config

	mu        sync.Mutex
	listeners []*Listener
	ws        *http.Server
	wsAddr    net.Addr

	serving  sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func New(cfg Config) *Server {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Second
	}
	return &Server{cfg: cfg, stopped: make(chan struct{})}
}

// Start binds every configured port and starts the accept loops. If any
// bind fails, the ports already bound are released.
func (s *Server) Start() error {
	type port struct {
		name   string
		addr   string
		handle func(net.Conn)
	}
	var ports []port
	if s.cfg.Video != nil {
		ports = append(ports, port{"video", s.cfg.VideoAddr, s.stream("video", s.cfg.Video)})
	}
	if s.cfg.Commands != nil {
		ports = append(ports, port{"command", s.cfg.CommandAddr, s.command})
	}
	if s.cfg.Audio != nil {
		ports = append(ports, port{"audio", s.cfg.AudioAddr, s.stream("audio", s.cfg.Audio)})
	}

	var bound []*Listener
	for _, sp := range ports {
		l, err := Listen(sp.name, sp.addr, sp.handle)
		if err != nil {
			for _, b := range bound {
				b.Stop(s.cfg.StopTimeout)
			}
			return err
		}
		bound = append(bound, l)
	}

	var ws *http.Server
	var wsLn net.Listener
	if s.cfg.WebSocketAddr != "" && s.cfg.Commands != nil {
		ln, err := net.Listen("tcp", s.cfg.WebSocketAddr)
		if err != nil {
			for _, b := range bound {
				b.Stop(s.cfg.StopTimeout)
			}
			return err
		}
		mux := http.NewServeMux()
		mux.HandleFunc("GET /command", s.handleWS)
		ws = &http.Server{Handler: mux}
		wsLn = ln
	}

	s.mu.Lock()
	s.listeners = bound
	s.ws = ws
	if wsLn != nil {
		s.wsAddr = wsLn.Addr()
	}
	s.mu.Unlock()

	for _, l := range bound {
		s.serving.Add(1)
		go func(l *Listener) {
			defer s.serving.Done()
			if err := l.Serve(); err != nil {
				log.Printf("server: %s: %v", l.Name, err)
			}
		}(l)
	}
	if ws != nil {
		s.serving.Add(1)
		go func() {
			defer s.serving.Done()
			log.Printf("server: websocket command bridge on %s", wsLn.Addr())
			if err := ws.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("server: websocket: %v", err)
			}
		}()
	}
	return nil
}

// ListenAndServe starts the listener set and blocks until Teardown.
func (s *Server) ListenAndServe() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.stopped
	s.serving.Wait()
	return nil
}

// Listener returns the named listener, or nil.
func (s *Server) Listener(name string) *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// WebSocketAddr reports the bound bridge address, or nil when disabled.
func (s *Server) WebSocketAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wsAddr
}

// Teardown stops every listener and the active streams.
func (s *Server) Teardown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		listeners := s.listeners
		ws := s.ws
		s.mu.Unlock()

		for _, l := range listeners {
			l.Stop(s.cfg.StopTimeout)
		}
		if ws != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
			ws.Shutdown(ctx)
			cancel()
		}
		if s.cfg.Video != nil {
			s.cfg.Video.Stop()
		}
		if s.cfg.Audio != nil {
			s.cfg.Audio.Stop()
		}
		close(s.stopped)
	})
}

func (s *Server) stream(name string, h StreamHandler) func(net.Conn) {
	return func(conn net.Conn) {
		log.Printf("server: %s connection from %s", name, conn.RemoteAddr())
		if err := h.Handle(conn); err != nil {
			log.Printf("server: %s connection %s: %v", name, conn.RemoteAddr(), err)
		}
	}
}

func (s *Server) command(conn net.Conn) {
	id := uuid.New().String()
	log.Printf("command %s: connected from %s", id, conn.RemoteAddr())
	if err := s.cfg.Commands.Serve(id, conn); err != nil {
		log.Printf("%v", err)
	}
	log.Printf("command %s: disconnected", id)
}
