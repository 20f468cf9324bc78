package session

import (
	"log"
	"net"
	"sync"

	"nlmirror/internal/pipeline"

	"github.com/google/uuid"
)

// Manager keeps at most one active session for a device. A new connection
// always replaces the active session, which is stopped and joined before
// the new one starts. The join is bounded; the sessions' shared gate keeps
// a late old session from holding an encoder next to the new one.
type Manager struct {
	cfg Config

	// switching serialises handovers so two incoming connections cannot
	// both observe an empty slot.
	switching sync.Mutex

	mu     sync.Mutex
	active *Session
}

func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	if cfg.Gate == nil {
		cfg.Gate = pipeline.NewGate()
	}
	return &Manager{cfg: cfg}
}

// Handle runs a session for conn and blocks until it ends.
func (m *Manager) Handle(conn net.Conn) error {
	s := New(uuid.New().String(), conn, m.cfg)

	m.switching.Lock()
	if old := m.Active(); old != nil {
		log.Printf("session %s: replacing active session %s", s.ID, old.ID)
		old.StopAndWait(m.cfg.JoinTimeout)
	}
	m.mu.Lock()
	m.active = s
	m.mu.Unlock()
	m.switching.Unlock()

	err := s.Run()

	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
	return err
}

// Active returns the running session, if any.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stop stops the active session and joins it.
func (m *Manager) Stop() {
	m.switching.Lock()
	defer m.switching.Unlock()
	if s := m.Active(); s != nil {
		s.StopAndWait(m.cfg.JoinTimeout)
	}
}
