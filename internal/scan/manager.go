package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live scan sessions. Sessions in a terminal state are
// reaped after a retention window so callers have time to read the
// outcome.
type Manager struct {
	log       zerolog.Logger
	retention time.Duration

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session *Session
	endedAt time.Time
}

func NewManager(retention time.Duration, log zerolog.Logger) *Manager {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &Manager{
		log:       log,
		retention: retention,
		sessions:  make(map[string]*managedSession),
	}
}

// StartSession creates a session from cfg, starts it, and tracks it.
func (m *Manager) StartSession(ctx context.Context, cfg Config) (*Session, error) {
	s := NewSession(cfg)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = &managedSession{session: s}
	m.mu.Unlock()

	return s, nil
}

// Get returns a tracked session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ms.session, nil
}

// CancelAll tears down every live session. Called on shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		sessions = append(sessions, ms.session)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
}

// RunJanitor reaps terminal sessions until ctx is cancelled.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.reap(); n > 0 {
				m.log.Debug().Int("reaped", n).Msg("reaped finished scan sessions")
			}
		}
	}
}

func (m *Manager) reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	reaped := 0
	for id, ms := range m.sessions {
		if !ms.session.State().Terminal() {
			continue
		}
		if ms.endedAt.IsZero() {
			ms.endedAt = now
			continue
		}
		if now.Sub(ms.endedAt) >= m.retention {
			delete(m.sessions, id)
			reaped++
		}
	}
	return reaped
}
