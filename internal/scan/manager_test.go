package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vinscan-service/internal/capture"
	"vinscan-service/internal/domain/vin"
	"vinscan-service/internal/recognize"
)

func TestManagerTracksSessions(t *testing.T) {
	m := NewManager(time.Minute, zerolog.Nop())
	engine := &stubEngine{mode: vin.ModeText}
	s, _ := newTestSession(engine, nil, 1)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = &managedSession{session: s}
	m.mu.Unlock()

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("Get returned session %s, want %s", got.ID, s.ID)
	}

	if _, err := m.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(nope) = %v, want ErrSessionNotFound", err)
	}

	m.CancelAll()
	if s.State() != StateCancelled {
		t.Errorf("session state after CancelAll = %s", s.State())
	}
}

func TestManagerReapsTerminalSessions(t *testing.T) {
	m := NewManager(time.Millisecond, zerolog.Nop())
	engine := &stubEngine{mode: vin.ModeText}
	s, _ := newTestSession(engine, nil, 1)
	s.Cancel()

	m.mu.Lock()
	m.sessions[s.ID] = &managedSession{session: s}
	m.mu.Unlock()

	// First pass marks the end time, second pass reaps.
	m.reap()
	time.Sleep(5 * time.Millisecond)
	if n := m.reap(); n != 1 {
		t.Errorf("reap removed %d sessions, want 1", n)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("reaped session still retrievable")
	}
}

func TestManagerStartSession(t *testing.T) {
	m := NewManager(time.Minute, zerolog.Nop())
	engine := &stubEngine{mode: vin.ModeText}
	cfg := Config{
		Mode:   vin.ModeText,
		Source: capture.NewSliceSource(frames(1)...),
		NewEngine: func(mode vin.ScanMode) (recognize.Engine, error) {
			return engine, nil
		},
		Log: zerolog.Nop(),
	}

	s, err := m.StartSession(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer s.Cancel()

	if _, err := m.Get(s.ID); err != nil {
		t.Errorf("started session not tracked: %v", err)
	}
}
