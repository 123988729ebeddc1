package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vinscan-service/internal/capture"
	"vinscan-service/internal/domain/vin"
	"vinscan-service/internal/preprocess"
	"vinscan-service/internal/recognize"
)

// State is the lifecycle phase of a scan session.
type State string

const (
	StateIdle           State = "idle"
	StateCameraStarting State = "camera_starting"
	StateScanning       State = "scanning"
	StatePaused         State = "paused"
	StateCandidateFound State = "candidate_found"
	StateConfirming     State = "confirming"
	StateConfirmed      State = "confirmed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether the session can never leave this state.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

var (
	ErrBadState = errors.New("operation not allowed in current state")
	ErrNoResult = errors.New("no result available")
)

// maxLogEntries caps the in-session log ring.
const maxLogEntries = 1000

// validationChunk is how many candidates are checked between
// cancellation checks during a sweep.
const validationChunk = 16

// EngineFactory builds a recognition engine for a mode. The session
// owns the returned engine and closes it on teardown or mode switch.
type EngineFactory func(mode vin.ScanMode) (recognize.Engine, error)

// Enricher looks a validated VIN up in an external registry. A nil
// result means "no enrichment", never failure.
type Enricher interface {
	Lookup(ctx context.Context, vinStr string) *vin.VehicleInfo
}

// Result is what a confirmed session hands back to the caller.
type Result struct {
	VIN            string          `json:"vin"`
	Mode           vin.ScanMode    `json:"mode"`
	Vehicle        vin.VehicleInfo `json:"vehicle"`
	RawText        string          `json:"raw_text"`
	Confidence     float64         `json:"confidence"`
	CandidateCount int             `json:"candidate_count"`
	Duration       time.Duration   `json:"duration"`
}

// Config wires a session's collaborators.
type Config struct {
	Mode      vin.ScanMode
	Source    capture.Source
	NewEngine EngineFactory
	Registry  Enricher
	Settings  preprocess.Settings
	Log       zerolog.Logger
}

// Session runs one scanning attempt: a polling loop pulling frames from
// the camera source, preprocessing them, and sweeping recognition output
// for a check-digit-valid VIN. All mutable state that the original
// design scattered across UI callbacks lives here with an explicit
// lifecycle.
type Session struct {
	ID string

	cfg    Config
	log    zerolog.Logger
	mu     sync.Mutex
	state  State
	mode   vin.ScanMode
	engine recognize.Engine

	startedAt time.Time
	duration  time.Duration

	logs    []string
	checked map[string]struct{}

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	result      *Result
	enrichDone  chan struct{}
	releaseOnce sync.Once
}

// NewSession builds an idle session. Start begins scanning.
func NewSession(cfg Config) *Session {
	id := uuid.NewString()
	if cfg.Mode == "" {
		cfg.Mode = vin.ModeText
	}
	return &Session{
		ID:      id,
		cfg:     cfg,
		log:     cfg.Log.With().Str("session_id", id).Logger(),
		state:   StateIdle,
		mode:    cfg.Mode,
		checked: make(map[string]struct{}),
	}
}

// Start acquires the camera source and recognition engine, then begins
// the polling loop. Device failures are fatal to the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrBadState, s.state)
	}
	s.state = StateCameraStarting
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.appendLog("starting camera source")

	if err := s.cfg.Source.Start(ctx); err != nil {
		s.appendLog("camera start failed: %v", err)
		s.log.Error().Err(err).Msg("camera source start failed")
		s.teardown(StateCancelled)
		return fmt.Errorf("starting camera source: %w", err)
	}

	engine, err := s.cfg.NewEngine(s.mode)
	if err != nil {
		s.appendLog("recognition engine init failed: %v", err)
		s.log.Error().Err(err).Str("mode", string(s.mode)).Msg("engine init failed")
		s.teardown(StateCancelled)
		return fmt.Errorf("initializing %s engine: %w", s.mode, err)
	}

	s.mu.Lock()
	if s.state != StateCameraStarting {
		// Cancelled while the engine was coming up.
		s.mu.Unlock()
		engine.Close()
		return fmt.Errorf("%w: session cancelled during startup", ErrBadState)
	}
	s.engine = engine
	s.state = StateScanning
	s.startLoopLocked(ctx)
	s.mu.Unlock()

	s.appendLog("scanning started in %s mode", s.mode)
	s.log.Info().Str("mode", string(s.mode)).Msg("scan session started")
	return nil
}

// startLoopLocked spawns the polling goroutine. Caller holds s.mu.
func (s *Session) startLoopLocked(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	go s.loop(loopCtx, s.loopDone)
}

func (s *Session) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			// Context cancellation outside teardown (server shutdown,
			// caller-owned context ending) must still release the camera
			// and engine. Cancel no-ops when teardown already ran.
			go s.Cancel()
			return
		case frame, ok := <-s.cfg.Source.Frames():
			if !ok {
				s.appendLog("camera stream ended")
				s.log.Warn().Msg("camera stream ended, cancelling session")
				go s.Cancel()
				return
			}
			if s.State() == StatePaused {
				continue
			}
			if s.processFrame(ctx, frame) {
				return
			}
		}
	}
}

// processFrame runs one capture cycle. Returns true when a validated
// candidate ended the loop.
func (s *Session) processFrame(ctx context.Context, frame capture.Frame) bool {
	processed := preprocess.Process(frame.Image, s.cfg.Settings)

	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return false
	}

	rec, err := engine.Recognize(ctx, processed)
	if err != nil {
		if errors.Is(err, recognize.ErrNotFound) || errors.Is(err, context.Canceled) {
			return false
		}
		// Recognition errors are recoverable: log, next frame.
		s.appendLog("recognition error: %v", err)
		s.log.Debug().Err(err).Int("seq", frame.Seq).Msg("recognition failed on frame")
		return false
	}

	s.appendLog("frame %d recognized %q (confidence %.1f)", frame.Seq, rec.Text, rec.Confidence)

	candidates := vin.GenerateCandidates(rec.Text)
	if len(candidates) == 0 {
		return false
	}

	for i, candidate := range candidates {
		if i%validationChunk == 0 && ctx.Err() != nil {
			return false
		}
		s.mu.Lock()
		_, seen := s.checked[candidate]
		if !seen {
			s.checked[candidate] = struct{}{}
		}
		s.mu.Unlock()
		if seen {
			continue
		}
		if !vin.IsValid(candidate) {
			s.appendLog("candidate %s failed check digit", candidate)
			continue
		}
		s.candidateFound(ctx, candidate, rec, len(candidates))
		return true
	}
	return false
}

// candidateFound moves the session to Confirming and kicks off the
// asynchronous decode and registry lookup. The recognition loop stops;
// only Confirm, Retry or Cancel can move the session on.
func (s *Session) candidateFound(ctx context.Context, candidate string, rec vin.RecognitionResult, candidateCount int) {
	s.mu.Lock()
	if s.state != StateScanning && s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	s.state = StateCandidateFound
	s.result = &Result{
		VIN:            candidate,
		Mode:           rec.Mode,
		Vehicle:        vin.VehicleInfo{VIN: candidate},
		RawText:        rec.Text,
		Confidence:     rec.Confidence,
		CandidateCount: candidateCount,
	}
	s.state = StateConfirming
	s.enrichDone = make(chan struct{})
	enrichDone := s.enrichDone
	s.mu.Unlock()

	s.appendLog("candidate %s validated, confirming", candidate)
	s.log.Info().Str("vin", candidate).Float64("confidence", rec.Confidence).Msg("VIN candidate validated")

	go func() {
		defer close(enrichDone)
		decoded := vin.Decode(candidate)

		var enriched *vin.VehicleInfo
		if s.cfg.Registry != nil {
			lookupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			enriched = s.cfg.Registry.Lookup(lookupCtx, candidate)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.result == nil || s.result.VIN != candidate {
			return
		}
		s.result.Vehicle.Country = decoded.Country
		s.result.Vehicle.Manufacturer = decoded.Manufacturer
		s.result.Vehicle.VehicleType = decoded.VehicleType
		if enriched != nil {
			s.result.Vehicle.Make = enriched.Make
			s.result.Vehicle.Model = enriched.Model
			s.result.Vehicle.Year = enriched.Year
		}
	}()
}

// Pause suspends frame processing without releasing the camera.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateScanning {
		return fmt.Errorf("%w: pause from %s", ErrBadState, s.state)
	}
	s.state = StatePaused
	return nil
}

// Resume continues a paused session.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrBadState, s.state)
	}
	s.state = StateScanning
	return nil
}

// SwitchMode swaps the recognition engine between text and barcode
// without touching the camera source. Not allowed while confirming.
func (s *Session) SwitchMode(mode vin.ScanMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: mode %q", ErrBadState, mode)
	}

	s.mu.Lock()
	if s.state == StateConfirming || s.state == StateCandidateFound || s.state.Terminal() {
		defer s.mu.Unlock()
		return fmt.Errorf("%w: mode switch from %s", ErrBadState, s.state)
	}
	if s.mode == mode {
		s.mu.Unlock()
		return nil
	}
	old := s.engine
	s.engine = nil
	s.mode = mode
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing previous engine")
		}
	}

	engine, err := s.cfg.NewEngine(mode)
	if err != nil {
		s.appendLog("engine switch to %s failed: %v", mode, err)
		return fmt.Errorf("initializing %s engine: %w", mode, err)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		engine.Close()
		return nil
	}
	s.engine = engine
	s.mu.Unlock()

	s.appendLog("switched to %s mode", mode)
	return nil
}

// Confirm accepts the validated VIN. Blocks until enrichment settles,
// then releases every session resource.
func (s *Session) Confirm(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.state != StateConfirming {
		defer s.mu.Unlock()
		return Result{}, fmt.Errorf("%w: confirm from %s", ErrBadState, s.state)
	}
	enrichDone := s.enrichDone
	s.mu.Unlock()

	if enrichDone != nil {
		select {
		case <-enrichDone:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	s.teardown(StateConfirmed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, ErrNoResult
	}
	s.result.Duration = s.duration
	s.appendLogLocked("session confirmed with VIN %s", s.result.VIN)
	return *s.result, nil
}

// Retry abandons the pending candidate, clears the checked-candidate
// set and restarts the recognition loop on the existing camera source.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConfirming {
		defer s.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrBadState, s.state)
	}
	s.result = nil
	s.checked = make(map[string]struct{})
	s.state = StateScanning
	s.startLoopLocked(ctx)
	s.mu.Unlock()

	s.appendLog("retrying scan")
	s.log.Info().Msg("scan retry requested")
	return nil
}

// Cancel stops the session from any state. All releases are idempotent;
// cancelling twice or before Start is safe.
func (s *Session) Cancel() {
	s.teardown(StateCancelled)
}

// teardown stops the loop, the camera and the engine, then parks the
// session in a terminal state. Release errors are logged and never abort
// the remaining cleanup.
func (s *Session) teardown(final State) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = final
	if !s.startedAt.IsZero() {
		s.duration = time.Since(s.startedAt)
	}
	cancel := s.loopCancel
	done := s.loopDone
	engine := s.engine
	s.engine = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.releaseOnce.Do(func() {
		if err := s.cfg.Source.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("stopping camera source")
		}
		if engine != nil {
			if err := engine.Close(); err != nil {
				s.log.Warn().Err(err).Msg("closing recognition engine")
			}
		}
	})

	s.appendLog("session ended in state %s", final)
	s.log.Info().Str("state", string(final)).Dur("duration", s.duration).Msg("scan session ended")
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the active recognition mode.
func (s *Session) Mode() vin.ScanMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Result returns the pending or confirmed result, if any.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

// Duration reports how long the session ran; zero until it resolves.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Logs returns a copy of the session log ring.
func (s *Session) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Session) appendLog(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(format, args...)
}

func (s *Session) appendLogLocked(format string, args ...interface{}) {
	entry := time.Now().Format("15:04:05.000") + " " + fmt.Sprintf(format, args...)
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[len(s.logs)-maxLogEntries:]
	}
}
