package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/proximity-audio/internal/device"
	"github.com/skypro1111/proximity-audio/internal/metrics"
	"github.com/skypro1111/proximity-audio/internal/modem"
	"github.com/skypro1111/proximity-audio/internal/protocol"
)

var (
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrControllerClosed     = errors.New("controller closed")
)

// State represents the controller state
type State int

const (
	StateIdle State = iota
	StateEmitting
	StateListening
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEmitting:
		return "emitting"
	case StateListening:
		return "listening"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// role returns the metrics label for a session state
func (s State) role() string {
	if s == StateEmitting {
		return "emit"
	}
	return "listen"
}

// Config contains configuration for the session controller
type Config struct {
	Receiver         modem.ReceiverConfig
	MaxListenTimeout time.Duration // longer listen requests are clamped to this
}

// DefaultConfig returns a 30s maximum listen window
func DefaultConfig() Config {
	return Config{
		Receiver:         modem.DefaultReceiverConfig(),
		MaxListenTimeout: 30 * time.Second,
	}
}

// Validate checks the controller configuration
func (c Config) Validate() error {
	if err := c.Receiver.Validate(); err != nil {
		return err
	}
	if c.MaxListenTimeout <= 0 {
		return fmt.Errorf("max_listen_timeout must be positive, got %v", c.MaxListenTimeout)
	}
	return nil
}

// activeSession is the one session a controller may hold
type activeSession struct {
	id        string
	state     State
	startedAt time.Time
	deadline  time.Time // zero for emit sessions
	cancel    context.CancelFunc
	done      chan struct{} // closed once the device is released and the controller is idle
}

// Controller owns the audio devices and runs at most one emit or listen
// session at a time. Requests made while a session is active fail fast
// without touching any device.
type Controller struct {
	backend device.Backend
	config  Config
	tx      *modem.Transmitter
	rx      *modem.Receiver
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   State
	current *activeSession
	closed  bool

	// Statistics
	sessionsStarted  uint64
	sessionsRejected uint64
	framesEmitted    uint64
	framesReceived   uint64
	lastSessionID    string
	lastOutcome      string
	lastError        string

	wg sync.WaitGroup
}

// Status represents the controller state for the control API
type Status struct {
	State            string     `json:"state"`
	Backend          string     `json:"backend"`
	SessionID        string     `json:"session_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	SessionsStarted  uint64     `json:"sessions_started"`
	SessionsRejected uint64     `json:"sessions_rejected"`
	FramesEmitted    uint64     `json:"frames_emitted"`
	FramesReceived   uint64     `json:"frames_received"`
	LastSessionID    string     `json:"last_session_id,omitempty"`
	LastOutcome      string     `json:"last_outcome,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// NewController creates a controller. Devices are opened per session.
func NewController(backend device.Backend, config Config, logger *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	if backend == nil {
		return nil, fmt.Errorf("audio backend is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if rate := backend.SampleRate(); rate != config.Receiver.Modem.SampleRate {
		return nil, fmt.Errorf("backend %s runs at %d Hz, modem expects %d Hz",
			backend.Name(), rate, config.Receiver.Modem.SampleRate)
	}
	if logger == nil {
		logger = slog.Default()
	}

	tx, err := modem.NewTransmitter(config.Receiver.Modem, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create transmitter: %w", err)
	}
	rx, err := modem.NewReceiver(config.Receiver, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create receiver: %w", err)
	}

	return &Controller{
		backend: backend,
		config:  config,
		tx:      tx,
		rx:      rx,
		logger:  logger,
		metrics: m,
	}, nil
}

// begin claims the controller for a new session
func (c *Controller) begin(ctx context.Context, state State, deadline time.Time) (*activeSession, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, ErrControllerClosed
	}

	if c.state != StateIdle {
		c.sessionsRejected++
		c.metrics.RecordSessionRejected(state.role())
		c.logger.Warn("Rejecting session request, another session is active",
			slog.String("requested", state.String()),
			slog.String("active", c.state.String()),
			slog.String("active_session_id", c.current.id))
		return nil, nil, ErrSessionAlreadyActive
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &activeSession{
		id:        uuid.NewString(),
		state:     state,
		startedAt: time.Now(),
		deadline:  deadline,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.state = state
	c.current = s
	c.sessionsStarted++
	c.lastSessionID = s.id
	c.metrics.RecordSessionStarted(state.role())

	c.logger.Info("Session started",
		slog.String("session_id", s.id),
		slog.String("state", state.String()))

	return s, sctx, nil
}

// finish returns the controller to idle. Callers release their device first.
func (c *Controller) finish(s *activeSession, outcome string, err error) {
	duration := time.Since(s.startedAt)

	c.mu.Lock()
	if c.current == s {
		c.current = nil
		c.state = StateIdle
	}
	c.lastOutcome = outcome
	c.lastError = ""
	if err != nil {
		c.lastError = err.Error()
	}
	c.mu.Unlock()

	s.cancel()
	c.metrics.RecordSessionFinished(s.state.role(), outcome, duration.Seconds())

	attrs := []any{
		slog.String("session_id", s.id),
		slog.String("state", s.state.String()),
		slog.String("outcome", outcome),
		slog.Duration("duration", duration),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.logger.Info("Session finished", attrs...)

	close(s.done)
}

// Emit plays payload once through the output device. It fails fast with
// ErrSessionAlreadyActive, returns protocol.ErrPayloadTooLarge for oversize
// payloads, a *device.HardwareError when the speaker fails, and a
// context error when the session is stopped or ctx is cancelled.
func (c *Controller) Emit(ctx context.Context, payload []byte) (err error) {
	frame, err := protocol.Encode(payload)
	if err != nil {
		return err
	}

	s, sctx, err := c.begin(ctx, StateEmitting, time.Time{})
	if err != nil {
		return err
	}

	outcome := "success"
	defer func() {
		c.finish(s, outcome, err)
	}()

	out, err := c.backend.OpenOutput()
	if err != nil {
		outcome = modem.OutcomeHardwareError.String()
		c.metrics.RecordDeviceError("open_output")
		return device.WrapHardware(c.backend.Name(), "open_output", err)
	}
	defer out.Close()

	errc := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		errc <- c.tx.Play(sctx, out, frame)
	}()

	if err = <-errc; err != nil {
		if device.IsHardware(err) {
			outcome = modem.OutcomeHardwareError.String()
			return err
		}
		outcome = modem.OutcomeCancelled.String()
		return fmt.Errorf("emit cancelled: %w", err)
	}

	c.mu.Lock()
	c.framesEmitted++
	c.mu.Unlock()

	return nil
}

// EmitChallenge plays payload and reports whether playback completed
func (c *Controller) EmitChallenge(ctx context.Context, payload []byte) bool {
	return c.Emit(ctx, payload) == nil
}

// ListenForResponse listens until a frame is decoded, the timeout elapses,
// the session is stopped or the microphone fails. A non-positive timeout is
// already expired and yields OutcomeTimeout; longer requests are clamped to
// the maximum. It returns within the timeout plus one capture buffer period.
func (c *Controller) ListenForResponse(ctx context.Context, timeout time.Duration) modem.DecodeResult {
	timeout = c.clampTimeout(timeout)
	deadline := time.Now().Add(timeout)

	s, sctx, err := c.begin(ctx, StateListening, deadline)
	if err != nil {
		if errors.Is(err, ErrSessionAlreadyActive) {
			return modem.DecodeResult{Outcome: modem.OutcomeSessionAlreadyActive, Err: err}
		}
		return modem.DecodeResult{Outcome: modem.OutcomeCancelled, Err: err}
	}

	var res modem.DecodeResult
	defer func() {
		c.finish(s, res.Outcome.String(), res.Err)
	}()

	in, err := c.backend.OpenInput()
	if err != nil {
		c.metrics.RecordDeviceError("open_input")
		res = modem.DecodeResult{
			Outcome: modem.OutcomeHardwareError,
			Err:     device.WrapHardware(c.backend.Name(), "open_input", err),
		}
		return res
	}
	defer in.Close()

	resc := make(chan modem.DecodeResult, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		resc <- c.rx.Receive(sctx, in, deadline)
	}()

	res = <-resc
	if res.OK() {
		c.mu.Lock()
		c.framesReceived++
		c.mu.Unlock()
	}

	return res
}

// clampTimeout bounds a listen window to [0, MaxListenTimeout]
func (c *Controller) clampTimeout(timeout time.Duration) time.Duration {
	if timeout < 0 {
		return 0
	}
	if timeout > c.config.MaxListenTimeout {
		return c.config.MaxListenTimeout
	}
	return timeout
}

// Stop cancels the active session, if any, and returns once its device has
// been released and the controller is idle. Calling Stop while idle is a
// no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return
	}

	c.logger.Info("Stopping session", slog.String("session_id", s.id))
	s.cancel()
	<-s.done
}

// Close stops any active session and rejects all later requests
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop()
	c.wg.Wait()

	c.logger.Info("Session controller closed")
	return nil
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the controller configuration
func (c *Controller) Config() Config {
	return c.config
}

// Status returns a snapshot for monitoring
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:            c.state.String(),
		Backend:          c.backend.Name(),
		SessionsStarted:  c.sessionsStarted,
		SessionsRejected: c.sessionsRejected,
		FramesEmitted:    c.framesEmitted,
		FramesReceived:   c.framesReceived,
		LastSessionID:    c.lastSessionID,
		LastOutcome:      c.lastOutcome,
		LastError:        c.lastError,
	}

	if s := c.current; s != nil {
		started := s.startedAt
		st.SessionID = s.id
		st.StartedAt = &started
		if !s.deadline.IsZero() {
			deadline := s.deadline
			st.Deadline = &deadline
		}
	}

	return st
}
