// Package supervisor owns the gateway's session status and drives
// reconnection after transport disconnects.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/switchboard/internal/transport"
)

// Status is the process-wide session state. Transitions only along
// disconnected → connecting → ready → disconnected.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusReady        Status = "ready"
)

const (
	// defaultBaseBackoff is the initial reconnect backoff.
	defaultBaseBackoff = 2 * time.Second
	// defaultMaxBackoff caps the exponential reconnect backoff.
	defaultMaxBackoff = 2 * time.Minute
	// defaultMaxReconnect limits reconnect attempts before giving up.
	defaultMaxReconnect = 10
)

// Supervisor tracks session status from transport lifecycle events and
// reconnects with bounded exponential backoff on disconnect. Auth
// failures are terminal for the session: they are logged, the status
// drops to disconnected, and no automatic retry is made.
type Supervisor struct {
	adapter       transport.Adapter
	logger        *zap.Logger
	cancelPending func() int // cancels the router's scheduled replies
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	maxReconnect  int

	mu           sync.RWMutex
	status       Status
	reconnecting bool
}

// Opts holds parameters for creating a Supervisor.
type Opts struct {
	Adapter       transport.Adapter
	Logger        *zap.Logger
	CancelPending func() int    // optional; called on session teardown
	BaseBackoff   time.Duration // defaults to 2s
	MaxBackoff    time.Duration // defaults to 2m
	MaxReconnect  int           // defaults to 10
}

// New creates a Supervisor in the disconnected state.
func New(opts Opts) (*Supervisor, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("supervisor: adapter is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxReconnect <= 0 {
		opts.MaxReconnect = defaultMaxReconnect
	}
	return &Supervisor{
		adapter:       opts.Adapter,
		logger:        opts.Logger,
		cancelPending: opts.CancelPending,
		baseBackoff:   opts.BaseBackoff,
		maxBackoff:    opts.MaxBackoff,
		maxReconnect:  opts.MaxReconnect,
		status:        StatusDisconnected,
	}, nil
}

// Status returns the current session status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Initialize performs the initial connection. Failure here is fatal for
// startup and returned to the caller.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.setStatus(StatusConnecting)
	if err := s.adapter.Connect(ctx); err != nil {
		s.setStatus(StatusDisconnected)
		return fmt.Errorf("supervisor: initialize: %w", err)
	}
	return nil
}

// HandleEvent processes one transport lifecycle event. Message and call
// events are not lifecycle events and are ignored here.
func (s *Supervisor) HandleEvent(ctx context.Context, evt transport.Event) {
	switch evt.Kind {
	case transport.EventReady:
		s.setStatus(StatusReady)
		s.logger.Info("session ready")

	case transport.EventDisconnected:
		s.logger.Error("session disconnected", zap.String("reason", evt.Reason))
		s.teardown()
		go s.reconnect(ctx)

	case transport.EventAuthFailure:
		s.logger.Error("authentication failure, manual intervention required",
			zap.String("reason", evt.Reason))
		s.teardown()

	case transport.EventLoading:
		s.logger.Warn("loading screen",
			zap.Int("percent", evt.Percent),
			zap.String("detail", evt.Body))

	case transport.EventQR:
		s.logger.Warn("QR code gerado com sucesso", zap.String("code", evt.Code))
	}
}

// teardown drops to disconnected and cancels scheduled work tied to the
// session.
func (s *Supervisor) teardown() {
	s.setStatus(StatusDisconnected)
	if s.cancelPending != nil {
		if n := s.cancelPending(); n > 0 {
			s.logger.Warn("dropped scheduled replies on teardown", zap.Int("count", n))
		}
	}
}

// reconnect retries the connection with exponential backoff, up to
// maxReconnect attempts. Only one reconnect loop runs at a time.
func (s *Supervisor) reconnect(ctx context.Context) {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for attempt := 1; attempt <= s.maxReconnect; attempt++ {
		s.setStatus(StatusConnecting)
		if err := s.adapter.Connect(ctx); err == nil {
			s.logger.Info("reconnected", zap.Int("attempt", attempt))
			return
		} else {
			s.logger.Error("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max", s.maxReconnect),
				zap.Error(err))
		}
		s.setStatus(StatusDisconnected)

		if attempt == s.maxReconnect {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt-1))) * s.baseBackoff
		if wait > s.maxBackoff {
			wait = s.maxBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	s.logger.Error("reconnect attempts exhausted, staying disconnected",
		zap.Int("attempts", s.maxReconnect))
}

// setStatus applies a transition, enforcing the allowed path. An illegal
// transition (e.g. ready without a connecting step) is logged and dropped.
func (s *Supervisor) setStatus(next Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next == StatusReady && s.status != StatusConnecting && s.status != StatusReady {
		s.logger.Warn("ignoring illegal status transition",
			zap.String("from", string(s.status)),
			zap.String("to", string(next)))
		return
	}
	s.status = next
}
