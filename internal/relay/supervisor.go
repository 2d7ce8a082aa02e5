package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

const (
	defaultAuthTimeout = 10 * time.Second

	// closeTimeout bounds the close frame sent on shutdown.
	closeTimeout = time.Second
)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// URL is the collector endpoint (ws:// or wss://).
	URL string

	// APIKey is sent in the auth message.
	APIKey string

	// AuthTimeout bounds the wait for the auth reply. Default 10s.
	AuthTimeout time.Duration

	// InitialDelay and MaxDelay bound the reconnect backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Dialer opens transports. Required.
	Dialer Dialer

	// Source yields batches for each session. Required.
	Source BatchSource

	// Handler receives inbound commands. Optional.
	Handler CommandHandler

	// Stats receives connection and batch counters. Optional.
	Stats *Stats

	// Logger is optional.
	Logger *logging.Logger
}

// Supervisor owns the collector connection. It dials, authenticates, runs
// a Session, and on any failure waits out an exponential backoff before
// trying again. It is the only writer of the connection state.
type Supervisor struct {
	cfg     SupervisorConfig
	backoff *Backoff
	stats   *Stats
	logger  *logging.Logger

	state atomic.Int32

	observersMu sync.RWMutex
	observers   []StateObserver

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	s := &Supervisor{
		cfg:     cfg,
		backoff: NewBackoff(cfg.InitialDelay, cfg.MaxDelay),
		stats:   cfg.Stats,
		logger:  cfg.Logger,
		sleep:   sleepContext,
	}
	if s.stats == nil {
		s.stats = &Stats{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s
}

// OnStateChange registers an observer. Register before Run.
func (s *Supervisor) OnStateChange(obs StateObserver) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, obs)
}

// State returns the current connection state. Safe for concurrent use.
func (s *Supervisor) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Stats returns the counters the supervisor updates.
func (s *Supervisor) Stats() *Stats {
	return s.stats
}

// Run connects and relays until ctx is cancelled. Retries are unbounded.
//
// Returns:
//   - error: nil after ctx cancellation; any open transport is closed first
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected, nil)
			return nil
		}

		done, err := s.cycle(ctx)
		if done || ctx.Err() != nil {
			s.setState(StateDisconnected, nil)
			return nil
		}

		delay := s.backoff.Next()
		s.logger.Warn("collector connection failed, retrying",
			"error", err,
			"retry_in", delay.String(),
			"attempt", s.backoff.Attempt(),
		)
		if err := s.sleep(ctx, delay); err != nil {
			s.setState(StateDisconnected, nil)
			return nil
		}
	}
}

// cycle runs one connect, authenticate, session attempt. done is true
// when the session ended because the data source shut down.
func (s *Supervisor) cycle(ctx context.Context) (done bool, err error) {
	s.setState(StateConnecting, nil)

	t, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		if !errors.Is(err, ErrTransportConnectFailed) {
			err = fmt.Errorf("%w: %w", ErrTransportConnectFailed, err)
		}
		s.stats.connectFailures.Add(1)
		s.setState(StateDisconnected, err)
		return false, err
	}
	defer t.Close() //nolint:errcheck // transport is discarded either way

	s.setState(StateAuthenticating, nil)
	if err := s.authenticate(ctx, t); err != nil {
		s.stats.authFailures.Add(1)
		s.setState(StateDisconnected, err)
		return false, err
	}

	s.backoff.Reset()
	s.stats.sessions.Add(1)
	storeNow(&s.stats.lastConnected)
	s.setState(StateConnected, nil)
	s.logger.Info("connected to collector", "url", s.cfg.URL)

	reason, err := NewSession(t, s.cfg.Source, s.cfg.Handler, s.logger, s.stats).Run(ctx)
	storeNow(&s.stats.lastDisconnected)

	if reason == TerminationShutdown {
		s.sendClose(ctx, t)
		return true, nil
	}

	s.logger.Warn("collector session ended", "reason", reason.String(), "error", err)
	s.setState(StateDisconnected, err)
	return false, err
}

// authenticate sends the auth frame and waits for exactly one reply.
// Pings arriving before the reply are answered and pongs skipped; any
// other frame is taken as the reply.
func (s *Supervisor) authenticate(ctx context.Context, t Transport) error {
	payload, err := EncodeAuth(s.cfg.APIKey)
	if err != nil {
		return fmt.Errorf("encoding auth message: %w", err)
	}
	if err := t.WriteFrame(ctx, Frame{Type: FrameText, Payload: payload}); err != nil {
		return fmt.Errorf("%w: auth frame: %w", ErrSendFailed, err)
	}

	authCtx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	for {
		f, err := t.ReadFrame(authCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if authCtx.Err() != nil {
				return fmt.Errorf("%w: no reply within %s", ErrAuthTimeout, s.cfg.AuthTimeout)
			}
			return fmt.Errorf("%w: awaiting auth reply: %w", ErrReadFailed, err)
		}

		switch f.Type {
		case FramePing:
			if err := t.WriteFrame(authCtx, Frame{Type: FramePong, Payload: f.Payload}); err != nil {
				return fmt.Errorf("%w: pong: %w", ErrSendFailed, err)
			}
		case FramePong:
		case FrameClose:
			return fmt.Errorf("%w: during authentication", ErrPeerClosed)
		case FrameText:
			return ParseAuthResponse(f.Payload)
		default:
			return fmt.Errorf("%w: %s frame as auth reply", ErrMalformedFrame, f.Type)
		}
	}
}

func (s *Supervisor) sendClose(ctx context.Context, t Transport) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := t.WriteFrame(closeCtx, Frame{Type: FrameClose}); err != nil {
		s.logger.Debug("close frame not sent", "error", err)
	}
}

func (s *Supervisor) setState(to ConnectionState, reason error) {
	from := ConnectionState(s.state.Swap(int32(to)))
	if from == to {
		return
	}

	s.logger.Debug("connection state changed", "from", from.String(), "to", to.String())

	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	for _, obs := range observers {
		obs(from, to, reason)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
