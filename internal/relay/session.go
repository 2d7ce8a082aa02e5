package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// TerminationReason says why a Session ended.
type TerminationReason int

// Session termination reasons.
const (
	// TerminationShutdown means the context ended or the data queue closed.
	TerminationShutdown TerminationReason = iota
	// TerminationPeerClosed means the collector sent a close frame.
	TerminationPeerClosed
	// TerminationReadFailed means the transport read failed.
	TerminationReadFailed
	// TerminationSendFailed means a frame write failed.
	TerminationSendFailed
)

// String returns the reason name.
func (r TerminationReason) String() string {
	switch r {
	case TerminationShutdown:
		return "shutdown"
	case TerminationPeerClosed:
		return "peer_closed"
	case TerminationReadFailed:
		return "read_failed"
	case TerminationSendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

// CommandHandler receives commands decoded from inbound frames.
// Dispatch must not block on device I/O.
type CommandHandler interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// BatchSource yields batches to relay.
type BatchSource interface {
	Recv(ctx context.Context) (device.Batch, error)
}

// batchRequeuer is implemented by sources that take back a batch the
// session received after it was told to stop.
type batchRequeuer interface {
	Requeue(batch device.Batch)
}

// Session relays data and commands over one authenticated transport.
//
// It runs an outbound writer (batches to data frames) and an inbound reader
// (pings, close, commands) concurrently. Whichever side stops first ends
// the session; the other side's in-flight operation is abandoned.
type Session struct {
	transport Transport
	source    BatchSource
	handler   CommandHandler
	logger    *logging.Logger
	stats     *Stats
}

type sessionResult struct {
	reason TerminationReason
	err    error
}

// NewSession creates a session over an authenticated transport. stats and
// logger may be nil.
func NewSession(t Transport, source BatchSource, handler CommandHandler, logger *logging.Logger, stats *Stats) *Session {
	if logger == nil {
		logger = logging.Default()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Session{
		transport: t,
		source:    source,
		handler:   handler,
		logger:    logger,
		stats:     stats,
	}
}

// Run relays until either direction terminates.
//
// Returns:
//   - TerminationReason: Why the session ended
//   - error: ErrPeerClosed, ErrReadFailed or ErrSendFailed wrapping the
//     cause; nil for TerminationShutdown
func (s *Session) Run(ctx context.Context) (TerminationReason, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan sessionResult, 2)
	go func() { results <- s.readLoop(ctx) }()
	go func() { results <- s.writeLoop(ctx) }()

	res := <-results
	return res.reason, res.err
}

func (s *Session) writeLoop(ctx context.Context) sessionResult {
	for {
		if ctx.Err() != nil {
			return sessionResult{reason: TerminationShutdown}
		}
		batch, err := s.source.Recv(ctx)
		if err != nil {
			return sessionResult{reason: TerminationShutdown}
		}
		if ctx.Err() != nil {
			s.returnBatch(batch)
			return sessionResult{reason: TerminationShutdown}
		}

		payload, err := EncodeData(batch)
		if err != nil {
			s.logger.Error("dropping batch that failed to encode", "error", err, "readings", len(batch))
			continue
		}

		if err := s.transport.WriteFrame(ctx, Frame{Type: FrameText, Payload: payload}); err != nil {
			if ctx.Err() != nil {
				return sessionResult{reason: TerminationShutdown}
			}
			return sessionResult{reason: TerminationSendFailed, err: fmt.Errorf("%w: data frame: %w", ErrSendFailed, err)}
		}
		s.stats.batchesSent.Add(1)
		storeNow(&s.stats.lastBatchSent)
		s.logger.Debug("batch sent", "readings", len(batch))
	}
}

// returnBatch hands an unsent batch back to the source, or counts it
// as dropped when the source cannot take it.
func (s *Session) returnBatch(batch device.Batch) {
	if r, ok := s.source.(batchRequeuer); ok {
		r.Requeue(batch)
		s.logger.Debug("batch returned to queue", "readings", len(batch))
		return
	}
	s.stats.batchesDropped.Add(1)
	s.logger.Warn("dropping batch received after session end", "readings", len(batch))
}

func (s *Session) readLoop(ctx context.Context) sessionResult {
	for {
		f, err := s.transport.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return sessionResult{reason: TerminationShutdown}
			}
			return sessionResult{reason: TerminationReadFailed, err: fmt.Errorf("%w: %w", ErrReadFailed, err)}
		}

		switch f.Type {
		case FramePing:
			if err := s.transport.WriteFrame(ctx, Frame{Type: FramePong, Payload: f.Payload}); err != nil {
				if ctx.Err() != nil {
					return sessionResult{reason: TerminationShutdown}
				}
				return sessionResult{reason: TerminationSendFailed, err: fmt.Errorf("%w: pong: %w", ErrSendFailed, err)}
			}
		case FrameClose:
			return sessionResult{reason: TerminationPeerClosed, err: ErrPeerClosed}
		case FrameText:
			s.handleText(ctx, f.Payload)
		case FramePong, FrameBinary:
		}
	}
}

func (s *Session) handleText(ctx context.Context, payload []byte) {
	cmd, err := ParseCommand(payload)
	switch {
	case errors.Is(err, errNotCommand):
		s.logger.Debug("ignoring non-command frame")
		return
	case err != nil:
		s.logger.Debug("ignoring malformed frame", "error", err)
		return
	}

	cmd.Source = SourceServer
	if s.handler == nil {
		return
	}
	// Errors are already logged by the dispatcher.
	_ = s.handler.Dispatch(ctx, cmd) //nolint:errcheck // fire-and-forget
}
