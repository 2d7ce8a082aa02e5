package relay

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/fieldrelay/internal/audit"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// ConnectionRecorder persists connection state transitions.
type ConnectionRecorder interface {
	RecordConnectionEvent(ctx context.Context, event *audit.ConnectionEvent) error
}

// RecordConnectionEvents returns an observer that writes each transition
// to rec on its own goroutine, so the Supervisor never waits on storage.
//
// Each event is stamped when the transition happens, not when it is
// stored, and stamps strictly increase, so concurrent writes cannot
// reorder the trail.
func RecordConnectionEvents(rec ConnectionRecorder, logger *logging.Logger) StateObserver {
	if logger == nil {
		logger = logging.Default()
	}

	var (
		mu   sync.Mutex
		last time.Time
	)
	stamp := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now().UTC()
		if !now.After(last) {
			now = last.Add(time.Microsecond)
		}
		last = now
		return now
	}

	return func(from, to ConnectionState, reason error) {
		event := &audit.ConnectionEvent{From: from.String(), To: to.String(), CreatedAt: stamp()}
		if reason != nil {
			event.Reason = reason.Error()
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
			defer cancel()
			if err := rec.RecordConnectionEvent(ctx, event); err != nil {
				logger.Warn("failed to record connection event", "to", event.To, "error", err)
			}
		}()
	}
}

// CommandMessageHandler adapts a CommandHandler to MQTT command ingress.
// Payloads use the collector's command shape.
func CommandMessageHandler(ctx context.Context, h CommandHandler) func(topic string, payload []byte) error {
	return func(_ string, payload []byte) error {
		cmd, err := ParseCommand(payload)
		if err != nil {
			return err
		}
		cmd.Source = SourceMQTT
		return h.Dispatch(ctx, cmd)
	}
}
