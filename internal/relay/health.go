package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
)

// HealthStatus is the agent status published on the health topic.
type HealthStatus string

// Health status values.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// StateSource reports the collector connection state.
type StateSource interface {
	State() ConnectionState
}

// HealthMessage is the retained payload on fieldrelay/{agent}/health.
type HealthMessage struct {
	AgentID       string        `json:"agent_id"`
	Version       string        `json:"version"`
	Status        HealthStatus  `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	Connection    string        `json:"connection"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	DeviceCount   int           `json:"device_count"`
	Stats         StatsSnapshot `json:"stats"`
	Queue         QueueStats    `json:"queue"`
	Timestamp     string        `json:"timestamp"`
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	AgentID     string
	Version     string
	Topic       string
	Interval    time.Duration
	DeviceCount int
	Publisher   Publisher
	State       StateSource
	Stats       *Stats
	Queue       *Queue
	Logger      *logging.Logger
}

// HealthReporter publishes the agent status periodically, retained at QoS 1.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start launches the report loop. It stops on ctx cancellation or Stop.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends the loop and publishes a final "stopping" status.
// Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best effort during shutdown
		h.publishStatus(HealthStopping, "agent shutting down")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "agent starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.cfg.Logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.cfg.Logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.State == nil {
		return HealthDegraded, "no collector connection"
	}
	if state := h.cfg.State.State(); state != StateConnected {
		return HealthDegraded, "collector " + state.String()
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		AgentID:       h.cfg.AgentID,
		Version:       h.cfg.Version,
		Status:        status,
		Reason:        reason,
		Connection:    StateDisconnected.String(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		DeviceCount:   h.cfg.DeviceCount,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if h.cfg.State != nil {
		msg.Connection = h.cfg.State.State().String()
	}
	if h.cfg.Stats != nil {
		msg.Stats = h.cfg.Stats.Snapshot()
	}
	if h.cfg.Queue != nil {
		msg.Queue = h.cfg.Queue.Stats()
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}
