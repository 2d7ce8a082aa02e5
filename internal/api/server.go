package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/fieldrelay/internal/audit"
	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/config"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
	"github.com/nerrad567/fieldrelay/internal/relay"
)

const gracefulShutdownTimeout = 10 * time.Second

// AuditReader is the read side of the audit store.
type AuditReader interface {
	ListCommands(ctx context.Context, filter audit.CommandFilter) ([]audit.CommandEntry, error)
	ListConnectionEvents(ctx context.Context, limit int) ([]audit.ConnectionEvent, error)
}

// HealthChecker is implemented by the optional infrastructure clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PollerStats reports poller counters.
type PollerStats interface {
	Stats() relay.PollerStats
}

// Deps holds what the API reads from.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	AgentID string
	Version string

	// Connection reports the collector connection state. Required.
	Connection relay.StateSource

	Stats   *relay.Stats
	Queue   *relay.Queue
	Poller  PollerStats
	Devices *device.Set

	// Audit is nil when the local database is disabled.
	Audit AuditReader

	// Components are reported on /status by name.
	Components map[string]HealthChecker
}

// Server is the status API server.
type Server struct {
	deps      Deps
	logger    *logging.Logger
	startTime time.Time
	server    *http.Server
}

// New validates deps and creates a server. Call Start to listen.
func New(deps Deps) (*Server, error) {
	if deps.Connection == nil {
		return nil, errors.New("connection state source is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in the background.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.deps.Config.Host, strconv.Itoa(s.deps.Config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	t := s.deps.Config.Timeouts
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(t.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(t.Read) * time.Second,
		WriteTimeout:      time.Duration(t.Write) * time.Second,
		IdleTimeout:       time.Duration(t.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("status API listening", "address", ln.Addr().String())
	return nil
}

// Close shuts down, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
