// Field Relay - edge telemetry agent
//
// fieldrelay polls smart plugs and CO2 sensors on the local network, relays
// their readings to a central collector over an authenticated WebSocket, and
// applies on/off commands the collector sends back. A local MQTT broker,
// InfluxDB and SQLite audit log are optional.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/fieldrelay/migrations"

	"github.com/nerrad567/fieldrelay/internal/api"
	"github.com/nerrad567/fieldrelay/internal/audit"
	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/config"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/database"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldrelay/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//
// Returns:
//   - error: nil on clean shutdown, or the startup failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence
	log := logging.Default()
	log.Info("starting fieldrelay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version).With("agent_id", cfg.Agent.ID)
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	devices, err := device.Build(cfg.Devices, device.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("building devices: %w", err)
	}

	stats := &relay.Stats{}
	components := make(map[string]api.HealthChecker)

	// Local audit store (optional)
	var (
		recorder  relay.CommandRecorder
		connAudit relay.ConnectionRecorder
		reader    api.AuditReader
	)
	if cfg.Database.Enabled {
		db, openErr := openDatabase(ctx, cfg.Database, log)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo := audit.NewSQLiteRepository(db.DB)
		recorder, connAudit, reader = repo, repo, repo
		components["database"] = db
	} else {
		log.Info("audit log disabled")
	}

	// Local MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.Topics{Agent: cfg.Agent.ID})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		components["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB mirror (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Agent.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		components["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Relay pipeline
	queue := relay.NewQueue(cfg.Polling.QueueSize)
	dispatcher := relay.NewDispatcher(relay.DispatcherConfig{
		Devices:  devices,
		Recorder: recorder,
		Stats:    stats,
		Logger:   log,
	})
	supervisor := relay.NewSupervisor(relay.SupervisorConfig{
		URL:          cfg.Server.URL,
		APIKey:       cfg.Server.APIKey,
		AuthTimeout:  cfg.AuthTimeout(),
		InitialDelay: time.Duration(cfg.Server.Reconnect.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.Server.Reconnect.MaxDelay) * time.Second,
		Dialer: &relay.WebSocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout(),
			WriteTimeout:     cfg.WriteTimeout(),
		},
		Source:  queue,
		Handler: dispatcher,
		Stats:   stats,
		Logger:  log,
	})
	supervisor.OnStateChange(func(from, to relay.ConnectionState, reason error) {
		log.Info("collector connection state changed", "from", from.String(), "to", to.String(), "reason", reason)
	})
	if connAudit != nil {
		supervisor.OnStateChange(relay.RecordConnectionEvents(connAudit, log))
	}

	poller := relay.NewPoller(devices, cfg.PollInterval(), log)
	poller.AddSink("collector", queue)

	queues := []*relay.Queue{queue}
	var mirrors []func(context.Context) error

	if mqttClient != nil {
		topics := mqttClient.Topics()
		m := relay.NewMQTTMirror(mqttClient, topics, mqttClient.QoS(), cfg.Polling.QueueSize, log)
		poller.AddSink("mqtt", m.Queue())
		queues = append(queues, m.Queue())
		mirrors = append(mirrors, m.Run)

		if subErr := mqttClient.Subscribe(topics.Command(), mqttClient.QoS(), relay.CommandMessageHandler(ctx, dispatcher)); subErr != nil {
			return fmt.Errorf("subscribing to command topic: %w", subErr)
		}
		log.Info("accepting local commands", "topic", topics.Command())
	}
	if influxClient != nil {
		m := relay.NewInfluxMirror(influxClient, cfg.Polling.QueueSize, log)
		poller.AddSink("influxdb", m.Queue())
		queues = append(queues, m.Queue())
		mirrors = append(mirrors, m.Run)
	}

	// Health reporting
	if mqttClient != nil {
		reporter := relay.NewHealthReporter(relay.HealthReporterConfig{
			AgentID:     cfg.Agent.ID,
			Version:     version,
			Topic:       mqttClient.Topics().Health(),
			Interval:    time.Duration(cfg.Health.Interval) * time.Second,
			DeviceCount: devices.Len(),
			Publisher:   mqttClient,
			State:       supervisor,
			Stats:       stats,
			Queue:       queue,
			Logger:      log,
		})
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("failed to publish starting status", "error", pubErr)
		}
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	// Status API (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			AgentID:    cfg.Agent.ID,
			Version:    version,
			Connection: supervisor,
			Stats:      stats,
			Queue:      queue,
			Poller:     poller,
			Devices:    devices,
			Audit:      reader,
			Components: components,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete",
		"collector", cfg.Server.URL,
		"poll_interval", cfg.PollInterval().String(),
		"devices", devices.Names(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				q.Close()
			}
		}()
		return poller.Run(gctx)
	})
	for _, runMirror := range mirrors {
		g.Go(func() error {
			return runMirror(gctx)
		})
	}

	runErr := g.Wait()

	if mqttClient != nil {
		if unsubErr := mqttClient.Unsubscribe(mqttClient.Topics().Command()); unsubErr != nil {
			log.Warn("failed to unsubscribe from command topic", "error", unsubErr)
		}
	}
	log.Info("relay stopped, waiting for in-flight commands")
	dispatcher.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("relay stopped: %w", runErr)
	}

	log.Info("fieldrelay stopped", "stats", stats.Snapshot())
	return nil
}

// getConfigPath returns FIELDRELAY_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("FIELDRELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the audit store and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())
	return db, nil
}
