package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a field relay agent.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Server   ServerConfig   `yaml:"server"`
	Polling  PollingConfig  `yaml:"polling"`
	Devices  []DeviceConfig `yaml:"devices"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AgentConfig identifies this agent instance.
type AgentConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig describes the central collector connection.
type ServerConfig struct {
	URL              string          `yaml:"url"`
	APIKey           string          `yaml:"api_key"`
	AuthTimeout      int             `yaml:"auth_timeout"`      // seconds
	WriteTimeout     int             `yaml:"write_timeout"`     // seconds
	HandshakeTimeout int             `yaml:"handshake_timeout"` // seconds
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains backoff bounds in seconds.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// PollingConfig controls the device poll cadence and the outbound queue.
type PollingConfig struct {
	Interval  int `yaml:"interval"` // seconds
	QueueSize int `yaml:"queue_size"`
}

// DeviceConfig is the static description of one field device.
type DeviceConfig struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Address     string            `yaml:"address"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// CredentialsConfig holds device login details.
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DatabaseConfig contains SQLite settings for the local audit store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains local broker settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"` // seconds
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB mirror settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// APIConfig contains the local status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// HealthConfig controls the periodic MQTT health report.
type HealthConfig struct {
	Interval int `yaml:"interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Device types accepted in the devices section.
const (
	DeviceTypeP100 = "P100"
	DeviceTypeP105 = "P105"
	DeviceTypeP110 = "P110"
	DeviceTypeP115 = "P115"
	DeviceTypeS88  = "S88"
	DeviceTypeSim  = "SIM"

	// DeviceTypeACInfinity is a cloud controller. Its address is the
	// controller name to match on the account.
	DeviceTypeACInfinity = "ACINFINITY"
)

var knownDeviceTypes = map[string]bool{
	DeviceTypeP100: true,
	DeviceTypeP105: true,
	DeviceTypeP110: true,
	DeviceTypeP115: true,
	DeviceTypeS88:  true,
	DeviceTypeSim:  true,

	DeviceTypeACInfinity: true,
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator-controlled env
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			ID: "fieldrelay-01",
		},
		Server: ServerConfig{
			AuthTimeout:      10,
			WriteTimeout:     10,
			HandshakeTimeout: 10,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Polling: PollingConfig{
			Interval:  60,
			QueueSize: 100,
		},
		Database: DatabaseConfig{
			Path:        "./data/fieldrelay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fieldrelay",
			},
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "fieldrelay",
			Bucket:        "readings",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		Health: HealthConfig{
			Interval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIELDRELAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIELDRELAY_AGENT_ID"); v != "" {
		cfg.Agent.ID = v
	}

	// Collector
	if v := os.Getenv("FIELDRELAY_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("FIELDRELAY_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}

	if v := os.Getenv("FIELDRELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FIELDRELAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIELDRELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIELDRELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("FIELDRELAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("FIELDRELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected and reported together.
//
// Returns:
//   - error: Description of validation failures, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	if c.Agent.ID == "" {
		errs = append(errs, "agent.id is required")
	}

	// Collector
	if c.Server.URL == "" {
		errs = append(errs, "server.url is required")
	} else if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "server.url must be a ws:// or wss:// URL")
	}
	if c.Server.APIKey == "" {
		errs = append(errs, "server.api_key is required (set FIELDRELAY_API_KEY environment variable)")
	}
	if c.Server.AuthTimeout <= 0 {
		errs = append(errs, "server.auth_timeout must be positive")
	}
	if c.Server.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "server.reconnect.initial_delay must be positive")
	}
	if c.Server.Reconnect.MaxDelay < c.Server.Reconnect.InitialDelay {
		errs = append(errs, "server.reconnect.max_delay must not be less than initial_delay")
	}

	// Polling
	if c.Polling.Interval <= 0 {
		errs = append(errs, "polling.interval must be positive")
	}
	if c.Polling.QueueSize <= 0 {
		errs = append(errs, "polling.queue_size must be positive")
	}

	// Devices
	if len(c.Devices) == 0 {
		errs = append(errs, "at least one device must be configured")
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
		case seen[d.Name]:
			errs = append(errs, fmt.Sprintf("devices[%d].name %q is duplicated", i, d.Name))
		}
		seen[d.Name] = true

		if !knownDeviceTypes[d.Type] {
			errs = append(errs, fmt.Sprintf("devices[%d].type %q is not supported", i, d.Type))
		}
		if d.Address == "" && d.Type != DeviceTypeSim {
			errs = append(errs, fmt.Sprintf("devices[%d].address is required", i))
		}
		if d.Type == DeviceTypeACInfinity && (d.Credentials.Username == "" || d.Credentials.Password == "") {
			errs = append(errs, fmt.Sprintf("devices[%d].credentials are required for %s", i, d.Type))
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the poll period as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// AuthTimeout returns the auth reply wait as a Duration.
func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.Server.AuthTimeout) * time.Second
}

// WriteTimeout returns the per-frame write deadline as a Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeout) * time.Second
}

// HandshakeTimeout returns the WebSocket handshake limit as a Duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Server.HandshakeTimeout) * time.Second
}
