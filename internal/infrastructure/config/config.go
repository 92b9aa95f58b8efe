package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Pulse Link Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	DeviceLink DeviceLinkConfig `yaml:"device_link"`
	Patterns   PatternsConfig   `yaml:"patterns"`
	Router     RouterConfig     `yaml:"router"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PortSearchAttempts is how many consecutive ports (starting at Port)
	// are tried before startup is aborted. Exhausting the range is fatal.
	PortSearchAttempts int `yaml:"port_search_attempts"`

	Timeouts ServerTimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig          `yaml:"cors"`
}

// ServerTimeoutConfig contains HTTP timeout settings in seconds.
type ServerTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// DeviceLinkConfig contains device-control server connection settings.
type DeviceLinkConfig struct {
	// URL is the WebSocket address of the device-control server.
	URL string `yaml:"url"`

	// ClientName is sent in the protocol handshake.
	ClientName string `yaml:"client_name"`

	// ConnectTimeoutSeconds bounds both the dial and the handshake wait.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// HeartbeatSeconds is the interval between protocol-level pings.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`

	// ReconnectDelaySeconds is the fixed backoff before a reconnect attempt.
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
}

// PatternsConfig contains pattern download and cache settings.
type PatternsConfig struct {
	// CacheDir is the directory holding descriptor, raw pattern, and
	// converted script artifacts.
	CacheDir string `yaml:"cache_dir"`

	// Endpoint is the vendor pattern descriptor URL.
	Endpoint string `yaml:"endpoint"`

	// PartnerTag is the fixed partner identifier sent with descriptor requests.
	PartnerTag string `yaml:"partner_tag"`

	// HTTPTimeoutSeconds bounds each descriptor/body fetch.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`
}

// RouterConfig contains playback event routing settings.
type RouterConfig struct {
	// IntensityScale is a global multiplier applied to all computed strengths.
	IntensityScale float64 `yaml:"intensity_scale"`
}

// MQTTConfig contains MQTT broker connection settings for the event ingest.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite database settings for the command history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for intensity telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// When Path is set, log output is written to a rotating file instead of
// stdout/stderr.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PULSELINK_SECTION_KEY
// For example: PULSELINK_DEVICELINK_URL, PULSELINK_SERVER_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
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

// Default returns the built-in configuration without reading any file.
// Used when no config file is present; the bridge runs with workable
// defaults out of the box.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "localhost",
			Port:               8080,
			PortSearchAttempts: 10,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			// Browser integrations are the primary caller; they must be
			// able to reach the bridge cross-origin without a config file.
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		DeviceLink: DeviceLinkConfig{
			URL:                   "ws://localhost:6969",
			ClientName:            "Pulse Link Bridge",
			ConnectTimeoutSeconds: 5,
			HeartbeatSeconds:      30,
			ReconnectDelaySeconds: 2,
		},
		Patterns: PatternsConfig{
			CacheDir:           "cache",
			Endpoint:           "https://coll.lovense.com/coll-log/video-websites/get/pattern",
			PartnerTag:         "Adulttime",
			HTTPTimeoutSeconds: 15,
		},
		Router: RouterConfig{
			IntensityScale: 1.0,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pulselink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/pulselink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PULSELINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PULSELINK_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PULSELINK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PULSELINK_DEVICELINK_URL"); v != "" {
		cfg.DeviceLink.URL = v
	}
	if v := os.Getenv("PULSELINK_PATTERNS_CACHE_DIR"); v != "" {
		cfg.Patterns.CacheDir = v
	}
	if v := os.Getenv("PULSELINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PULSELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PULSELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PULSELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("PULSELINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.PortSearchAttempts < 1 {
		errs = append(errs, "server.port_search_attempts must be at least 1")
	}

	if c.DeviceLink.URL == "" {
		errs = append(errs, "device_link.url is required")
	} else if !strings.HasPrefix(c.DeviceLink.URL, "ws://") && !strings.HasPrefix(c.DeviceLink.URL, "wss://") {
		errs = append(errs, "device_link.url must use ws:// or wss:// scheme")
	}
	if c.DeviceLink.ConnectTimeoutSeconds < 1 {
		errs = append(errs, "device_link.connect_timeout_seconds must be at least 1")
	}

	if c.Patterns.CacheDir == "" {
		errs = append(errs, "patterns.cache_dir is required")
	}
	if c.Patterns.Endpoint == "" {
		errs = append(errs, "patterns.endpoint is required")
	}

	if c.Router.IntensityScale < 0 {
		errs = append(errs, "router.intensity_scale must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the server read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the server write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the server idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Idle) * time.Second
}

// GetConnectTimeout returns the device link connect/handshake timeout as a Duration.
func (c *DeviceLinkConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// GetHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *DeviceLinkConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// GetReconnectDelay returns the reconnect backoff as a Duration.
func (c *DeviceLinkConfig) GetReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// GetHTTPTimeout returns the pattern fetch timeout as a Duration.
func (c *PatternsConfig) GetHTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
