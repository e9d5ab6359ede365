package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in bulb.transport.
const (
	TransportRFCOMM = "rfcomm"
	TransportSerial = "serial"
)

// Config is the root configuration structure for the Gray Logic bulb bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Bulb     BulbConfig     `yaml:"bulb"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
//
// The database only holds the bulb sightings table. An empty path
// disables sighting persistence.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// BulbConfig contains the Bluetooth bulb bridge settings.
type BulbConfig struct {
	Enabled bool `yaml:"enabled"`

	// Adapter is the BlueZ adapter used for inquiries (e.g. "hci0").
	Adapter string `yaml:"adapter"`

	// Transport selects how bulbs are reached: "rfcomm" opens sockets
	// directly, "serial" uses TTYs bound with `rfcomm bind`.
	Transport string `yaml:"transport"`

	// RFCOMMChannels are probed in order when the SPP channel is unknown.
	RFCOMMChannels []int `yaml:"rfcomm_channels"`

	// SerialPorts maps bulb addresses to bound TTYs for the serial transport.
	SerialPorts map[string]string `yaml:"serial_ports"`
	SerialBaud  int               `yaml:"serial_baud"`

	// AddressPrefixes filters discovered devices.
	AddressPrefixes []string `yaml:"address_prefixes"`

	// ScanDurations is the round-robin inquiry window sequence in seconds.
	ScanDurations []int `yaml:"scan_durations"`

	HeartbeatInterval int `yaml:"heartbeat_interval"`
	HealthInterval    int `yaml:"health_interval"`
	CommandTimeout    int `yaml:"command_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_BULB_ADAPTER
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-bulb.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-bulb",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9110,
			Path:    "/metrics",
		},
		Bulb: BulbConfig{
			Enabled:           true,
			Adapter:           "hci0",
			Transport:         TransportRFCOMM,
			RFCOMMChannels:    []int{1, 2, 3},
			SerialBaud:        9600,
			AddressPrefixes:   []string{"C9:7", "C9:8", "C9:A"},
			ScanDurations:     []int{1, 2, 4, 8},
			HeartbeatInterval: 1,
			HealthInterval:    30,
			CommandTimeout:    5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Bulb
	if v := os.Getenv("GRAYLOGIC_BULB_ADAPTER"); v != "" {
		cfg.Bulb.Adapter = v
	}
	if v := os.Getenv("GRAYLOGIC_BULB_TRANSPORT"); v != "" {
		cfg.Bulb.Transport = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if c.Bulb.Enabled {
		errs = append(errs, c.Bulb.validate()...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b *BulbConfig) validate() []string {
	var errs []string

	switch b.Transport {
	case TransportRFCOMM:
		if b.Adapter == "" {
			errs = append(errs, "bulb.adapter is required for the rfcomm transport")
		}
		for _, ch := range b.RFCOMMChannels {
			if ch < 1 || ch > 30 {
				errs = append(errs, fmt.Sprintf("bulb.rfcomm_channels: %d is outside 1-30", ch))
			}
		}
	case TransportSerial:
		if len(b.SerialPorts) == 0 {
			errs = append(errs, "bulb.serial_ports is required for the serial transport")
		}
		if b.SerialBaud <= 0 {
			errs = append(errs, "bulb.serial_baud must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("bulb.transport must be %q or %q", TransportRFCOMM, TransportSerial))
	}

	for _, d := range b.ScanDurations {
		if d <= 0 {
			errs = append(errs, "bulb.scan_durations must all be positive")
			break
		}
	}
	if b.HeartbeatInterval <= 0 {
		errs = append(errs, "bulb.heartbeat_interval must be positive")
	}
	if b.CommandTimeout <= 0 {
		errs = append(errs, "bulb.command_timeout must be positive")
	}

	return errs
}

// ScanDurationList returns the inquiry windows as durations.
func (b *BulbConfig) ScanDurationList() []time.Duration {
	out := make([]time.Duration, 0, len(b.ScanDurations))
	for _, s := range b.ScanDurations {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// Channels returns the RFCOMM channels as bytes. Validate rejects values
// that do not fit.
func (b *BulbConfig) Channels() []uint8 {
	out := make([]uint8, 0, len(b.RFCOMMChannels))
	for _, ch := range b.RFCOMMChannels {
		out = append(out, uint8(ch)) //nolint:gosec // range checked in validate
	}
	return out
}

// GetHeartbeatInterval returns the heartbeat period as a Duration.
func (b *BulbConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(b.HeartbeatInterval) * time.Second
}

// GetHealthInterval returns the health report period as a Duration.
func (b *BulbConfig) GetHealthInterval() time.Duration {
	return time.Duration(b.HealthInterval) * time.Second
}

// GetCommandTimeout returns the per-command timeout as a Duration.
func (b *BulbConfig) GetCommandTimeout() time.Duration {
	return time.Duration(b.CommandTimeout) * time.Second
}

// Address returns the metrics listen address.
func (m *MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}
