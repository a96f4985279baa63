package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub           HubConfig           `yaml:"hub"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Queue         QueueConfig         `yaml:"queue"`
	API           APIConfig           `yaml:"api"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Platform      PlatformConfig      `yaml:"platform"`
	Homie         HomieConfig         `yaml:"homie"`
	Legacy        LegacyConfig        `yaml:"legacy"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`

	// Devices holds per-device enablement overrides keyed by device ID.
	// Devices without an entry are enabled.
	Devices map[string]bool `yaml:"devices"`
}

// HubConfig identifies this hub instance.
type HubConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
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
}

// QueueConfig contains outbound message queue settings.
type QueueConfig struct {
	// DelayMS is the pause between two publishes, in milliseconds.
	DelayMS int `yaml:"delay_ms"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PlatformConfig points at the device platform the hub mirrors.
type PlatformConfig struct {
	// DevicesFile is a YAML file describing devices, zones and capabilities.
	DevicesFile string `yaml:"devices_file"`
}

// HomieConfig contains the Homie convention settings.
//
// Every field except the device overrides affects the shape of the published
// tree; changing one of them triggers a full rebuild.
type HomieConfig struct {
	Enabled bool `yaml:"enabled"`

	// Topic is the Homie device base topic. "{deviceId}" is replaced by DeviceID.
	Topic    string `yaml:"topic"`
	DeviceID string `yaml:"device_id"`
	Name     string `yaml:"name"`

	IncludeClass    bool   `yaml:"include_class"`
	IncludeZone     bool   `yaml:"include_zone"`
	PercentageScale string `yaml:"percentage_scale"` // default, int, float
	ColorFormat     string `yaml:"color_format"`     // hsv, rgb, values
	Broadcast       bool   `yaml:"broadcast"`
	Normalize       bool   `yaml:"normalize"`
}

// LegacyConfig contains settings for the deprecated class/zone/device topic scheme.
type LegacyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
	OnOff   string `yaml:"on_off"` // bool, int, onoff, yesno

	// SystemInterval is how often system state is published, in seconds.
	SystemInterval int `yaml:"system_interval"`
}

// HomeAssistantConfig contains Home Assistant discovery settings.
type HomeAssistantConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMIEHUB_SECTION_KEY
// For example: HOMIEHUB_DATABASE_PATH, HOMIEHUB_MQTT_HOST
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

// Default returns the built-in configuration, used when no file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			ID:   "homiehub",
			Name: "Homie Hub",
		},
		Database: DatabaseConfig{
			Path:        "./data/homiehub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Queue: QueueConfig{
			DelayMS: 50,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Platform: PlatformConfig{
			DevicesFile: "configs/devices.yaml",
		},
		Homie: HomieConfig{
			Enabled:         true,
			Topic:           "homie/{deviceId}",
			DeviceID:        "homey",
			Name:            "Homey",
			PercentageScale: "default",
			ColorFormat:     "hsv",
			Broadcast:       true,
			Normalize:       true,
		},
		Legacy: LegacyConfig{
			Enabled:        false,
			Root:           "homey",
			OnOff:          "bool",
			SystemInterval: 60,
		},
		HomeAssistant: HomeAssistantConfig{
			Enabled: false,
			Prefix:  "homeassistant",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMIEHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOMIEHUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HOMIEHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMIEHUB_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HOMIEHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMIEHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HOMIEHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("HOMIEHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("HOMIEHUB_PLATFORM_DEVICES_FILE"); v != "" {
		cfg.Platform.DevicesFile = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Hub.ID == "" {
		errs = append(errs, "hub.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Queue.DelayMS < 0 {
		errs = append(errs, "queue.delay_ms must not be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Homie.Enabled {
		if c.Homie.Topic == "" {
			errs = append(errs, "homie.topic is required")
		}
		if strings.Contains(c.Homie.Topic, "{deviceId}") && c.Homie.DeviceID == "" {
			errs = append(errs, "homie.device_id is required when homie.topic uses {deviceId}")
		}
		switch c.Homie.PercentageScale {
		case "", "default", "int", "float":
		default:
			errs = append(errs, "homie.percentage_scale must be default, int or float")
		}
		switch c.Homie.ColorFormat {
		case "", "hsv", "rgb", "values":
		default:
			errs = append(errs, "homie.color_format must be hsv, rgb or values")
		}
	}

	if c.Legacy.Enabled {
		switch c.Legacy.OnOff {
		case "", "bool", "int", "onoff", "yesno":
		default:
			errs = append(errs, "legacy.on_off must be bool, int, onoff or yesno")
		}
	}

	if c.HomeAssistant.Enabled && !c.Homie.Enabled {
		errs = append(errs, "homeassistant discovery requires homie to be enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetQueueDelay returns the pause between publishes as a Duration.
func (c *Config) GetQueueDelay() time.Duration {
	return time.Duration(c.Queue.DelayMS) * time.Millisecond
}

// GetSystemInterval returns the system state publish interval as a Duration.
func (c *Config) GetSystemInterval() time.Duration {
	return time.Duration(c.Legacy.SystemInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
