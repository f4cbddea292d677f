package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUpdateDelay is used when updates.delay is zero or negative.
const DefaultUpdateDelay = 10 * time.Second

// Config is the root configuration structure for hwmqtt.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Updates UpdatesConfig `yaml:"updates"`
	Sensors SensorsConfig `yaml:"sensors"`
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig controls the device block attached to every discovery payload.
// Empty fields are filled from the host at startup.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	Manufacturer string `yaml:"manufacturer"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
	Topics         MQTTTopicsConfig    `yaml:"topics"`
	Breaker        MQTTBreakerConfig   `yaml:"breaker"`
	PublishTimeout int                 `yaml:"publish_timeout"`
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

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTTopicsConfig contains the topic prefixes used on the wire.
type MQTTTopicsConfig struct {
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	StatePrefix     string `yaml:"state_prefix"`
}

// MQTTBreakerConfig controls the circuit breaker around publishes.
type MQTTBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxFailures is the number of consecutive publish failures that open the breaker.
	MaxFailures int `yaml:"max_failures"`

	// OpenTimeout is how long the breaker stays open before probing again (seconds).
	OpenTimeout int `yaml:"open_timeout"`
}

// UpdatesConfig controls the publish cadence.
type UpdatesConfig struct {
	// Delay is the sleep between ticks in seconds. Zero or negative means 10.
	Delay int `yaml:"delay"`
}

// SensorsConfig contains the per-category enable flags.
type SensorsConfig struct {
	CPU         bool `yaml:"cpu"`
	GPU         bool `yaml:"gpu"`
	Memory      bool `yaml:"memory"`
	Motherboard bool `yaml:"motherboard"`
	Controller  bool `yaml:"controller"`
	Networking  bool `yaml:"networking"`
	Storage     bool `yaml:"storage"`
}

// ServiceConfig controls how the telemetry service is started and supervised.
type ServiceConfig struct {
	// AutoStart starts publishing as soon as the process is up.
	AutoStart bool `yaml:"auto_start"`

	// RestartOnFailure restarts the service after a crash or failed start.
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// Restart configures the backoff between restart attempts.
	Restart RestartConfig `yaml:"restart"`

	// MaxConcurrentPublishes limits the per-tick fan-out. 0 means unlimited.
	MaxConcurrentPublishes int `yaml:"max_concurrent_publishes"`
}

// RestartConfig contains restart backoff settings.
type RestartConfig struct {
	// InitialDelay is the first backoff interval (seconds).
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the backoff interval (seconds).
	MaxDelay int `yaml:"max_delay"`

	// MaxAttempts limits consecutive restart attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// APIConfig contains the local control API settings.
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Logging to a file is enabled when Path is set.
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
// Environment variables follow the pattern: HWMQTT_SECTION_KEY
// For example: HWMQTT_MQTT_HOST, HWMQTT_UPDATES_DELAY
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Topics: MQTTTopicsConfig{
				DiscoveryPrefix: "homeassistant",
				StatePrefix:     "lhmmqtt",
			},
			Breaker: MQTTBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				OpenTimeout: 30,
			},
			PublishTimeout: 5,
		},
		Updates: UpdatesConfig{
			Delay: 10,
		},
		Sensors: SensorsConfig{
			CPU:         true,
			GPU:         true,
			Memory:      true,
			Motherboard: true,
			Storage:     true,
		},
		Service: ServiceConfig{
			AutoStart:        true,
			RestartOnFailure: true,
			Restart: RestartConfig{
				InitialDelay: 5,
				MaxDelay:     300,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8086,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HWMQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	intVar := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer", name))
			return
		}
		*dst = n
	}

	// Device
	if v := os.Getenv("HWMQTT_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	// MQTT
	if v := os.Getenv("HWMQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	intVar("HWMQTT_MQTT_PORT", &cfg.MQTT.Broker.Port)
	if v := os.Getenv("HWMQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HWMQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Updates
	intVar("HWMQTT_UPDATES_DELAY", &cfg.Updates.Delay)

	// API
	if v := os.Getenv("HWMQTT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	intVar("HWMQTT_API_PORT", &cfg.API.Port)

	// Logging
	if v := os.Getenv("HWMQTT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Reconnect.InitialDelay < 0 || c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect delays must be non-negative with max_delay >= initial_delay")
	}
	if c.MQTT.Topics.DiscoveryPrefix == "" || c.MQTT.Topics.StatePrefix == "" {
		errs = append(errs, "mqtt.topics prefixes cannot be empty")
	}
	if c.MQTT.Breaker.Enabled && c.MQTT.Breaker.MaxFailures < 1 {
		errs = append(errs, "mqtt.breaker.max_failures must be at least 1")
	}
	if c.MQTT.PublishTimeout < 0 {
		errs = append(errs, "mqtt.publish_timeout cannot be negative")
	}

	// Service validation
	if c.Service.Restart.MaxAttempts < 0 {
		errs = append(errs, "service.restart.max_attempts cannot be negative")
	}
	if c.Service.MaxConcurrentPublishes < 0 {
		errs = append(errs, "service.max_concurrent_publishes cannot be negative")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// UpdateInterval returns the tick interval, substituting the default for
// non-positive delays.
func (c *Config) UpdateInterval() time.Duration {
	if c.Updates.Delay <= 0 {
		return DefaultUpdateDelay
	}
	return time.Duration(c.Updates.Delay) * time.Second
}

// GetPublishTimeout returns the per-publish timeout as a Duration.
func (c *Config) GetPublishTimeout() time.Duration {
	return time.Duration(c.MQTT.PublishTimeout) * time.Second
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
