package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for lifxd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Security  SecurityConfig  `yaml:"security"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Cache     CacheConfig     `yaml:"cache"`
	States    StatesConfig    `yaml:"states"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	MDNS      MDNSConfig      `yaml:"mdns"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SecurityConfig contains authentication and abuse-control settings.
type SecurityConfig struct {
	// SecretKey is the bearer secret. Clients present it directly or as the
	// HS256 signing key of a JWT.
	SecretKey string          `yaml:"secret_key"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains the sliding-window thresholds.
type RateLimitConfig struct {
	AuthFailures  int           `yaml:"auth_failures"`
	AuthWindow    time.Duration `yaml:"auth_window"`
	ConfigChanges int           `yaml:"config_changes"`
	ConfigWindow  time.Duration `yaml:"config_window"`

	// SweepInterval is how often idle client entries are dropped.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// GatewayConfig contains the UDP side of the gateway.
type GatewayConfig struct {
	// Bind is the local UDP address. Default: "0.0.0.0:56700"
	Bind string `yaml:"bind"`

	// Source is the client identifier placed in every frame. Zero picks a
	// random value at startup.
	Source uint32 `yaml:"source"`

	// AckTimeout bounds each wait for a device acknowledgement.
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// RefreshInterval is how often stale attributes are re-queried.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DiscoveryConfig contains device discovery settings.
type DiscoveryConfig struct {
	// RefreshInterval is the automatic discovery period in seconds.
	RefreshInterval int  `yaml:"refresh_interval"`
	AutoEnabled     bool `yaml:"auto_enabled"`

	// ListenWindow is how long a discovery run waits for replies.
	ListenWindow time.Duration `yaml:"listen_window"`

	// Targets are extra "host:port" destinations for discovery probes, for
	// subnets that broadcasts do not reach.
	Targets []string `yaml:"targets"`

	// DisableBroadcast skips the interface broadcast addresses and only
	// probes Targets.
	DisableBroadcast bool `yaml:"disable_broadcast"`
}

// CacheConfig contains attribute max ages.
type CacheConfig struct {
	Label    time.Duration `yaml:"label"`
	Power    time.Duration `yaml:"power"`
	Color    time.Duration `yaml:"color"`
	Infrared time.Duration `yaml:"infrared"`
	Group    time.Duration `yaml:"group"`
	Location time.Duration `yaml:"location"`

	// ConfirmWithin is how long an optimistic write is trusted before a
	// forced refresh.
	ConfirmWithin time.Duration `yaml:"confirm_within"`
}

// StatesConfig contains the bulk state retry policy.
type StatesConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MDNSConfig contains LAN service advertisement settings.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern LIFXD_SECTION_KEY, for example
// LIFXD_API_PORT. SECRET_KEY, DISCOVERY_REFRESH_INTERVAL and
// AUTO_DISCOVERY_ENABLED are also honoured for existing deployments.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults. The secret key is left
// empty and must be supplied.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				AuthFailures:  5,
				AuthWindow:    time.Minute,
				ConfigChanges: 5,
				ConfigWindow:  5 * time.Minute,
				SweepInterval: time.Minute,
			},
		},
		Gateway: GatewayConfig{
			Bind:            "0.0.0.0:56700",
			AckTimeout:      500 * time.Millisecond,
			RefreshInterval: time.Second,
		},
		Discovery: DiscoveryConfig{
			RefreshInterval: 300,
			AutoEnabled:     true,
			ListenWindow:    time.Second,
		},
		Cache: CacheConfig{
			Label:         time.Hour,
			Power:         500 * time.Millisecond,
			Color:         15 * time.Second,
			Infrared:      15 * time.Second,
			Group:         time.Hour,
			Location:      time.Hour,
			ConfirmWithin: 3 * time.Second,
		},
		States: StatesConfig{
			MaxAttempts: 3,
			BaseBackoff: 100 * time.Millisecond,
			MaxBackoff:  400 * time.Millisecond,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lifxd",
			},
			QoS:         1,
			TopicPrefix: "lifx",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "lifxd",
			Bucket:        "lifx",
			BatchSize:     100,
			FlushInterval: 10,
		},
		MDNS: MDNSConfig{
			Instance: "lifxd",
			Service:  "_lifx-gateway._tcp",
			Domain:   "local.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// Security - the secret key should always come from the environment
	if v := firstEnv("LIFXD_SECRET_KEY", "SECRET_KEY"); v != "" {
		cfg.Security.SecretKey = v
	}

	// API
	if v := os.Getenv("LIFXD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LIFXD_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIFXD_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// Gateway
	if v := os.Getenv("LIFXD_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}

	// Discovery
	if v := firstEnv("LIFXD_DISCOVERY_REFRESH_INTERVAL", "DISCOVERY_REFRESH_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DISCOVERY_REFRESH_INTERVAL: %w", err)
		}
		cfg.Discovery.RefreshInterval = secs
	}
	if v := firstEnv("LIFXD_DISCOVERY_AUTO_ENABLED", "AUTO_DISCOVERY_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTO_DISCOVERY_ENABLED: %w", err)
		}
		cfg.Discovery.AutoEnabled = enabled
	}

	// MQTT
	if v := os.Getenv("LIFXD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LIFXD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LIFXD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("LIFXD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("LIFXD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - the secret gates every device command
	if c.Security.SecretKey == "" {
		errs = append(errs, "security.secret_key is required (set SECRET_KEY environment variable)")
	}
	rl := c.Security.RateLimit
	if rl.AuthFailures < 1 || rl.AuthWindow <= 0 {
		errs = append(errs, "security.rate_limit auth thresholds must be positive")
	}
	if rl.ConfigChanges < 1 || rl.ConfigWindow <= 0 {
		errs = append(errs, "security.rate_limit config thresholds must be positive")
	}

	// Gateway validation
	if c.Gateway.Bind == "" {
		errs = append(errs, "gateway.bind is required")
	}
	if c.Gateway.AckTimeout <= 0 {
		errs = append(errs, "gateway.ack_timeout must be positive")
	}
	if c.Gateway.RefreshInterval <= 0 {
		errs = append(errs, "gateway.refresh_interval must be positive")
	}

	// Discovery validation
	if c.Discovery.RefreshInterval < 1 {
		errs = append(errs, "discovery.refresh_interval must be at least 1 second")
	}
	if c.Discovery.ListenWindow <= 0 {
		errs = append(errs, "discovery.listen_window must be positive")
	}
	if c.Discovery.DisableBroadcast && len(c.Discovery.Targets) == 0 {
		errs = append(errs, "discovery.targets is required when broadcast is disabled")
	}

	// States validation
	if c.States.MaxAttempts < 1 {
		errs = append(errs, "states.max_attempts must be at least 1")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetDiscoveryInterval returns the automatic discovery period.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.RefreshInterval) * time.Second
}
