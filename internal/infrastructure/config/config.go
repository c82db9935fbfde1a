package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the bridge. All
// configuration is loaded from YAML and can be overridden by environment
// variables (spec §6 "Config file").
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	TLS        TLSConfig        `yaml:"tls"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Registry   RegistryConfig   `yaml:"registry"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Perf       PerfConfig       `yaml:"perf"`

	Homes []HomeConfig `yaml:"homes"`
}

// ServerConfig contains the device TLS listener and lifecycle HTTP
// listener settings (spec §6 "External Interfaces").
type ServerConfig struct {
	Host               string        `yaml:"host"`
	DevicePort         int           `yaml:"device_port"`
	IngressPort        int           `yaml:"ingress_port"`
	MaxTCPConnections  int           `yaml:"max_tcp_connections"`
	TCPWhitelist       []string      `yaml:"tcp_whitelist"`
	TCPBlackholeDelay  time.Duration `yaml:"tcp_blackhole_delay"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig contains the device-facing TLS certificate settings.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MQTTConfig contains MQTT broker connection and topic settings
// (spec §6 "MQTT").
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// Topic is the base command/state topic tree, e.g. "cync": commands
	// arrive on "<topic>/set/#", state publishes to "<topic>/state/<id>".
	Topic string `yaml:"topic"`

	// DiscoveryTopic is the Home-Assistant discovery topic prefix
	// (default "homeassistant") used for retained discovery documents
	// and the birth/LWT status subscription.
	DiscoveryTopic string `yaml:"discovery_topic"`
	StatusTopic    string `yaml:"status_topic"`
	BirthPayload   string `yaml:"birth_payload"`
	WillPayload    string `yaml:"will_payload"`
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

// RegistryConfig bounds the color-temperature conversion range
// (spec §4.3, default 2000K/7000K).
type RegistryConfig struct {
	MinKelvin int `yaml:"min_kelvin"`
	MaxKelvin int `yaml:"max_kelvin"`
}

// DispatcherConfig tunes outbound command fan-out (spec §4.4).
type DispatcherConfig struct {
	CmdBroadcasts  int           `yaml:"cmd_broadcasts"`
	BroadcastDelay time.Duration `yaml:"broadcast_delay"`
}

// DatabaseConfig contains SQLite database settings for the registry's
// runtime cache (spec §4.3, §6 "Persistent state").
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PerfConfig toggles instrumentation surfaces (spec §6 "CYNC_PERF_*").
type PerfConfig struct {
	LogSlowHandlers bool          `yaml:"log_slow_handlers"`
	SlowThreshold   time.Duration `yaml:"slow_threshold"`
}

// HomeConfig is one exported home: its devices and groups (spec §6
// "Config file ... list of homes, devices ..., and groups").
type HomeConfig struct {
	ID      string             `yaml:"id"`
	Name    string             `yaml:"name"`
	Devices []DeviceConfig     `yaml:"devices"`
	Groups  []GroupConfig      `yaml:"groups"`
}

// DeviceConfig is one exported device record.
type DeviceConfig struct {
	CyncID          string   `yaml:"id"`
	Name            string   `yaml:"name"`
	TypeCode        int      `yaml:"type"`
	MAC             string   `yaml:"mac"`
	FirmwareVersion string   `yaml:"version"`
	Capabilities    []string `yaml:"capabilities"`
}

// GroupConfig is one exported logical group record.
type GroupConfig struct {
	GroupID   string   `yaml:"id"`
	Name      string   `yaml:"name"`
	MemberIDs []string `yaml:"member_ids"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides (spec §6: "CYNC_SRV_HOST, device-port, ingress-port
// ..., CYNC_MAX_TCP_CONN, CYNC_CMD_BROADCASTS, CYNC_TCP_WHITELIST, ...").
//
// Loading order: defaults, then YAML file, then environment variables.
// The config file is read once at startup; per spec §6 changes require a
// restart.
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

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			DevicePort:        23779,
			IngressPort:       23778,
			MaxTCPConnections: 8,
			TCPBlackholeDelay: 2 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshbridge-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Topic:          "cync",
			DiscoveryTopic: "homeassistant",
			StatusTopic:    "status",
			BirthPayload:   "online",
			WillPayload:    "offline",
		},
		Registry: RegistryConfig{
			MinKelvin: 2000,
			MaxKelvin: 7000,
		},
		Dispatcher: DispatcherConfig{
			CmdBroadcasts: 2,
		},
		Database: DatabaseConfig{
			Path:        "./data/meshbridge.db",
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

// applyEnvOverrides applies environment variable overrides following the
// `CYNC_*` convention (spec §6).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CYNC_SRV_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CYNC_MAX_TCP_CONN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxTCPConnections = n
		}
	}
	if v := os.Getenv("CYNC_TCP_WHITELIST"); v != "" {
		cfg.Server.TCPWhitelist = strings.Split(v, ",")
	}
	if v := os.Getenv("CYNC_TCP_BLACKHOLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.TCPBlackholeDelay = d
		}
	}
	if v := os.Getenv("CYNC_CMD_BROADCASTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatcher.CmdBroadcasts = n
		}
	}
	if v := os.Getenv("CYNC_MINK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Registry.MinKelvin = n
		}
	}
	if v := os.Getenv("CYNC_MAXK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Registry.MaxKelvin = n
		}
	}
	if v := os.Getenv("CYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CYNC_MQTT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = n
		}
	}
	if v := os.Getenv("CYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("CYNC_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v := os.Getenv("CYNC_DISCOVERY_TOPIC"); v != "" {
		cfg.MQTT.DiscoveryTopic = v
	}
	if v := os.Getenv("CYNC_PERF_LOG_SLOW_HANDLERS"); v != "" {
		cfg.Perf.LogSlowHandlers = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.DevicePort < 1 || c.Server.DevicePort > 65535 {
		errs = append(errs, "server.device_port must be between 1 and 65535")
	}
	if c.Server.IngressPort < 1 || c.Server.IngressPort > 65535 {
		errs = append(errs, "server.ingress_port must be between 1 and 65535")
	}
	if c.Server.MaxTCPConnections < 1 {
		errs = append(errs, "server.max_tcp_connections must be at least 1")
	}
	if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
		errs = append(errs, "tls.cert_file and tls.key_file are required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required")
	}
	if c.Registry.MinKelvin >= c.Registry.MaxKelvin {
		errs = append(errs, "registry.min_kelvin must be less than registry.max_kelvin")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
