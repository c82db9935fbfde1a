package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
tls:
  cert_file: "/tmp/cert.pem"
  key_file: "/tmp/key.pem"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic: "cync"
homes:
  - id: "home1"
    name: "Main House"
    devices:
      - id: "dev1"
        name: "Living Room Lamp"
        type: 1
        mac: "AA:BB:CC:DD:EE:FF"
        capabilities: ["on_off", "brightness"]
    groups:
      - id: "grp1"
        name: "Downstairs"
        member_ids: ["dev1"]
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if len(cfg.Homes) != 1 || len(cfg.Homes[0].Devices) != 1 {
		t.Fatalf("expected one home with one device, got %+v", cfg.Homes)
	}
	if cfg.Homes[0].Devices[0].CyncID != "dev1" {
		t.Errorf("Devices[0].CyncID = %q, want %q", cfg.Homes[0].Devices[0].CyncID, "dev1")
	}
	if len(cfg.Homes[0].Groups) != 1 || cfg.Homes[0].Groups[0].GroupID != "grp1" {
		t.Errorf("unexpected groups: %+v", cfg.Homes[0].Groups)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
mqtt:
  topic: "cync"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing tls cert/key, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validTLS := TLSConfig{CertFile: "/tmp/cert.pem", KeyFile: "/tmp/key.pem"}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Server:   ServerConfig{DevicePort: 23779, IngressPort: 23778, MaxTCPConnections: 8},
				TLS:      validTLS,
				Database: DatabaseConfig{Path: "/data/meshbridge.db"},
				MQTT:     MQTTConfig{QoS: 1, Topic: "cync"},
				Registry: RegistryConfig{MinKelvin: 2000, MaxKelvin: 7000},
			},
			wantErr: false,
		},
		{
			name: "missing tls",
			config: &Config{
				Server:   ServerConfig{DevicePort: 23779, IngressPort: 23778, MaxTCPConnections: 8},
				Database: DatabaseConfig{Path: "/data/meshbridge.db"},
				MQTT:     MQTTConfig{QoS: 1, Topic: "cync"},
				Registry: RegistryConfig{MinKelvin: 2000, MaxKelvin: 7000},
			},
			wantErr: true,
		},
		{
			name: "missing database path",
			config: &Config{
				Server:   ServerConfig{DevicePort: 23779, IngressPort: 23778, MaxTCPConnections: 8},
				TLS:      validTLS,
				MQTT:     MQTTConfig{QoS: 1, Topic: "cync"},
				Registry: RegistryConfig{MinKelvin: 2000, MaxKelvin: 7000},
			},
			wantErr: true,
		},
		{
			name: "invalid QoS",
			config: &Config{
				Server:   ServerConfig{DevicePort: 23779, IngressPort: 23778, MaxTCPConnections: 8},
				TLS:      validTLS,
				Database: DatabaseConfig{Path: "/data/meshbridge.db"},
				MQTT:     MQTTConfig{QoS: 3, Topic: "cync"},
				Registry: RegistryConfig{MinKelvin: 2000, MaxKelvin: 7000},
			},
			wantErr: true,
		},
		{
			name: "invalid device port",
			config: &Config{
				Server:   ServerConfig{DevicePort: 0, IngressPort: 23778, MaxTCPConnections: 8},
				TLS:      validTLS,
				Database: DatabaseConfig{Path: "/data/meshbridge.db"},
				MQTT:     MQTTConfig{QoS: 1, Topic: "cync"},
				Registry: RegistryConfig{MinKelvin: 2000, MaxKelvin: 7000},
			},
			wantErr: true,
		},
		{
			name: "inverted kelvin range",
			config: &Config{
				Server:   ServerConfig{DevicePort: 23779, IngressPort: 23778, MaxTCPConnections: 8},
				TLS:      validTLS,
				Database: DatabaseConfig{Path: "/data/meshbridge.db"},
				MQTT:     MQTTConfig{QoS: 1, Topic: "cync"},
				Registry: RegistryConfig{MinKelvin: 7000, MaxKelvin: 2000},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CYNC_SRV_HOST", "127.0.0.1")
	t.Setenv("CYNC_MAX_TCP_CONN", "16")
	t.Setenv("CYNC_TCP_WHITELIST", "10.0.0.1,10.0.0.2")
	t.Setenv("CYNC_CMD_BROADCASTS", "3")
	t.Setenv("CYNC_MINK", "2200")
	t.Setenv("CYNC_MAXK", "6500")
	t.Setenv("CYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CYNC_MQTT_USERNAME", "testuser")
	t.Setenv("CYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("CYNC_MQTT_TOPIC", "lights")
	t.Setenv("CYNC_DISCOVERY_TOPIC", "ha")

	applyEnvOverrides(cfg)

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.MaxTCPConnections != 16 {
		t.Errorf("Server.MaxTCPConnections = %d, want 16", cfg.Server.MaxTCPConnections)
	}
	if len(cfg.Server.TCPWhitelist) != 2 {
		t.Errorf("Server.TCPWhitelist = %v, want 2 entries", cfg.Server.TCPWhitelist)
	}
	if cfg.Dispatcher.CmdBroadcasts != 3 {
		t.Errorf("Dispatcher.CmdBroadcasts = %d, want 3", cfg.Dispatcher.CmdBroadcasts)
	}
	if cfg.Registry.MinKelvin != 2200 || cfg.Registry.MaxKelvin != 6500 {
		t.Errorf("Registry range = [%d,%d], want [2200,6500]", cfg.Registry.MinKelvin, cfg.Registry.MaxKelvin)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.MQTT.Topic != "lights" {
		t.Errorf("MQTT.Topic = %q, want %q", cfg.MQTT.Topic, "lights")
	}
	if cfg.MQTT.DiscoveryTopic != "ha" {
		t.Errorf("MQTT.DiscoveryTopic = %q, want %q", cfg.MQTT.DiscoveryTopic, "ha")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Server.DevicePort != 23779 {
		t.Errorf("defaultConfig Server.DevicePort = %d, want 23779", cfg.Server.DevicePort)
	}
	if cfg.Dispatcher.CmdBroadcasts != 2 {
		t.Errorf("defaultConfig Dispatcher.CmdBroadcasts = %d, want 2", cfg.Dispatcher.CmdBroadcasts)
	}
}
