package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes content to a temporary config.yaml and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "chirpstack.local"
    port: 1883
    client_id: "test-client"
  qos: 1
  reconnect:
    backoff: 3
chirpstack:
  application_id: "3f1c6a9e-app"
  downlink_fport: 12
ingest:
  workers: 8
api:
  host: "0.0.0.0"
  port: 8000
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "chirpstack.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "chirpstack.local")
	}
	if cfg.ChirpStack.ApplicationID != "3f1c6a9e-app" {
		t.Errorf("ChirpStack.ApplicationID = %q, want %q", cfg.ChirpStack.ApplicationID, "3f1c6a9e-app")
	}
	if cfg.ChirpStack.DownlinkFPort != 12 {
		t.Errorf("ChirpStack.DownlinkFPort = %d, want 12", cfg.ChirpStack.DownlinkFPort)
	}
	if cfg.Ingest.Workers != 8 {
		t.Errorf("Ingest.Workers = %d, want 8", cfg.Ingest.Workers)
	}
	if got := cfg.ReconnectBackoff(); got != 3*time.Second {
		t.Errorf("ReconnectBackoff() = %v, want 3s", got)
	}

	// Values absent from the file keep their defaults.
	if cfg.Ingest.QueueSize != 256 {
		t.Errorf("Ingest.QueueSize = %d, want default 256", cfg.Ingest.QueueSize)
	}
	if !cfg.ChirpStack.DownlinkConfirmed {
		t.Error("ChirpStack.DownlinkConfirmed should default to true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
chirpstack:
  application_id: "app/+"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for wildcard application_id, got nil")
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("LORAWATCH_MQTT_HOST", "broker.example.com")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.MQTT.Broker.Host != "broker.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.example.com")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "valid jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = validJWTSecret }, wantErr: false},
		{name: "specific application", mutate: func(c *Config) { c.ChirpStack.ApplicationID = "app-1" }, wantErr: false},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing broker host", mutate: func(c *Config) { c.MQTT.Broker.Host = "" }, wantErr: true},
		{name: "invalid broker port", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "zero backoff", mutate: func(c *Config) { c.MQTT.Reconnect.Backoff = 0 }, wantErr: true},
		{name: "wildcard application", mutate: func(c *Config) { c.ChirpStack.ApplicationID = "#" }, wantErr: true},
		{name: "fport zero", mutate: func(c *Config) { c.ChirpStack.DownlinkFPort = 0 }, wantErr: true},
		{name: "fport too high", mutate: func(c *Config) { c.ChirpStack.DownlinkFPort = 224 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Ingest.Workers = 0 }, wantErr: true},
		{name: "no queue", mutate: func(c *Config) { c.Ingest.QueueSize = 0 }, wantErr: true},
		{name: "invalid api port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid api port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "no send buffer", mutate: func(c *Config) { c.WebSocket.SendBuffer = 0 }, wantErr: true},
		{name: "influx without url", mutate: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.Bucket = "lora"
		}, wantErr: true},
		{name: "jwt secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("LORAWATCH_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LORAWATCH_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LORAWATCH_MQTT_PORT", "8883")
	t.Setenv("LORAWATCH_MQTT_USERNAME", "testuser")
	t.Setenv("LORAWATCH_MQTT_PASSWORD", "testpass")
	t.Setenv("LORAWATCH_CHIRPSTACK_APPLICATION_ID", "app-42")
	t.Setenv("LORAWATCH_API_HOST", "192.168.1.1")
	t.Setenv("LORAWATCH_API_PORT", "9000")
	t.Setenv("LORAWATCH_DASHBOARD_DIR", "/srv/dashboard")
	t.Setenv("LORAWATCH_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("LORAWATCH_LOG_LEVEL", "debug")
	t.Setenv("LORAWATCH_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.API.DashboardDir != "/srv/dashboard" {
		t.Errorf("API.DashboardDir = %q, want %q", cfg.API.DashboardDir, "/srv/dashboard")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.ChirpStack.ApplicationID != "app-42" {
		t.Errorf("ChirpStack.ApplicationID = %q, want %q", cfg.ChirpStack.ApplicationID, "app-42")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("LORAWATCH_MQTT_PORT", "not-a-number")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
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
	if cfg.MQTT.Reconnect.Backoff != 5 {
		t.Errorf("defaultConfig MQTT.Reconnect.Backoff = %d, want 5", cfg.MQTT.Reconnect.Backoff)
	}
	if cfg.ChirpStack.ApplicationID != "" {
		t.Errorf("defaultConfig ChirpStack.ApplicationID = %q, want empty (all applications)", cfg.ChirpStack.ApplicationID)
	}
	if cfg.API.Port != 8000 {
		t.Errorf("defaultConfig API.Port = %d, want 8000", cfg.API.Port)
	}
}
