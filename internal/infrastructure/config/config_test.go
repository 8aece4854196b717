package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testAccessSecret  = "test-access-secret-at-least-32-chars!"
	testRefreshSecret = "test-refresh-secret-at-least-32-chars"
)

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
service:
  environment: "development"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    access_secret: "` + testAccessSecret + `"
    refresh_secret: "` + testRefreshSecret + `"
  admin_emails: ["root@example.com"]
`
	t.Setenv("IDENTITY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Service.IsDevelopment() {
		t.Errorf("Service.Environment = %q, want development", cfg.Service.Environment)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.AccessTokenTTL() != 24*time.Hour {
		t.Errorf("AccessTokenTTL() = %v, want 24h", cfg.AccessTokenTTL())
	}
	if cfg.RefreshTokenTTL() != 30*24*time.Hour {
		t.Errorf("RefreshTokenTTL() = %v, want 720h", cfg.RefreshTokenTTL())
	}
	if len(cfg.Security.AdminEmails) != 1 || cfg.Security.AdminEmails[0] != "root@example.com" {
		t.Errorf("Security.AdminEmails = %v", cfg.Security.AdminEmails)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	content := `
service:
  environment: "development"
`
	envPath := filepath.Join(t.TempDir(), "test.env")
	env := "IDENTITY_JWT_ACCESS_SECRET=" + testAccessSecret + "\n" +
		"IDENTITY_JWT_REFRESH_SECRET=" + testRefreshSecret + "\n"
	if err := os.WriteFile(envPath, []byte(env), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("IDENTITY_ENV_FILE", envPath)
	// Registered for cleanup so the values loaded from the file do not leak.
	t.Setenv("IDENTITY_JWT_ACCESS_SECRET", "")
	t.Setenv("IDENTITY_JWT_REFRESH_SECRET", "")
	os.Unsetenv("IDENTITY_JWT_ACCESS_SECRET")  //nolint:errcheck
	os.Unsetenv("IDENTITY_JWT_REFRESH_SECRET") //nolint:errcheck

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Security.JWT.AccessSecret != testAccessSecret {
		t.Errorf("AccessSecret = %q, want value from env file", cfg.Security.JWT.AccessSecret)
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
api:
  port: 8080
`
	t.Setenv("IDENTITY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing secrets, got nil")
	}
	if !strings.Contains(err.Error(), "access_secret") {
		t.Errorf("error = %v, want mention of access_secret", err)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Service.Environment = EnvDevelopment
	cfg.Security.JWT.AccessSecret = testAccessSecret
	cfg.Security.JWT.RefreshSecret = testRefreshSecret
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "unknown environment", mutate: func(c *Config) { c.Service.Environment = "staging" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "missing access secret", mutate: func(c *Config) { c.Security.JWT.AccessSecret = "" }, wantErr: true},
		{name: "refresh secret too short", mutate: func(c *Config) { c.Security.JWT.RefreshSecret = "short" }, wantErr: true},
		{
			name:    "secrets identical",
			mutate:  func(c *Config) { c.Security.JWT.RefreshSecret = c.Security.JWT.AccessSecret },
			wantErr: true,
		},
		{name: "production without rsa key", mutate: func(c *Config) { c.Service.Environment = EnvProduction }, wantErr: true},
		{
			name: "production with rsa key file",
			mutate: func(c *Config) {
				c.Service.Environment = EnvProduction
				c.Security.RSA.PrivateKeyFile = "/etc/identity/rsa.pem"
			},
		},
		{name: "zero queue size", mutate: func(c *Config) { c.AccessLog.QueueSize = 0 }, wantErr: true},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
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

	t.Setenv("IDENTITY_DATABASE_PATH", "/custom/path.db")
	t.Setenv("IDENTITY_MQTT_HOST", "mqtt.example.com")
	t.Setenv("IDENTITY_API_PORT", "9090")
	t.Setenv("IDENTITY_COOKIE_SECURE", "false")
	t.Setenv("IDENTITY_REDIS_ADDR", "redis:6379")
	t.Setenv("IDENTITY_JWT_ACCESS_SECRET", "access")
	t.Setenv("IDENTITY_JWT_REFRESH_SECRET", "refresh")
	t.Setenv("IDENTITY_RSA_PRIVATE_KEY", "pem")
	t.Setenv("IDENTITY_ADMIN_EMAILS", " a@example.com, ,b@example.com ")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.API.Cookies.Secure {
		t.Error("API.Cookies.Secure = true, want false")
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "redis:6379")
	}
	if cfg.Security.JWT.AccessSecret != "access" || cfg.Security.JWT.RefreshSecret != "refresh" {
		t.Errorf("JWT secrets = %q/%q", cfg.Security.JWT.AccessSecret, cfg.Security.JWT.RefreshSecret)
	}
	if cfg.Security.RSA.PrivateKey != "pem" {
		t.Errorf("RSA.PrivateKey = %q, want %q", cfg.Security.RSA.PrivateKey, "pem")
	}
	if got := strings.Join(cfg.Security.AdminEmails, ","); got != "a@example.com,b@example.com" {
		t.Errorf("AdminEmails = %q", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.AccessLog.QueueSize != 256 {
		t.Errorf("defaultConfig AccessLog.QueueSize = %d, want 256", cfg.AccessLog.QueueSize)
	}
	if cfg.PublicKeyTTL() != time.Hour {
		t.Errorf("defaultConfig PublicKeyTTL() = %v, want 1h", cfg.PublicKeyTTL())
	}
}
