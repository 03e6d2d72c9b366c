package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no config file returned error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.MaxConnections != 25 {
		t.Errorf("expected default max_connections 25, got %d", cfg.Database.MaxConnections)
	}
	if cfg.Registry.BaseURL != "https://registry.npmjs.org" {
		t.Errorf("expected default registry base URL, got %q", cfg.Registry.BaseURL)
	}
	if cfg.Registry.CompatibilityPackage != "pcf-start" {
		t.Errorf("expected default compatibility package pcf-start, got %q", cfg.Registry.CompatibilityPackage)
	}
	if cfg.CICD.PollInterval != 30*time.Second {
		t.Errorf("expected default poll interval 30s, got %v", cfg.CICD.PollInterval)
	}
	if cfg.CICD.PollTimeout != 180*time.Second {
		t.Errorf("expected default poll timeout 180s, got %v", cfg.CICD.PollTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected default log format json, got %q", cfg.Logging.Format)
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TBX_SERVER_PORT", "9999")
	t.Setenv("TBX_DATABASE_HOST", "db.internal")
	t.Setenv("TBX_REGISTRY_BASE_URL", "https://npm.mirror.local")
	t.Setenv("TBX_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected server port 9999 from env, got %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("expected database host db.internal from env, got %q", cfg.Database.Host)
	}
	if cfg.Registry.BaseURL != "https://npm.mirror.local" {
		t.Errorf("expected registry base URL from env, got %q", cfg.Registry.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging level debug from env, got %q", cfg.Logging.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 3000
database:
  host: filehost
cicd:
  owner: powerplatform-toolbox
  repo: tool-publisher
  token: test-token
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected server port 3000 from file, got %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "filehost" {
		t.Errorf("expected database host filehost from file, got %q", cfg.Database.Host)
	}
	if cfg.CICD.Owner != "powerplatform-toolbox" {
		t.Errorf("expected cicd owner from file, got %q", cfg.CICD.Owner)
	}
}

func TestLoad_SecretExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	t.Setenv("TBX_DATABASE_PASSWORD", "${TEST_DB_PASSWORD}")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Database.Password != "s3cret" {
		t.Errorf("expected expanded password s3cret, got %q", cfg.Database.Password)
	}
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad server port", func(c *Config) { c.Server.Port = 0 }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing database name", func(c *Config) { c.Database.Name = "" }},
		{"zero max connections", func(c *Config) { c.Database.MaxConnections = 0 }},
		{"missing registry base url", func(c *Config) { c.Registry.BaseURL = "" }},
		{"owner without repo", func(c *Config) { c.CICD.Owner = "someone" }},
		{"owner and repo without token", func(c *Config) {
			c.CICD.Owner = "someone"
			c.CICD.Repo = "something"
			c.CICD.Token = ""
		}},
		{"poll timeout below interval", func(c *Config) {
			c.CICD.Owner = "someone"
			c.CICD.Repo = "something"
			c.CICD.Token = "tok"
			c.CICD.PollTimeout = time.Second
			c.CICD.PollInterval = time.Minute
		}},
		{"notifications enabled without from", func(c *Config) {
			c.Notifications.Enabled = true
			c.Notifications.SMTP.Host = "smtp.local"
		}},
		{"notifications enabled without smtp host", func(c *Config) {
			c.Notifications.Enabled = true
			c.Notifications.From = "noreply@toolbox.app"
		}},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "toolbox",
		User: "toolbox", Password: "pw", SSLMode: "disable",
	}
	want := "host=localhost port=5432 dbname=toolbox user=toolbox password=pw sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN = %q, want %q", got, want)
	}
}

func TestGetAddress(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got := c.GetAddress(); got != "127.0.0.1:8080" {
		t.Errorf("GetAddress = %q", got)
	}
}
