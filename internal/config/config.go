// Package config loads, validates, and provides typed access to all application
// configuration from YAML files and TBX_-prefixed environment variables using Viper.
//
// Precedence (highest wins): environment variables → config file → built-in defaults.
// Every key has an explicit default and an explicit environment binding so the
// server starts with a usable configuration even when no config file is present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	CICD          CICDConfig          `mapstructure:"cicd"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// RegistryConfig holds npm registry client settings
type RegistryConfig struct {
	// BaseURL is the npm registry root, e.g. https://registry.npmjs.org
	BaseURL string `mapstructure:"base_url"`
	// RequestTimeout bounds a single registry metadata or tarball request
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxTarballBytes caps how much tarball data is downloaded and extracted
	MaxTarballBytes int64 `mapstructure:"max_tarball_bytes"`
	// CompatibilityPackage is the dependency whose pinned version in the
	// submitted package's shrinkwrap is read as the max supported API version
	CompatibilityPackage string `mapstructure:"compatibility_package"`
}

// CICDConfig holds GitHub Actions workflow dispatch settings for tool publishing
type CICDConfig struct {
	APIBaseURL   string        `mapstructure:"api_base_url"`
	Owner        string        `mapstructure:"owner"`
	Repo         string        `mapstructure:"repo"`
	WorkflowFile string        `mapstructure:"workflow_file"`
	Ref          string        `mapstructure:"ref"`
	Token        string        `mapstructure:"token"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

// NotificationsConfig holds email notification settings
type NotificationsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	From    string `mapstructure:"from"`
	// ToolURLBase is prepended to a tool id to build the published-tool link
	// in the conversion success email, e.g. https://powerplatform.toolbox.app/tools
	ToolURLBase string `mapstructure:"tool_url_base"`
	// AdminEmails receive the pending-review reminder
	AdminEmails []string `mapstructure:"admin_emails"`
	// ReminderInterval is how often the pending-review reminder job runs; zero disables it
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	// ReminderMaxAge is how long an intake may sit in pending_review before a reminder fires
	ReminderMaxAge time.Duration `mapstructure:"reminder_max_age"`
	SMTP           SMTPConfig    `mapstructure:"smtp"`
}

// SMTPConfig holds SMTP server settings for sending notification emails
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// SecurityConfig holds authentication and HTTP hardening settings
type SecurityConfig struct {
	JWTSecret          string        `mapstructure:"jwt_secret"`
	JWTExpiry          time.Duration `mapstructure:"jwt_expiry"`
	APIKeyPrefix       string        `mapstructure:"api_key_prefix"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds metrics settings
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TBX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets may be given as ${VAR} references to the process environment so
	// config files can be committed without embedding credentials.
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.CICD.Token = expandEnv(cfg.CICD.Token)
	cfg.Security.JWTSecret = expandEnv(cfg.Security.JWTSecret)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a built-in default for every configuration key
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "toolbox")
	v.SetDefault("database.user", "toolbox")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.auto_migrate", true)

	// Registry
	v.SetDefault("registry.base_url", "https://registry.npmjs.org")
	v.SetDefault("registry.request_timeout", "30s")
	v.SetDefault("registry.max_tarball_bytes", int64(100*1024*1024))
	v.SetDefault("registry.compatibility_package", "pcf-start")

	// CICD
	v.SetDefault("cicd.api_base_url", "https://api.github.com")
	v.SetDefault("cicd.owner", "")
	v.SetDefault("cicd.repo", "")
	v.SetDefault("cicd.workflow_file", "publish-tool.yml")
	v.SetDefault("cicd.ref", "main")
	v.SetDefault("cicd.token", "")
	v.SetDefault("cicd.poll_interval", "30s")
	v.SetDefault("cicd.poll_timeout", "180s")

	// Notifications
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.from", "")
	v.SetDefault("notifications.tool_url_base", "")
	v.SetDefault("notifications.admin_emails", []string{})
	v.SetDefault("notifications.reminder_interval", "0")
	v.SetDefault("notifications.reminder_max_age", "72h")
	v.SetDefault("notifications.smtp.host", "")
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.username", "")
	v.SetDefault("notifications.smtp.password", "")
	v.SetDefault("notifications.smtp.use_tls", false)

	// Security
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_expiry", "1h")
	v.SetDefault("security.api_key_prefix", "tbx")
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limit_per_minute", 200)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// bindEnvVars explicitly binds each config key to its TBX_ environment variable.
// AutomaticEnv alone does not surface env-only keys through Unmarshal, so every
// key is listed here.
func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.auto_migrate",
		"registry.base_url",
		"registry.request_timeout",
		"registry.max_tarball_bytes",
		"registry.compatibility_package",
		"cicd.api_base_url",
		"cicd.owner",
		"cicd.repo",
		"cicd.workflow_file",
		"cicd.ref",
		"cicd.token",
		"cicd.poll_interval",
		"cicd.poll_timeout",
		"notifications.enabled",
		"notifications.from",
		"notifications.tool_url_base",
		"notifications.admin_emails",
		"notifications.reminder_interval",
		"notifications.reminder_max_age",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.use_tls",
		"security.jwt_secret",
		"security.jwt_expiry",
		"security.api_key_prefix",
		"security.allowed_origins",
		"security.rate_limit_per_minute",
		"logging.level",
		"logging.format",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// expandEnv resolves ${VAR} references against the process environment
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		name := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		if resolved := os.Getenv(name); resolved != "" {
			return resolved
		}
	}
	return value
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max_connections must be at least 1, got %d", c.Database.MaxConnections)
	}

	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry base_url is required")
	}
	if c.Registry.MaxTarballBytes < 1 {
		return fmt.Errorf("registry max_tarball_bytes must be positive, got %d", c.Registry.MaxTarballBytes)
	}

	// CICD settings are only required when conversion is expected to work;
	// a server without them can still take submissions and run reviews.
	if c.CICD.Owner != "" || c.CICD.Repo != "" {
		if c.CICD.Owner == "" || c.CICD.Repo == "" {
			return fmt.Errorf("cicd owner and repo must both be set or both be empty")
		}
		if c.CICD.Token == "" {
			return fmt.Errorf("cicd token is required when owner/repo are configured")
		}
		if c.CICD.PollInterval <= 0 {
			return fmt.Errorf("cicd poll_interval must be positive")
		}
		if c.CICD.PollTimeout < c.CICD.PollInterval {
			return fmt.Errorf("cicd poll_timeout must be at least poll_interval")
		}
	}

	if c.Notifications.Enabled {
		if c.Notifications.From == "" {
			return fmt.Errorf("notifications from address is required when notifications are enabled")
		}
		if c.Notifications.SMTP.Host == "" {
			return fmt.Errorf("notifications smtp host is required when notifications are enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode,
	)
}

// GetAddress returns the server listen address
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
