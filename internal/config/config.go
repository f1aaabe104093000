// Package config loads and validates the sales-assistant backend configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the SALES_ prefix (e.g., SALES_DATABASE_HOST
// overrides database.host in the YAML).
//
// The egress whitelist and the rate-limit presets are read once at startup and
// are not reloaded while the process runs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Rate-limit preset names used by the router.
const (
	PresetAIAnalysis = "ai_analysis"
	PresetDataFetch  = "data_fetch"
	PresetStandard   = "standard"
	PresetAuth       = "auth"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	AIGateway AIGatewayConfig `mapstructure:"ai_gateway"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the connection settings for the shared rate-limit store.
// Only used when security.rate_limiting.backend is "redis".
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	Signing      SigningConfig      `mapstructure:"signing"`
	Egress       EgressConfig       `mapstructure:"egress"`
	JWTSecret    string             `mapstructure:"jwt_secret"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend selects the counter store: "memory" (per-instance) or "redis" (shared).
	Backend       string                     `mapstructure:"backend"`
	SweepInterval time.Duration              `mapstructure:"sweep_interval"`
	Presets       map[string]RateLimitPreset `mapstructure:"presets"`
}

// RateLimitPreset is a fixed-window policy: at most MaxRequests per Window.
type RateLimitPreset struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// Preset returns the named preset, falling back to the standard policy.
func (c *RateLimitingConfig) Preset(name string) RateLimitPreset {
	if p, ok := c.Presets[name]; ok {
		return p
	}
	if p, ok := c.Presets[PresetStandard]; ok {
		return p
	}
	return RateLimitPreset{MaxRequests: 60, Window: time.Minute}
}

// SigningConfig holds the shared secret used for request signatures.
// An empty secret disables signature enforcement.
type SigningConfig struct {
	Secret string `mapstructure:"secret"`
}

// EgressConfig holds outbound request policy
type EgressConfig struct {
	Timeout   time.Duration    `mapstructure:"timeout"`
	Whitelist []WhitelistEntry `mapstructure:"whitelist"`
}

// WhitelistEntry describes one approved external API host.
type WhitelistEntry struct {
	Domain         string   `mapstructure:"domain"`
	Description    string   `mapstructure:"description"`
	RequiresTLS    bool     `mapstructure:"requires_tls"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// MonitorConfig holds the thresholds used by the security monitor and the
// retention job.
type MonitorConfig struct {
	// More than UnusualActivityThreshold requests by one user inside
	// UnusualActivityWindow is reported as suspicious_api_usage.
	UnusualActivityThreshold int           `mapstructure:"unusual_activity_threshold"`
	UnusualActivityWindow    time.Duration `mapstructure:"unusual_activity_window"`
	// More than FailedLoginThreshold failures from one IP inside
	// FailedLoginWindow is reported as unusual_activity.
	FailedLoginThreshold int           `mapstructure:"failed_login_threshold"`
	FailedLoginWindow    time.Duration `mapstructure:"failed_login_window"`
	// An identity with LockoutThreshold failures inside LockoutWindow is locked.
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutWindow    time.Duration `mapstructure:"lockout_window"`
	RetentionDays    int           `mapstructure:"retention_days"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// AIGatewayConfig holds the upstream AI chat-completions endpoint
type AIGatewayConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// TracingConfig holds distributed tracing configuration
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuditConfig configures where high and critical security alerts are shipped.
type AuditConfig struct {
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single alert shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultWhitelist is the set of external APIs the backend talks to when no
// whitelist is configured.
func DefaultWhitelist() []WhitelistEntry {
	return []WhitelistEntry{
		{Domain: "ai.gateway.lovable.dev", Description: "AI gateway", RequiresTLS: true, AllowedMethods: []string{"POST"}},
		{Domain: "www.googleapis.com", Description: "Google APIs (Gmail, Calendar)", RequiresTLS: true, AllowedMethods: []string{"GET", "POST"}},
		{Domain: "oauth2.googleapis.com", Description: "Google OAuth", RequiresTLS: true, AllowedMethods: []string{"POST"}},
		{Domain: "www.linkedin.com", Description: "LinkedIn", RequiresTLS: true, AllowedMethods: []string{"GET", "POST"}},
		{Domain: "api.linkedin.com", Description: "LinkedIn API", RequiresTLS: true, AllowedMethods: []string{"GET", "POST"}},
	}
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.prefix",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.backend",
		"security.rate_limiting.sweep_interval",
		"security.signing.secret",
		"security.egress.timeout",
		"security.jwt_secret",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Monitor
		"monitor.unusual_activity_threshold",
		"monitor.unusual_activity_window",
		"monitor.failed_login_threshold",
		"monitor.failed_login_window",
		"monitor.lockout_threshold",
		"monitor.lockout_window",
		"monitor.retention_days",
		"monitor.cleanup_interval",

		// AI gateway
		"ai_gateway.url",
		"ai_gateway.api_key",
		"ai_gateway.model",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.tracing.enabled",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sales-assistant")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("SALES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(cfg.Security.Egress.Whitelist) == 0 {
		cfg.Security.Egress.Whitelist = DefaultWhitelist()
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Security.Signing.Secret = expandEnv(cfg.Security.Signing.Secret)
	cfg.Security.JWTSecret = expandEnv(cfg.Security.JWTSecret)
	cfg.AIGateway.APIKey = expandEnv(cfg.AIGateway.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "sales_assistant")
	v.SetDefault("database.user", "sales")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ratelimit:")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.rate_limiting.sweep_interval", "60s")
	v.SetDefault("security.rate_limiting.presets."+PresetAIAnalysis+".max_requests", 10)
	v.SetDefault("security.rate_limiting.presets."+PresetAIAnalysis+".window", "1m")
	v.SetDefault("security.rate_limiting.presets."+PresetDataFetch+".max_requests", 30)
	v.SetDefault("security.rate_limiting.presets."+PresetDataFetch+".window", "1m")
	v.SetDefault("security.rate_limiting.presets."+PresetStandard+".max_requests", 60)
	v.SetDefault("security.rate_limiting.presets."+PresetStandard+".window", "1m")
	v.SetDefault("security.rate_limiting.presets."+PresetAuth+".max_requests", 10)
	v.SetDefault("security.rate_limiting.presets."+PresetAuth+".window", "1m")
	v.SetDefault("security.egress.timeout", "10s")
	v.SetDefault("security.tls.enabled", false)

	// Monitor defaults
	v.SetDefault("monitor.unusual_activity_threshold", 100)
	v.SetDefault("monitor.unusual_activity_window", "5m")
	v.SetDefault("monitor.failed_login_threshold", 10)
	v.SetDefault("monitor.failed_login_window", "10m")
	v.SetDefault("monitor.lockout_threshold", 5)
	v.SetDefault("monitor.lockout_window", "15m")
	v.SetDefault("monitor.retention_days", 90)
	v.SetDefault("monitor.cleanup_interval", "24h")

	// AI gateway defaults
	v.SetDefault("ai_gateway.url", "https://ai.gateway.lovable.dev/v1/chat/completions")
	v.SetDefault("ai_gateway.model", "google/gemini-2.5-flash")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "sales-assistant")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.tracing.enabled", false)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	switch c.Security.RateLimiting.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when using the redis rate-limit backend")
		}
	default:
		return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
	}
	for name, p := range c.Security.RateLimiting.Presets {
		if p.MaxRequests < 1 {
			return fmt.Errorf("security.rate_limiting.presets.%s.max_requests must be positive", name)
		}
		if p.Window <= 0 {
			return fmt.Errorf("security.rate_limiting.presets.%s.window must be positive", name)
		}
	}

	if c.Security.Egress.Timeout <= 0 {
		return fmt.Errorf("security.egress.timeout must be positive")
	}
	for i, e := range c.Security.Egress.Whitelist {
		if strings.TrimSpace(e.Domain) == "" {
			return fmt.Errorf("security.egress.whitelist[%d].domain is required", i)
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Monitor.UnusualActivityThreshold < 1 || c.Monitor.FailedLoginThreshold < 1 || c.Monitor.LockoutThreshold < 1 {
		return fmt.Errorf("monitor thresholds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
