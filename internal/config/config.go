// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token (session cookie) lifetime, e.g. "15m".
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime, e.g. "168h".
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment ("development", "production").
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// CookieSecure sets the Secure attribute on session and routing cookies.
	CookieSecure bool   `mapstructure:"COOKIE_SECURE"`
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// FrontendUpstreamURL is where allowed portal page requests are proxied. Empty renders decisions only.
	FrontendUpstreamURL string `mapstructure:"FRONTEND_UPSTREAM_URL"`
	// PortalPolicyFile optionally replaces the built-in portal Rego policy.
	PortalPolicyFile string `mapstructure:"PORTAL_POLICY_FILE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the Kafka publisher.
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group for the relay worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// RedisURL is the realtime fan-out backend (redis://host:6379/0). Empty disables realtime.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RealtimeOrigins lists extra browser origins (comma-separated host patterns) allowed to open the feed.
	RealtimeOrigins string `mapstructure:"REALTIME_ORIGINS"`

	// TemporalHostPort enables the dispute workflow when set (e.g. localhost:7233).
	TemporalHostPort       string `mapstructure:"TEMPORAL_HOST_PORT"`
	TemporalNamespace      string `mapstructure:"TEMPORAL_NAMESPACE"`
	DisputeEscalationAfter string `mapstructure:"DISPUTE_ESCALATION_AFTER"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AuditExportMaxRows caps a single audit export.
	AuditExportMaxRows int `mapstructure:"AUDIT_EXPORT_MAX_ROWS"`
	// RenewalInterval is how often the worker runs subscription renewals.
	RenewalInterval string `mapstructure:"RENEWAL_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "medilink-auth")
	v.SetDefault("JWT_AUDIENCE", "medilink-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("FRONTEND_UPSTREAM_URL", "")
	v.SetDefault("PORTAL_POLICY_FILE", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "medilink-events")
	v.SetDefault("KAFKA_GROUP_ID", "medilink-relay")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REALTIME_ORIGINS", "")
	v.SetDefault("TEMPORAL_HOST_PORT", "")
	v.SetDefault("TEMPORAL_NAMESPACE", "default")
	v.SetDefault("DISPUTE_ESCALATION_AFTER", "72h")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("AUDIT_EXPORT_MAX_ROWS", 100000)
	v.SetDefault("RENEWAL_INTERVAL", "1h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.IsProduction() && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}
	if cfg.AuditExportMaxRows <= 0 {
		return nil, errors.New("config: AUDIT_EXPORT_MAX_ROWS must be positive")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// DisputeEscalation returns how long a dispute waits for a decision before escalation. Default 72h.
func (c *Config) DisputeEscalation() time.Duration {
	return parseDuration(c.DisputeEscalationAfter, 72*time.Hour)
}

// RenewalEvery returns the renewal loop interval. Default 1h.
func (c *Config) RenewalEvery() time.Duration {
	return parseDuration(c.RenewalInterval, time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// RealtimeOriginsList returns the extra origins accepted by the realtime feed.
func (c *Config) RealtimeOriginsList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.RealtimeOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
