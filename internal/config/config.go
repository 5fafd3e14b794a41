// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// minSigningSecretLen is the shortest HS256 secret accepted at startup.
const minSigningSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store (not allowed in production).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// JWTSigningSecret is the HS256 secret for access and refresh credentials. Required.
	JWTSigningSecret string `mapstructure:"JWT_SIGNING_SECRET"`
	// JWTIssuer is the iss claim set on and required of every credential.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim set on and required of every credential.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// AccessLifetimeMinutes is the access credential lifetime. Required.
	AccessLifetimeMinutes int `mapstructure:"ACCESS_TOKEN_LIFETIME_MINUTES"`
	// RefreshLifetimeHours is the refresh credential lifetime. Required.
	RefreshLifetimeHours int `mapstructure:"REFRESH_TOKEN_LIFETIME_HOURS"`
	// ClockSkew is the tolerance for iat in the future (e.g. "30s"). It never extends exp.
	ClockSkew string `mapstructure:"CLOCK_SKEW"`
	// FlaggedAccessTTL is the lifetime of a reissued access credential that carries the needs-refresh marker.
	FlaggedAccessTTL string `mapstructure:"FLAGGED_ACCESS_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31) used by the password collaborator.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RedisAddr enables the refresh throttle when set (e.g. localhost:6379).
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// RefreshRateLimitPerMinute caps refresh attempts per session; 0 disables the throttle.
	RefreshRateLimitPerMinute int `mapstructure:"REFRESH_RATE_LIMIT_PER_MINUTE"`

	// OTLPEndpoint is the collector address for traces and metrics; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are
// missing or invalid; there are no defaults for the signing secret or credential lifetimes.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	// Required keys have no default; bind them so Unmarshal sees env values.
	for _, key := range []string{"JWT_SIGNING_SECRET", "ACCESS_TOKEN_LIFETIME_MINUTES", "REFRESH_TOKEN_LIFETIME_HOURS"} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_ISSUER", "marketplace-auth")
	v.SetDefault("JWT_AUDIENCE", "marketplace-api")
	v.SetDefault("CLOCK_SKEW", "30s")
	v.SetDefault("FLAGGED_ACCESS_TTL", "1m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REFRESH_RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "marketplace-auth")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.JWTSigningSecret == "" {
		return nil, errors.New("config: JWT_SIGNING_SECRET must be set")
	}
	if len(cfg.JWTSigningSecret) < minSigningSecretLen {
		return nil, errors.New("config: JWT_SIGNING_SECRET must be at least 32 bytes")
	}
	if cfg.AccessLifetimeMinutes <= 0 {
		return nil, errors.New("config: ACCESS_TOKEN_LIFETIME_MINUTES must be a positive integer")
	}
	if cfg.RefreshLifetimeHours <= 0 {
		return nil, errors.New("config: REFRESH_TOKEN_LIFETIME_HOURS must be a positive integer")
	}
	if cfg.RefreshTTL() <= cfg.AccessTTL() {
		return nil, errors.New("config: refresh lifetime must exceed access lifetime")
	}
	if cfg.JWTIssuer == "" || cfg.JWTAudience == "" {
		return nil, errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	if cfg.DatabaseURL == "" && cfg.Env == "production" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.RefreshRateLimitPerMinute < 0 {
		return nil, errors.New("config: REFRESH_RATE_LIMIT_PER_MINUTE must not be negative")
	}

	return &cfg, nil
}

// AccessTTL returns the access credential lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessLifetimeMinutes) * time.Minute
}

// RefreshTTL returns the refresh credential lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshLifetimeHours) * time.Hour
}

// SigningSecret returns the HS256 key bytes.
func (c *Config) SigningSecret() []byte {
	return []byte(c.JWTSigningSecret)
}

// ClockSkewDuration parses ClockSkew. Returns 30s if unset or invalid.
func (c *Config) ClockSkewDuration() time.Duration {
	d, err := time.ParseDuration(c.ClockSkew)
	if err != nil || d < 0 {
		return 30 * time.Second
	}
	return d
}

// FlaggedTTL parses FlaggedAccessTTL, capped at AccessTTL. Returns 1m (or AccessTTL if shorter) when unset or invalid.
func (c *Config) FlaggedTTL() time.Duration {
	d, err := time.ParseDuration(c.FlaggedAccessTTL)
	if err != nil || d <= 0 {
		d = time.Minute
	}
	if access := c.AccessTTL(); access > 0 && d > access {
		return access
	}
	return d
}

// ThrottleEnabled reports whether the Redis refresh throttle should be wired.
func (c *Config) ThrottleEnabled() bool {
	return c != nil && c.RedisAddr != "" && c.RefreshRateLimitPerMinute > 0
}
