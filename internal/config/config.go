package config

import (
	"errors"
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/VideoTubeGo/pkg/config"
	"github.com/utafrali/VideoTubeGo/pkg/middleware"
)

// Storage backends.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	StorageS3      = "s3"
	StorageMemory  = "memory"
)

// minSecretLength is the shortest signing secret accepted outside development.
const minSecretLength = 32

// Config holds all configuration for the account service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort       int   `env:"HTTP_PORT" envDefault:"8000"`
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	// User store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost         string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort         int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser         string `env:"POSTGRES_USER" envDefault:"videotube"`
	PostgresPass         string `env:"POSTGRES_PASSWORD" envDefault:"videotube_secret"`
	PostgresDB           string `env:"POSTGRES_DB" envDefault:"videotube"`
	PostgresSSL          string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns           int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns           int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	SlowQueryThresholdMs int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Tokens
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET" envDefault:"change-this-access-token-secret"`
	AccessTokenExpiry  time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET" envDefault:"change-this-refresh-token-secret"`
	RefreshTokenExpiry time.Duration `env:"REFRESH_TOKEN_EXPIRY" envDefault:"240h"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"10"`

	// Cookies and CORS
	CookieSecure       bool     `env:"COOKIE_SECURE" envDefault:"true"`
	CookieDomain       string   `env:"COOKIE_DOMAIN"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Proxies allowed to set X-Forwarded-For and X-Real-IP. When empty,
	// client addresses come from the TCP connection only.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Asset storage
	AssetStorage       string `env:"ASSET_STORAGE" envDefault:"s3"`
	S3Bucket           string `env:"S3_BUCKET" envDefault:"videotube-assets"`
	S3Region           string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint         string `env:"S3_ENDPOINT"`
	S3AccessKey        string `env:"S3_ACCESS_KEY"`
	S3SecretKey        string `env:"S3_SECRET_KEY"`
	S3PublicBaseURL    string `env:"S3_PUBLIC_BASE_URL"`
	S3UsePathStyle     bool   `env:"S3_USE_PATH_STYLE" envDefault:"false"`
	MemoryAssetBaseURL string `env:"MEMORY_ASSET_BASE_URL" envDefault:"http://localhost:8000/assets"`

	// Redis login throttling; disabled when REDIS_ADDR is empty.
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	LoginMaxAttempts   int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginAttemptWindow time.Duration `env:"LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	// Per-IP request rate limit; disabled when RATE_LIMIT_RPS is 0.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and, outside development, the signing secrets.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.StoreDriver != DriverPostgres && c.StoreDriver != DriverMemory {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.AssetStorage != StorageS3 && c.AssetStorage != StorageMemory {
		return fmt.Errorf("ASSET_STORAGE must be %q or %q, got %q", StorageS3, StorageMemory, c.AssetStorage)
	}
	if c.AccessTokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		return errors.New("token expiries must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_BYTES: %d", c.MaxUploadBytes)
	}
	if _, err := middleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	if c.IsDevelopment() {
		return nil
	}

	// In non-development environments, require explicitly set, strong secrets.
	if c.AccessTokenSecret == "change-this-access-token-secret" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
	}
	if c.RefreshTokenSecret == "change-this-refresh-token-secret" {
		return fmt.Errorf("REFRESH_TOKEN_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
	}
	if len(c.AccessTokenSecret) < minSecretLength {
		return fmt.Errorf("ACCESS_TOKEN_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.AccessTokenSecret))
	}
	if len(c.RefreshTokenSecret) < minSecretLength {
		return fmt.Errorf("REFRESH_TOKEN_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.RefreshTokenSecret))
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
