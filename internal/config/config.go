package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Medallion analytics service.
type Config struct {
	Server     ServerConfig
	ClickHouse ClickHouseConfig
	Database   DatabaseConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Pipeline   PipelineConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

// ClickHouseConfig configures the bronze/silver event store.
type ClickHouseConfig struct {
	Addr     string
	DBName   string
	User     string
	Password string
}

// DatabaseConfig configures the PostgreSQL tenant store.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// MongoConfig configures the gold metrics store.
type MongoConfig struct {
	URI        string
	DBName     string
	Collection string
	Timeout    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	TokenTTL  time.Duration
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	IngestRPS   float64
	IngestBurst int
	QueryRPS    float64
	QueryBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// GeoConfig configures optional GeoIP country enrichment in the
// cleaning stage.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// PipelineConfig holds pipeline orchestration settings.
type PipelineConfig struct {
	// DefaultWindowDays is the trailing window used when a pipeline
	// trigger does not supply dates.
	DefaultWindowDays int
	// DayLockTTL bounds how long a per-(tenant,day) aggregation lock
	// can be held before it expires in Redis.
	DayLockTTL time.Duration
	// OverviewCacheTTL is the Redis cache TTL for the dashboard
	// overview query. Zero disables caching.
	OverviewCacheTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("MEDALLION_HTTP_ADDR", ":8080"),
			Env:             getEnv("MEDALLION_ENV", "development"),
			ShutdownTimeout: getDurationEnv("MEDALLION_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     getEnv("MEDALLION_CLICKHOUSE_ADDR", "localhost:9000"),
			DBName:   getEnv("MEDALLION_CLICKHOUSE_DB", "medallion"),
			User:     getEnv("MEDALLION_CLICKHOUSE_USER", "default"),
			Password: getEnv("MEDALLION_CLICKHOUSE_PASSWORD", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("MEDALLION_DB_HOST", "localhost"),
			Port:     getIntEnv("MEDALLION_DB_PORT", 5432),
			User:     getEnv("MEDALLION_DB_USER", "medallion"),
			Password: getEnv("MEDALLION_DB_PASSWORD", "medallion_secret"),
			DBName:   getEnv("MEDALLION_DB_NAME", "medallion"),
			SSLMode:  getEnv("MEDALLION_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("MEDALLION_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("MEDALLION_DB_MIN_CONNS", 5),
		},
		Mongo: MongoConfig{
			URI:        getEnv("MEDALLION_MONGO_URI", "mongodb://localhost:27017"),
			DBName:     getEnv("MEDALLION_MONGO_DB", "medallion"),
			Collection: getEnv("MEDALLION_MONGO_METRICS_COLLECTION", "gold_metrics"),
			Timeout:    getDurationEnv("MEDALLION_MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("MEDALLION_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("MEDALLION_REDIS_PASSWORD", ""),
			DB:       getIntEnv("MEDALLION_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("MEDALLION_AUTH_ENABLED", true),
			JWTSecret: getEnv("MEDALLION_JWT_SECRET", ""),
			TokenTTL:  getDurationEnv("MEDALLION_TOKEN_TTL", 24*time.Hour),
			SkipPaths: []string{"/health", "/metrics", "/api/auth/"},
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("MEDALLION_RATE_LIMIT_ENABLED", true),
			IngestRPS:   getFloatEnv("MEDALLION_RATE_LIMIT_INGEST_RPS", 1000),
			IngestBurst: getIntEnv("MEDALLION_RATE_LIMIT_INGEST_BURST", 200),
			QueryRPS:    getFloatEnv("MEDALLION_RATE_LIMIT_QUERY_RPS", 100),
			QueryBurst:  getIntEnv("MEDALLION_RATE_LIMIT_QUERY_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("MEDALLION_LOG_LEVEL", "info"),
			Format: getEnv("MEDALLION_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("MEDALLION_METRICS_ENABLED", true),
			Path:      getEnv("MEDALLION_METRICS_PATH", "/metrics"),
			Namespace: getEnv("MEDALLION_METRICS_NAMESPACE", "medallion"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("MEDALLION_GEO_ENABLED", false),
			DatabasePath: getEnv("MEDALLION_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Pipeline: PipelineConfig{
			DefaultWindowDays: getIntEnv("MEDALLION_PIPELINE_DEFAULT_WINDOW_DAYS", 7),
			DayLockTTL:        getDurationEnv("MEDALLION_PIPELINE_DAY_LOCK_TTL", 5*time.Minute),
			OverviewCacheTTL:  getDurationEnv("MEDALLION_OVERVIEW_CACHE_TTL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("MEDALLION_JWT_SECRET is required when auth is enabled")
	}
	if c.Pipeline.DefaultWindowDays <= 0 {
		return fmt.Errorf("MEDALLION_PIPELINE_DEFAULT_WINDOW_DAYS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
