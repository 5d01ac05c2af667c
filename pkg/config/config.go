package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Availability AvailabilityConfig
	Booking      BookingConfig
	Routing      RoutingConfig
	Sync         SyncConfig
	Providers    ProvidersConfig
	Outbox       OutboxConfig
	Export       ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AvailabilityConfig tunes slot computation and caching.
type AvailabilityConfig struct {
	SnapshotCacheTTL time.Duration
	HolidayCacheTTL  time.Duration
}

// BookingConfig governs the booking transaction.
type BookingConfig struct {
	LockTimeout time.Duration
}

// RoutingConfig tunes round-robin assignment.
type RoutingConfig struct {
	RebalanceDeviation float64
	LookaheadDays      int
}

// SyncConfig controls the calendar sync engine and its retry policy.
type SyncConfig struct {
	Enabled           bool
	WorkerInterval    time.Duration
	WorkerConcurrency int
	MaxRetries        int
	BaseRetrySeconds  int
	MaxRetryDelay     time.Duration
	ProviderTimeout   time.Duration
	RateLimitPerSec   float64
	RateLimitBurst    int
}

// ProvidersConfig holds per-provider OAuth application credentials.
type ProvidersConfig struct {
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURL     string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenant       string
}

// OutboxConfig controls the domain event dispatcher.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	KafkaBrokers []string
	KafkaTopic   string
}

// ExportConfig gates operator schedule exports.
type ExportConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Availability = AvailabilityConfig{
		SnapshotCacheTTL: parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 2*time.Minute),
		HolidayCacheTTL:  parseDuration(v.GetString("HOLIDAY_CACHE_TTL"), 12*time.Hour),
	}

	cfg.Booking = BookingConfig{
		LockTimeout: parseDuration(v.GetString("BOOKING_LOCK_TIMEOUT"), 10*time.Second),
	}

	rebalance := v.GetFloat64("ROUTING_REBALANCE_DEVIATION")
	if rebalance <= 0 {
		rebalance = 0.20
	}
	cfg.Routing = RoutingConfig{
		RebalanceDeviation: rebalance,
		LookaheadDays:      v.GetInt("ROUTING_LOOKAHEAD_DAYS"),
	}

	cfg.Sync = SyncConfig{
		Enabled:           v.GetBool("ENABLE_SYNC"),
		WorkerInterval:    parseDuration(v.GetString("SYNC_WORKER_INTERVAL"), 30*time.Second),
		WorkerConcurrency: v.GetInt("SYNC_WORKER_CONCURRENCY"),
		MaxRetries:        v.GetInt("SYNC_MAX_RETRIES"),
		BaseRetrySeconds:  v.GetInt("SYNC_BASE_RETRY_SECONDS"),
		MaxRetryDelay:     parseDuration(v.GetString("SYNC_MAX_RETRY_DELAY"), 5*time.Minute),
		ProviderTimeout:   parseDuration(v.GetString("SYNC_PROVIDER_TIMEOUT"), 15*time.Second),
		RateLimitPerSec:   v.GetFloat64("SYNC_RATE_LIMIT_PER_SEC"),
		RateLimitBurst:    v.GetInt("SYNC_RATE_LIMIT_BURST"),
	}

	cfg.Providers = ProvidersConfig{
		GoogleClientID:        v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:    v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:     v.GetString("GOOGLE_REDIRECT_URL"),
		MicrosoftClientID:     v.GetString("MICROSOFT_CLIENT_ID"),
		MicrosoftClientSecret: v.GetString("MICROSOFT_CLIENT_SECRET"),
		MicrosoftRedirectURL:  v.GetString("MICROSOFT_REDIRECT_URL"),
		MicrosoftTenant:       v.GetString("MICROSOFT_TENANT"),
	}

	cfg.Outbox = OutboxConfig{
		PollInterval: parseDuration(v.GetString("OUTBOX_POLL_INTERVAL"), 2*time.Second),
		BatchSize:    v.GetInt("OUTBOX_BATCH_SIZE"),
		KafkaBrokers: splitAndTrim(v.GetString("OUTBOX_KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("OUTBOX_KAFKA_TOPIC"),
	}

	cfg.Export = ExportConfig{
		Enabled: v.GetBool("ENABLE_EXPORTS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "novacal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AVAILABILITY_CACHE_TTL", "2m")
	v.SetDefault("HOLIDAY_CACHE_TTL", "12h")

	v.SetDefault("BOOKING_LOCK_TIMEOUT", "10s")

	v.SetDefault("ROUTING_REBALANCE_DEVIATION", 0.20)
	v.SetDefault("ROUTING_LOOKAHEAD_DAYS", 7)

	v.SetDefault("ENABLE_SYNC", false)
	v.SetDefault("SYNC_WORKER_INTERVAL", "30s")
	v.SetDefault("SYNC_WORKER_CONCURRENCY", 2)
	v.SetDefault("SYNC_MAX_RETRIES", 5)
	v.SetDefault("SYNC_BASE_RETRY_SECONDS", 5)
	v.SetDefault("SYNC_MAX_RETRY_DELAY", "5m")
	v.SetDefault("SYNC_PROVIDER_TIMEOUT", "15s")
	v.SetDefault("SYNC_RATE_LIMIT_PER_SEC", 5.0)
	v.SetDefault("SYNC_RATE_LIMIT_BURST", 10)

	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "")
	v.SetDefault("MICROSOFT_CLIENT_ID", "")
	v.SetDefault("MICROSOFT_CLIENT_SECRET", "")
	v.SetDefault("MICROSOFT_REDIRECT_URL", "")
	v.SetDefault("MICROSOFT_TENANT", "common")

	v.SetDefault("OUTBOX_POLL_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("OUTBOX_KAFKA_BROKERS", "")
	v.SetDefault("OUTBOX_KAFKA_TOPIC", "novacal.appointments")

	v.SetDefault("ENABLE_EXPORTS", false)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
