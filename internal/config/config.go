package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port            string
		Env             string
		APIPrefix       string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	JWT struct {
		Secret string
		Expiry time.Duration
	}

	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Matchmaking tunes the search loop.
	Matchmaking struct {
		CandidateBatch     int
		SearchPollInterval time.Duration
	}

	// Delivery tunes the push channel and its polling fallback.
	Delivery struct {
		Backend          string
		SubscribeTimeout time.Duration
		PollInterval     time.Duration
	}

	Logging struct {
		Level  string
		Format string
	}

	MetricsEnabled bool
}

// Push backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Load reads configuration from the environment, after loading an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8080")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.APIPrefix = getEnvString("API_PREFIX", "/api/v1")
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second)
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second)

	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "user")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "password")
	cfg.Database.Name = getEnvString("DB_NAME", "randomchatdb")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)

	cfg.Redis.Addr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 72*time.Hour)

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 10)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 20)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

	cfg.Matchmaking.CandidateBatch = getEnvInt("MATCH_CANDIDATE_BATCH", 5)
	cfg.Matchmaking.SearchPollInterval = getEnvDuration("SEARCH_POLL_INTERVAL", 2*time.Second)

	cfg.Delivery.Backend = getEnvString("PUSH_BACKEND", BackendRedis)
	cfg.Delivery.SubscribeTimeout = getEnvDuration("DELIVERY_SUBSCRIBE_TIMEOUT", 5*time.Second)
	cfg.Delivery.PollInterval = getEnvDuration("DELIVERY_POLL_INTERVAL", 2*time.Second)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)

	return cfg
}

// PostgresDSN builds the DSN for gorm.io/driver/postgres and lib/pq.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Database.Host,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.Port,
		c.Database.SSLMode,
	)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Delivery.Backend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown PUSH_BACKEND %q", c.Delivery.Backend)
	}
	if c.Matchmaking.CandidateBatch < 1 {
		return fmt.Errorf("MATCH_CANDIDATE_BATCH must be positive")
	}
	if c.Delivery.PollInterval <= 0 || c.Delivery.SubscribeTimeout <= 0 {
		return fmt.Errorf("delivery intervals must be positive")
	}
	return nil
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
