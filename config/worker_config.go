package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// JWT (validates the bearer token on every scan route)
	JWTSecret string

	// OAuth - Google (Gmail driver)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// IMAP (generic mailbox driver, app-password login)
	IMAPDefaultPort    int
	IMAPDialTimeoutSec int
	IMAPReadTimeoutSec int

	// Worker / queue consumer
	WorkerID              string
	ConsumerBlockMS       int
	ConsumerMaxRetries    int
	ConsumerPendingIdleSec int
	ConsumerConcurrency   int

	// Scan SLO budgets (defaults clamped further per-session by the
	// orchestrator's quick/deep tables; these are only the chunk engine's
	// own hard ceilings, independent of mode).
	ChunkMsDefault      int
	FullFetchConcurrency int
	MetaFetchConcurrency int

	// SSE
	SSEPollIntervalMS int
	SSEPingIntervalSec int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		IMAPDefaultPort:    getEnvInt("IMAP_DEFAULT_PORT", 993),
		IMAPDialTimeoutSec: getEnvInt("IMAP_DIAL_TIMEOUT_SEC", 10),
		IMAPReadTimeoutSec: getEnvInt("IMAP_READ_TIMEOUT_SEC", 30),

		WorkerID:              getEnv("WORKER_ID", generateWorkerID()),
		ConsumerBlockMS:        getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:     getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingIdleSec: getEnvInt("CONSUMER_PENDING_IDLE_SEC", 120),
		ConsumerConcurrency:    getEnvInt("CONSUMER_CONCURRENCY", 4),

		ChunkMsDefault:       getEnvInt("CHUNK_MS_DEFAULT", 9000),
		FullFetchConcurrency: getEnvInt("FULL_FETCH_CONCURRENCY", 6),
		MetaFetchConcurrency: getEnvInt("META_FETCH_CONCURRENCY", 10),

		SSEPollIntervalMS:  getEnvInt("SSE_POLL_INTERVAL_MS", 800),
		SSEPingIntervalSec: getEnvInt("SSE_PING_INTERVAL_SEC", 2),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
