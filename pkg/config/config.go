// Package config provides configuration loading from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// StorageBackend represents the storage implementation type.
type StorageBackend string

const (
	// StorageMemory uses in-memory storage (for development/testing).
	StorageMemory StorageBackend = "memory"
	// StoragePostgres uses PostgreSQL storage (for production).
	StoragePostgres StorageBackend = "postgres"
)

// Base contains common configuration shared by all services.
type Base struct {
	// Service identification
	ServiceName string
	Environment string // development, staging, production
	Version     string

	// Server
	GRPCPort int
	HTTPPort int

	// Storage backend
	StorageBackend StorageBackend

	// Database (used when StorageBackend is "postgres")
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL string

	// Observability
	OTLPEndpoint string
	LogLevel     string
	LogFormat    string // json, text

	// Tracing
	TracingEnabled  bool
	TracingSampling float64

	// Batch evaluation
	Batch Batch
}

// Batch holds tuning for historical batch evaluation runs.
type Batch struct {
	Size             int           `toml:"size"`
	Concurrency      int           `toml:"concurrency"`
	MaxErrorLogLines int           `toml:"max_error_log_lines"`
	NoConfigCacheTTL time.Duration `toml:"no_config_cache_ttl"`
	MaxHistoricEvals int           `toml:"max_historic_evals"`
	EventsTable      bool          `toml:"events_table"`

	ActionQueue    string        `toml:"action_queue"`
	ExecutionQueue string        `toml:"execution_queue"`
	PollTimeout    time.Duration `toml:"poll_timeout"`
	CacheKeyPrefix string        `toml:"cache_key_prefix"`

	// EventsFile is a JSON-lines observation export read instead of the
	// events table when storage is in memory.
	EventsFile string `toml:"events_file"`
}

// fileConfig is the shape of the optional TOML overlay.
type fileConfig struct {
	Batch *Batch `toml:"batch"`
}

// Load loads base configuration from environment variables.
func Load(serviceName string) (*Base, error) {
	cfg := &Base{
		ServiceName: serviceName,
		Environment: getEnv("LANGFUSE_ENV", "development"),
		Version:     getEnv("LANGFUSE_VERSION", "dev"),

		GRPCPort: getEnvInt("LANGFUSE_GRPC_PORT", 9000),
		HTTPPort: getEnvInt("LANGFUSE_HTTP_PORT", 8080),

		StorageBackend: parseStorageBackend(getEnv("LANGFUSE_STORAGE_BACKEND", "memory")),

		DBHost:     getEnv("LANGFUSE_DB_HOST", "localhost"),
		DBPort:     getEnvInt("LANGFUSE_DB_PORT", 5432),
		DBUser:     getEnv("LANGFUSE_DB_USER", "langfuse"),
		DBPassword: getEnv("LANGFUSE_DB_PASSWORD", ""),
		DBName:     getEnv("LANGFUSE_DB_NAME", "langfuse"),
		DBSSLMode:  getEnv("LANGFUSE_DB_SSLMODE", "disable"),

		RedisURL: getEnv("LANGFUSE_REDIS_URL", "redis://localhost:6379"),

		OTLPEndpoint: getEnv("LANGFUSE_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("LANGFUSE_LOG_LEVEL", "info"),
		LogFormat:    getEnv("LANGFUSE_LOG_FORMAT", "json"),

		TracingEnabled:  getEnvBool("LANGFUSE_TRACING_ENABLED", true),
		TracingSampling: getEnvFloat("LANGFUSE_TRACING_SAMPLING", 1.0),

		Batch: Batch{
			Size:             getEnvInt("LANGFUSE_BATCH_EVAL_SIZE", 100),
			Concurrency:      getEnvInt("LANGFUSE_BATCH_EVAL_CONCURRENCY", 50),
			MaxErrorLogLines: getEnvInt("LANGFUSE_BATCH_EVAL_MAX_ERROR_LOG_LINES", 20),
			NoConfigCacheTTL: getEnvDuration("LANGFUSE_NO_EVAL_CONFIGS_CACHE_TTL", 10*time.Minute),
			MaxHistoricEvals: getEnvInt("LANGFUSE_MAX_HISTORIC_EVAL_CREATION_LIMIT", 100000),
			EventsTable:      getEnvBool("LANGFUSE_ENABLE_EVENTS_TABLE_OBSERVATIONS", false),
			ActionQueue:      getEnv("LANGFUSE_BATCH_ACTION_QUEUE", "batch-action-queue"),
			ExecutionQueue:   getEnv("LANGFUSE_EVAL_EXECUTION_QUEUE", "eval-execution-queue"),
			PollTimeout:      getEnvDuration("LANGFUSE_QUEUE_POLL_TIMEOUT", 5*time.Second),
			CacheKeyPrefix:   getEnv("LANGFUSE_CACHE_KEY_PREFIX", "langfuse"),
			EventsFile:       getEnv("LANGFUSE_EVENTS_FILE", ""),
		},
	}

	if path := os.Getenv("LANGFUSE_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFile overlays non-zero batch settings from a TOML file.
func (c *Base) LoadFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if fc.Batch == nil {
		return nil
	}

	b := fc.Batch
	if b.Size > 0 {
		c.Batch.Size = b.Size
	}
	if b.Concurrency > 0 {
		c.Batch.Concurrency = b.Concurrency
	}
	if b.MaxErrorLogLines > 0 {
		c.Batch.MaxErrorLogLines = b.MaxErrorLogLines
	}
	if b.NoConfigCacheTTL > 0 {
		c.Batch.NoConfigCacheTTL = b.NoConfigCacheTTL
	}
	if b.MaxHistoricEvals > 0 {
		c.Batch.MaxHistoricEvals = b.MaxHistoricEvals
	}
	if b.EventsTable {
		c.Batch.EventsTable = true
	}
	if b.ActionQueue != "" {
		c.Batch.ActionQueue = b.ActionQueue
	}
	if b.ExecutionQueue != "" {
		c.Batch.ExecutionQueue = b.ExecutionQueue
	}
	if b.PollTimeout > 0 {
		c.Batch.PollTimeout = b.PollTimeout
	}
	if b.CacheKeyPrefix != "" {
		c.Batch.CacheKeyPrefix = b.CacheKeyPrefix
	}
	if b.EventsFile != "" {
		c.Batch.EventsFile = b.EventsFile
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string.
func (c *Base) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// DatabaseURL returns the PostgreSQL connection URL used by the migrator.
func (c *Base) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsDevelopment returns true if running in development mode.
func (c *Base) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Base) IsProduction() bool {
	return c.Environment == "production"
}

// UseMemoryStorage returns true if using in-memory storage.
func (c *Base) UseMemoryStorage() bool {
	return c.StorageBackend == StorageMemory
}

// UsePostgresStorage returns true if using PostgreSQL storage.
func (c *Base) UsePostgresStorage() bool {
	return c.StorageBackend == StoragePostgres
}

// Helper functions

func parseStorageBackend(s string) StorageBackend {
	switch s {
	case "postgres", "postgresql", "pg":
		return StoragePostgres
	default:
		return StorageMemory
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
