// Package config provides configuration for the CLI.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds CLI configuration.
type Config struct {
	// APIURL is the base URL of the batch action HTTP API.
	APIURL    string
	ProjectID string
	Timeout   time.Duration

	// Output format
	Format string // json, table, yaml

	// Verbosity
	Verbose bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIURL:    getEnv("LANGFUSE_API_URL", "http://localhost:8080"),
		ProjectID: getEnv("LANGFUSE_PROJECT_ID", ""),
		Timeout:   getEnvDuration("LANGFUSE_CLI_TIMEOUT", 30*time.Second),
		Format:    getEnv("LANGFUSE_FORMAT", "table"),
		Verbose:   getEnvBool("LANGFUSE_VERBOSE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
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
