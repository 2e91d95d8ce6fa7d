package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Config holds all application configuration
type Config struct {
	Env string // "development" or "production"

	// Data directory
	DataDir string

	// Database
	DatabasePath string

	// Logging
	LogLevel string

	// Debug settings
	DBLogQueries bool

	// Append gate tuning
	AppendRetries int
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	dataDir := getEnv("SESSIONGRAPH_DATA_DIR", "./data")

	return &Config{
		Env: getEnv("ENV", "development"),

		DataDir:      dataDir,
		DatabasePath: filepath.Join(dataDir, "sessiongraph.sqlite"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBLogQueries: getEnv("DB_LOG_QUERIES", "") == "1",

		AppendRetries: getEnvInt("SESSIONGRAPH_APPEND_RETRIES", 3),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Helper functions

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
