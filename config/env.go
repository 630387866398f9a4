package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvConfigPath  = "ARB_ENGINE_CONFIG"
	EnvMetricsAddr = "ARB_ENGINE_METRICS_ADDR"
	EnvDebug       = "ARB_ENGINE_DEBUG"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// applyEnv overlays environment variables on a loaded config.
func (c *Config) applyEnv() {
	if addr := os.Getenv(EnvMetricsAddr); addr != "" {
		c.MetricsAddr = addr
	}
	if os.Getenv(EnvDebug) == "true" {
		c.Debug = true
	}
}
