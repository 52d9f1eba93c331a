// Package config loads agent settings from the environment and the
// connector credentials file.
package config

import (
	"os"
	"strconv"
	"time"

	"sourcebridge.dev/internal/logger"
)

// Settings is the process-wide agent configuration, read once at startup.
type Settings struct {
	CloudAPIHost  string
	CloudAPIToken string

	CredentialsPath string

	HTTPListenAddr string
	MCPListenAddr  string

	PollInterval time.Duration

	TransformerEngineURL string

	LogLevel  string
	LogFormat string
}

// FromEnv builds Settings from environment variables with defaults.
func FromEnv() Settings {
	return Settings{
		CloudAPIHost:         envOr("DRD_CLOUD_API_HOST", ""),
		CloudAPIToken:        envOr("DRD_CLOUD_API_TOKEN", ""),
		CredentialsPath:      envOr("SOURCEBRIDGE_CREDENTIALS", "./credentials.yaml"),
		HTTPListenAddr:       envOr("SOURCEBRIDGE_HTTP_ADDR", ":8080"),
		MCPListenAddr:        envOr("SOURCEBRIDGE_MCP_ADDR", ":8081"),
		PollInterval:         time.Duration(envOrInt("SOURCEBRIDGE_POLL_INTERVAL_SECONDS", 30)) * time.Second,
		TransformerEngineURL: envOr("SOURCEBRIDGE_TRANSFORMER_URL", ""),
		LogLevel:             envOr("SOURCEBRIDGE_LOG_LEVEL", "info"),
		LogFormat:            envOr("SOURCEBRIDGE_LOG_FORMAT", "text"),
	}
}

// envOr returns the environment variable value or a fallback default.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrInt returns an integer environment variable or a fallback default.
func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.L().Warn("invalid integer env var, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return n
}
