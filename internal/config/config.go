// Package config reads imagebatch settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/imagebatch/internal/kvstore"
	"github.com/lehigh-university-libraries/imagebatch/internal/pacing"
)

// Config holds all configuration values
type Config struct {
	// Generation
	Provider  string
	Model     string
	ServerURL string

	// Pacing
	Pacing   string
	Delay    time.Duration
	MaxDelay time.Duration

	// Persistence
	Store kvstore.Config

	// HTTP
	AuthSecret string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables
func Load() Config {
	return Config{
		Provider:  getEnv("IMAGEBATCH_PROVIDER", "imagen"),
		Model:     getEnv("IMAGEBATCH_MODEL", ""),
		ServerURL: getEnv("IMAGEBATCH_SERVER_URL", ""),

		Pacing:   getEnv("IMAGEBATCH_PACING", "fixed"),
		Delay:    parseDuration(getEnv("IMAGEBATCH_DELAY", ""), pacing.DefaultDelay),
		MaxDelay: parseDuration(getEnv("IMAGEBATCH_MAX_DELAY", ""), pacing.DefaultMaxDelay),

		Store: kvstore.Config{
			Backend:       getEnv("IMAGEBATCH_STORE", "file"),
			Path:          getEnv("IMAGEBATCH_STORE_PATH", ""),
			SQLitePath:    getEnv("IMAGEBATCH_SQLITE_PATH", ""),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       parseInt(getEnv("REDIS_DB", "0"), 0),
		},

		AuthSecret: getEnv("IMAGEBATCH_AUTH_SECRET", ""),

		LogFile:  getEnv("IMAGEBATCH_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("IMAGEBATCH_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parseDuration accepts Go durations ("2s") and bare milliseconds ("1800")
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	if ms, err := strconv.Atoi(s); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	slog.Warn("Ignoring invalid duration", "value", s, "default", defaultVal)
	return defaultVal
}

func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultVal
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
