package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Addr            string
	DBDriver        string
	DBPath          string
	DatabaseURL     string
	CatalogPath     string
	SeedKenya       bool
	LogLevel        string
	LogFormat       string
	BatchWorkers    int
	AllowedOrigins  []string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration

	// CoverageInterval of zero disables the coverage monitor.
	CoverageInterval time.Duration
	CoverageHorizon  time.Duration
}

func Load() Config {
	return Config{
		Addr:            getEnv("STATUTORY_ADDR", ":8080"),
		DBDriver:        getEnv("STATUTORY_DB_DRIVER", DriverSQLite),
		DBPath:          getEnv("STATUTORY_DB_PATH", "statutory.db"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		CatalogPath:     getEnv("STATUTORY_CATALOG", ""),
		SeedKenya:       getEnvBool("STATUTORY_SEED_KENYA", false),
		LogLevel:        getEnv("STATUTORY_LOG_LEVEL", "info"),
		LogFormat:       getEnv("STATUTORY_LOG_FORMAT", "text"),
		BatchWorkers:    getEnvInt("STATUTORY_BATCH_WORKERS", 8),
		AllowedOrigins:  getEnvList("STATUTORY_ALLOWED_ORIGINS", []string{"*"}),
		MaxBodyBytes:    int64(getEnvInt("STATUTORY_MAX_BODY_BYTES", 4<<20)),
		ShutdownTimeout: getEnvDuration("STATUTORY_SHUTDOWN_TIMEOUT", 30*time.Second),

		CoverageInterval: getEnvDuration("STATUTORY_COVERAGE_INTERVAL", time.Hour),
		CoverageHorizon:  getEnvDuration("STATUTORY_COVERAGE_HORIZON", 90*24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("STATUTORY_DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("STATUTORY_DB_DRIVER must be one of memory, sqlite, postgres (got %q)", c.DBDriver)
	}
	if c.SeedKenya && c.CatalogPath != "" {
		return fmt.Errorf("STATUTORY_SEED_KENYA and STATUTORY_CATALOG are mutually exclusive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("STATUTORY_LOG_FORMAT must be text or json")
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("STATUTORY_BATCH_WORKERS must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("STATUTORY_MAX_BODY_BYTES must be at least 1024")
	}
	if c.CoverageInterval < 0 {
		return fmt.Errorf("STATUTORY_COVERAGE_INTERVAL must not be negative")
	}
	if c.CoverageInterval > 0 && c.CoverageHorizon <= 0 {
		return fmt.Errorf("STATUTORY_COVERAGE_HORIZON must be positive")
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("STATUTORY_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// Logger builds the process logger writing to stderr.
func (c Config) Logger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
