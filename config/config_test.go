package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/statutory-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"STATUTORY_ADDR", "STATUTORY_DB_DRIVER", "STATUTORY_DB_PATH", "DATABASE_URL",
		"STATUTORY_CATALOG", "STATUTORY_SEED_KENYA", "STATUTORY_LOG_LEVEL",
		"STATUTORY_BATCH_WORKERS", "STATUTORY_ALLOWED_ORIGINS",
		"STATUTORY_COVERAGE_INTERVAL", "STATUTORY_COVERAGE_HORIZON",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "statutory.db", cfg.DBPath)
	assert.False(t, cfg.SeedKenya)
	assert.Equal(t, 8, cfg.BatchWorkers)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Hour, cfg.CoverageInterval)
	assert.Equal(t, 90*24*time.Hour, cfg.CoverageHorizon)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STATUTORY_DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/statutory")
	t.Setenv("STATUTORY_SEED_KENYA", "true")
	t.Setenv("STATUTORY_BATCH_WORKERS", "16")
	t.Setenv("STATUTORY_ALLOWED_ORIGINS", "https://payroll.example.com, https://admin.example.com")
	t.Setenv("STATUTORY_LOG_LEVEL", "debug")
	t.Setenv("STATUTORY_COVERAGE_INTERVAL", "15m")

	cfg := config.Load()
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.True(t, cfg.SeedKenya)
	assert.Equal(t, 16, cfg.BatchWorkers)
	assert.Equal(t, []string{"https://payroll.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Minute, cfg.CoverageInterval)
	assert.True(t, cfg.Logger().Enabled(t.Context(), slog.LevelDebug))
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("STATUTORY_BATCH_WORKERS", "many")
	t.Setenv("STATUTORY_SEED_KENYA", "perhaps")

	cfg := config.Load()
	assert.Equal(t, 8, cfg.BatchWorkers)
	assert.False(t, cfg.SeedKenya)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			DBDriver:     config.DriverMemory,
			LogLevel:     "info",
			LogFormat:    "text",
			BatchWorkers: 4,
			MaxBodyBytes: 1 << 20,
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown driver", func(c *config.Config) { c.DBDriver = "mysql" }, "STATUTORY_DB_DRIVER"},
		{"postgres without url", func(c *config.Config) { c.DBDriver = config.DriverPostgres }, "DATABASE_URL"},
		{"sqlite without path", func(c *config.Config) { c.DBDriver = config.DriverSQLite }, "STATUTORY_DB_PATH"},
		{"seed and catalog", func(c *config.Config) { c.SeedKenya = true; c.CatalogPath = "ke.yaml" }, "mutually exclusive"},
		{"bad level", func(c *config.Config) { c.LogLevel = "loud" }, "STATUTORY_LOG_LEVEL"},
		{"bad format", func(c *config.Config) { c.LogFormat = "xml" }, "STATUTORY_LOG_FORMAT"},
		{"no workers", func(c *config.Config) { c.BatchWorkers = 0 }, "STATUTORY_BATCH_WORKERS"},
		{"tiny body", func(c *config.Config) { c.MaxBodyBytes = 10 }, "STATUTORY_MAX_BODY_BYTES"},
		{"negative interval", func(c *config.Config) { c.CoverageInterval = -time.Second }, "STATUTORY_COVERAGE_INTERVAL"},
		{"monitor without horizon", func(c *config.Config) { c.CoverageInterval = time.Hour }, "STATUTORY_COVERAGE_HORIZON"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
