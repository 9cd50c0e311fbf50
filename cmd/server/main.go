/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the statutory deduction engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, then apply flags
  2. Open the store (memory, SQLite or PostgreSQL)
  3. Seed the Kenyan presets or import a catalog file, when asked,
     otherwise restore the saved jurisdiction
  4. Create API handler and router
  5. Start the coverage monitor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -addr     Listen address (STATUTORY_ADDR, default :8080)
  -driver   memory | sqlite | postgres (STATUTORY_DB_DRIVER, default sqlite)
  -db       SQLite database path (STATUTORY_DB_PATH, default statutory.db)
            Use ":memory:" for an in-memory SQLite database
  -catalog  Catalog file to import on start (STATUTORY_CATALOG)
  -seed-kenya  Load the Kenyan statutory history (STATUTORY_SEED_KENYA)

  Catalog data is only imported into an empty store, so restarting a
  persistent server with the same flags is safe. The jurisdiction from
  the flags is saved to the store; a restart without them restores it.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the coverage monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (STATUTORY_SHUTDOWN_TIMEOUT)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Demo server with the Kenyan catalog, nothing on disk
  ./server -driver=memory -seed-kenya

  # Production
  DATABASE_URL=postgres://... ./server -driver=postgres -catalog=catalogs/kenya.yaml

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/statutory-engine/api"
	"github.com/warp/statutory-engine/config"
	"github.com/warp/statutory-engine/factory"
	"github.com/warp/statutory-engine/kenya"
	"github.com/warp/statutory-engine/statutory"
	"github.com/warp/statutory-engine/statutory/store"
	"github.com/warp/statutory-engine/store/postgres"
	"github.com/warp/statutory-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "store driver: memory, sqlite or postgres")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "catalog file (yaml or json) to import on start")
	flag.BoolVar(&cfg.SeedKenya, "seed-kenya", cfg.SeedKenya, "load the Kenyan statutory history")
	flag.Parse()

	logger := cfg.Logger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := context.Background()

	// Initialize store
	s, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()
	logger.Info("store opened", "driver", cfg.DBDriver)

	jurisdiction, err := loadCatalog(ctx, cfg, s, logger)
	if err != nil {
		return err
	}

	// Initialize handler
	handler, err := api.NewHandler(api.Options{
		Store:           s,
		Jurisdiction:    jurisdiction,
		Workers:         cfg.BatchWorkers,
		Logger:          logger,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		CoverageHorizon: cfg.CoverageHorizon,
	})
	if err != nil {
		return err
	}

	coverage := api.NewCoverageScheduler(handler)
	coverage.Enabled = cfg.CoverageInterval > 0
	if coverage.Enabled {
		coverage.CheckInterval = cfg.CoverageInterval
		coverage.Horizon = cfg.CoverageHorizon
	}
	coverage.Start()
	defer coverage.Stop()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (statutory.Store, func() error, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		return store.NewMemory(), func() error { return nil }, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.DBDriver)
	}
}

// loadCatalog seeds or imports catalog data into an empty store and returns
// the jurisdiction to compute. A jurisdiction from the seed or the catalog
// file is saved to the store; without either, the saved one is restored.
func loadCatalog(ctx context.Context, cfg config.Config, s statutory.Store, logger *slog.Logger) (statutory.Jurisdiction, error) {
	existing, err := s.DeductionTypes(ctx)
	if err != nil {
		return statutory.Jurisdiction{}, err
	}
	empty := len(existing) == 0

	switch {
	case cfg.SeedKenya:
		if empty {
			if err := kenya.Seed(ctx, s); err != nil {
				return statutory.Jurisdiction{}, fmt.Errorf("failed to seed Kenyan catalog: %w", err)
			}
			logger.Info("Kenyan catalog seeded", "schedules", len(kenya.Schedules()), "reliefs", len(kenya.Reliefs()))
		} else {
			logger.Info("store already holds a catalog, not seeding", "deduction_types", len(existing))
		}
		return saveJurisdiction(ctx, s, kenya.Jurisdiction())

	case cfg.CatalogPath != "":
		cat, err := factory.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return statutory.Jurisdiction{}, err
		}
		if empty {
			if err := cat.Apply(ctx, s); err != nil {
				return statutory.Jurisdiction{}, fmt.Errorf("failed to import %s: %w", cfg.CatalogPath, err)
			}
			logger.Info("catalog imported", "path", cfg.CatalogPath, "schedules", len(cat.Schedules), "reliefs", len(cat.Reliefs))
		} else if err := cat.Validate(ctx); err != nil {
			return statutory.Jurisdiction{}, fmt.Errorf("%s: %w", cfg.CatalogPath, err)
		}
		if cat.Jurisdiction != nil {
			return saveJurisdiction(ctx, s, *cat.Jurisdiction)
		}
		logger.Info("catalog has no jurisdiction, looking for a saved one", "path", cfg.CatalogPath)
	}
	return savedJurisdiction(ctx, s, logger)
}

func saveJurisdiction(ctx context.Context, s statutory.Store, j statutory.Jurisdiction) (statutory.Jurisdiction, error) {
	if err := j.Validate(); err != nil {
		return statutory.Jurisdiction{}, err
	}
	if js, ok := s.(statutory.JurisdictionStore); ok {
		if err := js.SaveJurisdiction(ctx, j); err != nil {
			return statutory.Jurisdiction{}, err
		}
	}
	return j, nil
}

func savedJurisdiction(ctx context.Context, s statutory.Store, logger *slog.Logger) (statutory.Jurisdiction, error) {
	if js, ok := s.(statutory.JurisdictionStore); ok {
		j, err := js.LoadJurisdiction(ctx)
		if err == nil {
			logger.Info("jurisdiction restored", "code", j.Code, "rules", len(j.Rules))
			return j, nil
		}
		if !errors.Is(err, statutory.ErrNoJurisdiction) {
			return statutory.Jurisdiction{}, err
		}
	}
	logger.Warn("no jurisdiction configured; computations fail until a catalog is POSTed to /api/catalog or a scenario is loaded")
	return statutory.Jurisdiction{}, nil
}
