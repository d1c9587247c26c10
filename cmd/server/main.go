/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cost spread engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Build logger
  3. Initialize SQLite store (migrations run here)
  4. Build calculator, spread ledger and source line factory
  5. Create API handler and router
  6. Start realization scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML config file (default: $COSTSPREAD_CONFIG or ./costspread.toml)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  Every config key can be overridden with COSTSPREAD_<SECTION>_<KEY>,
  e.g. COSTSPREAD_SPREAD_DAY_COUNT=30/360, COSTSPREAD_LOG_LEVEL=debug.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running check)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/cost-spread/api"
	"github.com/warp/cost-spread/config"
	"github.com/warp/cost-spread/factory"
	"github.com/warp/cost-spread/generic"
	"github.com/warp/cost-spread/spread"
	"github.com/warp/cost-spread/store/sqlite"
)

func main() {
	// Flags
	cfgPath := flag.String("config", "", "TOML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := config.NewLogger(cfg.Log)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	calc, err := cfg.Spread.Calculator()
	if err != nil {
		logger.Fatalf("Failed to build calculator: %v", err)
	}
	ledger := spread.NewSpreadLedger(store, calc, logger)
	ledger.AutoPost = cfg.Spread.AutoPost

	// Initialize handler
	handler := api.NewHandler(store, ledger, factory.NewSourceLineFactory(cfg.Accounts.DefaultAccounts()), logger)
	handler.CounterpartAccount = generic.AccountID(cfg.Accounts.Counterpart)

	scheduler := api.NewRealizationScheduler(ledger, store, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"db":        cfg.Database.Path,
			"day_count": cfg.Spread.DayCount,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("server stopped")
}
