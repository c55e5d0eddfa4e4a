package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/javi11/docvault/internal/api"
	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/qrcode"
	"github.com/javi11/docvault/internal/slogutil"
	"github.com/javi11/docvault/internal/stream"
	"github.com/javi11/docvault/internal/syncer"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the document portal",
		Long:  `Start the document portal HTTP server and the background sync loop using configuration from YAML file and environment.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration first (using default logger for config loading errors)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger, leveler := slogutil.SetupLogRotationWithFallback(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("Starting docvault with log rotation configured",
		"log_file", cfg.Log.File,
		"log_level", cfg.Log.Level,
		"max_size_mb", cfg.Log.MaxSize,
		"max_age_days", cfg.Log.MaxAge,
		"max_backups", cfg.Log.MaxBackups,
		"compress", cfg.Log.Compress)

	// Create config manager for dynamic configuration updates
	configManager := config.NewManager(cfg, configFile)
	configGetter := configManager.GetConfigGetter()

	configManager.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level != newConfig.Log.Level && leveler.SetLevelName(newConfig.Log.Level) {
			logger.Info("Log level updated dynamically",
				"old_level", oldConfig.Log.Level,
				"new_level", newConfig.Log.Level)
		}
		if oldConfig.Remote.Backend != newConfig.Remote.Backend {
			logger.Info("Remote backend changed (restart required)",
				"old", oldConfig.Remote.Backend,
				"new", newConfig.Remote.Backend)
		}
	})

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := initializeDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	docCache, err := initializeCache(cfg, logger)
	if err != nil {
		return err
	}

	store, err := newRemoteStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to create remote store", "backend", cfg.Remote.Backend, "err", err)
		return err
	}
	logger.Info("Remote store ready", "backend", cfg.Remote.Backend, "root_id", cfg.GetRemoteRootID())

	orchestrator := newOrchestrator(cfg, docCache, db, store)

	authService, err := setupAuthService(configGetter, logger)
	if err != nil {
		return err
	}

	qr, err := qrcode.NewGenerator(qrcode.DefaultSize, 0)
	if err != nil {
		return err
	}

	tracker := stream.NewTracker()
	defer tracker.Stop()

	deps := api.Dependencies{
		ConfigGetter: configGetter,
		Documents:    db.Documents,
		Cache:        docCache,
		Fetcher:      orchestrator,
		Streamer:     stream.NewStreamer(cfg.GetStreamChunkSize(), tracker),
		Auth:         authService,
		QR:           qr,
	}

	var worker *syncer.Worker
	if cfg.IsSyncEnabled() {
		worker = syncer.NewWorker(store, db.Documents, orchestrator, configGetter)
		worker.Start(ctx)
		deps.Sync = worker
		logger.Info("Sync worker started", "schedule", cfg.GetSyncSchedule())
	} else {
		logger.Info("Sync worker is disabled in configuration")
	}

	app := createFiberApp(cfg, logger, leveler)
	api.NewServer(deps).SetupRoutes(app)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	runErr := signalHandler(ctx, serverErr, func() {
		if err := configManager.ReloadConfig(); err != nil {
			logger.Error("Failed to reload configuration", "err", err)
			return
		}
		logger.Info("Configuration reloaded")
	})

	logger.Info("docvault shutting down gracefully")

	if worker != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		worker.Stop(stopCtx)
		stopCancel()
		logger.Info("Sync worker stopped")
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("HTTP server shutdown failed", "err", err)
	}

	cancel()
	return runErr
}

// signalHandler blocks until SIGINT/SIGTERM, a server error or ctx ends.
// SIGHUP runs reload and keeps waiting. A server error is returned.
func signalHandler(ctx context.Context, serverErr <-chan error, reload func()) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(c)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serverErr:
			slog.Error("HTTP server error", "err", err)
			return fmt.Errorf("http server failed: %w", err)
		case sig := <-c:
			if sig == syscall.SIGHUP {
				reload()
				continue
			}
			return nil
		}
	}
}
