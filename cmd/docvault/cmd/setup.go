package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	fLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/javi11/docvault/internal/api"
	"github.com/javi11/docvault/internal/auth"
	"github.com/javi11/docvault/internal/cache"
	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/database"
	"github.com/javi11/docvault/internal/fetch"
	"github.com/javi11/docvault/internal/pathutil"
	"github.com/javi11/docvault/internal/remote"
	"github.com/javi11/docvault/internal/remote/drive"
	"github.com/javi11/docvault/internal/remote/local"
	"github.com/javi11/docvault/internal/remote/s3"
	"github.com/javi11/docvault/internal/slogutil"
)

// initializeDatabase creates and migrates the metadata store
func initializeDatabase(cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		if err := pathutil.CheckFileDirectoryWritable(cfg.Database.Path, "database"); err != nil {
			logger.Error("database directory is not writable", "err", err)
			return nil, err
		}
	}

	db, err := database.NewDB(database.Config{
		Driver:       cfg.Database.Driver,
		DatabasePath: cfg.Database.Path,
		DSN:          cfg.Database.DSN,
	})
	if err != nil {
		logger.Error("failed to initialize database", "err", err)
		return nil, err
	}

	logger.Info("Database initialized", "driver", db.Dialect())
	return db, nil
}

// initializeCache opens the on-disk document cache
func initializeCache(cfg *config.Config, logger *slog.Logger) (*cache.Cache, error) {
	c, err := cache.NewOnDisk(cfg.Cache.RootPath, cache.Options{
		ChecksumCacheSize: cfg.GetChecksumCacheSize(),
	})
	if err != nil {
		logger.Error("failed to initialize cache", "root", cfg.Cache.RootPath, "err", err)
		return nil, err
	}

	logger.Info("Document cache ready", "root", cfg.Cache.RootPath)
	return c, nil
}

// newRemoteStore builds the content store selected by remote.backend
func newRemoteStore(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	switch cfg.Remote.Backend {
	case config.BackendDrive:
		store, err := drive.New(ctx, drive.Options{
			CredentialsFile: cfg.Remote.Drive.CredentialsFile,
			CredentialsJSON: cfg.Remote.Drive.CredentialsJSON,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendS3:
		store, err := s3.New(ctx, s3.Options{
			Endpoint:     cfg.Remote.S3.Endpoint,
			Region:       cfg.Remote.S3.Region,
			Bucket:       cfg.Remote.S3.Bucket,
			AccessKey:    cfg.Remote.S3.AccessKey,
			SecretKey:    cfg.Remote.S3.SecretKey,
			UsePathStyle: cfg.Remote.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendLocal, "":
		store, err := local.NewOnDisk(cfg.Remote.Local.Path)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}

// newOrchestrator wires the cache and the content store
func newOrchestrator(cfg *config.Config, c *cache.Cache, db *database.DB, store remote.Store) *fetch.Orchestrator {
	return fetch.NewOrchestrator(c, fetch.NewGuard(c), db.Documents, store, fetch.Options{
		ChunkSize:    cfg.GetDownloadChunkSize(),
		FetchTimeout: cfg.GetFetchTimeout(),
	})
}

// setupAuthService creates the session service
func setupAuthService(configGetter config.ConfigGetter, logger *slog.Logger) (*auth.Service, error) {
	authService, err := auth.NewService(configGetter)
	if err != nil {
		logger.Error("failed to create authentication service", "err", err)
		return nil, err
	}

	if len(configGetter().Auth.Users) == 0 {
		logger.Warn("No users configured, nobody will be able to log in")
	}

	return authService, nil
}

// createFiberApp creates and configures the Fiber application
func createFiberApp(cfg *config.Config, logger *slog.Logger, leveler *slogutil.DynamicLeveler) *fiber.App {
	app := api.NewApp(cfg, logger)

	// Request logging follows the runtime log level
	fiberLogger := fLogger.New(fLogger.Config{Output: os.Stdout})
	app.Use(func(c *fiber.Ctx) error {
		if leveler.Level() <= slog.LevelDebug {
			return fiberLogger(c)
		}
		return c.Next()
	})

	return app
}
