package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/javi11/docvault/internal/auth"
	"github.com/javi11/docvault/internal/cache"
	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/database"
	"github.com/javi11/docvault/internal/fetch"
	"github.com/javi11/docvault/internal/metrics"
	"github.com/javi11/docvault/internal/qrcode"
	"github.com/javi11/docvault/internal/stream"
	"github.com/javi11/docvault/internal/syncer"
	"golang.org/x/sync/singleflight"
)

// downloadAllLimit caps the number of documents in one zip export.
const downloadAllLimit = 1000

// SyncController is the part of the sync worker exposed over HTTP.
type SyncController interface {
	Status() syncer.Status
	Trigger() error
	TriggerAsync()
}

// Dependencies groups the services the HTTP surface is built on.
type Dependencies struct {
	ConfigGetter config.ConfigGetter
	Documents    *database.DocumentRepository
	Cache        *cache.Cache
	Fetcher      *fetch.Orchestrator
	Streamer     *stream.Streamer
	Auth         *auth.Service
	Sync         SyncController // nil when the sync loop is disabled
	QR           *qrcode.Generator
}

// Server represents the document portal HTTP server
type Server struct {
	configGetter config.ConfigGetter
	docs         *database.DocumentRepository
	cache        *cache.Cache
	fetcher      *fetch.Orchestrator
	streamer     *stream.Streamer
	authService  *auth.Service
	sync         SyncController
	qr           *qrcode.Generator
	stats        singleflight.Group
	logger       *slog.Logger
	startTime    time.Time
}

// NewServer creates the portal server. Routes are registered by SetupRoutes.
func NewServer(deps Dependencies) *Server {
	return &Server{
		configGetter: deps.ConfigGetter,
		docs:         deps.Documents,
		cache:        deps.Cache,
		fetcher:      deps.Fetcher,
		streamer:     deps.Streamer,
		authService:  deps.Auth,
		sync:         deps.Sync,
		qr:           deps.QR,
		logger:       slog.Default().With("component", "api"),
		startTime:    time.Now(),
	}
}

// NewApp creates a fiber app configured with the portal error handler.
func NewApp(cfg *config.Config, logger *slog.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "docvault",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          ErrorHandler(logger),
	})
}

// SetupRoutes registers every route on app. Public routes are registered first.
func (s *Server) SetupRoutes(app *fiber.App) {
	cfg := s.configGetter()

	app.Use(RecoveryMiddleware())
	app.Use(RequestContextMiddleware())
	app.Use(metrics.Middleware())
	app.Use(LoggingMiddleware())
	app.Use(auth.Middleware(s.authService))

	// Public
	app.Get("/live", s.handleLive)
	app.Get("/login", s.handleLoginPage)
	app.Post("/login", s.handleLogin)
	app.Get("/logout", s.handleLogout)
	app.Post("/drive_webhook", s.handleDriveWebhook)
	if cfg.IsMetricsEnabled() {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	// JSON API
	apiGroup := app.Group("/api", auth.RequireAPISession())
	apiGroup.Post("/mark_status", s.handleMarkStatus)
	apiGroup.Get("/stats", s.handleStats)
	apiGroup.Get("/history/*", s.handleHistory)
	apiGroup.Get("/sync/status", s.handleSyncStatus)
	apiGroup.Post("/sync/trigger", s.handleSyncTrigger)
	apiGroup.Get("/streams", s.handleStreams)
	apiGroup.Get("/cache", s.handleCache)

	// Pages
	page := auth.RequireSession()
	app.Get("/", page, s.handleDashboard)
	app.Get("/type/:type", page, s.handleTypePage)
	app.Get("/report/*", page, s.handleReport)
	app.Get("/view/*", page, s.handleView)
	app.Get("/stream/*", page, s.handleStream)
	app.Get("/pdf/*", page, s.handlePDF)
	app.Get("/download/*", page, s.handleDownload)
	app.Get("/download_all/:type", page, s.handleDownloadAll)
	app.Get("/generate_qr/*", page, s.handleGenerateQR)
	app.Get("/qr/*", page, s.handleQRPage)
	app.Get("/search", page, s.handleSearch)
	app.Get("/report-categories", page, s.handleReportCategories)
}
