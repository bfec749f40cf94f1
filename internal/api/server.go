// Package api assembles the HTTP surface: webhooks in, administration out.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/dispatch"
	"github.com/notifyarr/notifyarr/internal/ingest"
	"github.com/notifyarr/notifyarr/internal/mailer"
	"github.com/notifyarr/notifyarr/internal/maintenance"
	"github.com/notifyarr/notifyarr/internal/reconcile"
	"github.com/notifyarr/notifyarr/internal/scheduler"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/store"
	"github.com/notifyarr/notifyarr/internal/usersync"
)

// Server handles HTTP requests for the NotifyArr API.
type Server struct {
	echo   *echo.Echo
	store  *store.Store
	cfg    *config.Config
	logger zerolog.Logger

	ingestService      *ingest.Service
	dispatchService    *dispatch.Service
	maintenanceService *maintenance.Service
	settingsService    *settings.Service
	syncService        *usersync.Service
	reconcileService   *reconcile.Service
	mail               mailer.Sender
	sched              *scheduler.Scheduler

	startTime time.Time
}

// Deps carries the wired services the server exposes.
type Deps struct {
	Store       *store.Store
	Ingest      *ingest.Service
	Dispatch    *dispatch.Service
	Maintenance *maintenance.Service
	Settings    *settings.Service
	Sync        *usersync.Service
	Reconcile   *reconcile.Service
	Mailer      mailer.Sender
	Scheduler   *scheduler.Scheduler
}

// NewServer creates a new API server instance.
func NewServer(deps Deps, cfg *config.Config, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:               e,
		store:              deps.Store,
		cfg:                cfg,
		logger:             logger,
		ingestService:      deps.Ingest,
		dispatchService:    deps.Dispatch,
		maintenanceService: deps.Maintenance,
		settingsService:    deps.Settings,
		syncService:        deps.Sync,
		reconcileService:   deps.Reconcile,
		mail:               deps.Mailer,
		sched:              deps.Scheduler,
		startTime:          time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	// Inbound webhooks from the external services.
	ingestHandlers := ingest.NewHandlers(s.ingestService)
	ingestHandlers.RegisterRoutes(api.Group("/webhooks"))

	// Maintenance window administration.
	maintenanceHandlers := maintenance.NewHandlers(s.maintenanceService)
	maintenanceHandlers.RegisterRoutes(api.Group("/maintenance"))

	// Notification inspection and resend.
	api.GET("/notifications", s.listNotifications)
	api.POST("/notifications/:id/resend", s.resendNotification)

	// Runtime settings.
	settingsGroup := api.Group("/settings")
	settingsGroup.GET("", s.getSettings)
	settingsGroup.PUT("/:key", s.updateSetting)

	// Read-only views of tracked state.
	api.GET("/users", s.listUsers)
	api.GET("/requests", s.listRequests)
	api.GET("/issues", s.listIssues)

	// Scheduled tasks.
	api.GET("/tasks", s.listTasks)
	api.POST("/tasks/:id/run", s.runTask)

	// Manual triggers for the bigger sweeps.
	api.POST("/sync", s.triggerSync)
	api.POST("/reconcile", s.triggerReconcile)
	api.POST("/test-email", s.sendTestEmail)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	userCount, _ := s.store.CountUsers(ctx)
	requestCount, _ := s.store.CountRequests(ctx, "")
	episodeCount, _ := s.store.CountEpisodes(ctx)
	notificationCount, _ := s.store.CountNotifications(ctx, nil)
	openIssues, _ := s.store.CountIssues(ctx, store.IssueOpen)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":       "0.1.0",
		"startTime":     s.startTime.Format(time.RFC3339),
		"users":         userCount,
		"requests":      requestCount,
		"episodes":      episodeCount,
		"notifications": notificationCount,
		"openIssues":    openIssues,
	})
}
