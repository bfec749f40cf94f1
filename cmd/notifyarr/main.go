package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notifyarr/notifyarr/internal/api"
	"github.com/notifyarr/notifyarr/internal/arr"
	"github.com/notifyarr/notifyarr/internal/batch"
	"github.com/notifyarr/notifyarr/internal/config"
	"github.com/notifyarr/notifyarr/internal/database"
	"github.com/notifyarr/notifyarr/internal/dispatch"
	"github.com/notifyarr/notifyarr/internal/ingest"
	"github.com/notifyarr/notifyarr/internal/issues"
	"github.com/notifyarr/notifyarr/internal/logger"
	"github.com/notifyarr/notifyarr/internal/maintenance"
	"github.com/notifyarr/notifyarr/internal/mailer"
	"github.com/notifyarr/notifyarr/internal/mediaserver"
	"github.com/notifyarr/notifyarr/internal/qualitymon"
	"github.com/notifyarr/notifyarr/internal/reconcile"
	"github.com/notifyarr/notifyarr/internal/scheduler"
	"github.com/notifyarr/notifyarr/internal/seerr"
	"github.com/notifyarr/notifyarr/internal/settings"
	"github.com/notifyarr/notifyarr/internal/startup"
	"github.com/notifyarr/notifyarr/internal/store"
	"github.com/notifyarr/notifyarr/internal/stuckmon"
	"github.com/notifyarr/notifyarr/internal/summary"
	"github.com/notifyarr/notifyarr/internal/usersync"
)

func main() {
	// A .env file is optional; environment variables win either way.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	log.Info().Str("logLevel", cfg.Logging.Level).Msg("starting NotifyArr")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	st := store.New(db.Conn())

	// External service clients.
	seerrClient := seerr.NewClient(cfg.Seerr, log.Logger)
	sonarrClient := arr.NewSonarr(cfg.Sonarr, log.Logger)
	radarrClient := arr.NewRadarr(cfg.Radarr, log.Logger)
	mediaClient := mediaserver.NewClient(cfg.MediaServer, log.Logger)
	smtp := mailer.New(cfg.SMTP, log.Logger)

	settingsService := settings.New(st, cfg)

	// Engine services. The ingest service is the shared entry point for
	// webhooks and the reconciliation sweep.
	issueService := issues.New(st, sonarrClient, radarrClient, seerrClient, settingsService, log.Logger)
	stuckService := stuckmon.New(st, sonarrClient, radarrClient, settingsService, cfg, log.Logger)
	qualityService := qualitymon.New(st, sonarrClient, radarrClient, mediaClient, settingsService, cfg, log.Logger)
	ingestService := ingest.New(st, seerrClient, issueService, stuckService, qualityService, cfg, log.Logger)
	batchService := batch.New(st, sonarrClient, smtp, settingsService, cfg, log.Logger)
	dispatchService := dispatch.New(st, smtp, settingsService, log.Logger)
	maintenanceService := maintenance.New(st, smtp, settingsService, log.Logger)
	reconcileService := reconcile.New(st, sonarrClient, radarrClient, ingestService, settingsService, cfg, log.Logger)
	syncService := usersync.New(st, seerrClient, sonarrClient, log.Logger)
	summaryService := summary.New(st, settingsService, log.Logger)

	// Verify upstream connectivity, retrying through transient network
	// failures at boot.
	retryCfg := startup.DefaultRetryConfig()
	if err := startup.WithRetry(context.Background(), "seerr connection", retryCfg, func() error {
		return seerrClient.Test(context.Background())
	}, &log.Logger); err != nil {
		log.Warn().Err(err).Msg("request-tracking service unreachable, continuing anyway")
	}

	sched, err := scheduler.New(log.Logger, maintenanceService.Gate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	registerTasks(sched, cfg, batchService, dispatchService, qualityService,
		stuckService, reconcileService, syncService, summaryService, maintenanceService, log)

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	server := api.NewServer(api.Deps{
		Store:       st,
		Ingest:      ingestService,
		Dispatch:    dispatchService,
		Maintenance: maintenanceService,
		Settings:    settingsService,
		Sync:        syncService,
		Reconcile:   reconcileService,
		Mailer:      smtp,
		Scheduler:   sched,
	}, cfg, log.Logger)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.Start(addr); err != nil {
			log.Info().Msg("server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}

func registerTasks(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	batchService *batch.Service,
	dispatchService *dispatch.Service,
	qualityService *qualitymon.Service,
	stuckService *stuckmon.Service,
	reconcileService *reconcile.Service,
	syncService *usersync.Service,
	summaryService *summary.Service,
	maintenanceService *maintenance.Service,
	log *logger.Logger,
) {
	tasks := []scheduler.TaskConfig{
		{
			ID:                    "batch-release",
			Name:                  "Episode Batch Release",
			Description:           "Releases or extends queued episode notification batches",
			Interval:              cfg.Workers.BatchCheckInterval,
			Func:                  batchService.RunCycle,
			SkipDuringMaintenance: true,
		},
		{
			ID:                    "dispatch",
			Name:                  "Notification Dispatch",
			Description:           "Delivers due non-episode notifications by email",
			Interval:              cfg.Workers.DispatchInterval,
			Func:                  dispatchService.RunCycle,
			SkipDuringMaintenance: true,
		},
		{
			ID:                    "quality-monitor",
			Name:                  "Quality Monitor",
			Description:           "Checks unfinished requests for missing or upcoming content",
			Interval:              cfg.Workers.QualityInterval,
			Func:                  qualityService.RunCycle,
			SkipDuringMaintenance: true,
		},
		{
			ID:                    "stuck-monitor",
			Name:                  "Stuck Download Monitor",
			Description:           "Detects stalled queue items and alerts the admin",
			Interval:              cfg.Workers.StuckInterval,
			Func:                  stuckService.RunCycle,
			SkipDuringMaintenance: true,
		},
		{
			ID:                    "reconcile",
			Name:                  "Reconciliation Sweep",
			Description:           "Replays imports the webhooks missed and expires stale issues",
			Interval:              cfg.Workers.ReconcileInterval,
			Func:                  reconcileService.RunCycle,
			SkipDuringMaintenance: true,
		},
		{
			ID:                    "user-sync",
			Name:                  "User and Request Sync",
			Description:           "Mirrors users and requests from the request-tracking service",
			Interval:              time.Hour,
			Func:                  syncService.RunCycle,
			RunOnStart:            true,
			SkipDuringMaintenance: true,
		},
		{
			ID:                    "weekly-summary",
			Name:                  "Weekly Summary",
			Description:           "Queues the weekly activity digest for the admin",
			Interval:              7 * 24 * time.Hour,
			Func:                  summaryService.RunCycle,
			SkipDuringMaintenance: true,
		},
		{
			// Lifecycle transitions must run during the windows themselves.
			ID:          "maintenance-lifecycle",
			Name:        "Maintenance Lifecycle",
			Description: "Activates, reminds about, and completes maintenance windows",
			Interval:    time.Minute,
			Func:        maintenanceService.RunCycle,
		},
	}

	for _, task := range tasks {
		if err := sched.RegisterTask(task); err != nil {
			log.Fatal().Err(err).Str("task", task.ID).Msg("failed to register task")
		}
	}
}
