package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/stanstork/uxlens-api/internal/analysis"
	"github.com/stanstork/uxlens-api/internal/authz"
	"github.com/stanstork/uxlens-api/internal/config"
	"github.com/stanstork/uxlens-api/internal/engine"
	"github.com/stanstork/uxlens-api/internal/handlers"
	"github.com/stanstork/uxlens-api/internal/jobs"
	"github.com/stanstork/uxlens-api/internal/middleware"
	"github.com/stanstork/uxlens-api/internal/migration"
	"github.com/stanstork/uxlens-api/internal/notification"
	"github.com/stanstork/uxlens-api/internal/report"
	"github.com/stanstork/uxlens-api/internal/repository"
	"github.com/stanstork/uxlens-api/internal/routes"
	"github.com/stanstork/uxlens-api/internal/scoring"
	"github.com/stanstork/uxlens-api/internal/storage"
	"github.com/stanstork/uxlens-api/internal/temporal"
	"github.com/stanstork/uxlens-api/internal/temporal/activities"
	"github.com/stanstork/uxlens-api/internal/temporal/workflows"
	"github.com/stanstork/uxlens-api/internal/validation"
	recovery "github.com/stanstork/uxlens-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config         *config.Config
	db             *sql.DB
	logger         zerolog.Logger
	dispatcher     jobs.Dispatcher
	temporalClient tc.Client
	temporalWorker worker.Worker
	notifications  notification.Service
	analyses       *analysis.Manager
	reports        *report.Manager
	scheduler      *cron.Cron
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	app := &application{config: cfg, db: db, logger: logger}
	app.initDispatcher()
	app.initManagers()

	if app.temporalClient != nil {
		app.startTemporalWorker()
		defer app.temporalClient.Close()
	} else {
		// The in-process pool keeps no state across restarts.
		rec := recovery.NewWorker(repository.NewAnalysisRepository(db), repository.NewReportRepository(db), app.dispatcher, logger)
		if _, err := rec.Recover(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to recover orphaned jobs")
		}
	}

	app.startScheduler()

	// Initialize the HTTP router and middleware.
	router := app.initRouter()
	loggedRouter := middleware.Logging(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.CORS.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.ExposedHeaders([]string{"Content-Disposition"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler)

	logger.Info().Msg("Application terminated.")
}

// initDispatcher selects the job backend.
func (app *application) initDispatcher() {
	jobsCfg := app.config.Jobs
	if jobsCfg.Backend != config.JobBackendTemporal {
		app.dispatcher = jobs.NewPool(jobs.PoolOptions{
			MaxWorkers: jobsCfg.MaxWorkers,
			QueueSize:  jobsCfg.QueueSize,
		}, app.logger)
		app.logger.Info().Int("max_workers", jobsCfg.MaxWorkers).Msg("Using in-process job pool")
		return
	}

	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  app.config.Temporal.HostPort,
		Namespace: app.config.Temporal.Namespace,
		Logger:    temporal.NewZerologAdapter(app.logger),
	})
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	app.temporalClient = temporalClient
	app.dispatcher = temporal.NewDispatcher(temporalClient, temporal.NewRegistry(), app.logger)
	app.logger.Info().Str("host_port", app.config.Temporal.HostPort).Msg("Using Temporal job backend")
}

func (app *application) initManagers() {
	ctx := context.Background()
	cfg := app.config

	analysisRepo := repository.NewAnalysisRepository(app.db)
	projectRepo := repository.NewProjectRepository(app.db)
	reportRepo := repository.NewReportRepository(app.db)

	// Notifications
	var notifiers []notification.Notifier
	if cfg.Email.Enabled {
		emailNotifier, err := notification.NewEmailNotifier(cfg.Email, app.logger)
		if err != nil {
			app.logger.Fatal().Err(err).Msg("failed to configure email notifier")
		}
		notifiers = append(notifiers, emailNotifier)
	}
	app.notifications = notification.NewService(repository.NewNotificationRepository(app.db), app.logger, notifiers...)

	// Report artifact store
	var store storage.ArtifactStore
	if cfg.Storage.Endpoint == "" {
		app.logger.Warn().Msg("No storage endpoint configured, report files are kept in memory")
		store = storage.NewMemory()
	} else {
		minioStore, err := storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			app.logger.Fatal().Err(err).Msg("Failed to initialize report storage")
		}
		store = minioStore
	}

	validator, err := validation.NewConfigValidator()
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to load configuration schema")
	}

	app.analyses = analysis.NewManager(analysisRepo, projectRepo, app.newScorer(), app.dispatcher, app.notifications, validator,
		analysis.Options{Timeout: cfg.Jobs.AnalysisTimeout}, app.logger)
	app.reports = report.NewManager(reportRepo, analysisRepo, projectRepo, store, app.dispatcher, app.notifications,
		report.Options{Timeout: cfg.Jobs.ReportTimeout, Retention: cfg.Reports.Retention}, app.logger)
}

func (app *application) newScorer() scoring.Scorer {
	engineCfg := app.config.Engine
	if !engineCfg.Enabled {
		return scoring.NewPlaceholder(app.config.Jobs.PlaceholderDelay, time.Now().UnixNano())
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to create Docker client")
	}
	engineClient := engine.NewClient(engine.NewDockerRunner(dockerClient), engineCfg.Container)
	if engineCfg.Bin != "" {
		engineClient.Bin = engineCfg.Bin
	}
	if engineCfg.Timeout > 0 {
		engineClient.Timeout = engineCfg.Timeout
	}
	app.logger.Info().Str("container", engineCfg.Container).Msg("Using analyzer engine")
	return scoring.NewEngineScorer(engineClient)
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter() http.Handler {
	return routes.NewRouter(authz.NewAuthenticator(app.config.JWTSecret), routes.Handlers{
		Health:        handlers.NewHealthHandler(app.db),
		Analyses:      handlers.NewAnalysisHandler(app.analyses, app.logger),
		Reports:       handlers.NewReportHandler(app.reports, app.logger),
		Notifications: handlers.NewNotificationHandler(app.notifications, app.logger),
	})
}

// startTemporalWorker runs the job workflow and activity. Managers must be
// built first so their handlers are in the registry.
func (app *application) startTemporalWorker() {
	d, ok := app.dispatcher.(*temporal.Dispatcher)
	if !ok {
		return
	}

	w := worker.New(app.temporalClient, temporal.TaskQueueName, worker.Options{})
	w.RegisterWorkflowWithOptions(workflows.JobWorkflow, workflow.RegisterOptions{Name: temporal.JobWorkflowName})
	w.RegisterActivityWithOptions(activities.New(d.Registry()).RunJobActivity, activity.RegisterOptions{Name: temporal.RunJobActivityName})

	// Start the worker in a goroutine so it doesn't block.
	go func() {
		app.logger.Info().Msg("Starting Temporal worker...")
		if err := w.Run(worker.InterruptCh()); err != nil {
			app.logger.Fatal().Err(err).Msg("Unable to start worker")
		}
	}()
	app.temporalWorker = w
}

func (app *application) startScheduler() {
	schedule := app.config.Reports.PurgeSchedule
	if schedule == "" {
		return
	}
	app.scheduler = cron.New()
	_, err := app.scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := app.reports.PurgeExpired(ctx); err != nil {
			app.logger.Error().Err(err).Msg("Failed to purge expired reports")
		}
	})
	if err != nil {
		app.logger.Fatal().Err(err).Str("schedule", schedule).Msg("Invalid report purge schedule")
	}
	app.scheduler.Start()
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler) {
	logger := app.logger
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	if app.scheduler != nil {
		<-app.scheduler.Stop().Done()
	}

	// In-flight pool jobs are cancelled and record themselves as interrupted.
	if err := app.dispatcher.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Job dispatcher shutdown error")
	}

	if app.temporalWorker != nil {
		logger.Info().Msg("Stopping Temporal worker...")
		app.temporalWorker.Stop()
		logger.Info().Msg("Temporal worker stopped.")
	}
}
