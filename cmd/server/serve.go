package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stanstork/notification-api/internal/config"
	"github.com/stanstork/notification-api/internal/handlers"
	"github.com/stanstork/notification-api/internal/ingest"
	"github.com/stanstork/notification-api/internal/middleware"
	"github.com/stanstork/notification-api/internal/migration"
	"github.com/stanstork/notification-api/internal/notification"
	"github.com/stanstork/notification-api/internal/realtime"
	"github.com/stanstork/notification-api/internal/repository"
	"github.com/stanstork/notification-api/internal/routes"
	"github.com/stanstork/notification-api/internal/temporal"
	"github.com/stanstork/notification-api/internal/temporal/activities"
	"github.com/stanstork/notification-api/internal/temporal/workflows"
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type application struct {
	config   *config.Config
	db       *repository.DB
	logger   zerolog.Logger
	store    notification.Store
	mailer   *notification.SMTPMailer
	registry *realtime.Registry
	service  notification.Service

	// closers run in reverse order on shutdown.
	closers []func()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime endpoint and delivery pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := bootstrap()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := &application{config: cfg, logger: logger}
			defer app.close()
			return app.run(ctx)
		},
	}
}

func (app *application) run(ctx context.Context) error {
	cfg, logger := app.config, app.logger

	// Initialize database connection and schema.
	db, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	app.db = db
	app.closers = append(app.closers, func() { db.Close() })
	logger.Info().Str("driver", cfg.Database.Driver).Msg("Database connected successfully")

	if err := migration.Run(ctx, db.DB, cfg.Database.Driver, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	app.store = notification.Store{
		Notifications: repository.NewNotificationRepository(db),
		Deliveries:    repository.NewDeliveryRepository(db),
		Preferences:   repository.NewPreferenceRepository(db),
	}
	app.mailer = notification.NewSMTPMailer(cfg.Email, logger)
	app.registry = realtime.NewRegistry(logger)

	// Email verification never blocks startup.
	go func() {
		vctx, cancel := context.WithTimeout(context.Background(), cfg.Email.SendTimeout)
		defer cancel()
		app.mailer.VerifyConnection(vctx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	publisher := app.pushPublisher(gctx, g)
	emailNotifier := app.emailNotifier()

	app.service = notification.NewService(app.store, logger, notification.Options{
		DedupeScope:      notification.DedupeScope(cfg.Pipeline.DedupeScope),
		RecordDeliveries: cfg.Pipeline.RecordDeliveries,
		SyncTimeout:      cfg.Push.PublishTimeout,
		AsyncTimeout:     cfg.Email.SendTimeout,
		Resolver:         notification.NewResolver(notification.WithQuietHours(cfg.Preferences.EnforceQuietHours)),
	},
		notification.NewPushNotifier(publisher, logger),
		emailNotifier,
	)

	// ingestDone closes once no event source can call HandleEvent anymore.
	ingestDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := ingest.NewConsumer(ingest.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, app.service, logger)
		g.Go(func() error {
			defer close(ingestDone)
			return consumer.Run(gctx)
		})
	} else {
		close(ingestDone)
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.initHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info().Msgf("Notification API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := drainDeliveries(shutdownCtx, ingestDone, app.service); err != nil {
			logger.Warn().Err(err).Msg("Background deliveries still running at shutdown")
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("Application terminated.")
	return err
}

// drainDeliveries waits for the event sources to stop and only then for the
// deliveries they started, so a last event cannot add work after Wait returns.
func drainDeliveries(ctx context.Context, sourcesDone <-chan struct{}, service notification.Service) error {
	select {
	case <-sourcesDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return service.Wait(ctx)
}

// initHandler builds the router and wraps it in recovery, logging and CORS.
func (app *application) initHandler() http.Handler {
	cfg, logger := app.config, app.logger

	router := routes.NewRouter(
		handlers.NewNotificationHandler(app.service, logger),
		handlers.NewHealthHandler(app.db, cfg, logger),
		handlers.NewWebSocketHandler(app.registry, cfg.FrontendURLs, cfg.Push, logger),
	)
	wrapped := middleware.Recoverer(logger)(middleware.LoggingMiddleware(logger)(router))
	return h.CORS(
		h.AllowedOrigins(cfg.FrontendURLs),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization", "User-Agent"}),
		h.AllowCredentials(),
	)(wrapped)
}

// pushPublisher returns the local registry, or a Redis relay in front of it
// when redis.url is configured so every instance sees every push.
func (app *application) pushPublisher(ctx context.Context, g *errgroup.Group) realtime.Publisher {
	cfg := app.config.Redis
	if cfg.URL == "" {
		return app.registry
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Invalid redis.url")
	}
	client := redis.NewClient(opts)
	app.closers = append(app.closers, func() { client.Close() })

	relay := realtime.NewRedisRelay(client, cfg.Channel, app.registry, app.logger)
	g.Go(func() error {
		// Losing the relay degrades push to this instance only.
		if err := relay.Run(ctx); err != nil {
			app.logger.Error().Err(err).Msg("Push relay stopped")
		}
		return nil
	})
	return relay
}

// emailNotifier sends inline through SMTP unless Temporal is enabled, in which
// case a worker in this process runs the durable delivery workflow.
func (app *application) emailNotifier() notification.Notifier {
	cfg, logger := app.config.Temporal, app.logger
	if !cfg.Enabled {
		return notification.NewEmailNotifier(app.mailer, logger)
	}

	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    temporal.NewTemporalAdapter(logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	app.closers = append(app.closers, temporalClient.Close)

	w := worker.New(temporalClient, cfg.TaskQueue, worker.Options{})
	workflows.Register(w, &activities.Activities{
		Mailer:     app.mailer,
		Deliveries: app.store.Deliveries,
	})
	if err := w.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Unable to start Temporal worker")
	}
	app.closers = append(app.closers, func() {
		logger.Info().Msg("Stopping Temporal worker...")
		w.Stop()
	})
	return temporal.NewEmailNotifier(temporalClient, cfg.TaskQueue, cfg.MaxAttempts, logger)
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
}
