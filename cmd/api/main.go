package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/laserostop/booking-calendar/cmd/mainconfig"
	"github.com/laserostop/booking-calendar/internal/api/router"
	"github.com/laserostop/booking-calendar/internal/app/bootstrap"
	"github.com/laserostop/booking-calendar/internal/bookings"
	appconfig "github.com/laserostop/booking-calendar/internal/config"
	"github.com/laserostop/booking-calendar/internal/events"
	httpmiddleware "github.com/laserostop/booking-calendar/internal/http/middleware"
	"github.com/laserostop/booking-calendar/internal/notify"
	"github.com/laserostop/booking-calendar/internal/observability/metrics"
	"github.com/laserostop/booking-calendar/internal/observability/tracing"
	"github.com/laserostop/booking-calendar/internal/reporting"
	"github.com/laserostop/booking-calendar/internal/settings"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		logging.Default().Error("failed to read .env", "error", err)
		os.Exit(1)
	}
	cfg := appconfig.Load()

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting booking calendar API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.OTELServiceName,
	}, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	go app.deliverer.Start(ctx)
	go app.limiter.RunCleanup(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Flush whatever the last requests queued.
	app.deliverer.Drain(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}
	logger.Info("server stopped")
}

// application holds the wired components of the API process.
type application struct {
	handler   http.Handler
	deliverer *events.Deliverer
	limiter   *httpmiddleware.RateLimiter
	closers   []func()
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires stores, services and handlers. Without DATABASE_URL the
// process runs on in-memory stores, which suits local development.
func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*application, error) {
	app := &application{}

	grid, err := bootstrap.BuildGrid(cfg)
	if err != nil {
		return nil, err
	}
	center, err := bootstrap.DefaultCenter(cfg)
	if err != nil {
		return nil, err
	}

	pool, sqlDB, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var (
		store  bookings.Store
		outbox events.Outbox
		pinger router.Pinger
	)
	if pool != nil {
		app.closers = append(app.closers, pool.Close, func() { _ = sqlDB.Close() })
		store = bookings.NewPostgresStore(pool)
		outbox = events.NewOutboxStore(pool)
		pinger = pool
		logger.Info("postgres connected")
	} else {
		store = bookings.NewMemoryStore()
		outbox = events.NewMemoryOutbox()
		logger.Warn("DATABASE_URL not set; using in-memory stores")
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		app.closers = append(app.closers, func() { _ = redisClient.Close() })
	}
	settingsStore := bootstrap.BuildSettingsStore(sqlDB, redisClient, cfg, logger)

	registry, metricsHandler := setupMetrics()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	bookingSvc := bookings.NewService(store, bookings.NewEngine(grid), logger,
		bookings.WithPublisher(bookings.NewOutboxPublisher(outbox)),
		bookings.WithMetrics(bookingMetrics),
		bookings.WithDefaultCenter(center),
	)
	reportingSvc := reporting.NewService(store, grid, logger, reporting.WithDefaultCenter(center))

	sender := setupEmailSender(ctx, cfg, logger)
	mailer := notify.NewBookingMailer(sender, settingsStore, store, bookingMetrics, logger)
	app.deliverer = events.NewDeliverer(outbox, mailer, logger).WithInterval(cfg.OutboxPollInterval)

	app.limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	app.handler = router.New(&router.Config{
		Logger:             logger,
		BookingsHandler:    bookings.NewHandler(bookingSvc, logger),
		ReportingHandler:   reporting.NewHandler(reportingSvc, logger),
		SettingsHandler:    settings.NewHandler(settingsStore, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        app.limiter,
		Database:           pinger,
	})
	return app, nil
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func setupEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	var awsCfg *aws.Config
	if cfg.EmailProvider == "ses" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
		} else {
			awsCfg = &loaded
		}
	}
	sender, provider, reason := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	if reason != "" {
		logger.Warn("email provider unavailable; notifications are logged only", "requested", cfg.EmailProvider, "reason", reason)
	}
	logger.Info("email sender configured", "provider", provider)
	return sender
}
