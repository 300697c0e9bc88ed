package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cityhospital/appointment-bot/internal/api/router"
	appbootstrap "github.com/cityhospital/appointment-bot/internal/app/bootstrap"
	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/internal/dashboard"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/messaging/whatsapp"
	"github.com/cityhospital/appointment-bot/internal/session"
	"github.com/cityhospital/appointment-bot/internal/webchat"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

func main() {
	// Load configuration
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded .env")
	}
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment-bot API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"hospital", cfg.HospitalName,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	// Initialize repositories and services
	stores, err := appbootstrap.BuildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	redisClient := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	sessions, locker, err := appbootstrap.BuildSessions(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	if mem, ok := sessions.(*session.MemoryStore); ok {
		go mem.Janitor(ctx, time.Minute)
	}

	metricsHandler, registry, bookingMetrics, messagingMetrics := setupMetrics()

	waClient, reason := appbootstrap.BuildWhatsAppClient(cfg, logger)
	if waClient != nil {
		logger.Info("whatsapp messenger initialized")
	} else {
		logger.Warn("whatsapp replies disabled", "reason", reason)
	}

	feed := dashboard.NewFeed(cfg.CORSAllowedOrigins, logger)
	notifier := appbootstrap.BuildNotifier(cfg, waClient, logger, feed)
	cal := appbootstrap.BuildCalendar(ctx, cfg, logger)

	engine, err := appbootstrap.BuildEngine(cfg, appbootstrap.EngineDeps{
		Stores:   stores,
		Sessions: sessions,
		Locker:   locker,
		Calendar: cal,
		Notifier: notifier,
		Metrics:  bookingMetrics,
	}, logger)
	if err != nil {
		return err
	}

	publisher, memoryQueue, err := setupQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var console *webchat.Handler
	messenger := appbootstrap.BuildOutboundMessenger(waClient, logger)
	if memoryQueue != nil {
		console = webchat.NewHandler(publisher, logger)
		messenger = webchat.NewRouter(console, messenger)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	worker := setupInlineWorker(workerCtx, cfg, logger, engine, memoryQueue, messenger, stores.Processed, messagingMetrics)
	if memoryQueue == nil && stores.Pool != nil {
		// Bookings made by the separate worker reach the feed through the outbox.
		deliverer := events.NewDeliverer(events.NewOutboxStore(stores.Pool), events.AppointmentDelivery{Target: feed}, logger)
		go deliverer.Start(workerCtx)
	}

	// Initialize handlers
	routerCfg := &router.Config{
		Logger: logger,
		WhatsApp: whatsapp.NewHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, publisher, logger,
			whatsapp.WithProcessedStore(stores.Processed),
			whatsapp.WithMetrics(messagingMetrics),
		),
		Dashboard: dashboard.NewHandler(stores.DB, stores.Directory, stores.Appointments, logger,
			dashboard.WithNotifier(notifier),
			dashboard.WithGatherer(registry),
			dashboard.WithLocation(cfg.Location()),
			dashboard.WithCalendar(cal, cfg.CalendarTimeout),
		),
		Feed:               feed,
		Console:            console,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ping:               stores.Ping,
	}
	if cfg.Env != "production" {
		routerCfg.Simulator = conversation.NewHandler(engine, logger)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	cancelWorkers()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	return nil
}
