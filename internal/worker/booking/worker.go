// Package bookingworker runs the booking engine against the SQS queue.
package bookingworker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cityhospital/appointment-bot/cmd/mainconfig"
	appbootstrap "github.com/cityhospital/appointment-bot/internal/app/bootstrap"
	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// Run starts the booking worker and blocks until ctx is canceled.
func Run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg == nil {
		return fmt.Errorf("booking worker requires config")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.UseMemoryQueue {
		return fmt.Errorf("booking worker cannot run when USE_MEMORY_QUEUE=true; run inline workers via the API process instead")
	}
	if cfg.BookingQueueURL == "" {
		return fmt.Errorf("booking worker requires BOOKING_QUEUE_URL")
	}

	stores, err := appbootstrap.BuildStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("worker failed to build stores: %w", err)
	}
	defer stores.Close()
	if stores.Pool == nil {
		logger.Warn("booking worker running without DATABASE_URL; appointments will not be shared with the API")
	}

	redisClient := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	sessions, locker, err := appbootstrap.BuildSessions(cfg, redisClient, logger)
	if err != nil {
		return err
	}

	client, reason := appbootstrap.BuildWhatsAppClient(cfg, logger)
	if client != nil {
		logger.Info("whatsapp messenger initialized for booking workers")
	} else {
		logger.Warn("whatsapp replies disabled for booking workers", "reason", reason)
	}
	messenger := appbootstrap.BuildOutboundMessenger(client, logger)

	bookingMetrics := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)
	messagingMetrics := metrics.NewMessagingMetrics(prometheus.DefaultRegisterer)

	var feedOutbox []conversation.Notifier
	if stores.Pool != nil {
		feedOutbox = append(feedOutbox, events.NewOutboxStore(stores.Pool))
	}

	engine, err := appbootstrap.BuildEngine(cfg, appbootstrap.EngineDeps{
		Stores:   stores,
		Sessions: sessions,
		Locker:   locker,
		Calendar: appbootstrap.BuildCalendar(ctx, cfg, logger),
		Notifier: appbootstrap.BuildNotifier(cfg, client, logger, feedOutbox...),
		Metrics:  bookingMetrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to configure booking engine: %w", err)
	}

	queue, err := mainconfig.NewBookingQueue(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure booking queue: %w", err)
	}

	worker := conversation.NewWorker(
		engine,
		queue,
		messenger,
		logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithReceiveWaitSeconds(20),
		conversation.WithProcessedEventsStore(stores.Processed),
		conversation.WithMessagingMetrics(messagingMetrics),
	)

	worker.Start(ctx)
	logger.Info("booking worker started", "workers", cfg.WorkerCount, "queue", cfg.BookingQueueURL)

	<-ctx.Done()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("booking worker stopped")
	case <-doneCtx.Done():
		logger.Error("booking worker shutdown timed out", "error", doneCtx.Err())
	}

	return nil
}
