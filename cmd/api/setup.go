package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cityhospital/appointment-bot/cmd/mainconfig"
	appbootstrap "github.com/cityhospital/appointment-bot/internal/app/bootstrap"
	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

const memoryQueueBuffer = 256

func setupMetrics() (http.Handler, *prometheus.Registry, *metrics.BookingMetrics, *metrics.MessagingMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, registry, metrics.NewBookingMetrics(registry), metrics.NewMessagingMetrics(registry)
}

// setupQueue returns the publisher and, in memory mode, the queue the inline
// worker consumes.
func setupQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*conversation.Publisher, *conversation.MemoryQueue, error) {
	if cfg.UseMemoryQueue {
		queue := conversation.NewMemoryQueue(memoryQueueBuffer)
		logger.Info("using in-memory booking queue", "workers", cfg.WorkerCount)
		return conversation.NewPublisher(queue, logger), queue, nil
	}
	queue, err := mainconfig.NewBookingQueue(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using sqs booking queue", "queue", cfg.BookingQueueURL)
	return conversation.NewPublisher(queue, logger), nil, nil
}

func setupInlineWorker(
	ctx context.Context,
	cfg *appconfig.Config,
	logger *logging.Logger,
	engine conversation.EventHandler,
	memoryQueue *conversation.MemoryQueue,
	messenger conversation.ReplyMessenger,
	processed appbootstrap.ProcessedStore,
	messagingMetrics *metrics.MessagingMetrics,
) *conversation.Worker {
	if memoryQueue == nil {
		return nil
	}
	opts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithMessagingMetrics(messagingMetrics),
	}
	if processed != nil {
		opts = append(opts, conversation.WithProcessedEventsStore(processed))
	}
	worker := conversation.NewWorker(engine, memoryQueue, messenger, logger, opts...)
	worker.Start(ctx)
	logger.Info("inline booking worker started", "workers", cfg.WorkerCount)
	return worker
}

func waitForInlineWorker(worker *conversation.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline booking worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("inline booking worker shutdown timed out")
	}
}
