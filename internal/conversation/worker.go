package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// workerProvider keys the worker's own idempotency records so queue
// redeliveries of a handled message are skipped.
const workerProvider = "booking-worker"

// Worker consumes patient events from the queue, runs them through the
// engine and delivers the replies.
type Worker struct {
	handler   EventHandler
	queue     queueClient
	messenger ReplyMessenger
	processed processedEventStore
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	sendTimeout      time.Duration
	processed        processedEventStore
	metrics          *metrics.MessagingMetrics
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	defaultSendTimeout   = 15 * time.Second
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithSendTimeout bounds delivery of the replies for one event.
func WithSendTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.sendTimeout = d
		}
	}
}

// WithProcessedEventsStore skips events whose message id was already handled.
func WithProcessedEventsStore(store processedEventStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// WithMessagingMetrics records outbound delivery results.
func WithMessagingMetrics(m *metrics.MessagingMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker constructs a queue consumer around the provided handler.
func NewWorker(handler EventHandler, queue queueClient, messenger ReplyMessenger, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		sendTimeout:      defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler:   handler,
		queue:     queue,
		messenger: messenger,
		processed: cfg.processed,
		metrics:   cfg.metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches the consumer goroutines; they stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("booking worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("booking worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive patient events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode patient event", "error", err, "msg_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	if payload.Kind != jobTypeInbound {
		w.logger.Warn("dropping unknown job kind", "kind", payload.Kind, "job_id", payload.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	evt := payload.Event
	if w.seen(ctx, evt.MessageID) {
		w.logger.Info("skipping already handled event", "message_id", evt.MessageID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	replies, err := w.handler.Handle(ctx, evt)
	if err != nil {
		if errors.Is(err, ErrMissingPatient) {
			w.deleteMessage(ctx, msg.ReceiptHandle)
			return
		}
		w.logger.Error("patient event failed",
			"error", err,
			"job_id", payload.ID,
			"patient", logging.MaskPhone(evt.PatientID),
		)
	}

	w.deliver(ctx, evt.PatientID, replies)
	w.markHandled(ctx, evt.MessageID)
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

// deliver sends replies in order and stops at the first failure, since
// later menus make no sense without the earlier text.
func (w *Worker) deliver(ctx context.Context, to string, replies []Reply) {
	if len(replies) == 0 {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.sendTimeout)
	defer cancel()

	for i, reply := range replies {
		if err := w.messenger.SendReply(sendCtx, to, reply); err != nil {
			w.metrics.ObserveOutbound(string(reply.Kind), "error")
			w.logger.Error("failed to send reply",
				"error", err,
				"patient", logging.MaskPhone(to),
				"kind", reply.Kind,
				"index", i,
				"dropped", len(replies)-i-1,
			)
			return
		}
		w.metrics.ObserveOutbound(string(reply.Kind), "sent")
	}
}

func (w *Worker) seen(ctx context.Context, messageID string) bool {
	if w.processed == nil || messageID == "" {
		return false
	}
	done, err := w.processed.AlreadyProcessed(ctx, workerProvider, messageID)
	if err != nil {
		w.logger.Warn("processed lookup failed", "error", err, "message_id", messageID)
		return false
	}
	return done
}

func (w *Worker) markHandled(ctx context.Context, messageID string) {
	if w.processed == nil || messageID == "" {
		return
	}
	if _, err := w.processed.MarkProcessed(context.WithoutCancel(ctx), workerProvider, messageID); err != nil {
		w.logger.Warn("failed to mark event processed", "error", err, "message_id", messageID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete queue message", "error", err)
	}
}
