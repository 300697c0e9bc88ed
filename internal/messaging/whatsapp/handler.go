package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

const (
	maxWebhookBody     = 1 << 20
	defaultProfileName = "User"
)

type eventPublisher interface {
	EnqueueEvent(ctx context.Context, evt conversation.Event) error
}

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Handler serves the WhatsApp webhook.
type Handler struct {
	verifyToken string
	appSecret   string
	publisher   eventPublisher
	processed   processedEventStore
	metrics     *metrics.MessagingMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// HandlerOption customizes the webhook handler.
type HandlerOption func(*Handler)

// WithProcessedStore drops redelivered message ids.
func WithProcessedStore(store processedEventStore) HandlerOption {
	return func(h *Handler) {
		h.processed = store
	}
}

// WithMetrics records inbound counts and webhook latency.
func WithMetrics(m *metrics.MessagingMetrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates the webhook handler. An empty appSecret disables
// signature checks, which is only suitable for local development.
func NewHandler(verifyToken, appSecret string, publisher eventPublisher, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if publisher == nil {
		panic("whatsapp: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Verify handles GET /webhook, the subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" && token == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Webhook endpoint is active"})
		return
	}
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("whatsapp webhook verification failed", "mode", mode)
		http.Error(w, "Verification failed", http.StatusForbidden)
		return
	}
	h.logger.Info("whatsapp webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Head handles HEAD /webhook for uptime probes.
func (h *Handler) Head(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Receive handles POST /webhook.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	started := h.now()
	defer func() { h.metrics.ObserveWebhookLatency(r.Method, h.now().Sub(started).Seconds()) }()

	ctx, span := tracer.Start(r.Context(), "whatsapp.webhook")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if err := VerifySignature(h.appSecret, r.Header.Get(signatureHeader), body); err != nil {
		h.logger.Warn("invalid whatsapp signature")
		span.RecordError(err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	inbound, err := ParseWebhook(body, h.now())
	if err != nil {
		h.logger.Error("failed to parse whatsapp webhook", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.Int("whatsapp.messages", len(inbound.Messages)),
		attribute.Int("whatsapp.statuses", inbound.Statuses),
	)
	for i := 0; i < inbound.Ignored; i++ {
		h.metrics.ObserveInbound("unsupported", "ignored")
	}

	var failed bool
	for _, msg := range inbound.Messages {
		if !h.accept(ctx, msg) {
			continue
		}
		if err := h.publisher.EnqueueEvent(ctx, toConversationEvent(msg)); err != nil {
			failed = true
			span.RecordError(err)
			h.metrics.ObserveInbound(msg.Type, "error")
			h.logger.Error("failed to enqueue whatsapp message",
				"error", err,
				"message_id", msg.MessageID,
				"from", logging.MaskPhone(msg.From),
			)
			continue
		}
		h.metrics.ObserveInbound(msg.Type, "enqueued")
		h.markProcessed(ctx, msg)
	}

	// Non-2xx asks the platform to redeliver.
	if failed {
		http.Error(w, "Temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "EVENT_RECEIVED"})
}

// accept reports whether msg has not been enqueued before. Without a store
// every message is new.
func (h *Handler) accept(ctx context.Context, msg events.WhatsAppMessageReceivedV1) bool {
	if h.processed == nil || msg.MessageID == "" {
		return true
	}
	seen, err := h.processed.AlreadyProcessed(ctx, events.ProviderWhatsApp, msg.MessageID)
	if err != nil {
		h.logger.Warn("processed-event check failed, enqueuing anyway", "error", err, "message_id", msg.MessageID)
		return true
	}
	if seen {
		h.metrics.ObserveInbound(msg.Type, "duplicate")
		h.logger.Info("duplicate whatsapp message dropped", "message_id", msg.MessageID)
	}
	return !seen
}

func (h *Handler) markProcessed(ctx context.Context, msg events.WhatsAppMessageReceivedV1) {
	if h.processed == nil || msg.MessageID == "" {
		return
	}
	if _, err := h.processed.MarkProcessed(ctx, events.ProviderWhatsApp, msg.MessageID); err != nil {
		h.logger.Warn("failed to record processed message", "error", err, "message_id", msg.MessageID)
	}
}

func toConversationEvent(msg events.WhatsAppMessageReceivedV1) conversation.Event {
	name := msg.ProfileName
	if name == "" {
		name = defaultProfileName
	}
	return conversation.Event{
		PatientID:   msg.From,
		PatientName: name,
		Text:        msg.Text,
		SelectionID: msg.SelectionID,
		MessageID:   msg.MessageID,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var _ conversation.ReplyMessenger = (*Client)(nil)

