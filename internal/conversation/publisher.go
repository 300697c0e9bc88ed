package conversation

import (
	"context"
	"fmt"

	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// Publisher enqueues inbound patient events for the booking workers.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueEvent publishes evt, grouped by patient.
func (p *Publisher) EnqueueEvent(ctx context.Context, evt Event) error {
	if evt.PatientID == "" {
		return ErrMissingPatient
	}
	payload, body, err := encodePayload(queuePayload{
		ID:    evt.MessageID,
		Kind:  jobTypeInbound,
		Event: evt,
	})
	if err != nil {
		return err
	}
	msg := outgoingMessage{
		GroupID:  evt.PatientID,
		DedupeID: payload.ID,
		Kind:     payload.Kind,
		Body:     body,
	}
	if err := p.queue.Send(ctx, msg); err != nil {
		return fmt.Errorf("conversation: failed to enqueue event: %w", err)
	}

	p.logger.Debug("patient event enqueued",
		"job_id", payload.ID,
		"patient", logging.MaskPhone(evt.PatientID),
	)
	return nil
}
