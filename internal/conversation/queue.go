package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// queueClient is the transport between the webhook and the booking workers.
type queueClient interface {
	Send(ctx context.Context, msg outgoingMessage) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// outgoingMessage is one job on its way to the queue. GroupID orders the jobs
// of one patient and DedupeID lets FIFO queues drop redeliveries of the same
// WhatsApp message.
type outgoingMessage struct {
	GroupID  string
	DedupeID string
	Kind     jobType
	Body     string
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const jobTypeInbound jobType = "whatsapp.inbound.v1"

type queuePayload struct {
	ID         string    `json:"id"`
	Kind       jobType   `json:"kind"`
	Event      Event     `json:"event"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
