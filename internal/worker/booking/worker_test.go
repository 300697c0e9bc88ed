package bookingworker

import (
	"context"
	"strings"
	"testing"

	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, logging.Discard()); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestRunRejectsMemoryQueue(t *testing.T) {
	err := Run(context.Background(), &appconfig.Config{UseMemoryQueue: true}, logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "USE_MEMORY_QUEUE") {
		t.Fatalf("expected memory queue error, got %v", err)
	}
}

func TestRunRequiresQueueURL(t *testing.T) {
	err := Run(context.Background(), &appconfig.Config{}, logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "BOOKING_QUEUE_URL") {
		t.Fatalf("expected queue url error, got %v", err)
	}
}
