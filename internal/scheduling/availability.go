package scheduling

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

var tracer = otel.Tracer("cityhospital.appointment-bot.scheduling")

const defaultBusyTimeout = 5 * time.Second

// BookedTimesLister returns the "HH:MM" times already held for a doctor on a date.
type BookedTimesLister interface {
	BookedTimes(ctx context.Context, doctorID, date string) ([]string, error)
}

// BusySource reports externally busy ranges for a calendar on a date.
type BusySource interface {
	BusyRanges(ctx context.Context, calendarID string, date time.Time) ([]TimeRange, error)
}

// Availability composes slot generation with local bookings and the external calendar.
type Availability struct {
	booked      BookedTimesLister
	busy        BusySource
	busyTimeout time.Duration
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// AvailabilityOption customizes an Availability.
type AvailabilityOption func(*Availability)

// WithBusySource wires the external calendar. Without it no external ranges are applied.
func WithBusySource(src BusySource) AvailabilityOption {
	return func(a *Availability) {
		a.busy = src
	}
}

// WithBusyTimeout bounds each external calendar lookup.
func WithBusyTimeout(d time.Duration) AvailabilityOption {
	return func(a *Availability) {
		if d > 0 {
			a.busyTimeout = d
		}
	}
}

// WithMetrics records lookup latency and calendar failures.
func WithMetrics(m *metrics.BookingMetrics) AvailabilityOption {
	return func(a *Availability) {
		a.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AvailabilityOption {
	return func(a *Availability) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAvailability builds the slot lookup service.
func NewAvailability(booked BookedTimesLister, logger *logging.Logger, opts ...AvailabilityOption) *Availability {
	if booked == nil {
		panic("scheduling: booked times lister cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Availability{
		booked:      booked,
		busyTimeout: defaultBusyTimeout,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Slots returns the open slot times for doc on date. A repository error is
// returned to the caller; an external calendar error is logged and the
// calendar is treated as free.
func (a *Availability) Slots(ctx context.Context, doc doctors.Doctor, date time.Time) ([]string, error) {
	ctx, span := tracer.Start(ctx, "scheduling.slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("doctor.id", doc.ID),
		attribute.String("date", date.Format(DateLayout)),
	)

	started := time.Now()
	defer func() { a.metrics.ObserveSlotLookup(time.Since(started).Seconds()) }()

	candidates := GenerateSlots(doc, date)
	if len(candidates) == 0 {
		return nil, nil
	}

	booked, err := a.booked.BookedTimes(ctx, doc.ID, date.Format(DateLayout))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scheduling: booked times: %w", err)
	}

	busy := a.busyRanges(ctx, doc, date)
	return FilterAvailable(doc, date, candidates, booked, busy, a.now()), nil
}

func (a *Availability) busyRanges(ctx context.Context, doc doctors.Doctor, date time.Time) []TimeRange {
	if a.busy == nil || doc.CalendarID == "" {
		return nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, a.busyTimeout)
	defer cancel()

	ranges, err := a.busy.BusyRanges(lookupCtx, doc.CalendarID, date)
	if err != nil {
		a.metrics.ObserveCalendarFailure("busy")
		a.logger.Warn("calendar busy lookup failed, treating calendar as free",
			"doctor_id", doc.ID,
			"date", date.Format(DateLayout),
			"error", err,
		)
		return nil
	}
	return ranges
}
