package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

type stubBooked struct {
	times []string
	err   error
	calls int
}

func (s *stubBooked) BookedTimes(_ context.Context, _, _ string) ([]string, error) {
	s.calls++
	return s.times, s.err
}

type stubBusy struct {
	ranges []TimeRange
	err    error
	block  bool
}

func (s *stubBusy) BusyRanges(ctx context.Context, _ string, _ time.Time) ([]TimeRange, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.ranges, s.err
}

func TestAvailabilitySlotsAppliesBookingsAndCalendar(t *testing.T) {
	doc := cardiologist()
	doc.CalendarID = "cal-1"
	date := day(t, "2024-01-03")

	booked := &stubBooked{times: []string{"09:00"}}
	busy := &stubBusy{ranges: []TimeRange{{Start: date.Add(9*time.Hour + 30*time.Minute), End: date.Add(10 * time.Hour)}}}
	a := NewAvailability(booked, logging.Discard(),
		WithBusySource(busy),
		WithClock(func() time.Time { return date.AddDate(0, 0, -1) }),
	)

	slots, err := a.Slots(context.Background(), doc, date)
	require.NoError(t, err)
	assert.Equal(t, "10:00", slots[0])
	assert.Len(t, slots, 12)
}

func TestAvailabilityFailsOpenOnCalendarError(t *testing.T) {
	doc := cardiologist()
	doc.CalendarID = "cal-1"
	date := day(t, "2024-01-03")

	m := metrics.NewBookingMetrics(prometheus.NewRegistry())
	a := NewAvailability(&stubBooked{}, logging.Discard(),
		WithBusySource(&stubBusy{err: errors.New("calendar down")}),
		WithMetrics(m),
		WithClock(func() time.Time { return date.AddDate(0, 0, -1) }),
	)

	slots, err := a.Slots(context.Background(), doc, date)
	require.NoError(t, err)
	assert.Len(t, slots, 14)
}

func TestAvailabilityFailsOpenOnCalendarTimeout(t *testing.T) {
	doc := cardiologist()
	doc.CalendarID = "cal-1"
	date := day(t, "2024-01-03")

	a := NewAvailability(&stubBooked{}, logging.Discard(),
		WithBusySource(&stubBusy{block: true}),
		WithBusyTimeout(20*time.Millisecond),
		WithClock(func() time.Time { return date.AddDate(0, 0, -1) }),
	)

	slots, err := a.Slots(context.Background(), doc, date)
	require.NoError(t, err)
	assert.Len(t, slots, 14)
}

func TestAvailabilityFailsLoudOnRepositoryError(t *testing.T) {
	date := day(t, "2024-01-03")
	a := NewAvailability(&stubBooked{err: errors.New("db down")}, logging.Discard())

	_, err := a.Slots(context.Background(), cardiologist(), date)
	require.Error(t, err)
}

func TestAvailabilitySkipsLookupsOnNonWorkingDay(t *testing.T) {
	booked := &stubBooked{}
	a := NewAvailability(booked, logging.Discard())

	slots, err := a.Slots(context.Background(), cardiologist(), day(t, "2024-01-02"))
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.Zero(t, booked.calls)
}
