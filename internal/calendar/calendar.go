// Package calendar mirrors appointments into doctors' external calendars.
package calendar

import (
	"context"
	"time"

	"github.com/cityhospital/appointment-bot/internal/scheduling"
)

// EventRequest describes an appointment event to create.
type EventRequest struct {
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	Duration    time.Duration
}

// Calendar is the external calendar collaborator. Callers treat it as
// best-effort: failures are logged, never surfaced to the patient.
type Calendar interface {
	BusyRanges(ctx context.Context, calendarID string, date time.Time) ([]scheduling.TimeRange, error)
	CreateEvent(ctx context.Context, req EventRequest) (eventID string, err error)
	// DeleteEvent removes eventID, or the event starting at start when eventID is empty.
	DeleteEvent(ctx context.Context, calendarID, eventID string, start time.Time) error
}

// IsSlotAvailable reports whether [start, start+minutes) is free on the
// calendar. Any lookup error counts as available.
func IsSlotAvailable(ctx context.Context, cal Calendar, calendarID string, date time.Time, clock string, minutes int) bool {
	if cal == nil || calendarID == "" {
		return true
	}
	start, err := scheduling.At(date, clock)
	if err != nil {
		return true
	}
	busy, err := cal.BusyRanges(ctx, calendarID, date)
	if err != nil {
		return true
	}
	end := start.Add(time.Duration(minutes) * time.Minute)
	for _, r := range busy {
		if r.Overlaps(start, end) {
			return false
		}
	}
	return true
}

// Noop is used when no calendar is configured.
type Noop struct{}

func (Noop) BusyRanges(context.Context, string, time.Time) ([]scheduling.TimeRange, error) {
	return nil, nil
}

func (Noop) CreateEvent(context.Context, EventRequest) (string, error) {
	return "", nil
}

func (Noop) DeleteEvent(context.Context, string, string, time.Time) error {
	return nil
}
