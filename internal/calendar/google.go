package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/cityhospital/appointment-bot/internal/scheduling"
)

// ErrEventNotFound is returned when no event matches a delete by start time.
var ErrEventNotFound = errors.New("calendar: event not found")

// GoogleCalendar talks to the Google Calendar v3 API.
type GoogleCalendar struct {
	svc      *gcal.Service
	timeZone string
}

// NewGoogleCalendar builds a client. Pass option.WithCredentialsJSON or
// option.WithCredentialsFile for a service account.
func NewGoogleCalendar(ctx context.Context, timeZone string, opts ...option.ClientOption) (*GoogleCalendar, error) {
	opts = append([]option.ClientOption{option.WithScopes(gcal.CalendarScope)}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &GoogleCalendar{svc: svc, timeZone: timeZone}, nil
}

func (g *GoogleCalendar) BusyRanges(ctx context.Context, calendarID string, date time.Time) ([]scheduling.TimeRange, error) {
	dayStart := scheduling.StartOfDay(date)
	dayEnd := dayStart.AddDate(0, 0, 1)

	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin:  dayStart.Format(time.RFC3339),
		TimeMax:  dayEnd.Format(time.RFC3339),
		TimeZone: g.timeZone,
		Items:    []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy %s: %s", calendarID, cal.Errors[0].Reason)
	}

	out := make([]scheduling.TimeRange, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy end: %w", err)
		}
		out = append(out, scheduling.TimeRange{Start: start, End: end})
	}
	return out, nil
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, req EventRequest) (string, error) {
	if req.Duration <= 0 {
		req.Duration = 30 * time.Minute
	}
	event := &gcal.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start: &gcal.EventDateTime{
			DateTime: req.Start.Format(time.RFC3339),
			TimeZone: g.timeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: req.Start.Add(req.Duration).Format(time.RFC3339),
			TimeZone: g.timeZone,
		},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "popup", Minutes: 60},
				{Method: "popup", Minutes: 10},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	created, err := g.svc.Events.Insert(req.CalendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	return created.Id, nil
}

func (g *GoogleCalendar) DeleteEvent(ctx context.Context, calendarID, eventID string, start time.Time) error {
	if strings.TrimSpace(eventID) == "" {
		found, err := g.findEventAt(ctx, calendarID, start)
		if err != nil {
			return err
		}
		eventID = found
	}
	if err := g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: delete event: %w", err)
	}
	return nil
}

func (g *GoogleCalendar) findEventAt(ctx context.Context, calendarID string, start time.Time) (string, error) {
	events, err := g.svc.Events.List(calendarID).
		TimeMin(start.Add(-time.Minute).Format(time.RFC3339)).
		TimeMax(start.Add(time.Minute).Format(time.RFC3339)).
		SingleEvents(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("calendar: list events: %w", err)
	}
	for _, item := range events.Items {
		if item.Start == nil || item.Start.DateTime == "" {
			continue
		}
		at, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			continue
		}
		if at.Equal(start) {
			return item.Id, nil
		}
	}
	return "", ErrEventNotFound
}
