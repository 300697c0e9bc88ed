package conversation

import (
	"context"
	"errors"

	"github.com/cityhospital/appointment-bot/internal/events"
)

// Notifier is told about committed appointment changes.
type Notifier interface {
	NotifyAppointment(ctx context.Context, evt events.AppointmentChangedV1) error
}

// Notifiers fans an event out to every notifier and joins their errors.
type Notifiers []Notifier

func (n Notifiers) NotifyAppointment(ctx context.Context, evt events.AppointmentChangedV1) error {
	var errs []error
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		if err := notifier.NotifyAppointment(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
