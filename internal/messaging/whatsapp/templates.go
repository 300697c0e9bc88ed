package whatsapp

import (
	"context"
	"time"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/events"
)

// Approved message templates. Templates reach patients outside the 24 hour
// customer-service window, e.g. for appointments booked by reception staff.
const (
	TemplateAppointmentConfirmation = "appointment_confirmation"
	TemplateAppointmentReminder     = "appointment_reminder"
)

// SendConfirmationTemplate sends {{1}} patient, {{2}} doctor, {{3}} date, {{4}} time.
func (c *Client) SendConfirmationTemplate(ctx context.Context, to, patient, doctor, date, clock string) (*SendResponse, error) {
	return c.SendTemplate(ctx, to, TemplateAppointmentConfirmation, defaultTemplateLng, patient, doctor, date, clock)
}

// SendReminderTemplate sends {{1}} patient, {{2}} doctor, {{3}} time.
func (c *Client) SendReminderTemplate(ctx context.Context, to, patient, doctor, clock string) (*SendResponse, error) {
	return c.SendTemplate(ctx, to, TemplateAppointmentReminder, defaultTemplateLng, patient, doctor, clock)
}

type templateSender interface {
	SendConfirmationTemplate(ctx context.Context, to, patient, doctor, date, clock string) (*SendResponse, error)
}

// ConfirmationNotifier sends the confirmation template for appointments that
// were not booked in a WhatsApp conversation. Chat bookings already get an
// interactive confirmation.
type ConfirmationNotifier struct {
	sender templateSender
}

// NewConfirmationNotifier wraps a template sender.
func NewConfirmationNotifier(sender templateSender) *ConfirmationNotifier {
	if sender == nil {
		panic("whatsapp: template sender cannot be nil")
	}
	return &ConfirmationNotifier{sender: sender}
}

// NotifyAppointment implements conversation.Notifier.
func (n *ConfirmationNotifier) NotifyAppointment(ctx context.Context, evt events.AppointmentChangedV1) error {
	if evt.Source == appointments.SourceWhatsApp || evt.Kind == events.AppointmentCancelled {
		return nil
	}
	name := evt.PatientName
	if name == "" {
		name = defaultProfileName
	}
	date := evt.Date
	if d, err := time.Parse("2006-01-02", evt.Date); err == nil {
		date = d.Format("02 January 2006")
	}
	clock := evt.Time
	if t, err := time.Parse("15:04", evt.Time); err == nil {
		clock = t.Format("03:04 PM")
	}
	_, err := n.sender.SendConfirmationTemplate(ctx, evt.PatientPhone, name, evt.DoctorName, date, clock)
	return err
}
