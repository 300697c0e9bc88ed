package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// TextSender sends a short text alert to a staff phone.
type TextSender interface {
	SendText(ctx context.Context, to, body string) error
}

// StaffConfig lists who hears about appointment changes.
type StaffConfig struct {
	HospitalName    string
	EmailRecipients []string
	TextRecipients  []string
	Location        *time.Location
}

// StaffNotifier tells hospital staff about booked, cancelled and rescheduled
// appointments. It satisfies the conversation notifier.
type StaffNotifier struct {
	email  EmailSender
	text   TextSender
	cfg    StaffConfig
	logger *logging.Logger
}

// NewStaffNotifier creates a notifier. Either sender may be nil.
func NewStaffNotifier(email EmailSender, text TextSender, cfg StaffConfig, logger *logging.Logger) *StaffNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.HospitalName == "" {
		cfg.HospitalName = "City Hospital"
	}
	return &StaffNotifier{
		email:  email,
		text:   text,
		cfg:    cfg,
		logger: logger,
	}
}

// NotifyAppointment emails and texts every configured recipient.
func (s *StaffNotifier) NotifyAppointment(ctx context.Context, evt events.AppointmentChangedV1) error {
	headline, emoji := describe(evt.Kind)
	if headline == "" {
		s.logger.Debug("notify: ignoring appointment event", "kind", evt.Kind)
		return nil
	}
	patient := evt.PatientName
	if patient == "" {
		patient = "A patient"
	}
	when := s.formatWhen(evt.Date, evt.Time)

	var errs []error

	if s.email != nil && len(s.cfg.EmailRecipients) > 0 {
		subject := fmt.Sprintf("%s %s - %s with %s", emoji, headline, patient, evt.DoctorName)
		lines := []string{
			fmt.Sprintf("Patient: %s", patient),
			fmt.Sprintf("Phone: %s", evt.PatientPhone),
			fmt.Sprintf("Doctor: %s (%s)", evt.DoctorName, evt.Specialization),
			fmt.Sprintf("When: %s", when),
		}
		if evt.Kind == events.AppointmentRescheduled && evt.PreviousDate != "" {
			lines = append(lines, fmt.Sprintf("Previously: %s", s.formatWhen(evt.PreviousDate, evt.PreviousTime)))
		}
		lines = append(lines, fmt.Sprintf("Booked via: %s", evt.Source))
		body := fmt.Sprintf("%s\n\n%s\n\n— %s", headline, strings.Join(lines, "\n"), s.cfg.HospitalName)

		for _, recipient := range s.cfg.EmailRecipients {
			msg := EmailMessage{
				To:         recipient,
				Subject:    subject,
				Body:       body,
				HTML:       s.formatHTML(headline, lines),
				Categories: []string{"appointment", categoryFor(evt.Kind)},
			}
			if err := s.email.Send(ctx, msg); err != nil {
				s.logger.Error("notify: failed to send email", "error", err, "to", recipient)
				errs = append(errs, err)
			} else {
				s.logger.Info("notify: appointment email sent", "to", recipient, "appointment_id", evt.AppointmentID)
			}
		}
	}

	if s.text != nil && len(s.cfg.TextRecipients) > 0 {
		textBody := fmt.Sprintf("%s %s: %s with %s, %s.", emoji, headline, patient, evt.DoctorName, when)
		for _, recipient := range s.cfg.TextRecipients {
			if err := s.text.SendText(ctx, recipient, textBody); err != nil {
				s.logger.Error("notify: failed to send staff text", "error", err, "to", logging.MaskPhone(recipient))
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func categoryFor(kind events.AppointmentEventKind) string {
	switch kind {
	case events.AppointmentBooked:
		return "booked"
	case events.AppointmentCancelled:
		return "cancelled"
	case events.AppointmentRescheduled:
		return "rescheduled"
	}
	return "other"
}

func describe(kind events.AppointmentEventKind) (headline, emoji string) {
	switch kind {
	case events.AppointmentBooked:
		return "New Appointment", "📅"
	case events.AppointmentCancelled:
		return "Appointment Cancelled", "❌"
	case events.AppointmentRescheduled:
		return "Appointment Rescheduled", "🔄"
	}
	return "", ""
}

func (s *StaffNotifier) formatWhen(date, clock string) string {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return strings.TrimSpace(date + " " + clock)
	}
	return t.Format("Monday, 02 January 2006 at 03:04 PM")
}

func (s *StaffNotifier) formatHTML(headline string, lines []string) string {
	var rows strings.Builder
	for _, line := range lines {
		label, value, _ := strings.Cut(line, ": ")
		fmt.Fprintf(&rows, `<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			html.EscapeString(label), html.EscapeString(value))
	}
	return fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #0e7490;">%s</h2>
<table style="border-collapse: collapse; margin: 20px 0;">%s</table>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">— %s</p>
</div>`, html.EscapeString(headline), rows.String(), html.EscapeString(s.cfg.HospitalName))
}

// SimpleTextSender adapts a send function, such as a WhatsApp client method,
// to TextSender.
type SimpleTextSender struct {
	sendFunc func(ctx context.Context, to, body string) error
	logger   *logging.Logger
}

// NewSimpleTextSender creates a text sender with a custom send function.
func NewSimpleTextSender(sendFunc func(ctx context.Context, to, body string) error, logger *logging.Logger) *SimpleTextSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SimpleTextSender{sendFunc: sendFunc, logger: logger}
}

// SendText sends a text message.
func (s *SimpleTextSender) SendText(ctx context.Context, to, body string) error {
	if s.sendFunc == nil {
		s.logger.Warn("notify: text sender not configured")
		return nil
	}
	return s.sendFunc(ctx, to, body)
}

// StubTextSender is a no-op sender for testing.
type StubTextSender struct {
	logger *logging.Logger
}

// NewStubTextSender creates a stub text sender.
func NewStubTextSender(logger *logging.Logger) *StubTextSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubTextSender{logger: logger}
}

// SendText logs but doesn't send.
func (s *StubTextSender) SendText(ctx context.Context, to, body string) error {
	s.logger.Info("stub text sender: would send", "to", logging.MaskPhone(to), "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

var _ TextSender = (*SimpleTextSender)(nil)
var _ TextSender = (*StubTextSender)(nil)
