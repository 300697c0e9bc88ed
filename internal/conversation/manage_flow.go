package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/calendar"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/internal/session"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

type manageKind int

const (
	manageCancel manageKind = iota
	manageReschedule
)

// upcoming returns the patient's active appointments that have not started yet.
func (e *Engine) upcoming(ctx context.Context, phone string) ([]appointments.Appointment, error) {
	list, err := e.appointments.ListActiveByPatient(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation: list appointments: %w", err)
	}
	now := e.clock()
	today := now.Format("2006-01-02")
	clock := now.Format("15:04")
	out := make([]appointments.Appointment, 0, len(list))
	for _, a := range list {
		if a.Date > today || (a.Date == today && a.Time > clock) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (e *Engine) isUpcoming(a *appointments.Appointment) bool {
	now := e.clock()
	today := now.Format("2006-01-02")
	return a.Date > today || (a.Date == today && a.Time > now.Format("15:04"))
}

func (e *Engine) listAppointments(ctx context.Context, t *turn, kind manageKind) ([]Reply, error) {
	list, err := e.upcoming(ctx, t.sess.PatientID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Reply{ButtonsReply(
			"You don't have any upcoming appointments.",
			Button{ID: ActionBook, Title: "Book Appointment"},
		)}, nil
	}

	prefix, spec := prefixCancel, ListSpec{
		Header:       "Cancel Appointment",
		Body:         "Which appointment would you like to cancel?",
		ButtonText:   "View Appointments",
		SectionTitle: "Your Appointments",
		Noun:         "Appointments",
	}
	if kind == manageReschedule {
		prefix, spec = prefixReschedule, ListSpec{
			Header:       "Reschedule Appointment",
			Body:         "Which appointment would you like to reschedule?",
			ButtonText:   "View Appointments",
			SectionTitle: "Your Appointments",
			Noun:         "Appointments",
		}
	}
	rows := make([]Row, 0, len(list))
	for _, a := range list {
		rows = append(rows, Row{
			ID:          prefix + a.ID,
			Title:       truncate(a.DoctorName, 24),
			Description: truncate(formatWhen(a.Date, a.Time), 72),
		})
	}
	return SplitList(spec, rows), nil
}

// ownedAppointment loads id and checks it belongs to the patient. A nil
// appointment with a nil error means the selection should be refused.
func (e *Engine) ownedAppointment(ctx context.Context, t *turn, id string) (*appointments.Appointment, error) {
	appt, err := e.appointments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation: get appointment: %w", err)
	}
	if appt.PatientPhone != t.sess.PatientID {
		e.logger.Warn("appointment selection for another patient",
			"patient", logging.MaskPhone(t.sess.PatientID),
			"appointment_id", id,
		)
		return nil, nil
	}
	return appt, nil
}

func (e *Engine) cancelAppointment(ctx context.Context, t *turn, id string) ([]Reply, error) {
	appt, err := e.ownedAppointment(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return []Reply{TextReply("Sorry, we couldn't find that appointment."), e.mainMenu(t)}, nil
	}
	if !appt.Active() {
		return []Reply{TextReply("That appointment is already cancelled.")}, nil
	}

	cancelled, err := e.appointments.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, appointments.ErrNotActive) {
			return []Reply{TextReply("That appointment is already cancelled.")}, nil
		}
		e.metrics.ObserveOutcome(metrics.OutcomeFailed)
		return nil, fmt.Errorf("conversation: cancel appointment: %w", err)
	}
	e.metrics.ObserveOutcome(metrics.OutcomeCancelled)
	e.logger.Info("appointment cancelled", "appointment_id", id, "doctor_id", cancelled.DoctorID)

	if doc, err := e.doctors.Get(ctx, cancelled.DoctorID); err == nil {
		e.mirrorDelete(ctx, *doc, cancelled)
	} else {
		e.logger.Warn("skipping calendar cleanup", "appointment_id", id, "error", err)
	}
	e.notify(ctx, events.AppointmentCancelled, cancelled, nil)

	if t.sess.Scratch.OldAppointmentID == id {
		t.sess.Reset()
	}
	return []Reply{TextReply(
		"❌ *Appointment Cancelled*\n\nDoctor: %s\nDate: %s\n\nReply *hi* to book a new appointment.",
		cancelled.DoctorName,
		formatWhen(cancelled.Date, cancelled.Time),
	)}, nil
}

func (e *Engine) beginReschedule(ctx context.Context, t *turn, id string) ([]Reply, error) {
	appt, err := e.ownedAppointment(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return []Reply{TextReply("Sorry, we couldn't find that appointment."), e.mainMenu(t)}, nil
	}
	if !appt.Active() || !e.isUpcoming(appt) {
		return []Reply{TextReply("That appointment can no longer be rescheduled.")}, nil
	}

	doc, err := e.doctors.Get(ctx, appt.DoctorID)
	if err != nil {
		if errors.Is(err, doctors.ErrDoctorNotFound) {
			return []Reply{TextReply("Sorry, %s is no longer taking appointments. You can cancel this appointment instead.", appt.DoctorName)}, nil
		}
		return nil, fmt.Errorf("conversation: get doctor: %w", err)
	}
	menu := e.dateMenu(*doc)
	if len(menu) == 0 {
		return []Reply{TextReply("Sorry, %s has no available dates in the next %d days.", doc.Name, dateMenuLookahead)}, nil
	}

	t.sess.Reset()
	t.sess.Flow = session.FlowReschedule
	t.sess.Step = session.StepAwaitingDate
	sc := &t.sess.Scratch
	sc.Specialization = doc.Specialization
	sc.DoctorID = doc.ID
	sc.DoctorName = doc.Name
	sc.OldAppointmentID = appt.ID
	sc.OldDate = appt.Date
	sc.OldTime = appt.Time

	intro := TextReply("Rescheduling your appointment with %s on %s. Please pick a new date.",
		doc.Name, formatWhen(appt.Date, appt.Time))
	return append([]Reply{intro}, menu...), nil
}

func calendarEvent(doc doctors.Doctor, appt *appointments.Appointment, start time.Time) calendar.EventRequest {
	patient := appt.PatientName
	if patient == "" {
		patient = appt.PatientPhone
	}
	return calendar.EventRequest{
		CalendarID: doc.CalendarID,
		Summary:    fmt.Sprintf("Appointment: %s", patient),
		Description: fmt.Sprintf("Patient: %s\nPhone: %s\nDoctor: %s\nSpecialization: %s\nAppointment ID: %s",
			patient, appt.PatientPhone, doc.Name, doc.Specialization, appt.ID),
		Start:    start,
		Duration: time.Duration(doc.SlotMinutes) * time.Minute,
	}
}
