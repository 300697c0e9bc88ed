package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/booking"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/internal/scheduling"
	"github.com/cityhospital/appointment-bot/internal/session"
)

func (e *Engine) startBooking(ctx context.Context, t *turn) ([]Reply, error) {
	menu, err := e.specializationMenu(ctx)
	if err != nil {
		return nil, err
	}
	t.sess.Reset()
	if menu[0].Kind == ReplyList {
		t.sess.Step = session.StepAwaitingSpecialization
	}
	return menu, nil
}

func (e *Engine) selectSpecialization(ctx context.Context, t *turn, specialization string) ([]Reply, error) {
	list, err := e.bookableDoctors(ctx, specialization)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		menu, err := e.specializationMenu(ctx)
		if err != nil {
			return nil, err
		}
		return append([]Reply{TextReply("Sorry, no doctors are available for that department. Please choose another.")}, menu...), nil
	}

	name := t.sess.Scratch.PatientName
	t.sess.Scratch = session.Scratch{PatientName: name, Specialization: specialization}
	t.sess.Step = session.StepAwaitingDoctor
	return e.renderDoctors(specialization, list), nil
}

func (e *Engine) selectDoctor(ctx context.Context, t *turn, id string) ([]Reply, error) {
	doc, err := e.doctors.Get(ctx, id)
	if err != nil {
		if errors.Is(err, doctors.ErrDoctorNotFound) {
			return e.reprompt(ctx, t)
		}
		return nil, fmt.Errorf("conversation: get doctor: %w", err)
	}
	if doc.Status == doctors.StatusOnLeave {
		return e.reprompt(ctx, t)
	}

	menu := e.dateMenu(*doc)
	if len(menu) == 0 {
		doctorsMenu, err := e.doctorMenu(ctx, t.sess.Scratch.Specialization)
		if err != nil {
			return nil, err
		}
		msg := TextReply("Sorry, %s has no available dates in the next %d days. Please choose another doctor.", doc.Name, dateMenuLookahead)
		return append([]Reply{msg}, doctorsMenu...), nil
	}

	sc := &t.sess.Scratch
	sc.DoctorID = doc.ID
	sc.DoctorName = doc.Name
	sc.Specialization = doc.Specialization
	sc.Date, sc.Time = "", ""
	t.sess.Step = session.StepAwaitingDate
	return menu, nil
}

func (e *Engine) currentDoctor(ctx context.Context, t *turn) (*doctors.Doctor, error) {
	doc, err := e.doctors.Get(ctx, t.sess.Scratch.DoctorID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// offeredDate parses value and checks it is one of the dates the menu offers.
func (e *Engine) offeredDate(doc doctors.Doctor, value string) (string, bool) {
	d, err := scheduling.ParseDate(value, e.loc)
	if err != nil {
		return "", false
	}
	want := d.Format(scheduling.DateLayout)
	for _, offered := range e.workingDates(doc) {
		if offered.Format(scheduling.DateLayout) == want {
			return want, true
		}
	}
	return "", false
}

func (e *Engine) selectDate(ctx context.Context, t *turn, value string) ([]Reply, error) {
	doc, err := e.currentDoctor(ctx, t)
	if err != nil {
		return e.abandon(t, err)
	}
	date, ok := e.offeredDate(*doc, value)
	if !ok {
		menu := e.dateMenu(*doc)
		return append([]Reply{TextReply("Sorry, that date is not available. Please pick one of these dates.")}, menu...), nil
	}

	day, _ := scheduling.ParseDate(date, e.loc)
	slots, err := e.availability.Slots(ctx, *doc, day)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		t.sess.Step = session.StepAwaitingDate
		t.sess.Scratch.Date, t.sess.Scratch.Time = "", ""
		msg := TextReply("Sorry, no available slots on %s. Please select another date.", formatLongDate(date))
		return append([]Reply{msg}, e.dateMenu(*doc)...), nil
	}

	t.sess.Scratch.Date = date
	t.sess.Scratch.Time = ""
	t.sess.Step = session.StepAwaitingTime
	return e.timeMenu(*doc, date, slots), nil
}

func (e *Engine) selectTime(ctx context.Context, t *turn, clock string) ([]Reply, error) {
	doc, err := e.currentDoctor(ctx, t)
	if err != nil {
		return e.abandon(t, err)
	}
	sc := t.sess.Scratch
	day, err := scheduling.ParseDate(sc.Date, e.loc)
	if err != nil {
		return e.abandon(t, err)
	}

	slots, err := e.availability.Slots(ctx, *doc, day)
	if err != nil {
		return nil, err
	}

	req := booking.Request{
		PatientPhone: t.sess.PatientID,
		DoctorID:     doc.ID,
		Date:         sc.Date,
		Time:         clock,
	}
	if t.sess.Flow == session.FlowReschedule {
		req.ExcludeID = sc.OldAppointmentID
	}
	decision, err := e.validator.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		return e.rejected(t, *doc, slots, decision), nil
	}

	if !containsString(slots, clock) {
		return e.slotGone(t, *doc, sc.Date, slots, clock, "Sorry, that time is no longer available. Please pick another time."), nil
	}

	if t.sess.Flow == session.FlowReschedule {
		return e.commitReschedule(ctx, t, *doc, clock, slots)
	}
	return e.commitBooking(ctx, t, *doc, clock, slots)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// slotGone explains a missing slot and re-offers what is still open.
func (e *Engine) slotGone(t *turn, doc doctors.Doctor, date string, slots []string, taken, message string) []Reply {
	remaining := make([]string, 0, len(slots))
	for _, s := range slots {
		if s != taken {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		t.sess.Step = session.StepAwaitingDate
		t.sess.Scratch.Date, t.sess.Scratch.Time = "", ""
		return append([]Reply{TextReply("%s No slots are left on %s.", message, formatLongDate(date))}, e.dateMenu(doc)...)
	}
	return append([]Reply{TextReply(message)}, e.timeMenu(doc, date, remaining)...)
}

func (e *Engine) rejected(t *turn, doc doctors.Doctor, slots []string, decision booking.Decision) []Reply {
	msg := "⚠️ " + decision.Message()
	switch decision.Code {
	case booking.CodeSameDoctorDay:
		e.metrics.ObserveOutcome(metrics.OutcomeRejectedSameDay)
		if t.sess.Flow == session.FlowReschedule {
			return append([]Reply{TextReply("%s Please choose a different date.", msg)}, e.dateMenu(doc)...)
		}
		return []Reply{ButtonsReply(msg,
			Button{ID: ActionReschedule, Title: "Reschedule Old"},
			Button{ID: ActionCancel, Title: "Cancel Old"},
		)}
	default:
		e.metrics.ObserveOutcome(metrics.OutcomeRejectedTimeClash)
		return append([]Reply{TextReply(msg)}, e.timeMenu(doc, t.sess.Scratch.Date, slots)...)
	}
}

func (e *Engine) newAppointment(t *turn, doc doctors.Doctor, clock string) *appointments.Appointment {
	return &appointments.Appointment{
		PatientPhone:   t.sess.PatientID,
		PatientName:    t.sess.Scratch.PatientName,
		DoctorID:       doc.ID,
		DoctorName:     doc.Name,
		Specialization: doc.Specialization,
		Date:           t.sess.Scratch.Date,
		Time:           clock,
		Source:         appointments.SourceWhatsApp,
	}
}

// writeConflict turns a uniqueness error raised by the repository into a
// recoverable reply. ok is false for any other error.
func (e *Engine) writeConflict(t *turn, doc doctors.Doctor, clock string, slots []string, err error) ([]Reply, bool) {
	switch {
	case errors.Is(err, appointments.ErrSlotTaken):
		e.metrics.ObserveOutcome(metrics.OutcomeRejectedTimeClash)
		return e.slotGone(t, doc, t.sess.Scratch.Date, slots, clock, "Sorry, that slot was just booked by someone else. Please pick another time."), true
	case errors.Is(err, appointments.ErrConflict):
		e.metrics.ObserveOutcome(metrics.OutcomeRejectedTimeClash)
		msg := TextReply("You already have an appointment that conflicts with this time. Please choose a different time.")
		return append([]Reply{msg}, e.timeMenu(doc, t.sess.Scratch.Date, slots)...), true
	}
	return nil, false
}

func (e *Engine) commitBooking(ctx context.Context, t *turn, doc doctors.Doctor, clock string, slots []string) ([]Reply, error) {
	created, err := e.appointments.Create(ctx, e.newAppointment(t, doc, clock))
	if err != nil {
		if replies, ok := e.writeConflict(t, doc, clock, slots, err); ok {
			return replies, nil
		}
		e.metrics.ObserveOutcome(metrics.OutcomeFailed)
		return nil, fmt.Errorf("conversation: create appointment: %w", err)
	}
	e.metrics.ObserveOutcome(metrics.OutcomeBooked)
	e.logger.Info("appointment booked",
		"appointment_id", created.ID,
		"doctor_id", created.DoctorID,
		"date", created.Date,
		"time", created.Time,
	)

	e.mirrorCreate(ctx, doc, created)
	e.notify(ctx, events.AppointmentBooked, created, nil)
	t.clear = true

	return []Reply{TextReply(
		"✅ *Appointment Confirmed!*\n\nRef: %s\nDoctor: %s\nSpecialization: %s\nDate: %s\nTime: %s\n\nSee you then!",
		shortRef(created.ID),
		created.DoctorName,
		created.Specialization,
		formatLongDate(created.Date),
		formatClock12h(created.Time),
	)}, nil
}

func (e *Engine) commitReschedule(ctx context.Context, t *turn, doc doctors.Doctor, clock string, slots []string) ([]Reply, error) {
	oldID := t.sess.Scratch.OldAppointmentID
	old, err := e.appointments.Get(ctx, oldID)
	if err != nil && !errors.Is(err, appointments.ErrAppointmentNotFound) {
		return nil, fmt.Errorf("conversation: get appointment: %w", err)
	}

	created, err := e.appointments.Reschedule(ctx, oldID, e.newAppointment(t, doc, clock))
	if err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) || errors.Is(err, appointments.ErrNotActive) {
			t.clear = true
			return []Reply{TextReply("That appointment has already been cancelled, so it can't be rescheduled.")}, nil
		}
		if replies, ok := e.writeConflict(t, doc, clock, slots, err); ok {
			return replies, nil
		}
		e.metrics.ObserveOutcome(metrics.OutcomeFailed)
		return nil, fmt.Errorf("conversation: reschedule appointment: %w", err)
	}
	e.metrics.ObserveOutcome(metrics.OutcomeRescheduled)
	e.logger.Info("appointment rescheduled",
		"old_appointment_id", oldID,
		"appointment_id", created.ID,
		"date", created.Date,
		"time", created.Time,
	)

	if old != nil {
		e.mirrorDelete(ctx, doc, old)
	}
	e.mirrorCreate(ctx, doc, created)
	e.notify(ctx, events.AppointmentRescheduled, created, old)
	t.clear = true

	return []Reply{TextReply(
		"✅ *Appointment Rescheduled!*\n\nDoctor: %s\nOld: %s\nNew: %s\n\nSee you then!",
		created.DoctorName,
		formatWhen(t.sess.Scratch.OldDate, t.sess.Scratch.OldTime),
		formatWhen(created.Date, created.Time),
	)}, nil
}

func (e *Engine) mirrorCreate(ctx context.Context, doc doctors.Doctor, appt *appointments.Appointment) {
	if doc.CalendarID == "" {
		return
	}
	day, err := scheduling.ParseDate(appt.Date, e.loc)
	if err != nil {
		return
	}
	start, err := scheduling.At(day, appt.Time)
	if err != nil {
		return
	}

	calCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.calendarTimeout)
	defer cancel()
	eventID, err := e.calendar.CreateEvent(calCtx, calendarEvent(doc, appt, start))
	if err != nil {
		e.metrics.ObserveCalendarFailure("create")
		e.logger.Warn("calendar event create failed", "appointment_id", appt.ID, "error", err)
		return
	}
	if eventID == "" {
		return
	}
	appt.CalendarEventID = eventID
	if err := e.appointments.SetCalendarEvent(calCtx, appt.ID, eventID); err != nil {
		e.logger.Warn("failed to store calendar event id", "appointment_id", appt.ID, "error", err)
	}
}

func (e *Engine) mirrorDelete(ctx context.Context, doc doctors.Doctor, appt *appointments.Appointment) {
	if doc.CalendarID == "" {
		return
	}
	day, err := scheduling.ParseDate(appt.Date, e.loc)
	if err != nil {
		return
	}
	start, err := scheduling.At(day, appt.Time)
	if err != nil {
		return
	}

	calCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.calendarTimeout)
	defer cancel()
	if err := e.calendar.DeleteEvent(calCtx, doc.CalendarID, appt.CalendarEventID, start); err != nil {
		e.metrics.ObserveCalendarFailure("delete")
		e.logger.Warn("calendar event delete failed", "appointment_id", appt.ID, "error", err)
	}
}
