// Package booking enforces the per-patient booking rules.
package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/scheduling"
)

// RejectCode identifies which rule refused a booking.
type RejectCode string

const (
	// CodeSameDoctorDay: the patient already holds an appointment with this doctor on this date.
	CodeSameDoctorDay RejectCode = "SAME_DOCTOR_DAY"
	// CodeTimeClash: the patient already holds an appointment at this date and time.
	CodeTimeClash RejectCode = "TIME_CLASH"
)

// Request describes a prospective booking. ExcludeID names an appointment
// that is being replaced and must not count against the rules.
type Request struct {
	PatientPhone string
	DoctorID     string
	Date         string
	Time         string
	ExcludeID    string
}

// Decision is the validator's verdict.
type Decision struct {
	Accepted bool
	Code     RejectCode
	Conflict *appointments.Appointment
}

// Message renders the user-facing explanation of a rejection.
func (d Decision) Message() string {
	if d.Accepted || d.Conflict == nil {
		return ""
	}
	c := d.Conflict
	when := formatWhen(c.Date, c.Time)
	switch d.Code {
	case CodeSameDoctorDay:
		return fmt.Sprintf("You already have an appointment with %s on %s. Only one appointment per doctor per day is allowed.", c.DoctorName, when)
	case CodeTimeClash:
		return fmt.Sprintf("You already have an appointment with %s on %s. Please choose a different time.", c.DoctorName, when)
	default:
		return ""
	}
}

func formatWhen(date, clock string) string {
	d, err := scheduling.ParseDate(date, nil)
	if err != nil {
		return strings.TrimSpace(date + " " + clock)
	}
	at, err := scheduling.At(d, clock)
	if err != nil {
		return d.Format("02 January 2006")
	}
	return at.Format("02 January 2006 at 03:04 PM")
}

type patientAppointments interface {
	ListActiveByPatient(ctx context.Context, phone string) ([]appointments.Appointment, error)
}

// Validator checks the per-patient rules in a fixed order: same doctor on the
// same day first, then any clash at the same date and time.
type Validator struct {
	repo patientAppointments
}

// NewValidator returns a Validator reading existing bookings from repo.
func NewValidator(repo patientAppointments) *Validator {
	if repo == nil {
		panic("booking: appointment repository cannot be nil")
	}
	return &Validator{repo: repo}
}

// Validate returns the first violated rule, or an accepted decision.
func (v *Validator) Validate(ctx context.Context, req Request) (Decision, error) {
	existing, err := v.repo.ListActiveByPatient(ctx, req.PatientPhone)
	if err != nil {
		return Decision{}, fmt.Errorf("booking: list patient appointments: %w", err)
	}

	candidates := make([]appointments.Appointment, 0, len(existing))
	for _, a := range existing {
		if a.ID == req.ExcludeID || !a.Active() || a.Date != req.Date {
			continue
		}
		candidates = append(candidates, a)
	}

	for i := range candidates {
		if candidates[i].DoctorID == req.DoctorID {
			return Decision{Code: CodeSameDoctorDay, Conflict: &candidates[i]}, nil
		}
	}
	for i := range candidates {
		if candidates[i].Time == req.Time {
			return Decision{Code: CodeTimeClash, Conflict: &candidates[i]}, nil
		}
	}
	return Decision{Accepted: true}, nil
}
