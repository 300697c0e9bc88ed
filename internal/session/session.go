// Package session holds per-patient conversation state between webhook turns.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict is returned by Save when the stored session changed since it was loaded.
var ErrVersionConflict = errors.New("session: version conflict")

// Step is the point in the conversation the patient has reached.
type Step string

const (
	StepIdle                   Step = "idle"
	StepAwaitingSpecialization Step = "awaiting_specialization"
	StepAwaitingDoctor         Step = "awaiting_doctor"
	StepAwaitingDate           Step = "awaiting_date"
	StepAwaitingTime           Step = "awaiting_time"
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepIdle, StepAwaitingSpecialization, StepAwaitingDoctor, StepAwaitingDate, StepAwaitingTime:
		return true
	}
	return false
}

// Flow distinguishes a fresh booking from replacing an existing appointment.
type Flow string

const (
	FlowBooking    Flow = "booking"
	FlowReschedule Flow = "reschedule"
)

// Scratch carries the selections made so far.
type Scratch struct {
	PatientName      string `json:"patient_name,omitempty"`
	Specialization   string `json:"specialization,omitempty"`
	DoctorID         string `json:"doctor_id,omitempty"`
	DoctorName       string `json:"doctor_name,omitempty"`
	Date             string `json:"date,omitempty"`
	Time             string `json:"time,omitempty"`
	OldAppointmentID string `json:"old_appointment_id,omitempty"`
	OldDate          string `json:"old_date,omitempty"`
	OldTime          string `json:"old_time,omitempty"`
}

// Session is one patient's conversation state. Version is bumped on every
// successful Save and is zero for a session that has never been stored.
type Session struct {
	PatientID string    `json:"patient_id"`
	Step      Step      `json:"step"`
	Flow      Flow      `json:"flow"`
	Scratch   Scratch   `json:"scratch"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an idle booking session.
func New(patientID string) *Session {
	return &Session{
		PatientID: patientID,
		Step:      StepIdle,
		Flow:      FlowBooking,
	}
}

// Reset returns the session to idle, keeping identity, version and the patient's name.
func (s *Session) Reset() {
	name := s.Scratch.PatientName
	s.Step = StepIdle
	s.Flow = FlowBooking
	s.Scratch = Scratch{PatientName: name}
}

// StepName renders the step with the flow folded in, e.g. "awaiting_reschedule_date".
func (s *Session) StepName() string {
	if s.Flow == FlowReschedule {
		switch s.Step {
		case StepAwaitingDate:
			return "awaiting_reschedule_date"
		case StepAwaitingTime:
			return "awaiting_reschedule_time"
		}
	}
	return string(s.Step)
}

// Validate checks that the scratch holds everything the current step depends on.
func (s *Session) Validate() error {
	if !s.Step.Valid() {
		return fmt.Errorf("session: unknown step %q", s.Step)
	}
	if s.Flow != FlowBooking && s.Flow != FlowReschedule {
		return fmt.Errorf("session: unknown flow %q", s.Flow)
	}
	sc := s.Scratch
	switch s.Step {
	case StepAwaitingDoctor:
		if sc.Specialization == "" {
			return errors.New("session: awaiting_doctor requires a specialization")
		}
	case StepAwaitingDate:
		if sc.DoctorID == "" {
			return errors.New("session: awaiting_date requires a doctor")
		}
	case StepAwaitingTime:
		if sc.DoctorID == "" || sc.Date == "" {
			return errors.New("session: awaiting_time requires a doctor and date")
		}
	}
	if s.Flow == FlowReschedule {
		if s.Step != StepAwaitingDate && s.Step != StepAwaitingTime {
			return fmt.Errorf("session: reschedule flow cannot be at step %q", s.Step)
		}
		if sc.OldAppointmentID == "" {
			return errors.New("session: reschedule flow requires the appointment being replaced")
		}
	}
	return nil
}

// Store persists sessions keyed by patient id.
type Store interface {
	// Load returns the stored session or a fresh idle one.
	Load(ctx context.Context, patientID string) (*Session, error)
	// Save writes s if the stored version still equals s.Version, then bumps s.Version.
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, patientID string) error
}

// Locker serialises work on a single patient key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
