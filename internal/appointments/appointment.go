package appointments

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAppointmentNotFound is returned when no appointment matches the id.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrNotActive is returned when cancelling or rescheduling a cancelled appointment.
	ErrNotActive = errors.New("appointment is not active")

	// ErrSlotTaken is returned when the doctor already holds an active appointment at that date and time.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrConflict is returned when the patient already holds a conflicting active appointment.
	ErrConflict = errors.New("conflicting appointment")

	// ErrInvalidStatus is returned for status updates outside the front-desk workflow.
	ErrInvalidStatus = errors.New("invalid appointment status")
)

// Appointment statuses.
const (
	StatusScheduled      = "Scheduled"
	StatusCancelled      = "Cancelled"
	StatusCompleted      = "Completed"
	StatusRescheduled    = "Rescheduled"
	StatusCheckedIn      = "Checked In"
	StatusInConsultation = "In Consultation"
)

// ProgressStatus reports whether status is one the front desk may set
// directly. Cancellation has its own operation.
func ProgressStatus(status string) bool {
	switch status {
	case StatusScheduled, StatusCheckedIn, StatusInConsultation, StatusCompleted:
		return true
	}
	return false
}

// Booking sources.
const (
	SourceWhatsApp  = "WhatsApp"
	SourceDashboard = "Dashboard"
	SourcePhone     = "Phone"
)

// Appointment is a booked consultation. Date is "YYYY-MM-DD" and Time is "HH:MM",
// both in the hospital's local time zone.
type Appointment struct {
	ID              string    `json:"id"`
	PatientPhone    string    `json:"patient_phone"`
	PatientName     string    `json:"patient_name"`
	DoctorID        string    `json:"doctor_id"`
	DoctorName      string    `json:"doctor_name"`
	Specialization  string    `json:"specialization"`
	Date            string    `json:"appointment_date"`
	Time            string    `json:"appointment_time"`
	Status          string    `json:"status"`
	Source          string    `json:"booking_source"`
	Reason          string    `json:"reason,omitempty"`
	CalendarEventID string    `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Active reports whether the appointment still holds its slot.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// Repository persists appointments. Writes are fail-loud: callers must treat
// an error as "nothing was committed".
type Repository interface {
	Create(ctx context.Context, appt *Appointment) (*Appointment, error)
	Get(ctx context.Context, id string) (*Appointment, error)
	Cancel(ctx context.Context, id string) (*Appointment, error)
	// Reschedule cancels oldID and creates next as one unit.
	Reschedule(ctx context.Context, oldID string, next *Appointment) (*Appointment, error)
	ListActiveByPatient(ctx context.Context, phone string) ([]Appointment, error)
	ListActiveByDoctorDate(ctx context.Context, doctorID, date string) ([]Appointment, error)
	BookedTimes(ctx context.Context, doctorID, date string) ([]string, error)
	SetCalendarEvent(ctx context.Context, id, eventID string) error
	// UpdateStatus moves an active appointment through the front-desk workflow.
	UpdateStatus(ctx context.Context, id, status string) (*Appointment, error)
}

func applyDefaults(appt *Appointment, now time.Time) {
	if appt.Status == "" {
		appt.Status = StatusScheduled
	}
	if appt.Source == "" {
		appt.Source = SourceWhatsApp
	}
	if appt.PatientName == "" {
		appt.PatientName = "User"
	}
	appt.CreatedAt = now
	appt.UpdatedAt = now
}
