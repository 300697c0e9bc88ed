package events

import "time"

// AppointmentEventKind names what happened to an appointment.
type AppointmentEventKind string

const (
	AppointmentBooked      AppointmentEventKind = "appointment.booked.v1"
	AppointmentCancelled   AppointmentEventKind = "appointment.cancelled.v1"
	AppointmentRescheduled AppointmentEventKind = "appointment.rescheduled.v1"
)

// AppointmentChangedV1 is emitted after an appointment write has committed.
type AppointmentChangedV1 struct {
	EventID        string               `json:"event_id"`
	Kind           AppointmentEventKind `json:"kind"`
	AppointmentID  string               `json:"appointment_id"`
	PatientPhone   string               `json:"patient_phone"`
	PatientName    string               `json:"patient_name"`
	DoctorID       string               `json:"doctor_id"`
	DoctorName     string               `json:"doctor_name"`
	Specialization string               `json:"specialization"`
	Date           string               `json:"date"`
	Time           string               `json:"time"`
	PreviousID     string               `json:"previous_id,omitempty"`
	PreviousDate   string               `json:"previous_date,omitempty"`
	PreviousTime   string               `json:"previous_time,omitempty"`
	Source         string               `json:"source"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// WhatsAppMessageReceivedV1 is an inbound patient message after webhook parsing.
type WhatsAppMessageReceivedV1 struct {
	MessageID   string    `json:"message_id"`
	From        string    `json:"from"`
	ProfileName string    `json:"profile_name"`
	Type        string    `json:"type"`
	Text        string    `json:"text,omitempty"`
	SelectionID string    `json:"selection_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}
