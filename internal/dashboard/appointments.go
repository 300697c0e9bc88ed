package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/booking"
	"github.com/cityhospital/appointment-bot/internal/calendar"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/scheduling"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// AppointmentRow is the dashboard's view of an appointment.
type AppointmentRow struct {
	ID            string    `json:"id"`
	PatientName   string    `json:"patientName"`
	PatientMobile string    `json:"patientMobile"`
	DoctorID      string    `json:"doctorId"`
	DoctorName    string    `json:"doctorName"`
	Department    string    `json:"department"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status"`
	Source        string    `json:"source"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func rowFromAppointment(a *appointments.Appointment) AppointmentRow {
	return AppointmentRow{
		ID:            a.ID,
		PatientName:   a.PatientName,
		PatientMobile: a.PatientPhone,
		DoctorID:      a.DoctorID,
		DoctorName:    a.DoctorName,
		Department:    a.Specialization,
		Date:          a.Date,
		Time:          a.Time,
		Status:        a.Status,
		Source:        a.Source,
		Reason:        a.Reason,
		CreatedAt:     a.CreatedAt,
	}
}

const appointmentRowColumns = `
	SELECT id, patient_name, patient_phone, doctor_id, doctor_name, specialization,
	       to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	       status, booking_source, COALESCE(reason, ''), created_at
	FROM appointments`

// ListAppointments returns appointments, newest slot first.
// GET /api/appointments?status=&skip=&limit=
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	skip, limit := pagination(r)
	status := strings.TrimSpace(r.URL.Query().Get("status"))

	query := appointmentRowColumns
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += " WHERE status = $1"
	}
	args = append(args, limit, skip)
	query += fmt.Sprintf(" ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		h.logger.Error("dashboard: list appointments failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	defer rows.Close()

	out := make([]AppointmentRow, 0)
	for rows.Next() {
		var a AppointmentRow
		if err := rows.Scan(&a.ID, &a.PatientName, &a.PatientMobile, &a.DoctorID, &a.DoctorName, &a.Department,
			&a.Date, &a.Time, &a.Status, &a.Source, &a.Reason, &a.CreatedAt); err != nil {
			h.logger.Error("dashboard: scan appointment failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list appointments")
			return
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("dashboard: list appointments failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	writeData(w, http.StatusOK, out)
}

// CreateAppointmentRequest books on behalf of a patient at the front desk or by phone.
type CreateAppointmentRequest struct {
	PatientPhone string `json:"patientPhone"`
	PatientName  string `json:"patientName"`
	DoctorID     string `json:"doctorId"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Reason       string `json:"reason"`
	Source       string `json:"source"`
}

// CreateAppointment books a slot under the same rules as the WhatsApp flow.
// POST /api/appointments
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PatientPhone = strings.TrimPrefix(strings.TrimSpace(req.PatientPhone), "+")
	if req.PatientPhone == "" || req.DoctorID == "" || req.Date == "" || req.Time == "" {
		writeError(w, http.StatusBadRequest, "patientPhone, doctorId, date and time are required")
		return
	}
	req.Time = normalizeClock(req.Time)
	switch req.Source {
	case "":
		req.Source = appointments.SourceDashboard
	case appointments.SourceDashboard, appointments.SourcePhone:
	default:
		writeError(w, http.StatusBadRequest, "source must be Dashboard or Phone")
		return
	}

	ctx := r.Context()
	doc, err := h.directory.Get(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, doctors.ErrDoctorNotFound) {
			writeError(w, http.StatusNotFound, "doctor not found")
			return
		}
		h.logger.Error("dashboard: doctor lookup failed", "error", err, "doctor_id", req.DoctorID)
		writeError(w, http.StatusInternalServerError, "failed to load doctor")
		return
	}
	if msg := h.checkSlot(*doc, req.Date, req.Time); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}
	if !h.calendarFree(ctx, *doc, req.Date, req.Time) {
		writeError(w, http.StatusConflict, fmt.Sprintf("%s's calendar is busy at %s", doc.Name, req.Time))
		return
	}

	decision, err := h.validator.Validate(ctx, booking.Request{
		PatientPhone: req.PatientPhone,
		DoctorID:     doc.ID,
		Date:         req.Date,
		Time:         req.Time,
	})
	if err != nil {
		h.logger.Error("dashboard: booking validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to validate booking")
		return
	}
	if !decision.Accepted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"code":    decision.Code,
			"detail":  decision.Message(),
		})
		return
	}

	created, err := h.repo.Create(ctx, &appointments.Appointment{
		PatientPhone:   req.PatientPhone,
		PatientName:    strings.TrimSpace(req.PatientName),
		DoctorID:       doc.ID,
		DoctorName:     doc.Name,
		Specialization: doc.Specialization,
		Date:           req.Date,
		Time:           req.Time,
		Source:         req.Source,
		Reason:         strings.TrimSpace(req.Reason),
	})
	switch {
	case errors.Is(err, appointments.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot already taken")
		return
	case errors.Is(err, appointments.ErrConflict):
		writeError(w, http.StatusConflict, "patient already has a conflicting appointment")
		return
	case err != nil:
		h.logger.Error("dashboard: create appointment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}

	h.logger.Info("appointment booked from dashboard",
		"appointment_id", created.ID,
		"doctor_id", created.DoctorID,
		"patient", logging.MaskPhone(created.PatientPhone),
		"source", created.Source,
	)
	h.notify(ctx, events.AppointmentBooked, created)
	writeData(w, http.StatusCreated, rowFromAppointment(created))
}

const clockLayout = "15:04"

// normalizeClock turns front-desk input such as "9:30" into "09:30". Anything
// unparsable is returned trimmed for checkSlot to reject.
func normalizeClock(clock string) string {
	clock = strings.TrimSpace(clock)
	t, err := time.Parse(clockLayout, clock)
	if err != nil {
		return clock
	}
	return t.Format(clockLayout)
}

// checkSlot returns a user-facing reason when date and clock are not a
// bookable future slot for doc.
func (h *Handler) checkSlot(doc doctors.Doctor, date, clock string) string {
	day, err := scheduling.ParseDate(date, h.loc)
	if err != nil {
		return "date must be YYYY-MM-DD"
	}
	start, err := scheduling.At(day, clock)
	if err != nil {
		return "time must be HH:MM"
	}
	if !start.After(h.today()) {
		return "appointment must be in the future"
	}
	if !slices.Contains(scheduling.GenerateSlots(doc, day), clock) {
		return fmt.Sprintf("%s does not see patients at %s on %s", doc.Name, clock, day.Format("Monday, 02 Jan"))
	}
	return ""
}

// calendarFree checks the doctor's external calendar. Lookup errors count as free.
func (h *Handler) calendarFree(ctx context.Context, doc doctors.Doctor, date, clock string) bool {
	day, err := scheduling.ParseDate(date, h.loc)
	if err != nil {
		return true
	}
	calCtx, cancel := context.WithTimeout(ctx, h.calWait)
	defer cancel()
	return calendar.IsSlotAvailable(calCtx, h.calendar, doc.CalendarID, day, clock, doc.SlotMinutes)
}

// UpdateStatusRequest moves an appointment through the front-desk workflow.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateAppointmentStatus sets the status, or cancels when the status is Cancelled.
// PUT /api/appointments/{id}/status
func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	var (
		updated *appointments.Appointment
		err     error
	)
	if req.Status == appointments.StatusCancelled {
		updated, err = h.repo.Cancel(ctx, id)
	} else {
		updated, err = h.repo.UpdateStatus(ctx, id, req.Status)
	}
	switch {
	case errors.Is(err, appointments.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	case errors.Is(err, appointments.ErrNotActive):
		writeError(w, http.StatusConflict, "appointment is already cancelled")
		return
	case errors.Is(err, appointments.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported status %q", req.Status))
		return
	case err != nil:
		h.logger.Error("dashboard: update status failed", "error", err, "appointment_id", id)
		writeError(w, http.StatusInternalServerError, "failed to update appointment")
		return
	}

	if updated.Status == appointments.StatusCancelled {
		h.notify(ctx, events.AppointmentCancelled, updated)
	}
	writeData(w, http.StatusOK, rowFromAppointment(updated))
}

func (h *Handler) notify(ctx context.Context, kind events.AppointmentEventKind, appt *appointments.Appointment) {
	if h.notifier == nil {
		return
	}
	evt := events.AppointmentChangedV1{
		EventID:        uuid.NewString(),
		Kind:           kind,
		AppointmentID:  appt.ID,
		PatientPhone:   appt.PatientPhone,
		PatientName:    appt.PatientName,
		DoctorID:       appt.DoctorID,
		DoctorName:     appt.DoctorName,
		Specialization: appt.Specialization,
		Date:           appt.Date,
		Time:           appt.Time,
		Source:         appt.Source,
		OccurredAt:     h.now().UTC(),
	}
	if err := h.notifier.NotifyAppointment(context.WithoutCancel(ctx), evt); err != nil {
		h.logger.Warn("appointment notification failed", "appointment_id", appt.ID, "kind", kind, "error", err)
	}
}
