package dashboard

import (
	"context"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/scheduling"
)

// queueStatuses are the statuses shown on the day's waiting-room queue.
var queueStatuses = []string{
	appointments.StatusScheduled,
	appointments.StatusCheckedIn,
	appointments.StatusInConsultation,
}

// ListDoctors returns the roster, optionally filtered.
// GET /api/doctors?specialization=&status=
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.directory.List(r.Context(), doctors.Filter{
		Specialization: strings.TrimSpace(q.Get("specialization")),
		Status:         strings.TrimSpace(q.Get("status")),
	})
	if err != nil {
		h.logger.Error("dashboard: list doctors failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list doctors")
		return
	}
	if list == nil {
		list = []doctors.Doctor{}
	}
	writeData(w, http.StatusOK, list)
}

// Patient is one row of the patient register.
type Patient struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Email      *string `json:"email"`
	Age        *int    `json:"age"`
	Gender     *string `json:"gender"`
	BloodGroup *string `json:"bloodGroup"`
	Condition  *string `json:"condition"`
	Status     string  `json:"status"`
	Address    *string `json:"address"`
	LastVisit  *string `json:"lastVisit"`
}

// PatientsResponse pages through the patient register.
type PatientsResponse struct {
	Total    int       `json:"total"`
	Patients []Patient `json:"patients"`
}

// ListPatients returns patients, most recent visit first.
// GET /api/patients?skip=&limit=
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	ctx := r.Context()
	skip, limit := pagination(r)

	resp := PatientsResponse{Patients: []Patient{}}
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`).Scan(&resp.Total); err != nil {
		h.logger.Error("dashboard: count patients failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list patients")
		return
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, name, phone, email, age, gender, blood_group, condition, status, address,
		       to_char(last_visit, 'YYYY-MM-DD')
		FROM patients
		ORDER BY last_visit DESC NULLS LAST, id
		LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		h.logger.Error("dashboard: list patients failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list patients")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.Age, &p.Gender, &p.BloodGroup,
			&p.Condition, &p.Status, &p.Address, &p.LastVisit); err != nil {
			h.logger.Error("dashboard: scan patient failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list patients")
			return
		}
		resp.Patients = append(resp.Patients, p)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("dashboard: list patients failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list patients")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CountSummary is a headline number on the dashboard.
type CountSummary struct {
	Count int `json:"count"`
}

// AppointmentStats breaks appointments down by outcome.
type AppointmentStats struct {
	Total       int            `json:"total"`
	Today       int            `json:"today"`
	Cancelled   int            `json:"cancelled"`
	Rescheduled int            `json:"rescheduled"`
	Completed   int            `json:"completed"`
	ByStatus    map[string]int `json:"byStatus"`
	BySource    map[string]int `json:"bySource"`
}

// Summary is the dashboard landing page payload.
type Summary struct {
	Summary struct {
		Doctors          CountSummary `json:"doctors"`
		AvailableDoctors CountSummary `json:"availableDoctors"`
		Patients         CountSummary `json:"patients"`
		Appointments     CountSummary `json:"appointments"`
	} `json:"summary"`
	AppointmentStats AppointmentStats `json:"appointmentStats"`
	// BotOutcomes are the WhatsApp flow's booking outcomes since process start.
	BotOutcomes map[string]float64 `json:"botOutcomes"`
}

// GetSummary returns headline counts.
// GET /api/dashboard
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	ctx := r.Context()
	var out Summary

	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&out.Summary.Doctors.Count, `SELECT COUNT(*) FROM doctors`, nil},
		{&out.Summary.AvailableDoctors.Count, `SELECT COUNT(*) FROM doctors WHERE status = $1`, []any{doctors.StatusAvailable}},
		{&out.Summary.Patients.Count, `SELECT COUNT(*) FROM patients`, nil},
		{&out.AppointmentStats.Today, `SELECT COUNT(*) FROM appointments WHERE appointment_date = $1::date AND status <> $2`,
			[]any{h.today().Format(scheduling.DateLayout), appointments.StatusCancelled}},
	}
	for _, c := range counts {
		if err := h.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			h.logger.Error("dashboard: summary count failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to build dashboard")
			return
		}
	}

	byStatus, err := h.groupCount(ctx, "status")
	if err != nil {
		h.logger.Error("dashboard: status breakdown failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	bySource, err := h.groupCount(ctx, "booking_source")
	if err != nil {
		h.logger.Error("dashboard: source breakdown failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}

	stats := &out.AppointmentStats
	stats.ByStatus = byStatus
	stats.BySource = bySource
	for _, n := range byStatus {
		stats.Total += n
	}
	stats.Cancelled = byStatus[appointments.StatusCancelled]
	stats.Rescheduled = byStatus[appointments.StatusRescheduled]
	stats.Completed = byStatus[appointments.StatusCompleted]
	out.Summary.Appointments.Count = stats.Total
	out.BotOutcomes = snapshotOutcomes(h.gatherer)

	writeJSON(w, http.StatusOK, out)
}

// groupCount counts appointments grouped by a fixed column name.
func (h *Handler) groupCount(ctx context.Context, column string) (map[string]int, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM appointments GROUP BY `+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

// SearchResult is one hit in the global search box.
type SearchResult struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Link     string `json:"link"`
}

// Search matches patients, doctors and appointments, a few of each.
// GET /api/search?q=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len([]rune(q)) < searchMinLength {
		writeError(w, http.StatusUnprocessableEntity, "q must be at least 2 characters")
		return
	}
	if !h.requireDB(w) {
		return
	}
	ctx := r.Context()
	pattern := "%" + escapeLike(q) + "%"
	results := make([]SearchResult, 0, 3*searchPerKind)

	kinds := []struct {
		query string
		build func(cols [4]string) SearchResult
	}{
		{
			query: `SELECT id::text, name, phone, '' FROM patients
				WHERE name ILIKE $1 OR COALESCE(email, '') ILIKE $1 OR phone ILIKE $1
				ORDER BY name LIMIT $2`,
			build: func(c [4]string) SearchResult {
				return SearchResult{Type: "patient", ID: c[0], Title: c[1], Subtitle: "Phone: " + orNA(c[2]), Link: "/patients?id=" + c[0]}
			},
		},
		{
			query: `SELECT id, name, specialization, '' FROM doctors
				WHERE name ILIKE $1 OR specialization ILIKE $1
				ORDER BY name LIMIT $2`,
			build: func(c [4]string) SearchResult {
				return SearchResult{Type: "doctor", ID: c[0], Title: c[1], Subtitle: c[2], Link: "/doctors?id=" + c[0]}
			},
		},
		{
			query: `SELECT id::text, patient_name || ' with ' || doctor_name,
				       to_char(appointment_date, 'YYYY-MM-DD') || ' at ' || to_char(appointment_time, 'HH24:MI'), status
				FROM appointments
				WHERE patient_name ILIKE $1 OR doctor_name ILIKE $1 OR COALESCE(reason, '') ILIKE $1
				ORDER BY appointment_date DESC, appointment_time DESC LIMIT $2`,
			build: func(c [4]string) SearchResult {
				return SearchResult{Type: "appointment", ID: c[0], Title: c[1], Subtitle: c[2] + " (" + c[3] + ")", Link: "/appointments?id=" + c[0]}
			},
		},
	}
	for _, kind := range kinds {
		rows, err := h.db.QueryContext(ctx, kind.query, pattern, searchPerKind)
		if err != nil {
			h.logger.Error("dashboard: search failed", "error", err)
			writeError(w, http.StatusInternalServerError, "search failed")
			return
		}
		for rows.Next() {
			var cols [4]string
			if err := rows.Scan(&cols[0], &cols[1], &cols[2], &cols[3]); err != nil {
				rows.Close()
				h.logger.Error("dashboard: scan search result failed", "error", err)
				writeError(w, http.StatusInternalServerError, "search failed")
				return
			}
			results = append(results, kind.build(cols))
		}
		rows.Close()
	}
	writeJSON(w, http.StatusOK, results)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// QueueEntry is one patient on today's waiting-room board.
type QueueEntry struct {
	ID      string `json:"id"`
	Patient struct {
		Name   string `json:"name"`
		Mobile string `json:"mobile"`
	} `json:"patient"`
	Doctor struct {
		Name       string `json:"name"`
		Department string `json:"department"`
	} `json:"doctor"`
	SlotStartTime string `json:"slotStartTime"`
	Status        string `json:"status"`
	Source        string `json:"source"`
	// WaitingTime is minutes past the slot start for patients still waiting.
	WaitingTime int `json:"waitingTime"`
}

// GetQueue returns today's open appointments in slot order.
// GET /api/queue
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	if !h.requireDB(w) {
		return
	}
	now := h.today()
	today := scheduling.StartOfDay(now)

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, patient_name, patient_phone, doctor_name, specialization,
		       to_char(appointment_time, 'HH24:MI'), status, booking_source
		FROM appointments
		WHERE appointment_date = $1::date AND status = ANY($2)
		ORDER BY appointment_time, doctor_name`,
		today.Format(scheduling.DateLayout), pq.Array(queueStatuses))
	if err != nil {
		h.logger.Error("dashboard: queue query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load queue")
		return
	}
	defer rows.Close()

	queue := make([]QueueEntry, 0)
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.Patient.Name, &e.Patient.Mobile, &e.Doctor.Name, &e.Doctor.Department,
			&e.SlotStartTime, &e.Status, &e.Source); err != nil {
			h.logger.Error("dashboard: scan queue entry failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load queue")
			return
		}
		if e.Status != appointments.StatusInConsultation {
			if start, err := scheduling.At(today, e.SlotStartTime); err == nil && now.After(start) {
				e.WaitingTime = int(now.Sub(start).Minutes())
			}
		}
		queue = append(queue, e)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("dashboard: queue query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load queue")
		return
	}
	writeData(w, http.StatusOK, queue)
}
