package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/calendar"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/internal/scheduling"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// Monday 2024-01-01 08:00.
var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.AppointmentChangedV1
}

func (n *recordingNotifier) NotifyAppointment(_ context.Context, evt events.AppointmentChangedV1) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

type fixture struct {
	handler  *Handler
	dir      *doctors.MemoryDirectory
	repo     *appointments.InMemoryRepository
	notifier *recordingNotifier
	router   chi.Router
}

func newFixture(t *testing.T, db *sql.DB, now time.Time, opts ...Option) *fixture {
	t.Helper()
	repo := appointments.NewInMemoryRepository()
	notifier := &recordingNotifier{}
	opts = append([]Option{WithNotifier(notifier), WithClock(func() time.Time { return now })}, opts...)
	dir := doctors.NewMemoryDirectory(doctors.DefaultRoster()...)
	h := NewHandler(db, dir, repo, logging.Discard(), opts...)

	r := chi.NewRouter()
	r.Get("/api/appointments", h.ListAppointments)
	r.Post("/api/appointments", h.CreateAppointment)
	r.Put("/api/appointments/{id}/status", h.UpdateAppointmentStatus)
	r.Get("/api/doctors", h.ListDoctors)
	r.Get("/api/patients", h.ListPatients)
	r.Get("/api/dashboard", h.GetSummary)
	r.Get("/api/search", h.Search)
	r.Get("/api/queue", h.GetQueue)
	return &fixture{handler: h, dir: dir, repo: repo, notifier: notifier, router: r}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.True(t, env.Success)
	return env.Data
}

func TestCreateAppointmentBooksAndNotifies(t *testing.T) {
	f := newFixture(t, nil, testNow)

	rec := f.do(http.MethodPost, "/api/appointments",
		`{"patientPhone":"+919876543210","patientName":"Asha","doctorId":"dr_001","date":"2024-01-01","time":"9:30","reason":"chest pain"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	row := decodeData[AppointmentRow](t, rec)
	assert.Equal(t, "919876543210", row.PatientMobile)
	assert.Equal(t, "09:30", row.Time)
	assert.Equal(t, "Dr. Rajesh Kumar", row.DoctorName)
	assert.Equal(t, appointments.SourceDashboard, row.Source)
	assert.Equal(t, appointments.StatusScheduled, row.Status)

	booked, err := f.repo.BookedTimes(context.Background(), "dr_001", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30"}, booked)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, events.AppointmentBooked, f.notifier.events[0].Kind)
	assert.Equal(t, row.ID, f.notifier.events[0].AppointmentID)
}

func TestNormalizeClock(t *testing.T) {
	cases := map[string]string{
		"9:30":   "09:30",
		"09:30":  "09:30",
		" 7:05 ": "07:05",
		"14:00":  "14:00",
		"9.30":   "9.30",
		"25:00":  "25:00",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeClock(in), in)
	}
}

type busyCalendar struct {
	busy []scheduling.TimeRange
	err  error
}

func (c *busyCalendar) BusyRanges(context.Context, string, time.Time) ([]scheduling.TimeRange, error) {
	return c.busy, c.err
}

func (c *busyCalendar) CreateEvent(context.Context, calendar.EventRequest) (string, error) {
	return "", nil
}

func (c *busyCalendar) DeleteEvent(context.Context, string, string, time.Time) error {
	return nil
}

func withDoctorCalendar(t *testing.T, f *fixture, id string) {
	t.Helper()
	doc, err := f.dir.Get(context.Background(), id)
	require.NoError(t, err)
	doc.CalendarID = "rajesh@cityhospital.test"
	f.dir.Put(*doc)
}

func TestCreateAppointmentRespectsDoctorCalendar(t *testing.T) {
	cal := &busyCalendar{busy: []scheduling.TimeRange{{
		Start: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}}}
	f := newFixture(t, nil, testNow, WithCalendar(cal, time.Second))
	withDoctorCalendar(t, f, "dr_001")

	rec := f.do(http.MethodPost, "/api/appointments",
		`{"patientPhone":"919876543210","doctorId":"dr_001","date":"2024-01-01","time":"9:30"}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "calendar is busy")
	assert.Empty(t, f.notifier.events)

	rec = f.do(http.MethodPost, "/api/appointments",
		`{"patientPhone":"919876543210","doctorId":"dr_001","date":"2024-01-01","time":"10:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateAppointmentCalendarOutageFailsOpen(t *testing.T) {
	f := newFixture(t, nil, testNow, WithCalendar(&busyCalendar{err: errors.New("503")}, time.Second))
	withDoctorCalendar(t, f, "dr_001")

	rec := f.do(http.MethodPost, "/api/appointments",
		`{"patientPhone":"919876543210","doctorId":"dr_001","date":"2024-01-01","time":"09:30"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateAppointmentAppliesBookingRules(t *testing.T) {
	f := newFixture(t, nil, testNow)
	_, err := f.repo.Create(context.Background(), &appointments.Appointment{
		PatientPhone: "919876543210", DoctorID: "dr_001", DoctorName: "Dr. Rajesh Kumar",
		Date: "2024-01-01", Time: "09:00",
	})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/appointments",
		`{"patientPhone":"919876543210","doctorId":"dr_001","date":"2024-01-01","time":"11:00","source":"Phone"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "SAME_DOCTOR_DAY")

	rec = f.do(http.MethodPost, "/api/appointments",
		`{"patientPhone":"919876543210","doctorId":"dr_003","date":"2024-01-01","time":"09:00"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "TIME_CLASH")

	rec = f.do(http.MethodPost, "/api/appointments",
		`{"patientPhone":"911111111111","doctorId":"dr_001","date":"2024-01-01","time":"09:00"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "slot already taken")
	assert.Empty(t, f.notifier.events)
}

func TestCreateAppointmentRejectsBadSlots(t *testing.T) {
	f := newFixture(t, nil, testNow)

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"missing fields", `{"doctorId":"dr_001"}`, http.StatusBadRequest},
		{"bad source", `{"patientPhone":"91","doctorId":"dr_001","date":"2024-01-01","time":"09:00","source":"Fax"}`, http.StatusBadRequest},
		{"unknown doctor", `{"patientPhone":"91","doctorId":"dr_999","date":"2024-01-01","time":"09:00"}`, http.StatusNotFound},
		{"off grid", `{"patientPhone":"91","doctorId":"dr_001","date":"2024-01-01","time":"09:10"}`, http.StatusUnprocessableEntity},
		{"lunch break", `{"patientPhone":"91","doctorId":"dr_001","date":"2024-01-01","time":"13:00"}`, http.StatusUnprocessableEntity},
		{"day off", `{"patientPhone":"91","doctorId":"dr_001","date":"2024-01-02","time":"09:00"}`, http.StatusUnprocessableEntity},
		{"past", `{"patientPhone":"91","doctorId":"dr_001","date":"2023-12-29","time":"09:00"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"patientPhone":"91","doctorId":"dr_001","date":"01/01/2024","time":"09:00"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/appointments", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestUpdateAppointmentStatus(t *testing.T) {
	f := newFixture(t, nil, testNow)
	appt, err := f.repo.Create(context.Background(), &appointments.Appointment{
		PatientPhone: "919876543210", DoctorID: "dr_001", Date: "2024-01-01", Time: "09:00",
	})
	require.NoError(t, err)
	target := "/api/appointments/" + appt.ID + "/status"

	rec := f.do(http.MethodPut, target, `{"status":"Checked In"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointments.StatusCheckedIn, decodeData[AppointmentRow](t, rec).Status)

	rec = f.do(http.MethodPut, target, `{"status":"Teleported"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, target, `{"status":"Cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, events.AppointmentCancelled, f.notifier.events[0].Kind)

	rec = f.do(http.MethodPut, target, `{"status":"Completed"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPut, "/api/appointments/not-a-uuid/status", `{"status":"Completed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDoctorsFilters(t *testing.T) {
	f := newFixture(t, nil, testNow)

	rec := f.do(http.MethodGet, "/api/doctors?specialization=Cardiology", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[[]doctors.Doctor](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "dr_001", list[0].ID)
	assert.Equal(t, "dr_002", list[1].ID)
}

func TestReportsRequireDatabase(t *testing.T) {
	f := newFixture(t, nil, testNow)
	for _, target := range []string{"/api/appointments", "/api/patients", "/api/dashboard", "/api/queue", "/api/search?q=asha"} {
		assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, target, "").Code, target)
	}
}

func TestListAppointmentsByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f := newFixture(t, db, testNow)

	created := time.Date(2023, 12, 30, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments WHERE status = $1 ORDER BY appointment_date DESC, appointment_time DESC LIMIT $2 OFFSET $3")).
		WithArgs(appointments.StatusScheduled, 20, 40).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_name", "patient_phone", "doctor_id", "doctor_name", "specialization", "date", "time", "status", "booking_source", "reason", "created_at"}).
			AddRow("a-1", "Asha", "919876543210", "dr_001", "Dr. Rajesh Kumar", "Cardiology", "2024-01-03", "09:00", "Scheduled", "WhatsApp", "", created))

	rec := f.do(http.MethodGet, "/api/appointments?status=Scheduled&skip=40&limit=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeData[[]AppointmentRow](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Cardiology", rows[0].Department)
	assert.Equal(t, "2024-01-03", rows[0].Date)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPatients(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f := newFixture(t, db, testNow)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM patients")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM patients")).
		WithArgs(defaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "email", "age", "gender", "blood_group", "condition", "status", "address", "last_visit"}).
			AddRow(int64(1), "Asha", "919876543210", nil, 34, "F", nil, nil, "Active", nil, "2024-01-01").
			AddRow(int64(2), "Ravi", "911111111111", "ravi@example.com", nil, nil, nil, nil, "Active", nil, nil))

	rec := f.do(http.MethodGet, "/api/patients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PatientsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Patients, 2)
	require.NotNil(t, resp.Patients[0].Age)
	assert.Equal(t, 34, *resp.Patients[0].Age)
	assert.Nil(t, resp.Patients[0].Email)
	assert.Nil(t, resp.Patients[1].LastVisit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	bm := metrics.NewBookingMetrics(reg)
	bm.ObserveOutcome(metrics.OutcomeBooked)
	bm.ObserveOutcome(metrics.OutcomeBooked)
	bm.ObserveOutcome(metrics.OutcomeRejectedTimeClash)
	f := newFixture(t, db, testNow, WithGatherer(reg))

	count := func(n int) *sqlmock.Rows { return sqlmock.NewRows([]string{"count"}).AddRow(n) }
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM doctors")).WillReturnRows(count(6))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM doctors WHERE status = $1")).
		WithArgs(doctors.StatusAvailable).WillReturnRows(count(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM patients")).WillReturnRows(count(40))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM appointments WHERE appointment_date = $1::date")).
		WithArgs("2024-01-01", appointments.StatusCancelled).WillReturnRows(count(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM appointments GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("Scheduled", 7).AddRow("Cancelled", 2).AddRow("Completed", 4).AddRow("Rescheduled", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT booking_source, COUNT(*) FROM appointments GROUP BY booking_source")).
		WillReturnRows(sqlmock.NewRows([]string{"booking_source", "count"}).AddRow("WhatsApp", 12).AddRow("Dashboard", 2))

	rec := f.do(http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 6, out.Summary.Doctors.Count)
	assert.Equal(t, 5, out.Summary.AvailableDoctors.Count)
	assert.Equal(t, 40, out.Summary.Patients.Count)
	assert.Equal(t, 14, out.Summary.Appointments.Count)
	assert.Equal(t, 3, out.AppointmentStats.Today)
	assert.Equal(t, 2, out.AppointmentStats.Cancelled)
	assert.Equal(t, 4, out.AppointmentStats.Completed)
	assert.Equal(t, 1, out.AppointmentStats.Rescheduled)
	assert.Equal(t, 12, out.AppointmentStats.BySource["WhatsApp"])
	assert.Equal(t, 2.0, out.BotOutcomes[metrics.OutcomeBooked])
	assert.Equal(t, 1.0, out.BotOutcomes[metrics.OutcomeRejectedTimeClash])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f := newFixture(t, db, testNow)

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodGet, "/api/search?q=a", "").Code)

	cols := []string{"a", "b", "c", "d"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM patients")).WithArgs("%kum\\_ar%", searchPerKind).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM doctors")).WithArgs("%kum\\_ar%", searchPerKind).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("dr_001", "Dr. Rajesh Kumar", "Cardiology", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments")).WithArgs("%kum\\_ar%", searchPerKind).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a-1", "Asha with Dr. Rajesh Kumar", "2024-01-03 at 09:00", "Scheduled"))

	rec := f.do(http.MethodGet, "/api/search?q=kum_ar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var results []SearchResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&results))
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{Type: "doctor", ID: "dr_001", Title: "Dr. Rajesh Kumar", Subtitle: "Cardiology", Link: "/doctors?id=dr_001"}, results[0])
	assert.Equal(t, "2024-01-03 at 09:00 (Scheduled)", results[1].Subtitle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueueComputesWaitingTime(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f := newFixture(t, db, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE appointment_date = $1::date AND status = ANY($2)")).
		WithArgs("2024-01-01", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_name", "patient_phone", "doctor_name", "specialization", "time", "status", "booking_source"}).
			AddRow("a-1", "Asha", "919876543210", "Dr. Rajesh Kumar", "Cardiology", "09:30", "Checked In", "WhatsApp").
			AddRow("a-2", "Ravi", "911111111111", "Dr. Anil Mehta", "Orthopedics", "09:40", "In Consultation", "Dashboard").
			AddRow("a-3", "Meera", "922222222222", "Dr. Anil Mehta", "Orthopedics", "10:20", "Scheduled", "WhatsApp"))

	rec := f.do(http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decodeData[[]QueueEntry](t, rec)
	require.Len(t, queue, 3)
	assert.Equal(t, 30, queue[0].WaitingTime)
	assert.Equal(t, "Asha", queue[0].Patient.Name)
	assert.Equal(t, "Cardiology", queue[0].Doctor.Department)
	assert.Zero(t, queue[1].WaitingTime)
	assert.Zero(t, queue[2].WaitingTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}
