// Package dashboard serves the hospital staff dashboard: appointment lists,
// the day's queue, search, summary counts and front-desk writes.
package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/booking"
	"github.com/cityhospital/appointment-bot/internal/calendar"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	searchMinLength  = 2
	searchPerKind    = 5
)

type appointmentNotifier interface {
	NotifyAppointment(ctx context.Context, evt events.AppointmentChangedV1) error
}

// Handler serves the /api dashboard routes. Reports read Postgres through
// database/sql; writes go through the appointment repository so they share
// the booking rules with the WhatsApp flow.
type Handler struct {
	db        *sql.DB
	directory doctors.Directory
	repo      appointments.Repository
	validator *booking.Validator
	notifier  appointmentNotifier
	calendar  calendar.Calendar
	calWait   time.Duration
	gatherer  prometheus.Gatherer
	loc       *time.Location
	now       func() time.Time
	logger    *logging.Logger
}

// Option customizes the handler.
type Option func(*Handler)

// WithNotifier is told about appointments created or cancelled from the dashboard.
func WithNotifier(n appointmentNotifier) Option {
	return func(h *Handler) {
		h.notifier = n
	}
}

// WithCalendar makes front-desk bookings respect the doctor's external
// calendar. Lookups slower than timeout count as free.
func WithCalendar(cal calendar.Calendar, timeout time.Duration) Option {
	return func(h *Handler) {
		if cal != nil {
			h.calendar = cal
		}
		if timeout > 0 {
			h.calWait = timeout
		}
	}
}

// WithGatherer sets where bot outcome counters are read from.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		if g != nil {
			h.gatherer = g
		}
	}
}

// WithLocation sets the hospital time zone used for "today".
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates the dashboard handler. db may be nil, in which case the
// SQL reports answer 503.
func NewHandler(db *sql.DB, directory doctors.Directory, repo appointments.Repository, logger *logging.Logger, opts ...Option) *Handler {
	if directory == nil {
		panic("dashboard: doctor directory cannot be nil")
	}
	if repo == nil {
		panic("dashboard: appointment repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		db:        db,
		directory: directory,
		repo:      repo,
		validator: booking.NewValidator(repo),
		calendar:  calendar.Noop{},
		calWait:   5 * time.Second,
		gatherer:  prometheus.DefaultGatherer,
		loc:       time.UTC,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) today() time.Time {
	return h.now().In(h.loc)
}

// requireDB writes 503 when reports are unavailable.
func (h *Handler) requireDB(w http.ResponseWriter) bool {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "dashboard reports require a database")
		return false
	}
	return true
}

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "detail": message})
}

// pagination reads skip and limit, clamping limit to maxListLimit.
func pagination(r *http.Request) (skip, limit int) {
	q := r.URL.Query()
	skip, _ = strconv.Atoi(q.Get("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return skip, limit
}
