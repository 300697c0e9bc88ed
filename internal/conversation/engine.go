package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cityhospital/appointment-bot/internal/appointments"
	"github.com/cityhospital/appointment-bot/internal/booking"
	"github.com/cityhospital/appointment-bot/internal/calendar"
	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/events"
	"github.com/cityhospital/appointment-bot/internal/observability/metrics"
	"github.com/cityhospital/appointment-bot/internal/scheduling"
	"github.com/cityhospital/appointment-bot/internal/session"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

var tracer = otel.Tracer("cityhospital.appointment-bot.conversation")

// ErrMissingPatient is returned for events without a patient id.
var ErrMissingPatient = errors.New("conversation: event has no patient id")

// Root actions offered by the main menu.
const (
	ActionBook       = "book_appointment"
	ActionReschedule = "reschedule_appointment"
	ActionCancel     = "cancel_appointment"
)

// Selection id prefixes.
const (
	prefixSpecialization = "spec_"
	prefixDate           = "date_"
	prefixTime           = "time_"
	prefixCancel         = "cancel_"
	prefixReschedule     = "reschedule_"
)

const (
	defaultHospitalName    = "City Hospital"
	defaultCalendarTimeout = 5 * time.Second
	dateMenuSize           = 7
	dateMenuLookahead      = 14
)

// Event is one inbound patient interaction. Exactly one of Text or
// SelectionID is expected; SelectionID wins when both are set.
type Event struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	Text        string `json:"text,omitempty"`
	SelectionID string `json:"selection_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
}

type slotFinder interface {
	Slots(ctx context.Context, doc doctors.Doctor, date time.Time) ([]string, error)
}

// Engine drives the per-patient booking conversation.
type Engine struct {
	doctors      doctors.Directory
	appointments appointments.Repository
	sessions     session.Store
	locker       session.Locker
	validator    *booking.Validator
	availability slotFinder
	calendar     calendar.Calendar
	notifier     Notifier
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger

	now             func() time.Time
	loc             *time.Location
	hospital        string
	calendarTimeout time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithCalendar wires the external calendar for busy lookups and event mirroring.
func WithCalendar(cal calendar.Calendar) EngineOption {
	return func(e *Engine) {
		if cal != nil {
			e.calendar = cal
		}
	}
}

// WithCalendarTimeout bounds each calendar call.
func WithCalendarTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.calendarTimeout = d
		}
	}
}

// WithLocker replaces the in-process per-patient lock.
func WithLocker(l session.Locker) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithNotifier receives committed appointment changes.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithBookingMetrics records events, transitions and outcomes.
func WithBookingMetrics(m *metrics.BookingMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEngineClock overrides time.Now.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the hospital's time zone. Dates and times are wall-clock in it.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithHospitalName sets the name used in greetings.
func WithHospitalName(name string) EngineOption {
	return func(e *Engine) {
		if strings.TrimSpace(name) != "" {
			e.hospital = strings.TrimSpace(name)
		}
	}
}

// NewEngine wires the conversation engine.
func NewEngine(dir doctors.Directory, appts appointments.Repository, sessions session.Store, logger *logging.Logger, opts ...EngineOption) *Engine {
	if dir == nil {
		panic("conversation: doctor directory cannot be nil")
	}
	if appts == nil {
		panic("conversation: appointment repository cannot be nil")
	}
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		doctors:         dir,
		appointments:    appts,
		sessions:        sessions,
		locker:          session.NewKeyedMutex(),
		validator:       booking.NewValidator(appts),
		calendar:        calendar.Noop{},
		logger:          logger,
		now:             time.Now,
		loc:             time.Local,
		hospital:        defaultHospitalName,
		calendarTimeout: defaultCalendarTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.availability = scheduling.NewAvailability(appts, logger,
		scheduling.WithBusySource(e.calendar),
		scheduling.WithBusyTimeout(e.calendarTimeout),
		scheduling.WithMetrics(e.metrics),
		scheduling.WithClock(e.clock),
	)
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().In(e.loc)
}

// turn carries the state of one Handle call.
type turn struct {
	evt   Event
	sess  *session.Session
	clear bool
}

// Handle applies one event to the patient's session and returns the replies
// to send, in order. When the error is non-nil the session was left as it
// was and the replies hold an apology for the patient.
func (e *Engine) Handle(ctx context.Context, evt Event) ([]Reply, error) {
	evt.PatientID = strings.TrimSpace(evt.PatientID)
	if evt.PatientID == "" {
		return nil, ErrMissingPatient
	}

	ctx, span := tracer.Start(ctx, "conversation.handle")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", evt.MessageID))

	unlock, err := e.locker.Lock(ctx, evt.PatientID)
	if err != nil {
		return nil, fmt.Errorf("conversation: lock session: %w", err)
	}
	defer unlock()

	sess, err := e.sessions.Load(ctx, evt.PatientID)
	if err != nil {
		span.RecordError(err)
		return []Reply{e.apology()}, fmt.Errorf("conversation: load session: %w", err)
	}
	if name := strings.TrimSpace(evt.PatientName); name != "" {
		sess.Scratch.PatientName = name
	}

	from := sess.StepName()
	t := &turn{evt: evt, sess: sess}
	replies, err := e.dispatch(ctx, t)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("conversation turn failed",
			"patient", logging.MaskPhone(evt.PatientID),
			"step", from,
			"error", err,
		)
		return []Reply{e.apology()}, err
	}

	if t.clear {
		if err := e.sessions.Delete(ctx, evt.PatientID); err != nil {
			e.logger.Warn("failed to clear session", "patient", logging.MaskPhone(evt.PatientID), "error", err)
		}
		e.metrics.ObserveTransition(from, string(session.StepIdle))
		return replies, nil
	}

	if err := sess.Validate(); err != nil {
		e.logger.Error("refusing to store inconsistent session", "patient", logging.MaskPhone(evt.PatientID), "error", err)
		return []Reply{e.apology()}, err
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		span.RecordError(err)
		return []Reply{e.apology()}, fmt.Errorf("conversation: save session: %w", err)
	}
	e.metrics.ObserveTransition(from, sess.StepName())
	e.logger.Debug("conversation turn handled",
		"patient", logging.MaskPhone(evt.PatientID),
		"from", from,
		"to", sess.StepName(),
		"replies", len(replies),
	)
	return replies, nil
}

func (e *Engine) apology() Reply {
	return TextReply("Sorry, something went wrong on our side. Please try again in a moment.")
}

func (e *Engine) dispatch(ctx context.Context, t *turn) ([]Reply, error) {
	if id := strings.TrimSpace(t.evt.SelectionID); id != "" {
		e.metrics.ObserveEvent("selection")
		return e.handleSelection(ctx, t, id)
	}
	e.metrics.ObserveEvent("text")
	return e.handleText(ctx, t, t.evt.Text)
}

func (e *Engine) handleSelection(ctx context.Context, t *turn, id string) ([]Reply, error) {
	step := t.sess.Step
	switch {
	case id == ActionBook:
		return e.startBooking(ctx, t)
	case id == ActionCancel:
		return e.listAppointments(ctx, t, manageCancel)
	case id == ActionReschedule:
		return e.listAppointments(ctx, t, manageReschedule)
	case strings.HasPrefix(id, prefixCancel):
		return e.cancelAppointment(ctx, t, strings.TrimPrefix(id, prefixCancel))
	case strings.HasPrefix(id, prefixReschedule):
		return e.beginReschedule(ctx, t, strings.TrimPrefix(id, prefixReschedule))
	case strings.HasPrefix(id, prefixSpecialization):
		if step != session.StepAwaitingSpecialization {
			return e.reprompt(ctx, t)
		}
		return e.selectSpecialization(ctx, t, strings.TrimPrefix(id, prefixSpecialization))
	case doctors.IsID(id):
		if step != session.StepAwaitingDoctor {
			return e.reprompt(ctx, t)
		}
		return e.selectDoctor(ctx, t, id)
	case strings.HasPrefix(id, prefixDate):
		// A date may also be picked again from the time step to change day.
		if step != session.StepAwaitingDate && step != session.StepAwaitingTime {
			return e.reprompt(ctx, t)
		}
		return e.selectDate(ctx, t, strings.TrimPrefix(id, prefixDate))
	case strings.HasPrefix(id, prefixTime):
		if step != session.StepAwaitingTime {
			return e.reprompt(ctx, t)
		}
		return e.selectTime(ctx, t, strings.TrimPrefix(id, prefixTime))
	default:
		return e.reprompt(ctx, t)
	}
}

var (
	resetWords      = []string{"hi", "hello", "menu", "start", "restart"}
	rescheduleWords = []string{"reschedule", "change", "move", "update"}
	cancelWords     = []string{"cancel", "cancellation", "delete", "remove"}
	bookingWords    = []string{"book", "appointment", "schedule", "booking", "new"}
)

func (e *Engine) handleText(ctx context.Context, t *turn, text string) ([]Reply, error) {
	words := tokenize(text)
	if len(words) > 0 && containsAny(words[:1], resetWords) {
		t.sess.Reset()
		return []Reply{e.mainMenu(t)}, nil
	}
	if t.sess.Step != session.StepIdle {
		return e.reprompt(ctx, t)
	}
	switch {
	case containsAny(words, rescheduleWords):
		return e.listAppointments(ctx, t, manageReschedule)
	case containsAny(words, cancelWords):
		return e.listAppointments(ctx, t, manageCancel)
	case containsAny(words, bookingWords):
		return e.startBooking(ctx, t)
	default:
		return []Reply{e.mainMenu(t)}, nil
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func containsAny(words, vocabulary []string) bool {
	for _, w := range words {
		for _, v := range vocabulary {
			if w == v {
				return true
			}
		}
	}
	return false
}

// reprompt re-sends the menu for the current step without advancing.
func (e *Engine) reprompt(ctx context.Context, t *turn) ([]Reply, error) {
	hint := TextReply("Sorry, I didn't get that. Please choose one of the options below.")
	var (
		menu []Reply
		err  error
	)
	sc := t.sess.Scratch
	switch t.sess.Step {
	case session.StepAwaitingSpecialization:
		menu, err = e.specializationMenu(ctx)
	case session.StepAwaitingDoctor:
		menu, err = e.doctorMenu(ctx, sc.Specialization)
	case session.StepAwaitingDate:
		doc, derr := e.doctors.Get(ctx, sc.DoctorID)
		if derr != nil {
			return e.abandon(t, derr)
		}
		menu = e.dateMenu(*doc)
	case session.StepAwaitingTime:
		doc, derr := e.doctors.Get(ctx, sc.DoctorID)
		if derr != nil {
			return e.abandon(t, derr)
		}
		date, perr := scheduling.ParseDate(sc.Date, e.loc)
		if perr != nil {
			return e.abandon(t, perr)
		}
		var slots []string
		slots, err = e.availability.Slots(ctx, *doc, date)
		if err == nil && len(slots) > 0 {
			menu = e.timeMenu(*doc, sc.Date, slots)
		} else if err == nil {
			menu = e.dateMenu(*doc)
		}
	default:
		return []Reply{e.mainMenu(t)}, nil
	}
	if err != nil {
		return nil, err
	}
	return append([]Reply{hint}, menu...), nil
}

// abandon resets a session whose scratch no longer resolves, e.g. a doctor removed mid-flow.
func (e *Engine) abandon(t *turn, cause error) ([]Reply, error) {
	if !errors.Is(cause, doctors.ErrDoctorNotFound) && !isParseError(cause) {
		return nil, cause
	}
	e.logger.Warn("resetting session with stale selections", "patient", logging.MaskPhone(t.sess.PatientID), "error", cause)
	t.sess.Reset()
	return []Reply{
		TextReply("Sorry, that selection is no longer available. Let's start again."),
		e.mainMenu(t),
	}, nil
}

func isParseError(err error) bool {
	var perr *time.ParseError
	return errors.As(err, &perr)
}

func (e *Engine) notify(ctx context.Context, kind events.AppointmentEventKind, appt *appointments.Appointment, previous *appointments.Appointment) {
	if e.notifier == nil || appt == nil {
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
		OccurredAt:     e.now().UTC(),
	}
	if previous != nil {
		evt.PreviousID = previous.ID
		evt.PreviousDate = previous.Date
		evt.PreviousTime = previous.Time
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.calendarTimeout)
	defer cancel()
	if err := e.notifier.NotifyAppointment(notifyCtx, evt); err != nil {
		e.logger.Warn("appointment notification failed", "appointment_id", appt.ID, "kind", kind, "error", err)
	}
}
