package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is a Repository for tests and single-process development.
// It enforces the same uniqueness rules as the database indexes.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Appointment
	now   func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		items: make(map[string]*Appointment),
		now:   time.Now,
	}
}

func (r *InMemoryRepository) Create(_ context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(appt, "")
}

func (r *InMemoryRepository) insertLocked(appt *Appointment, ignoreID string) (*Appointment, error) {
	if err := r.checkUniqueLocked(appt, ignoreID); err != nil {
		return nil, err
	}
	stored := *appt
	stored.ID = uuid.NewString()
	applyDefaults(&stored, r.now())
	r.items[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *InMemoryRepository) checkUniqueLocked(appt *Appointment, ignoreID string) error {
	for id, existing := range r.items {
		if id == ignoreID || !existing.Active() || existing.Date != appt.Date {
			continue
		}
		if existing.DoctorID == appt.DoctorID && existing.Time == appt.Time {
			return ErrSlotTaken
		}
		if existing.PatientPhone != appt.PatientPhone {
			continue
		}
		if existing.DoctorID == appt.DoctorID || existing.Time == appt.Time {
			return ErrConflict
		}
	}
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	appt, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *appt
	return &out, nil
}

func (r *InMemoryRepository) Cancel(_ context.Context, id string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !appt.Active() {
		return nil, ErrNotActive
	}
	appt.Status = StatusCancelled
	appt.UpdatedAt = r.now()
	out := *appt
	return &out, nil
}

func (r *InMemoryRepository) Reschedule(_ context.Context, oldID string, next *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.items[oldID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !old.Active() {
		return nil, ErrNotActive
	}
	created, err := r.insertLocked(next, oldID)
	if err != nil {
		return nil, err
	}
	old.Status = StatusCancelled
	old.UpdatedAt = r.now()
	return created, nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, id, status string) (*Appointment, error) {
	if !ProgressStatus(status) {
		return nil, ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !appt.Active() {
		return nil, ErrNotActive
	}
	appt.Status = status
	appt.UpdatedAt = r.now()
	out := *appt
	return &out, nil
}

func (r *InMemoryRepository) ListActiveByPatient(_ context.Context, phone string) ([]Appointment, error) {
	return r.collect(func(a *Appointment) bool { return a.PatientPhone == phone }), nil
}

func (r *InMemoryRepository) ListActiveByDoctorDate(_ context.Context, doctorID, date string) ([]Appointment, error) {
	return r.collect(func(a *Appointment) bool { return a.DoctorID == doctorID && a.Date == date }), nil
}

func (r *InMemoryRepository) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	list, _ := r.ListActiveByDoctorDate(ctx, doctorID, date)
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Time)
	}
	return out, nil
}

func (r *InMemoryRepository) SetCalendarEvent(_ context.Context, id, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.items[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	appt.CalendarEventID = eventID
	return nil
}

func (r *InMemoryRepository) collect(match func(*Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.items {
		if a.Active() && match(a) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	return out
}

func sortByStart(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].Time < list[j].Time
	})
}
