package doctors

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Specialization string
	Status         string
}

// Directory looks doctors up for the booking flow and the dashboard.
type Directory interface {
	Get(ctx context.Context, id string) (*Doctor, error)
	ListBySpecialization(ctx context.Context, specialization string) ([]Doctor, error)
	Specializations(ctx context.Context) ([]string, error)
	List(ctx context.Context, filter Filter) ([]Doctor, error)
}

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	doctors map[string]Doctor
	order   []string
}

// NewMemoryDirectory builds a directory from the given doctors, keeping their order.
func NewMemoryDirectory(list ...Doctor) *MemoryDirectory {
	d := &MemoryDirectory{doctors: make(map[string]Doctor, len(list))}
	for _, doc := range list {
		d.Put(doc)
	}
	return d
}

// Put inserts or replaces a doctor.
func (d *MemoryDirectory) Put(doc Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.doctors[doc.ID]; !ok {
		d.order = append(d.order, doc.ID)
	}
	d.doctors[doc.ID] = doc
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &doc, nil
}

func (d *MemoryDirectory) ListBySpecialization(ctx context.Context, specialization string) ([]Doctor, error) {
	return d.List(ctx, Filter{Specialization: specialization})
}

func (d *MemoryDirectory) Specializations(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, doc := range d.doctors {
		spec := strings.TrimSpace(doc.Specialization)
		if spec == "" {
			continue
		}
		if _, ok := seen[spec]; ok {
			continue
		}
		seen[spec] = struct{}{}
		out = append(out, spec)
	}
	sort.Strings(out)
	return out, nil
}

func (d *MemoryDirectory) List(_ context.Context, filter Filter) ([]Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Doctor, 0, len(d.order))
	for _, id := range d.order {
		doc := d.doctors[id]
		if filter.Specialization != "" && doc.Specialization != filter.Specialization {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// DefaultRoster is the seed roster used when no database is configured.
func DefaultRoster() []Doctor {
	weekdays := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
	lunch := func() *BreakWindow { return &BreakWindow{Start: "13:00", End: "14:00"} }
	return []Doctor{
		{ID: FormatID(1), Name: "Dr. Rajesh Kumar", Specialization: "Cardiology", Status: StatusAvailable, WorkStart: "09:00", WorkEnd: "17:00", WorkingDays: []string{"Monday", "Wednesday", "Friday"}, SlotMinutes: 30, Break: lunch()},
		{ID: FormatID(2), Name: "Dr. Priya Sharma", Specialization: "Cardiology", Status: StatusAvailable, WorkStart: "10:00", WorkEnd: "18:00", WorkingDays: []string{"Tuesday", "Thursday", "Saturday"}, SlotMinutes: 30, Break: lunch()},
		{ID: FormatID(3), Name: "Dr. Anil Mehta", Specialization: "Orthopedics", Status: StatusAvailable, WorkStart: "09:00", WorkEnd: "16:00", WorkingDays: weekdays, SlotMinutes: 20, Break: lunch()},
		{ID: FormatID(4), Name: "Dr. Sneha Reddy", Specialization: "Pediatrics", Status: StatusAvailable, WorkStart: "08:30", WorkEnd: "14:30", WorkingDays: weekdays, SlotMinutes: 15},
		{ID: FormatID(5), Name: "Dr. Vikram Singh", Specialization: "Dermatology", Status: StatusAvailable, WorkStart: "11:00", WorkEnd: "19:00", WorkingDays: []string{"Monday", "Tuesday", "Thursday", "Saturday"}, SlotMinutes: 30, Break: &BreakWindow{Start: "14:00", End: "15:00"}},
		{ID: FormatID(6), Name: "Dr. Kavita Iyer", Specialization: "General Medicine", Status: StatusAvailable, WorkStart: "09:00", WorkEnd: "17:00", WorkingDays: append(append([]string{}, weekdays...), "Saturday"), SlotMinutes: 15, Break: lunch()},
	}
}
