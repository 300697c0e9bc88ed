package doctors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDoctorNotFound is returned when no doctor matches the id.
	ErrDoctorNotFound = errors.New("doctor not found")

	// ErrInvalidSchedule is returned when working hours or slot length are malformed.
	ErrInvalidSchedule = errors.New("invalid doctor schedule")
)

// IDPrefix marks doctor ids; the conversation engine relies on it to recognise a doctor selection.
const IDPrefix = "dr_"

// Statuses a doctor row can carry.
const (
	StatusAvailable = "Available"
	StatusOnLeave   = "On Leave"
	StatusBusy      = "Busy"
)

// BreakWindow is a daily break in local "HH:MM" clock time.
type BreakWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Doctor is a bookable practitioner.
type Doctor struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Specialization string       `json:"specialization"`
	Status         string       `json:"status"`
	Email          string       `json:"email,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	WorkStart      string       `json:"work_start"`
	WorkEnd        string       `json:"work_end"`
	WorkingDays    []string     `json:"working_days"`
	SlotMinutes    int          `json:"slot_minutes"`
	Break          *BreakWindow `json:"break,omitempty"`
	CalendarID     string       `json:"calendar_id,omitempty"`
}

// FormatID renders the canonical doctor id for a numeric key.
func FormatID(n int) string {
	return fmt.Sprintf("%s%03d", IDPrefix, n)
}

// IsID reports whether s looks like a doctor id.
func IsID(s string) bool {
	return strings.HasPrefix(s, IDPrefix) && len(s) > len(IDPrefix)
}

// WorksOn reports whether weekday is one of the doctor's working days.
func (d Doctor) WorksOn(weekday time.Weekday) bool {
	name := weekday.String()
	for _, day := range d.WorkingDays {
		if strings.EqualFold(strings.TrimSpace(day), name) {
			return true
		}
	}
	return false
}

// Validate checks the schedule fields the slot generator depends on.
func (d Doctor) Validate() error {
	start, err := ParseClock(d.WorkStart)
	if err != nil {
		return fmt.Errorf("%w: work start: %v", ErrInvalidSchedule, err)
	}
	end, err := ParseClock(d.WorkEnd)
	if err != nil {
		return fmt.Errorf("%w: work end: %v", ErrInvalidSchedule, err)
	}
	if end <= start {
		return fmt.Errorf("%w: work end %s not after start %s", ErrInvalidSchedule, d.WorkEnd, d.WorkStart)
	}
	if d.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot length must be positive", ErrInvalidSchedule)
	}
	if d.Break != nil {
		bs, err := ParseClock(d.Break.Start)
		if err != nil {
			return fmt.Errorf("%w: break start: %v", ErrInvalidSchedule, err)
		}
		be, err := ParseClock(d.Break.End)
		if err != nil {
			return fmt.Errorf("%w: break end: %v", ErrInvalidSchedule, err)
		}
		if be <= bs {
			return fmt.Errorf("%w: break end %s not after start %s", ErrInvalidSchedule, d.Break.End, d.Break.Start)
		}
	}
	return nil
}

// Hours renders the working window for menus, e.g. "09:00-17:00".
func (d Doctor) Hours() string {
	return d.WorkStart + "-" + d.WorkEnd
}
