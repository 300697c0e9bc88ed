// Package scheduling turns doctor schedules into bookable slot times.
package scheduling

import (
	"time"

	"github.com/cityhospital/appointment-bot/internal/doctors"
)

// DateLayout is the canonical calendar-date format used across the booking flow.
const DateLayout = "2006-01-02"

// GenerateSlots returns the ordered "HH:MM" start times a doctor offers on date.
// Steps start at WorkStart in SlotMinutes increments; a step overlapping the
// break is skipped and a step that would run past WorkEnd is dropped.
func GenerateSlots(doc doctors.Doctor, date time.Time) []string {
	if !doc.WorksOn(date.Weekday()) || doc.SlotMinutes <= 0 {
		return nil
	}
	start, err := doctors.ParseClock(doc.WorkStart)
	if err != nil {
		return nil
	}
	end, err := doctors.ParseClock(doc.WorkEnd)
	if err != nil {
		return nil
	}

	breakStart, breakEnd := -1, -1
	if doc.Break != nil {
		bs, errS := doctors.ParseClock(doc.Break.Start)
		be, errE := doctors.ParseClock(doc.Break.End)
		if errS == nil && errE == nil && be > bs {
			breakStart, breakEnd = bs, be
		}
	}

	var slots []string
	for current := start; current < end; current += doc.SlotMinutes {
		slotEnd := current + doc.SlotMinutes
		if slotEnd > end {
			break
		}
		if breakStart >= 0 && current < breakEnd && slotEnd > breakStart {
			continue
		}
		slots = append(slots, doctors.FormatClock(current))
	}
	return slots
}

// WorkingDates scans forward from today (inclusive) and returns up to want
// dates the doctor works, looking at most lookahead days ahead.
func WorkingDates(doc doctors.Doctor, today time.Time, want, lookahead int) []time.Time {
	day := StartOfDay(today)
	var out []time.Time
	for i := 0; i < lookahead && len(out) < want; i++ {
		candidate := day.AddDate(0, 0, i)
		if doc.WorksOn(candidate.Weekday()) {
			out = append(out, candidate)
		}
	}
	return out
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a "YYYY-MM-DD" date at midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, value, loc)
}

// At combines a calendar date with an "HH:MM" clock time in the date's location.
func At(date time.Time, clock string) (time.Time, error) {
	minutes, err := doctors.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return StartOfDay(date).Add(time.Duration(minutes) * time.Minute), nil
}
