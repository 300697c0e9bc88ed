package scheduling

import (
	"time"

	"github.com/cityhospital/appointment-bot/internal/doctors"
)

// TimeRange is a half-open busy interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether [start, end) intersects r.
func (r TimeRange) Overlaps(start, end time.Time) bool {
	return start.Before(r.End) && end.After(r.Start)
}

// FilterAvailable removes candidates that are locally booked, overlap an
// external busy range, or have already started when date is today.
// The input order is preserved.
func FilterAvailable(doc doctors.Doctor, date time.Time, candidates, booked []string, busy []TimeRange, now time.Time) []string {
	taken := make(map[string]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}

	day := StartOfDay(date)
	isToday := false
	nowClock := ""
	if !now.IsZero() {
		localNow := now.In(day.Location())
		isToday = StartOfDay(localNow).Equal(day)
		nowClock = localNow.Format("15:04")
	}
	slotLen := time.Duration(doc.SlotMinutes) * time.Minute

	out := make([]string, 0, len(candidates))
	for _, slot := range candidates {
		if _, ok := taken[slot]; ok {
			continue
		}
		if len(busy) > 0 {
			start, err := At(day, slot)
			if err != nil {
				continue
			}
			if overlapsAny(busy, start, start.Add(slotLen)) {
				continue
			}
		}
		// "HH:MM" is zero padded so string order is clock order.
		if isToday && slot <= nowClock {
			continue
		}
		out = append(out, slot)
	}
	return out
}

func overlapsAny(busy []TimeRange, start, end time.Time) bool {
	for _, r := range busy {
		if r.Overlaps(start, end) {
			return true
		}
	}
	return false
}
