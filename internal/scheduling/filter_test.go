package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterAvailableDropsLocalBookings(t *testing.T) {
	doc := cardiologist()
	date := day(t, "2024-01-03")
	candidates := GenerateSlots(doc, date)

	got := FilterAvailable(doc, date, candidates, []string{"09:00", "10:30"}, nil, date.AddDate(0, 0, -1))
	assert.NotContains(t, got, "09:00")
	assert.NotContains(t, got, "10:30")
	assert.Len(t, got, len(candidates)-2)
}

func TestFilterAvailableDropsBusyOverlap(t *testing.T) {
	doc := cardiologist()
	date := day(t, "2024-01-03")
	candidates := GenerateSlots(doc, date)
	busy := []TimeRange{{
		Start: date.Add(10*time.Hour + 15*time.Minute),
		End:   date.Add(11 * time.Hour),
	}}

	got := FilterAvailable(doc, date, candidates, nil, busy, time.Time{})
	assert.NotContains(t, got, "10:00")
	assert.NotContains(t, got, "10:30")
	// Half-open: a range ending at 11:00 does not block 11:00.
	assert.Contains(t, got, "11:00")
	assert.Contains(t, got, "09:30")
}

func TestFilterAvailableDropsPastSlotsToday(t *testing.T) {
	doc := cardiologist()
	date := day(t, "2024-01-01")
	candidates := GenerateSlots(doc, date)

	now := date.Add(10*time.Hour + 30*time.Minute)
	got := FilterAvailable(doc, date, candidates, nil, nil, now)
	assert.Equal(t, "11:00", got[0])

	early := date.Add(8 * time.Hour)
	assert.Equal(t, candidates, FilterAvailable(doc, date, candidates, nil, nil, early))

	yesterday := date.AddDate(0, 0, -1).Add(23 * time.Hour)
	assert.Equal(t, candidates, FilterAvailable(doc, date, candidates, nil, nil, yesterday))
}

func TestFilterAvailableIsIdempotent(t *testing.T) {
	doc := cardiologist()
	date := day(t, "2024-01-05")
	candidates := GenerateSlots(doc, date)
	booked := []string{"14:00"}
	busy := []TimeRange{{Start: date.Add(9 * time.Hour), End: date.Add(9*time.Hour + 30*time.Minute)}}
	now := date.Add(-time.Hour)

	first := FilterAvailable(doc, date, candidates, booked, busy, now)
	second := FilterAvailable(doc, date, candidates, booked, busy, now)
	assert.Equal(t, first, second)
	assert.Len(t, candidates, 14)
}
