package conversation

import (
	"strings"
	"time"

	"github.com/cityhospital/appointment-bot/internal/scheduling"
)

const (
	dateTitleLayout = "Monday, 02 January"
	longDateLayout  = "02 January 2006"
	clockLayout12h  = "03:04 PM"
)

func formatClock12h(clock string) string {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return clock
	}
	return t.Format(clockLayout12h)
}

func formatLongDate(date string) string {
	d, err := time.Parse(scheduling.DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format(longDateLayout)
}

func formatWhen(date, clock string) string {
	return formatLongDate(date) + " at " + formatClock12h(clock)
}

// truncate keeps s within n runes, as the transport rejects longer titles.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func shortRef(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
