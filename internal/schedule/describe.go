package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Describe renders t relative to now the way the home screen shows sync
// times, e.g. "today, at 9:00am", "tomorrow, at 6:30pm" or
// "monday, 3 june, at 9:00am". Dates outside now's year carry the year.
func Describe(t, now time.Time) string {
	t = t.In(now.Location())

	var prefix string
	switch {
	case sameDay(t, now):
		prefix = "Today"
	case sameDay(t, now.AddDate(0, 0, -1)):
		prefix = "Yesterday"
	case sameDay(t, now.AddDate(0, 0, 1)):
		prefix = "Tomorrow"
	case t.Year() == now.Year():
		prefix = fmt.Sprintf("%s, %d %s", t.Weekday(), t.Day(), t.Month())
	default:
		prefix = fmt.Sprintf("%s, %d %s, %d", t.Weekday(), t.Day(), t.Month(), t.Year())
	}

	hour12 := t.Hour() % 12
	if hour12 == 0 {
		hour12 = 12
	}
	ampm := "am"
	if t.Hour() >= 12 {
		ampm = "pm"
	}

	return strings.ToLower(fmt.Sprintf("%s, at %d:%02d%s", prefix, hour12, t.Minute(), ampm))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
