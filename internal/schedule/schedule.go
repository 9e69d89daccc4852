// Package schedule computes due times for a provider's daily sync schedule.
//
// A schedule is a set of wall-clock times of day ("HH:MM") that recur every
// day in the location of the reference instant. Producers are not required
// to sort or deduplicate the set.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrEmptySchedule means there is nothing to schedule; callers treat it as
// "sync disabled".
var ErrEmptySchedule = errors.New("schedule: empty schedule")

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTime parses "HH:MM" (24h clock). A single-digit hour is accepted.
func ParseTime(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) == 0 || len(h) > 2 {
		return TimeOfDay{}, fmt.Errorf("schedule: invalid time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("schedule: invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("schedule: invalid minute in %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// String formats t as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// on returns the instant of t on the day offset days after ref's date,
// in ref's location.
func (t TimeOfDay) on(ref time.Time, days int) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d+days, t.Hour, t.Minute, 0, 0, ref.Location())
}

// ParseList splits the stored comma-joined form into its times, dropping
// empty entries.
func ParseList(stored string) []string {
	var times []string
	for _, part := range strings.Split(stored, ",") {
		if p := strings.TrimSpace(part); p != "" {
			times = append(times, p)
		}
	}
	return times
}

// Join renders times in the stored comma-joined form.
func Join(times []string) string {
	return strings.Join(times, ",")
}

// Validate reports the first malformed time in times.
func Validate(times []string) error {
	_, err := parseSorted(times)
	return err
}

func parseSorted(times []string) ([]TimeOfDay, error) {
	if len(times) == 0 {
		return nil, ErrEmptySchedule
	}
	tods := make([]TimeOfDay, 0, len(times))
	for _, s := range times {
		tod, err := ParseTime(s)
		if err != nil {
			return nil, err
		}
		tods = append(tods, tod)
	}
	sort.Slice(tods, func(i, j int) bool {
		if tods[i].Hour != tods[j].Hour {
			return tods[i].Hour < tods[j].Hour
		}
		return tods[i].Minute < tods[j].Minute
	})
	return tods, nil
}

// firstAfter returns the earliest occurrence strictly after ref, searching
// ref's day and the following horizon days.
func firstAfter(tods []TimeOfDay, ref time.Time, horizon int) (time.Time, bool) {
	for day := 0; day <= horizon; day++ {
		for _, tod := range tods {
			if at := tod.on(ref, day); at.After(ref) {
				return at, true
			}
		}
	}
	return time.Time{}, false
}

// Next returns the soonest instant strictly after now that matches one of
// times: a remaining slot today, otherwise the earliest slot tomorrow. A
// slot exactly equal to now counts as past.
func Next(times []string, now time.Time) (time.Time, error) {
	tods, err := parseSorted(times)
	if err != nil {
		return time.Time{}, err
	}
	next, ok := firstAfter(tods, now, 2)
	if !ok {
		return time.Time{}, fmt.Errorf("schedule: no occurrence after %s", now)
	}
	return next, nil
}

// After returns the first occurrence strictly after next. Callers pass the
// value returned by Next so both instants derive from one reference time.
func After(times []string, next time.Time) (time.Time, error) {
	return Next(times, next)
}

// SecondNext returns the occurrence following Next(times, now).
func SecondNext(times []string, now time.Time) (time.Time, error) {
	_, second, err := Occurrences(times, now)
	return second, err
}

// Occurrences computes Next and the occurrence after it from a single
// reference instant.
func Occurrences(times []string, now time.Time) (next, second time.Time, err error) {
	next, err = Next(times, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	second, err = After(times, next)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return next, second, nil
}
