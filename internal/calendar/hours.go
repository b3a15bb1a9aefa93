package calendar

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// WorkingHours is the daily window meetings may be placed in.
type WorkingHours struct {
	StartMinute int   // minutes after midnight
	EndMinute   int   // minutes after midnight, exclusive
	Days        []int // ISO weekdays, Monday = 1 ... Sunday = 7
	Step        time.Duration
}

// DefaultWorkingHours is 09:00-18:00, Monday to Friday, probing every 30 minutes.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{
		StartMinute: 9 * 60,
		EndMinute:   18 * 60,
		Days:        []int{1, 2, 3, 4, 5},
		Step:        30 * time.Minute,
	}
}

// ParseWorkingHours builds WorkingHours from "HH:MM" bounds.
func ParseWorkingHours(start, end string, days []int, step time.Duration) (WorkingHours, error) {
	s, err := parseClock(start)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("parsing work start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("parsing work end: %w", err)
	}
	if e <= s {
		return WorkingHours{}, fmt.Errorf("work end %s is not after work start %s", end, start)
	}
	if step <= 0 {
		step = 30 * time.Minute
	}
	return WorkingHours{StartMinute: s, EndMinute: e, Days: days, Step: step}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// IsWorkDay reports whether t falls on a configured work day.
// An empty day list means every day.
func (w WorkingHours) IsWorkDay(t time.Time) bool {
	if len(w.Days) == 0 {
		return true
	}
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday = 7
	}
	return slices.Contains(w.Days, weekday)
}

// Window returns the working window on the day of t, in t's location.
func (w WorkingHours) Window(day time.Time) (time.Time, time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return midnight.Add(time.Duration(w.StartMinute) * time.Minute),
		midnight.Add(time.Duration(w.EndMinute) * time.Minute)
}
