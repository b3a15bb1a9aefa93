package dialogue

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tj/go-naturaldate"
)

// Deterministic readings of short answers, used alongside the parser so a
// bare "2pm" or "30 minutes" works even when the model call fails.
var (
	clockAmPm  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)\b`)
	hourAmPm   = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	clock24    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	minutesRe  = regexp.MustCompile(`\b(\d+)\s*(?:minutes|minute|mins|min)\b`)
	hoursRe    = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(?:hours|hour|hrs|hr)\b`)
	isoDateRe  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	dateWordRe = regexp.MustCompile(`\b(today|tomorrow|next|this|mon|tue|wed|thu|fri|sat|sun|jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)`)
)

// parseClock returns HH:MM from the first time of day in text.
func parseClock(text string) (string, bool) {
	s := strings.ToLower(text)
	if strings.Contains(s, "noon") || strings.Contains(s, "midday") {
		return "12:00", true
	}
	hour, minute := -1, 0
	if m := clockAmPm.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		hour = to24(hour, m[3])
	} else if m := hourAmPm.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		hour = to24(hour, m[2])
	} else if m := clock24.FindStringSubmatch(s); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
	}
	if hour < 0 || hour > 23 || minute > 59 {
		return "", false
	}
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04"), true
}

func to24(hour int, meridiem string) int {
	if hour < 1 || hour > 12 {
		return -1
	}
	switch {
	case meridiem == "pm" && hour != 12:
		return hour + 12
	case meridiem == "am" && hour == 12:
		return 0
	}
	return hour
}

// parseDuration returns minutes from phrases like "30 min" or "1.5 hours".
func parseDuration(text string) (int, bool) {
	s := strings.ToLower(text)
	if m := minutesRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n, true
		}
	}
	if m := hoursRe.FindStringSubmatch(s); m != nil {
		f, err := strconv.ParseFloat(m[1], 64)
		if err == nil && f > 0 {
			return int(f * 60), true
		}
	}
	switch {
	case strings.Contains(s, "half an hour") || strings.Contains(s, "half hour"):
		return 30, true
	case strings.Contains(s, "an hour") || strings.Contains(s, "one hour"):
		return 60, true
	}
	return 0, false
}

// parseDay returns YYYY-MM-DD for a date in text, looking forward from now.
func parseDay(text string, now time.Time) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		if d := normalizeDate(m[1]); d != "" {
			return d, true
		}
	}
	if !dateWordRe.MatchString(s) {
		return "", false
	}
	if strings.Contains(s, "today") {
		return now.Format("2006-01-02"), true
	}
	ref := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	t, err := naturaldate.Parse(s, ref, naturaldate.WithDirection(naturaldate.Future))
	if err != nil || t.Equal(ref) {
		return "", false
	}
	return t.In(now.Location()).Format("2006-01-02"), true
}

// directParse fills fields from text without the parser. In mergeFill mode
// only empty fields are set; the date is only read when it was asked for or
// the message is being treated as a correction.
func (e *Engine) directParse(p *PendingMeeting, text string, asked Field, mode mergeMode) bool {
	changed := false
	overwrite := mode == mergeOverwrite

	if p.Time == "" || overwrite {
		if t, ok := parseClock(text); ok && t != p.Time {
			p.Time = t
			changed = true
		}
	}
	if p.DurationMinutes == 0 || overwrite {
		if n, ok := parseDuration(text); ok && n != p.DurationMinutes {
			p.DurationMinutes = n
			changed = true
		} else if asked == FieldDuration && strings.Contains(strings.ToLower(text), "default") {
			p.DurationMinutes = e.opts.DefaultDuration
			changed = true
		}
	}
	if (p.Date == "" && asked == FieldDate) || overwrite {
		if d, ok := parseDay(text, e.now()); ok && d != p.Date {
			p.Date = d
			changed = true
		}
	}
	return changed
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"last": -1,
}

var ordinalRe = regexp.MustCompile(`^(?:#|no\.?\s*|number\s+|option\s+|slot\s+)?(\d{1,2})(?:st|nd|rd|th)?$`)

// parseOrdinal reads a 1-based choice out of n from replies like "2",
// "the second one" or "option 3". The last option reads as n.
func parseOrdinal(text string, n int) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".!? ")
	s = strings.TrimPrefix(s, "the ")
	s = strings.TrimSuffix(s, " one")
	s = strings.TrimSuffix(s, " please")

	if m := ordinalRe.FindStringSubmatch(s); m != nil {
		k, _ := strconv.Atoi(m[1])
		if k >= 1 && k <= n {
			return k, true
		}
		return 0, false
	}
	s = strings.TrimPrefix(s, "option ")
	if k, ok := ordinalWords[s]; ok {
		if k == -1 {
			k = n
		}
		if k >= 1 && k <= n {
			return k, true
		}
	}
	return 0, false
}
