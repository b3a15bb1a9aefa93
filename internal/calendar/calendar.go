package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"
)

// Event represents a parsed calendar event.
type Event struct {
	UID       string
	Summary   string
	StartTime time.Time
	EndTime   time.Time
	Attendees []string
}

// Attendee is an invited participant of a new event.
type Attendee struct {
	Name  string
	Email string
}

// EventRequest describes an event to create.
type EventRequest struct {
	Title       string
	Description string
	Start       time.Time
	Duration    time.Duration
	Organizer   Attendee
	Attendees   []Attendee
}

func (r EventRequest) End() time.Time {
	return r.Start.Add(r.Duration)
}

// Created identifies an event a backend has written.
type Created struct {
	EventID string
	Link    string
}

// Fetch retrieves and parses iCalendar events from a URL or file path,
// returning events that overlap with the given time window.
func Fetch(ctx context.Context, source string, windowStart, windowEnd time.Time) ([]Event, error) {
	var r io.ReadCloser

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching calendar: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("calendar fetch returned status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("opening calendar file: %w", err)
		}
		r = f
	}
	defer r.Close()

	events, err := decodeEvents(r)
	if err != nil {
		return nil, err
	}
	return Overlapping(events, windowStart, windowEnd), nil
}

func decodeEvents(r io.Reader) ([]Event, error) {
	dec := ical.NewDecoder(r)
	var events []Event

	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing calendar: %w", err)
		}

		for _, component := range cal.Children {
			if component.Name != ical.CompEvent {
				continue
			}
			event := ical.Event{Component: component}

			start, err := event.DateTimeStart(nil)
			if err != nil {
				continue // skip malformed events
			}
			end, err := event.DateTimeEnd(nil)
			if err != nil {
				continue
			}

			uid, _ := event.Props.Text(ical.PropUID)
			summary, _ := event.Props.Text(ical.PropSummary)
			var attendees []string
			for _, p := range event.Props.Values(ical.PropAttendee) {
				attendees = append(attendees, strings.TrimPrefix(strings.ToLower(p.Value), "mailto:"))
			}
			events = append(events, Event{
				UID:       uid,
				Summary:   summary,
				StartTime: start,
				EndTime:   end,
				Attendees: attendees,
			})
		}
	}

	return events, nil
}

// Overlapping keeps the events that intersect [windowStart, windowEnd).
func Overlapping(events []Event, windowStart, windowEnd time.Time) []Event {
	var out []Event
	for _, e := range events {
		if e.StartTime.Before(windowEnd) && e.EndTime.After(windowStart) {
			out = append(out, e)
		}
	}
	return out
}
