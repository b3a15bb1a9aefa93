package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ical "github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const productID = "-//convene//scheduler//EN"

// ICS is a calendar backend that books events into a local iCalendar file.
// Busy time is read from that file plus any extra sources (files or URLs).
type ICS struct {
	path        string
	busySources []string
	mu          sync.Mutex
	logger      *slog.Logger
}

func NewICS(path string, busySources []string, logger *slog.Logger) *ICS {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ICS{path: path, busySources: busySources, logger: logger}
}

func (c *ICS) Path() string {
	return c.path
}

// Busy returns every event overlapping the window across all sources.
func (c *ICS) Busy(ctx context.Context, start, end time.Time) ([]Event, error) {
	c.mu.Lock()
	own, err := Fetch(ctx, c.path, start, end)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	busy := own
	for _, src := range c.busySources {
		events, err := Fetch(ctx, src, start, end)
		if err != nil {
			return nil, fmt.Errorf("busy source %s: %w", src, err)
		}
		busy = append(busy, events...)
	}
	return busy, nil
}

// FindAvailableSlots lists start times on day where a meeting of
// durationMinutes fits within hours without clashing with busy time.
func (c *ICS) FindAvailableSlots(ctx context.Context, day time.Time, durationMinutes int, hours WorkingHours) ([]time.Time, error) {
	start, end := hours.Window(day)
	busy, err := c.Busy(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading busy time: %w", err)
	}
	slots := FreeSlots(day, time.Duration(durationMinutes)*time.Minute, busy, hours)
	c.logger.Debug("slots computed", "day", day.Format(time.DateOnly), "busy", len(busy), "free", len(slots))
	return slots, nil
}

// CreateEvent appends a VEVENT with attendees to the calendar file.
func (c *ICS) CreateEvent(ctx context.Context, req EventRequest) (Created, error) {
	if err := ctx.Err(); err != nil {
		return Created{}, err
	}
	if req.Duration <= 0 {
		return Created{}, fmt.Errorf("event duration must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.readCalendar()
	if err != nil {
		return Created{}, err
	}

	uid := uuid.NewString()
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, req.Title)
	if req.Description != "" {
		event.Props.SetText(ical.PropDescription, req.Description)
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, req.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, req.End().UTC())
	if req.Organizer.Email != "" {
		event.Props.Add(mailtoProp(ical.PropOrganizer, req.Organizer))
	}
	for _, a := range req.Attendees {
		event.Props.Add(mailtoProp(ical.PropAttendee, a))
	}
	cal.Children = append(cal.Children, event.Component)

	if err := c.writeCalendar(cal); err != nil {
		return Created{}, err
	}
	c.logger.Info("event written", "uid", uid, "path", c.path, "attendees", len(req.Attendees))
	return Created{EventID: uid, Link: "file://" + c.path + "#" + uid}, nil
}

func mailtoProp(name string, a Attendee) *ical.Prop {
	p := ical.NewProp(name)
	p.Value = "mailto:" + a.Email
	if a.Name != "" {
		p.Params.Set(ical.ParamCommonName, a.Name)
	}
	return p
}

// readCalendar merges every VCALENDAR in the file into one, or starts a new one.
func (c *ICS) readCalendar() (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return cal, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading calendar file: %w", err)
	}

	dec := ical.NewDecoder(bytes.NewReader(data))
	for {
		existing, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing calendar file: %w", err)
		}
		cal.Children = append(cal.Children, existing.Children...)
	}
	return cal, nil
}

func (c *ICS) writeCalendar(cal *ical.Calendar) error {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("creating calendar directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing calendar: %w", err)
	}
	return nil
}

// FormatSlot renders a slot as "Mon Jan 2, 3:04 PM".
func FormatSlot(t time.Time) string {
	return t.Format("Mon Jan 2, 3:04 PM")
}

// FormatSlots numbers slots for a chat reply.
func FormatSlots(slots []time.Time) string {
	var b strings.Builder
	for i, s := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, FormatSlot(s))
	}
	return strings.TrimRight(b.String(), "\n")
}
