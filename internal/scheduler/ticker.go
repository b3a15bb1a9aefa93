// Package scheduler runs the background reminder loop for booked meetings.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/config"
	"github.com/christopherklint97/convene/internal/store"
)

// Upcoming lists meetings that start at or after from.
type Upcoming interface {
	UpcomingMeetings(ctx context.Context, userID string, from time.Time, limit int) ([]store.Meeting, error)
}

type Scheduler struct {
	meetings Upcoming
	alert    func(title, message string) error
	userID   string
	lead     time.Duration
	interval time.Duration
	hours    calendar.WorkingHours
	now      func() time.Time
	logger   *slog.Logger

	// meeting id -> start time, so a moved meeting is announced again
	reminded map[string]time.Time
}

// New returns a Scheduler that alerts lead before each of userID's meetings.
func New(meetings Upcoming, alert func(title, message string) error, userID string, lead time.Duration, hours calendar.WorkingHours, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if lead <= 0 {
		lead = 10 * time.Minute
	}
	return &Scheduler{
		meetings: meetings,
		alert:    alert,
		userID:   userID,
		lead:     lead,
		interval: time.Minute,
		hours:    hours,
		now:      time.Now,
		logger:   logger,
		reminded: make(map[string]time.Time),
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if err := writePID(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePID()

	s.logger.Info("reminders started", "lead", s.lead, "user", s.userID)

	for {
		nextTick := nextAlignedTick(s.now(), s.interval)

		select {
		case <-ctx.Done():
			s.logger.Info("reminders stopped")
			return nil
		case <-time.After(time.Until(nextTick)):
		}

		if _, err := s.check(ctx); err != nil {
			s.logger.Warn("checking upcoming meetings", "error", err)
		}
	}
}

// check alerts for meetings starting within the lead time and returns how
// many alerts went out.
func (s *Scheduler) check(ctx context.Context) (int, error) {
	now := s.now()
	if !s.isWorkTime(now) {
		return 0, nil
	}

	upcoming, err := s.meetings.UpcomingMeetings(ctx, s.userID, now, 20)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range upcoming {
		if m.Start.Sub(now) > s.lead {
			break
		}
		if start, ok := s.reminded[m.ID]; ok && start.Equal(m.Start) {
			continue
		}
		if err := s.alert(reminderTitle(m, now), reminderBody(m)); err != nil {
			s.logger.Warn("sending reminder", "meeting", m.ID, "error", err)
			continue
		}
		s.reminded[m.ID] = m.Start
		sent++
	}

	for id, start := range s.reminded {
		if now.Sub(start) > time.Hour {
			delete(s.reminded, id)
		}
	}
	return sent, nil
}

// isWorkTime also covers the lead time before the day starts.
func (s *Scheduler) isWorkTime(t time.Time) bool {
	if !s.hours.IsWorkDay(t) {
		return false
	}
	start, end := s.hours.Window(t)
	return !t.Before(start.Add(-s.lead)) && !t.After(end)
}

func reminderTitle(m store.Meeting, now time.Time) string {
	mins := int(m.Start.Sub(now).Round(time.Minute).Minutes())
	if mins <= 0 {
		return "Meeting starting now"
	}
	return fmt.Sprintf("Meeting in %d min", mins)
}

func reminderBody(m store.Meeting) string {
	body := fmt.Sprintf("%s at %s (%d min)", m.Title, m.Start.Format("3:04 PM"), m.DurationMinutes)
	names := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		names = append(names, p.Name)
	}
	if len(names) > 0 {
		body += "\nWith " + strings.Join(names, ", ")
	}
	return body
}

func nextAlignedTick(now time.Time, interval time.Duration) time.Time {
	mins := int(interval.Minutes())
	if mins <= 0 {
		mins = 1
	}

	nextMinute := ((now.Minute() / mins) + 1) * mins
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return next.Add(time.Duration(nextMinute) * time.Minute)
}

func pidPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "convene-reminders.pid"), nil
}

func writePID() error {
	path, err := pidPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePID() {
	if path, err := pidPath(); err == nil {
		os.Remove(path)
	}
}

// ReadPID returns the process id of the running reminder loop.
func ReadPID() (int, error) {
	path, err := pidPath()
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("no running reminder process found")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file")
	}
	return pid, nil
}
