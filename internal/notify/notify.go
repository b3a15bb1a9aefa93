// Package notify delivers meeting invitations once a meeting has been booked.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

type Person struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Invite is the payload every notifier receives for a booked meeting.
type Invite struct {
	MeetingID       string    `json:"meeting_id"`
	ThreadID        string    `json:"thread_id,omitempty"`
	EventID         string    `json:"event_id"`
	EventLink       string    `json:"event_link,omitempty"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Organizer       Person    `json:"organizer"`
	Attendees       []Person  `json:"attendees"`
	FollowUp        bool      `json:"follow_up,omitempty"`
}

// Summary renders "Title, Mon Jan 2 3:04 PM (45 min)".
func (i Invite) Summary() string {
	return fmt.Sprintf("%s, %s (%d min)", i.Title, i.Start.Format("Mon Jan 2 3:04 PM"), i.DurationMinutes)
}

func (i Invite) attendeeNames() string {
	names := make([]string, len(i.Attendees))
	for n, a := range i.Attendees {
		names[n] = a.Name
	}
	return strings.Join(names, ", ")
}

type Notifier interface {
	Notify(ctx context.Context, invite Invite) error
}

// Multi fans an invite out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, invite Invite) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, invite); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log records invites in the application log.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, invite Invite) error {
	l.logger.Info("invite sent",
		"meeting", invite.MeetingID,
		"event", invite.EventID,
		"title", invite.Title,
		"start", invite.Start.Format(time.RFC3339),
		"attendees", invite.attendeeNames(),
	)
	return nil
}
