package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

type Participant struct {
	ContactID string `json:"contact_id,omitempty"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

type Meeting struct {
	ID                string
	ThreadID          string
	ParentMeetingID   string
	UserID            string
	Title             string
	Description       string
	Start             time.Time
	DurationMinutes   int
	Participants      []Participant
	CalendarEventID   string
	CalendarEventLink string
	Status            string
	CreatedAt         time.Time
}

func (m Meeting) End() time.Time {
	return m.Start.Add(time.Duration(m.DurationMinutes) * time.Minute)
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SaveMeeting inserts a meeting record and fills in its ID, ThreadID and
// CreatedAt. A meeting with a ParentMeetingID joins the parent's thread;
// any other meeting (or one whose parent is gone) opens a new thread.
func (db *DB) SaveMeeting(ctx context.Context, m *Meeting) error {
	if m.ID == "" {
		m.ID = newID("mtg_")
	}
	if m.Status == "" {
		m.Status = StatusScheduled
	}
	m.CreatedAt = time.Now().UTC()

	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	m.ThreadID = ""
	if m.ParentMeetingID != "" {
		err := tx.QueryRowContext(ctx, "SELECT thread_id FROM meetings WHERE id = ?", m.ParentMeetingID).Scan(&m.ThreadID)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("looking up parent meeting: %w", err)
		}
	}
	if m.ThreadID == "" {
		m.ThreadID = newID("thr_")
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO threads (id, user_id, title, created_at) VALUES (?, ?, ?, ?)",
			m.ThreadID, m.UserID, m.Title, m.CreatedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting thread: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meetings (id, thread_id, parent_meeting_id, user_id, title, description, start_time,
			duration_minutes, participants, calendar_event_id, calendar_event_link, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, nullString(m.ParentMeetingID), m.UserID, m.Title, m.Description,
		m.Start.UTC().Format(time.RFC3339), m.DurationMinutes, string(participants),
		m.CalendarEventID, m.CalendarEventLink, m.Status, m.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting meeting: %w", err)
	}

	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const meetingColumns = `id, thread_id, parent_meeting_id, user_id, title, description, start_time,
	duration_minutes, participants, calendar_event_id, calendar_event_link, status, created_at`

// RecentMeetings returns the user's meetings, latest start first.
func (db *DB) RecentMeetings(ctx context.Context, userID string, limit int) ([]Meeting, error) {
	return db.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE user_id = ?
		 ORDER BY start_time DESC
		 LIMIT ?`,
		userID, limit,
	)
}

// UpcomingMeetings returns the user's scheduled meetings starting at or after from.
func (db *DB) UpcomingMeetings(ctx context.Context, userID string, from time.Time, limit int) ([]Meeting, error) {
	return db.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE user_id = ? AND status = ? AND start_time >= ?
		 ORDER BY start_time ASC
		 LIMIT ?`,
		userID, StatusScheduled, from.UTC().Format(time.RFC3339), limit,
	)
}

// SearchMeetings matches query against titles, descriptions and participant names.
func (db *DB) SearchMeetings(ctx context.Context, userID, query string, limit int) ([]Meeting, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	return db.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE user_id = ? AND (lower(title) LIKE ? OR lower(description) LIKE ? OR lower(participants) LIKE ?)
		 ORDER BY start_time DESC
		 LIMIT ?`,
		userID, like, like, like, limit,
	)
}

// FindMeeting resolves a reference to one of the user's meetings: an exact
// meeting id, else the most recent meeting whose title contains ref.
// It returns nil, nil when nothing matches.
func (db *DB) FindMeeting(ctx context.Context, userID, ref string) (*Meeting, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	found, err := db.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ? AND id = ?`,
		userID, ref,
	)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		found, err = db.queryMeetings(ctx,
			`SELECT `+meetingColumns+` FROM meetings
			 WHERE user_id = ? AND lower(title) LIKE ?
			 ORDER BY start_time DESC
			 LIMIT 1`,
			userID, "%"+strings.ToLower(ref)+"%",
		)
		if err != nil {
			return nil, err
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// ThreadMeetings returns every meeting in a thread, oldest first.
func (db *DB) ThreadMeetings(ctx context.Context, threadID string) ([]Meeting, error) {
	return db.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE thread_id = ? ORDER BY start_time ASC`,
		threadID,
	)
}

func (db *DB) queryMeetings(ctx context.Context, query string, args ...any) ([]Meeting, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying meetings: %w", err)
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		var m Meeting
		var parentID, description, eventID, eventLink sql.NullString
		var startStr, createdStr, participants string

		if err := rows.Scan(
			&m.ID, &m.ThreadID, &parentID, &m.UserID, &m.Title, &description, &startStr,
			&m.DurationMinutes, &participants, &eventID, &eventLink, &m.Status, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}

		m.ParentMeetingID = parentID.String
		m.Description = description.String
		m.CalendarEventID = eventID.String
		m.CalendarEventLink = eventLink.String

		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			m.Start = t
		}
		if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
			m.CreatedAt = t
		}
		if err := json.Unmarshal([]byte(participants), &m.Participants); err != nil {
			return nil, fmt.Errorf("decoding participants of %s: %w", m.ID, err)
		}

		meetings = append(meetings, m)
	}

	return meetings, rows.Err()
}
