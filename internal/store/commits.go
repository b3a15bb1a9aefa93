package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// A reservation left behind by a crashed process may be taken over after this long.
const staleReservation = 10 * time.Minute

// CommitLedger records which confirmation keys have produced calendar events,
// so a replayed confirmation cannot book the same meeting twice.
type CommitLedger struct {
	db  *DB
	now func() time.Time
}

func (db *DB) Commits() *CommitLedger {
	return &CommitLedger{db: db, now: time.Now}
}

// Reserve claims key. It returns false when the key is already committed or
// held by a live reservation.
func (l *CommitLedger) Reserve(ctx context.Context, key string) (bool, error) {
	now := l.now().UTC()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO commits (key, status, reserved_at) VALUES (?, 'reserved', ?)
		 ON CONFLICT(key) DO UPDATE SET reserved_at = excluded.reserved_at
		 WHERE commits.status = 'reserved' AND commits.reserved_at < ?`,
		key, now.Format(time.RFC3339), now.Add(-staleReservation).Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("reserving commit %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserving commit %s: %w", key, err)
	}
	return n == 1, nil
}

// Complete marks a reserved key as committed with the created event id.
func (l *CommitLedger) Complete(ctx context.Context, key, eventID string) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE commits SET status = 'committed', event_id = ? WHERE key = ?",
		eventID, key,
	)
	if err != nil {
		return fmt.Errorf("completing commit %s: %w", key, err)
	}
	return nil
}

// Release drops a reservation that did not produce an event so the user can retry.
func (l *CommitLedger) Release(ctx context.Context, key string) error {
	_, err := l.db.ExecContext(ctx, "DELETE FROM commits WHERE key = ? AND status = 'reserved'", key)
	if err != nil {
		return fmt.Errorf("releasing commit %s: %w", key, err)
	}
	return nil
}

// Committed returns the event id recorded for key, or "" when none.
func (l *CommitLedger) Committed(ctx context.Context, key string) (string, error) {
	var eventID sql.NullString
	err := l.db.QueryRowContext(ctx,
		"SELECT event_id FROM commits WHERE key = ? AND status = 'committed'", key,
	).Scan(&eventID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading commit %s: %w", key, err)
	}
	return eventID.String, nil
}
