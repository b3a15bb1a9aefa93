package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/convene/internal/store"
)

func TestPrintThread(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	start := time.Date(2026, 10, 20, 14, 0, 0, 0, time.UTC)
	kickoff := &store.Meeting{UserID: "me", Title: "Project kickoff", Start: start, DurationMinutes: 45,
		Participants: []store.Participant{{ContactID: "c1", Name: "John Carter"}}}
	require.NoError(t, db.SaveMeeting(ctx, kickoff))
	followUp := &store.Meeting{UserID: "me", Title: "Kickoff follow-up", Start: start.AddDate(0, 0, 7),
		DurationMinutes: 30, ParentMeetingID: kickoff.ID}
	require.NoError(t, db.SaveMeeting(ctx, followUp))
	require.NoError(t, db.SaveMeeting(ctx, &store.Meeting{UserID: "me", Title: "Unrelated", Start: start, DurationMinutes: 15}))

	for _, ref := range []string{kickoff.ThreadID, followUp.ID, "kickoff follow"} {
		var out bytes.Buffer
		require.NoError(t, printThread(ctx, &out, db, "me", ref))
		assert.Contains(t, out.String(), "Thread "+kickoff.ThreadID+":")
		assert.Contains(t, out.String(), "Project kickoff")
		assert.Contains(t, out.String(), "Kickoff follow-up")
		assert.Contains(t, out.String(), "John Carter")
		assert.NotContains(t, out.String(), "Unrelated")
	}

	var out bytes.Buffer
	assert.ErrorContains(t, printThread(ctx, &out, db, "me", "standup"), `no meeting matches "standup"`)
}
