package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/store"
)

type fakeUpcoming struct {
	meetings []store.Meeting
	err      error
	userID   string
}

func (f *fakeUpcoming) UpcomingMeetings(_ context.Context, userID string, from time.Time, limit int) ([]store.Meeting, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Meeting
	for _, m := range f.meetings {
		if !m.Start.Before(from) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

type alert struct{ title, body string }

func newTestScheduler(t *testing.T, meetings *fakeUpcoming, now *time.Time) (*Scheduler, *[]alert) {
	t.Helper()
	var alerts []alert
	s := New(meetings, func(title, body string) error {
		alerts = append(alerts, alert{title, body})
		return nil
	}, "me", 10*time.Minute, calendar.DefaultWorkingHours(), nil)
	s.now = func() time.Time { return *now }
	return s, &alerts
}

// Friday 2026-10-16
func day(h, m int) time.Time {
	return time.Date(2026, 10, 16, h, m, 0, 0, time.UTC)
}

func TestCheckAlertsOncePerMeeting(t *testing.T) {
	meetings := &fakeUpcoming{meetings: []store.Meeting{
		{ID: "m1", Title: "Sync", Start: day(10, 0), DurationMinutes: 30,
			Participants: []store.Participant{{Name: "John Carter"}, {Name: "Priya Rao"}}},
		{ID: "m2", Title: "Review", Start: day(11, 0), DurationMinutes: 45},
	}}
	now := day(9, 52)
	s, alerts := newTestScheduler(t, meetings, &now)

	n, err := s.check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, *alerts, 1)
	assert.Equal(t, "Meeting in 8 min", (*alerts)[0].title)
	assert.Equal(t, "Sync at 10:00 AM (30 min)\nWith John Carter, Priya Rao", (*alerts)[0].body)
	assert.Equal(t, "me", meetings.userID)

	now = day(9, 55)
	n, err = s.check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "already reminded")

	meetings.meetings[0].Start = day(10, 5)
	n, _ = s.check(context.Background())
	assert.Equal(t, 1, n, "moved meeting is announced again")

	now = day(10, 52)
	n, _ = s.check(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, "Review at 11:00 AM (45 min)", (*alerts)[2].body)
}

func TestCheckOutsideWorkingHours(t *testing.T) {
	meetings := &fakeUpcoming{meetings: []store.Meeting{{ID: "m1", Title: "Early", Start: day(8, 55)}}}

	now := day(8, 50)
	s, alerts := newTestScheduler(t, meetings, &now)
	n, err := s.check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "lead time before the day starts still counts")

	now = day(20, 0)
	meetings.meetings = []store.Meeting{{ID: "m2", Title: "Late", Start: day(20, 5)}}
	n, _ = s.check(context.Background())
	assert.Zero(t, n)

	saturday := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	now = saturday
	meetings.meetings = []store.Meeting{{ID: "m3", Title: "Weekend", Start: saturday.Add(5 * time.Minute)}}
	n, _ = s.check(context.Background())
	assert.Zero(t, n)
	assert.Len(t, *alerts, 1)
}

func TestCheckErrors(t *testing.T) {
	boom := errors.New("boom")
	now := day(9, 58)

	s, _ := newTestScheduler(t, &fakeUpcoming{err: boom}, &now)
	_, err := s.check(context.Background())
	assert.ErrorIs(t, err, boom)

	meetings := &fakeUpcoming{meetings: []store.Meeting{{ID: "m1", Title: "Sync", Start: day(10, 0)}}}
	s, _ = newTestScheduler(t, meetings, &now)
	fails := true
	s.alert = func(string, string) error {
		if fails {
			return boom
		}
		return nil
	}
	n, err := s.check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	fails = false
	n, _ = s.check(context.Background())
	assert.Equal(t, 1, n, "failed alert is retried on the next tick")
}

func TestNextAlignedTick(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 16, 9, 8, 0, 0, time.UTC), nextAlignedTick(now, time.Minute))
	assert.Equal(t, time.Date(2026, 10, 16, 9, 15, 0, 0, time.UTC), nextAlignedTick(now, 15*time.Minute))
	assert.Equal(t, time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC), nextAlignedTick(now, time.Hour))
}
