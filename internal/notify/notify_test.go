package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invite = Invite{
	MeetingID:       "mtg_abc",
	EventID:         "evt-1",
	Title:           "Meeting with John Carter",
	Start:           time.Date(2026, 10, 20, 14, 0, 0, 0, time.UTC),
	DurationMinutes: 45,
	Organizer:       Person{Name: "Dana", Email: "dana@example.com"},
	Attendees:       []Person{{Name: "John Carter", Email: "john@example.com"}},
}

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) Notify(context.Context, Invite) error {
	f.calls++
	return f.err
}

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("broker down")
	ok := &fakeNotifier{}
	bad := &fakeNotifier{err: errA}

	err := Multi{bad, ok, NewLog(nil)}.Notify(context.Background(), invite)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 1, ok.calls, "later notifiers still run after a failure")

	assert.NoError(t, Multi{ok}.Notify(context.Background(), invite))
}

func TestDesktop(t *testing.T) {
	var title, msg string
	d := &Desktop{notify: func(t, m string, _ any) error {
		title, msg = t, m
		return nil
	}}
	require.NoError(t, d.Notify(context.Background(), invite))
	assert.Equal(t, "Meeting booked", title)
	assert.Equal(t, "Meeting with John Carter, Tue Oct 20 2:00 PM (45 min)\nWith John Carter", msg)
}

type fakeChannel struct {
	exchange, key string
	msg           amqp091.Publishing
	err           error
	closed        bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublishesEnvelope(t *testing.T) {
	ch := &fakeChannel{}
	a := newAMQP(func() (channel, error) { return ch, nil }, "convene.events", "", nil)
	a.logger = NewLog(nil).logger
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Notify(context.Background(), invite))
	assert.True(t, ch.closed)
	assert.Equal(t, "convene.events", ch.exchange)
	assert.Equal(t, InviteEventType, ch.key)
	assert.Equal(t, amqp091.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "mtg_abc", ch.msg.CorrelationId)

	var got struct {
		Meta Meta   `json:"meta"`
		Data Invite `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ch.msg.Body, &got))
	assert.Equal(t, ch.msg.MessageId, got.Meta.ID)
	assert.Equal(t, InviteEventType, got.Meta.Type)
	assert.True(t, got.Meta.Time.Equal(now))
	assert.Equal(t, invite.Attendees, got.Data.Attendees)
}

func TestAMQPPublishError(t *testing.T) {
	ch := &fakeChannel{err: amqp091.ErrClosed}
	a := newAMQP(func() (channel, error) { return ch, nil }, "x", "k", NewLog(nil).logger)
	err := a.Notify(context.Background(), invite)
	assert.ErrorIs(t, err, amqp091.ErrClosed)
}
