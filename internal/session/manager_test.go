package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/dialogue"
	"github.com/christopherklint97/convene/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingStepper appends each message to the state history. Messages in
// block wait for release, or for cancellation.
type recordingStepper struct {
	mu      sync.Mutex
	active  map[string]int
	maxSame int
	maxAll  int
	total   int
	block   map[string]chan struct{}
	started chan string
}

func newRecordingStepper() *recordingStepper {
	return &recordingStepper{
		active:  make(map[string]int),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (s *recordingStepper) Step(ctx context.Context, st dialogue.ConversationState, text string) (dialogue.Reply, dialogue.ConversationState) {
	s.mu.Lock()
	s.active[st.ConversationID]++
	s.total++
	s.maxSame = max(s.maxSame, s.active[st.ConversationID])
	s.maxAll = max(s.maxAll, s.total)
	release := s.block[text]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active[st.ConversationID]--
		s.total--
		s.mu.Unlock()
	}()

	s.started <- text
	reply := dialogue.Reply{Text: "ok " + text}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			reply.Err = ctx.Err()
		}
	}
	st.Turn++
	st.History = append(st.History, ai.Message{Role: ai.RoleUser, Content: text})
	return reply, st
}

func historyTexts(st dialogue.ConversationState) []string {
	var out []string
	for _, m := range st.History {
		out = append(out, m.Content)
	}
	return out
}

func TestTurnsRunInArrivalOrder(t *testing.T) {
	stepper := newRecordingStepper()
	gate := make(chan struct{})
	stepper.block["first"] = gate
	states := NewMemoryStates()
	m := NewManager(stepper, states, time.Second, nil)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.ProcessMessage(ctx, "conv", "me", "first")
		assert.NoError(t, err)
	}()
	require.Equal(t, "first", <-stepper.started)

	for _, text := range []string{"second", "third"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ProcessMessage(ctx, "conv", "me", text)
			assert.NoError(t, err)
		}()
		require.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			l := m.lanes["conv"]
			return l != nil && len(l.queue) > 0 && l.queue[len(l.queue)-1].text == text
		}, time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()

	st, ok, err := states.Load(ctx, "conv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second", "third"}, historyTexts(st))
	assert.Equal(t, 3, st.Turn)
	assert.Equal(t, 1, stepper.maxSame)
}

func TestConversationsRunInParallel(t *testing.T) {
	stepper := newRecordingStepper()
	gate := make(chan struct{})
	stepper.block["a"] = gate
	stepper.block["b"] = gate
	m := NewManager(stepper, NewMemoryStates(), time.Second, nil)
	defer m.Close()

	var wg sync.WaitGroup
	for i, text := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ProcessMessage(context.Background(), fmt.Sprintf("conv-%d", i), "me", text)
			assert.NoError(t, err)
		}()
	}
	<-stepper.started
	<-stepper.started
	close(gate)
	wg.Wait()

	assert.Equal(t, 2, stepper.maxAll)
}

func TestCancelAbortsRunningTurn(t *testing.T) {
	stepper := newRecordingStepper()
	stepper.block["slow"] = make(chan struct{})
	m := NewManager(stepper, NewMemoryStates(), time.Second, nil)
	defer m.Close()

	assert.False(t, m.Cancel("conv"), "nothing running yet")

	done := make(chan Result, 1)
	go func() {
		res, err := m.ProcessMessage(context.Background(), "conv", "me", "slow")
		assert.NoError(t, err)
		done <- res
	}()
	<-stepper.started
	require.True(t, m.Cancel("conv"))

	res := <-done
	assert.ErrorIs(t, res.Reply.Err, context.Canceled)
	assert.Equal(t, 1, res.State.Turn, "state of a cancelled turn is still saved")
}

func TestIdleLaneExits(t *testing.T) {
	m := NewManager(newRecordingStepper(), NewMemoryStates(), 10*time.Millisecond, nil)
	defer m.Close()

	_, err := m.ProcessMessage(context.Background(), "conv", "me", "hello")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return m.activeLanes() == 0 }, time.Second, 5*time.Millisecond)

	res, err := m.ProcessMessage(context.Background(), "conv", "me", "again")
	require.NoError(t, err)
	assert.Equal(t, 2, res.State.Turn)
}

func TestCloseRejectsNewMessages(t *testing.T) {
	m := NewManager(newRecordingStepper(), NewMemoryStates(), time.Minute, nil)
	_, err := m.ProcessMessage(context.Background(), "conv", "me", "hello")
	require.NoError(t, err)

	m.Close()
	_, err = m.ProcessMessage(context.Background(), "conv", "me", "late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDBStatesPersistAcrossManagers(t *testing.T) {
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	states := NewDBStates(db)
	ctx := context.Background()

	m := NewManager(newRecordingStepper(), states, time.Minute, nil)
	_, err = m.ProcessMessage(ctx, "conv", "me", "one")
	require.NoError(t, err)
	m.Close()

	m = NewManager(newRecordingStepper(), states, time.Minute, nil)
	defer m.Close()
	res, err := m.ProcessMessage(ctx, "conv", "me", "two")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, historyTexts(res.State))
	assert.Equal(t, "me", res.State.UserID)

	require.NoError(t, m.Reset(ctx, "conv"))
	_, ok, err := states.Load(ctx, "conv")
	require.NoError(t, err)
	assert.False(t, ok)
}
