package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/convene/internal/dialogue"
	"github.com/christopherklint97/convene/internal/session"
)

type fakeChat struct {
	replies   []session.Result
	err       error
	sent      []string
	cancelled int
	resets    int
}

func (f *fakeChat) ProcessMessage(_ context.Context, _, _, text string) (session.Result, error) {
	f.sent = append(f.sent, text)
	if f.err != nil {
		return session.Result{}, f.err
	}
	res := f.replies[0]
	f.replies = f.replies[1:]
	return res, nil
}

func (f *fakeChat) Cancel(string) bool {
	f.cancelled++
	return true
}

func (f *fakeChat) Reset(context.Context, string) error {
	f.resets++
	return nil
}

func newTestApp(chat *fakeChat) *App {
	a := NewApp(context.Background(), chat, Options{ConversationID: "tui", UserID: "me", Style: "notty"})
	a.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return a
}

var enter = tea.KeyMsg{Type: tea.KeyEnter}

// runTurn submits text and feeds the backend reply back into the app.
func runTurn(t *testing.T, a *App, text string) {
	t.Helper()
	a.input.textarea.SetValue(text)
	_, cmd := a.Update(enter)
	require.NotNil(t, cmd)
	require.True(t, a.busy)
	a.Update(a.send(text)())
}

func TestSubmitShowsReply(t *testing.T) {
	chat := &fakeChat{replies: []session.Result{{
		Reply: dialogue.Reply{Text: "Meeting scheduled: **Sync** on Monday", Action: dialogue.ActionScheduled},
	}}}
	a := newTestApp(chat)

	runTurn(t, a, "book it")

	assert.False(t, a.busy)
	assert.Equal(t, "", a.input.Value())
	view := a.transcript()
	assert.Contains(t, view, "You:")
	assert.Contains(t, view, "book it")
	assert.Contains(t, view, "Meeting scheduled")
	assert.Contains(t, view, "Booked")
}

func TestEmptyInputIsIgnored(t *testing.T) {
	chat := &fakeChat{}
	a := newTestApp(chat)

	_, cmd := a.Update(enter)
	assert.Nil(t, cmd)
	assert.False(t, a.busy)
}

func TestWarningsAndErrorsAreShown(t *testing.T) {
	chat := &fakeChat{replies: []session.Result{{
		Reply: dialogue.Reply{Text: "Done.", Warning: "some invitations may not have been sent"},
	}}}
	a := newTestApp(chat)
	runTurn(t, a, "yes")
	assert.Contains(t, a.transcript(), "Warning: some invitations may not have been sent")

	chat.err = errors.New("saving state: disk full")
	runTurn(t, a, "hello")
	assert.Contains(t, a.transcript(), "Error: saving state: disk full")
}

func TestEscCancelsRunningTurn(t *testing.T) {
	chat := &fakeChat{}
	a := newTestApp(chat)

	a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 0, chat.cancelled, "nothing to cancel")

	a.input.textarea.SetValue("slow")
	a.Update(enter)
	a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 1, chat.cancelled)

	a.Update(turnMsg{res: session.Result{Reply: dialogue.Reply{Err: context.Canceled}}})
	assert.False(t, a.busy)
	assert.Contains(t, a.transcript(), "Turn cancelled.")
}

func TestResetCommand(t *testing.T) {
	chat := &fakeChat{replies: []session.Result{{Reply: dialogue.Reply{Text: "Who should attend?"}}}}
	a := newTestApp(chat)
	runTurn(t, a, "schedule a meeting")

	a.input.textarea.SetValue("/reset")
	_, cmd := a.Update(enter)
	assert.Nil(t, cmd)
	assert.Equal(t, 1, chat.resets)
	assert.Len(t, a.entries, 1)
	assert.Equal(t, []string{"schedule a meeting"}, chat.sent)
}
