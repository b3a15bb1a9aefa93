// Package tui is the interactive chat front end for the scheduling assistant.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/christopherklint97/convene/internal/dialogue"
	"github.com/christopherklint97/convene/internal/session"
)

const greeting = "Hi! I can schedule meetings, list upcoming ones or search past ones. What do you need?"

// Chat is the conversation backend, normally a session.Manager.
type Chat interface {
	ProcessMessage(ctx context.Context, conversationID, userID, text string) (session.Result, error)
	Cancel(conversationID string) bool
	Reset(ctx context.Context, conversationID string) error
}

type Options struct {
	ConversationID string
	UserID         string
	// Style is a glamour style name; empty picks one from the terminal background.
	Style string
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleNote
	roleWarning
	roleError
	roleSuccess
)

type entry struct {
	role role
	text string
}

type turnMsg struct {
	res session.Result
	err error
}

type App struct {
	chat   Chat
	opts   Options
	ctx    context.Context
	input  inputModel
	view   viewport.Model
	spin   spinner.Model
	render *glamour.TermRenderer

	entries []entry
	busy    bool
	width   int
}

func NewApp(ctx context.Context, chat Chat, opts Options) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot

	a := &App{
		chat:    chat,
		opts:    opts,
		ctx:     ctx,
		input:   newInputModel(),
		view:    viewport.New(80, 20),
		spin:    s,
		width:   80,
		entries: []entry{{role: roleAssistant, text: greeting}},
	}
	a.render = a.newRenderer()
	a.refresh()
	return a
}

func (a *App) newRenderer() *glamour.TermRenderer {
	style := glamour.WithAutoStyle()
	if a.opts.Style != "" {
		style = glamour.WithStandardStyle(a.opts.Style)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(max(a.width-4, 20)))
	if err != nil {
		return nil
	}
	return r
}

func (a *App) Init() tea.Cmd {
	return a.input.textarea.Focus()
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.view.Width = msg.Width
		// header, blank line, input, help
		a.view.Height = max(msg.Height-7, 3)
		a.render = a.newRenderer()
		a.input, _ = a.input.Update(msg)
		a.refresh()
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if a.busy {
				a.chat.Cancel(a.opts.ConversationID)
			}
			return a, tea.Quit
		case "esc":
			if a.busy && a.chat.Cancel(a.opts.ConversationID) {
				a.add(roleNote, "Cancelling...")
			}
			return a, nil
		case "enter":
			return a.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			a.view, cmd = a.view.Update(msg)
			return a, cmd
		}

	case turnMsg:
		a.busy = false
		a.handleTurn(msg)
		return a, nil

	case spinner.TickMsg:
		if !a.busy {
			return a, nil
		}
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	if a.busy {
		return a, nil
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("convene - Meeting Assistant"))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render("Conversation " + a.opts.ConversationID))
	b.WriteString("\n")
	b.WriteString(a.view.View())
	b.WriteString("\n")
	if a.busy {
		b.WriteString(a.spin.View() + " Thinking...")
	} else {
		b.WriteString(a.input.View())
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Enter: send • Esc: cancel turn • /reset: start over • Ctrl+C: quit"))
	return b.String()
}

func (a *App) submit() (tea.Model, tea.Cmd) {
	text := a.input.Value()
	if a.busy || text == "" {
		return a, nil
	}
	a.input.Reset()

	if text == "/reset" {
		if err := a.chat.Reset(a.ctx, a.opts.ConversationID); err != nil {
			a.add(roleError, "Could not reset: "+err.Error())
			return a, nil
		}
		a.entries = []entry{{role: roleAssistant, text: greeting}}
		a.refresh()
		return a, nil
	}

	a.add(roleUser, text)
	a.busy = true
	return a, tea.Batch(a.spin.Tick, a.send(text))
}

func (a *App) send(text string) tea.Cmd {
	ctx, convID, userID := a.ctx, a.opts.ConversationID, a.opts.UserID
	return func() tea.Msg {
		res, err := a.chat.ProcessMessage(ctx, convID, userID, text)
		return turnMsg{res: res, err: err}
	}
}

func (a *App) handleTurn(msg turnMsg) {
	if msg.err != nil {
		a.add(roleError, "Error: "+msg.err.Error())
		return
	}
	reply := msg.res.Reply
	switch {
	case reply.Text != "":
		if reply.Action == dialogue.ActionScheduled {
			a.add(roleSuccess, "Booked")
		}
		a.add(roleAssistant, reply.Text)
	case errors.Is(reply.Err, context.Canceled):
		a.add(roleNote, "Turn cancelled.")
	case reply.Err != nil:
		a.add(roleError, "Error: "+reply.Err.Error())
	}
	if reply.Warning != "" {
		a.add(roleWarning, reply.Warning)
	}
}

func (a *App) add(r role, text string) {
	a.entries = append(a.entries, entry{role: r, text: text})
	a.refresh()
}

func (a *App) refresh() {
	a.view.SetContent(a.transcript())
	a.view.GotoBottom()
}

func (a *App) transcript() string {
	var b strings.Builder
	for i, e := range a.entries {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.role {
		case roleUser:
			b.WriteString(userStyle.Render("You: ") + e.text + "\n")
		case roleAssistant:
			b.WriteString(assistantStyle.Render("convene:") + "\n")
			b.WriteString(a.markdown(e.text) + "\n")
		case roleNote:
			b.WriteString(dimStyle.Render(e.text) + "\n")
		case roleWarning:
			b.WriteString(warningStyle.Render("Warning: "+e.text) + "\n")
		case roleError:
			b.WriteString(errorStyle.Render(e.text) + "\n")
		case roleSuccess:
			b.WriteString(successStyle.Render(e.text) + "\n")
		}
	}
	return b.String()
}

func (a *App) markdown(text string) string {
	if a.render == nil {
		return text
	}
	out, err := a.render.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
