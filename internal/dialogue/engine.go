// Package dialogue turns chat messages into booked meetings, one turn at a
// time, over a ConversationState the caller keeps between turns.
package dialogue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/directory"
	"github.com/christopherklint97/convene/internal/logging"
	"github.com/christopherklint97/convene/internal/notify"
)

type DurationPolicy string

const (
	// AskFirst asks once for a missing duration before the default applies.
	AskFirst DurationPolicy = "ask_first"
	// DefaultImmediately fills a missing duration without asking.
	DefaultImmediately DurationPolicy = "default_immediately"
)

type Options struct {
	DefaultDuration           int // minutes
	DurationPolicy            DurationPolicy
	Hours                     calendar.WorkingHours
	MaxSlotOffers             int
	MaxDisambiguationAttempts int
	CallTimeout               time.Duration
	HistoryTurns              int
	LookupConcurrency         int
	Location                  *time.Location
	Now                       func() time.Time
	// Privileged lets lookups see every user's private contacts.
	Privileged bool
	Organizer  notify.Person
}

func DefaultOptions() Options {
	return Options{
		DefaultDuration:           45,
		DurationPolicy:            AskFirst,
		Hours:                     calendar.DefaultWorkingHours(),
		MaxSlotOffers:             3,
		MaxDisambiguationAttempts: 3,
		CallTimeout:               20 * time.Second,
		HistoryTurns:              10,
		LookupConcurrency:         4,
		Location:                  time.Local,
		Now:                       time.Now,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = d.DefaultDuration
	}
	if o.DurationPolicy == "" {
		o.DurationPolicy = d.DurationPolicy
	}
	if o.Hours.EndMinute <= o.Hours.StartMinute || o.Hours.Step <= 0 {
		o.Hours = d.Hours
	}
	if o.MaxSlotOffers <= 0 {
		o.MaxSlotOffers = d.MaxSlotOffers
	}
	if o.MaxDisambiguationAttempts <= 0 {
		o.MaxDisambiguationAttempts = d.MaxDisambiguationAttempts
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = d.HistoryTurns
	}
	if o.LookupConcurrency <= 0 {
		o.LookupConcurrency = d.LookupConcurrency
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Deps are the capabilities the engine drives. All are required.
type Deps struct {
	Parser    Parser
	Confirmer Confirmer
	Directory Directory
	Calendar  Calendar
	Meetings  MeetingStore
	Notifier  Notifier
	Ledger    CommitLedger
}

type Action string

const (
	ActionChat         Action = "chat"
	ActionAsk          Action = "ask"
	ActionConfirm      Action = "confirm"
	ActionScheduled    Action = "scheduled"
	ActionCancelled    Action = "cancelled"
	ActionAlreadyDone  Action = "already_scheduled"
	ActionMeetingsList Action = "meetings"
)

// Reply is what the engine says back for one turn.
type Reply struct {
	Text    string
	Action  Action
	Meeting *MeetingSummary
	// Warning is set when the meeting was booked but a follow-up step failed.
	Warning string
	// Err carries one of the package's sentinel errors for recoverable problems.
	Err error
}

// MeetingSummary identifies a meeting committed on this turn.
type MeetingSummary struct {
	ID        string
	ThreadID  string
	EventID   string
	EventLink string
	Title     string
	Start     time.Time
	Duration  time.Duration
	Attendees []directory.Contact
}

type Engine struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func New(deps Deps, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{deps: deps, opts: opts.withDefaults(), logger: logger}
}

func (e *Engine) scope(st *ConversationState) directory.Scope {
	return directory.Scope{UserID: st.UserID, Privileged: e.opts.Privileged}
}

func (e *Engine) now() time.Time {
	return e.opts.Now().In(e.opts.Location)
}

// Step processes one user message. The given state is not modified; the
// returned state replaces it.
func (e *Engine) Step(ctx context.Context, state ConversationState, text string) (Reply, ConversationState) {
	st := state.clone()
	if st.Phase == "" {
		st.Phase = PhaseIdle
	}
	st.Turn++

	logger := e.logger.With("conversation", st.ConversationID, "turn", st.Turn)
	ctx = logging.ContextWithLogger(ctx, logger)
	logger.Debug("turn started", "phase", st.Phase, "text", truncate(text, 80))

	reply := e.route(ctx, &st, strings.TrimSpace(text))
	if err := ctx.Err(); err != nil && !reply.booked() {
		logger.Info("turn cancelled", "phase", st.Phase)
		reply = cancelledReply(&st, err)
	}
	if reply.Err != nil {
		logger.Info("turn finished with error", "phase", st.Phase, "error", reply.Err)
	} else {
		logger.Debug("turn finished", "phase", st.Phase, "action", reply.Action)
	}

	st.History = append(st.History,
		ai.Message{Role: ai.RoleUser, Content: text},
		ai.Message{Role: ai.RoleAssistant, Content: reply.Text},
	)
	if limit := e.opts.HistoryTurns * 2; len(st.History) > limit {
		st.History = st.History[len(st.History)-limit:]
	}
	return reply, st
}

// intentSwitches are intents that abandon an in-progress booking.
var intentSwitches = map[ai.Intent]bool{
	ai.IntentListMeetings:    true,
	ai.IntentSearchMeetings:  true,
	ai.IntentSearchMoM:       true,
	ai.IntentUploadRecording: true,
	ai.IntentManageContacts:  true,
	ai.IntentCancel:          true,
	ai.IntentReschedule:      true,
}

func (e *Engine) route(ctx context.Context, st *ConversationState, text string) Reply {
	if text == "" {
		if st.Phase == PhaseIdle {
			return Reply{Text: "How can I help with your meetings?", Action: ActionChat}
		}
		return e.reask(st, "")
	}

	if st.Phase != PhaseIdle && ai.IsCancelPhrase(text) {
		st.reset()
		return Reply{Text: "Meeting scheduling cancelled. How else can I help?", Action: ActionCancelled}
	}

	cmd, err := e.parse(ctx, st, text)

	if st.Phase == PhaseIdle {
		if err != nil {
			return Reply{
				Text:   "Sorry, I couldn't understand that. Could you rephrase?",
				Action: ActionChat,
				Err:    err,
			}
		}
		return e.dispatch(ctx, st, cmd)
	}

	if err == nil && intentSwitches[cmd.Intent] {
		logging.FromContext(ctx, e.logger).Info("intent switch abandons booking", "phase", st.Phase, "intent", cmd.Intent)
		st.reset()
		return e.dispatch(ctx, st, cmd)
	}

	switch st.Phase {
	case PhaseCollecting:
		return e.handleCollecting(ctx, st, cmd, text, err)
	case PhaseDisambiguation:
		return e.handleDisambiguation(ctx, st, cmd, text)
	case PhaseSlotChoice:
		return e.handleSlotChoice(ctx, st, cmd, text, err)
	case PhaseConfirmation:
		return e.handleConfirmation(ctx, st, cmd, text)
	}
	logging.FromContext(ctx, e.logger).Error("unknown phase, resetting", "phase", st.Phase)
	st.reset()
	return e.dispatch(ctx, st, cmd)
}

func (e *Engine) parse(ctx context.Context, st *ConversationState, text string) (*ai.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	cmd, err := e.deps.Parser.ParseCommand(ctx, ai.ParseRequest{
		Text:    text,
		History: st.History,
		Context: describeBooking(st),
	})
	if err != nil {
		logging.FromContext(ctx, e.logger).Warn("parse failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: empty result", ErrParseFailure)
	}
	return cmd, nil
}

// describeBooking summarises the booking in progress for the parser.
func describeBooking(st *ConversationState) string {
	p := st.Pending
	if st.Phase == PhaseIdle || p == nil {
		return ""
	}
	var parts []string
	if names := participantNames(p.Participants); len(names) > 0 {
		parts = append(parts, "participants "+strings.Join(names, ", "))
	}
	if p.Date != "" {
		parts = append(parts, "date "+p.Date)
	}
	if p.Time != "" {
		parts = append(parts, "time "+p.Time)
	}
	if p.DurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("duration %d minutes", p.DurationMinutes))
	}
	if p.Title != "" {
		parts = append(parts, "title "+p.Title)
	}
	desc := "so far: " + strings.Join(parts, "; ")
	switch st.Phase {
	case PhaseDisambiguation:
		desc += ". Asked which person the user meant"
	case PhaseSlotChoice:
		desc += ". Offered time slots to choose from"
	case PhaseConfirmation:
		desc += ". Asked the user to confirm the booking"
	default:
		if st.LastQuestion != FieldNone {
			desc += ". Asked the user for the " + string(st.LastQuestion)
		}
	}
	return desc
}

func participantNames(refs []ParticipantRef) []string {
	var names []string
	for _, r := range refs {
		switch {
		case r.Kind == RefDepartment:
			names = append(names, "all of "+r.Department)
		case r.Name != "":
			names = append(names, r.Name)
		}
	}
	return names
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// booked reports whether the turn ended with the meeting on the calendar.
func (r Reply) booked() bool {
	return r.Action == ActionScheduled || r.Action == ActionAlreadyDone
}

// cancelledReply drops whatever the cancelled turn gathered. Nothing was
// booked, so the conversation starts over.
func cancelledReply(st *ConversationState, err error) Reply {
	st.reset()
	return Reply{Text: "Cancelled. Nothing was scheduled.", Action: ActionCancelled, Err: err}
}
