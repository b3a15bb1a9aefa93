package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/logging"
	"github.com/christopherklint97/convene/internal/store"
)

const meetingListLimit = 10

// dispatch handles a freshly parsed command from the IDLE phase.
func (e *Engine) dispatch(ctx context.Context, st *ConversationState, cmd *ai.Command) Reply {
	if cmd == nil {
		return Reply{Text: "Sorry, I couldn't understand that. Could you rephrase?", Action: ActionChat, Err: ErrParseFailure}
	}
	switch {
	case cmd.Intent.IsScheduling():
		return e.startBooking(ctx, st, cmd)
	case cmd.Intent == ai.IntentListMeetings:
		return e.listMeetings(ctx, st)
	case cmd.Intent == ai.IntentSearchMeetings:
		return e.searchMeetings(ctx, st, cmd.SearchQuery)
	case cmd.Intent == ai.IntentSearchMoM:
		return Reply{Text: "Searching meeting minutes isn't available yet. I can list or search your scheduled meetings instead.", Action: ActionChat}
	case cmd.Intent == ai.IntentUploadRecording:
		return Reply{Text: "Uploading recordings isn't available yet. I can schedule a follow-up meeting if that helps.", Action: ActionChat}
	case cmd.Intent == ai.IntentManageContacts:
		return e.contactsOverview(st)
	case cmd.Intent == ai.IntentCancel:
		return e.hint(cmd, "Which meeting would you like to cancel? Cancellations have to be made in your calendar for now.")
	case cmd.Intent == ai.IntentReschedule:
		return e.hint(cmd, "Which meeting would you like to move? For now I can book a new time and you can remove the old one from your calendar.")
	}
	return e.hint(cmd, "I can help you schedule meetings, list upcoming ones or search past ones. What would you like to do?")
}

func (e *Engine) hint(cmd *ai.Command, fallback string) Reply {
	if msg := strings.TrimSpace(cmd.ResponseMessage); msg != "" {
		return Reply{Text: msg, Action: ActionChat}
	}
	return Reply{Text: fallback, Action: ActionChat}
}

func (e *Engine) listMeetings(ctx context.Context, st *ConversationState) Reply {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	upcoming, err := e.deps.Meetings.UpcomingMeetings(ctx, st.UserID, e.now(), meetingListLimit)
	if err != nil {
		logging.FromContext(ctx, e.logger).Error("listing meetings failed", "error", err)
		return Reply{Text: "I couldn't load your meetings right now. Please try again shortly.", Action: ActionChat}
	}
	if len(upcoming) > 0 {
		return Reply{Text: "Your upcoming meetings:\n\n" + e.formatMeetings(upcoming), Action: ActionMeetingsList}
	}

	recent, err := e.deps.Meetings.RecentMeetings(ctx, st.UserID, meetingListLimit)
	if err != nil {
		logging.FromContext(ctx, e.logger).Error("listing meetings failed", "error", err)
		return Reply{Text: "I couldn't load your meetings right now. Please try again shortly.", Action: ActionChat}
	}
	if len(recent) == 0 {
		return Reply{Text: "You don't have any meetings yet. Would you like to schedule one?", Action: ActionMeetingsList}
	}
	return Reply{Text: "No upcoming meetings. Your most recent ones:\n\n" + e.formatMeetings(recent), Action: ActionMeetingsList}
}

func (e *Engine) searchMeetings(ctx context.Context, st *ConversationState, query string) Reply {
	query = strings.TrimSpace(query)
	if query == "" {
		return Reply{Text: "What should I search your meetings for?", Action: ActionChat}
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	found, err := e.deps.Meetings.SearchMeetings(ctx, st.UserID, query, meetingListLimit)
	if err != nil {
		logging.FromContext(ctx, e.logger).Error("searching meetings failed", "query", query, "error", err)
		return Reply{Text: "I couldn't search your meetings right now. Please try again shortly.", Action: ActionChat}
	}
	if len(found) == 0 {
		return Reply{Text: fmt.Sprintf("I couldn't find any meetings matching %q.", query), Action: ActionMeetingsList}
	}
	return Reply{Text: fmt.Sprintf("Meetings matching %q:\n\n%s", query, e.formatMeetings(found)), Action: ActionMeetingsList}
}

func (e *Engine) formatMeetings(meetings []store.Meeting) string {
	var b strings.Builder
	for i, m := range meetings {
		names := make([]string, len(m.Participants))
		for n, p := range m.Participants {
			names[n] = p.Name
		}
		fmt.Fprintf(&b, "%d. **%s** - %s (%d min)", i+1, m.Title,
			m.Start.In(e.opts.Location).Format("Mon Jan 2, 3:04 PM"), m.DurationMinutes)
		if len(names) > 0 {
			fmt.Fprintf(&b, " with %s", strings.Join(names, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) contactsOverview(st *ConversationState) Reply {
	scope := e.scope(st)
	contacts, err := e.deps.Directory.List(scope)
	if err != nil {
		e.logger.Error("listing contacts failed", "error", err)
		return Reply{Text: "I couldn't read the address book right now.", Action: ActionChat}
	}
	depts, err := e.deps.Directory.Departments(scope)
	if err != nil {
		e.logger.Error("listing departments failed", "error", err)
	}
	text := fmt.Sprintf("Your address book has %d contacts", len(contacts))
	if len(depts) > 0 {
		text += " across " + strings.Join(depts, ", ")
	}
	text += ". Use `convene contacts add` or `convene contacts remove` to change it."
	return Reply{Text: text, Action: ActionChat}
}
