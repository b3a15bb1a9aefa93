package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/directory"
	"github.com/christopherklint97/convene/internal/logging"
	"github.com/christopherklint97/convene/internal/notify"
	"github.com/christopherklint97/convene/internal/store"
)

// commitKey identifies one proposal. A repeated "yes" to the same proposal
// maps to the same key; every call to propose mints a new one, so a
// re-proposal or a fresh booking after /reset never collides.
func commitKey(st *ConversationState) string {
	return fmt.Sprintf("%s#%s", st.ConversationID, st.Pending.ProposalID)
}

// commit books the confirmed meeting. The calendar write happens at most
// once per proposal; once it has succeeded the remaining steps run even if
// ctx is cancelled.
func (e *Engine) commit(ctx context.Context, st *ConversationState) Reply {
	p := st.Pending
	logger := logging.FromContext(ctx, e.logger)

	if !p.Complete() {
		logger.Warn("confirmation for incomplete meeting")
		st.Phase = PhaseCollecting
		return e.advance(ctx, st)
	}
	start, err := p.Start(e.opts.Location)
	if err != nil {
		p.Time = ""
		return e.ask(st, FieldTime)
	}

	// Past this point a cancelled turn could leave a half-written event.
	if err := ctx.Err(); err != nil {
		return cancelledReply(st, err)
	}

	key := commitKey(st)
	reserved, err := e.deps.Ledger.Reserve(ctx, key)
	if err != nil {
		logger.Error("reserving commit failed", "key", key, "error", err)
		return Reply{
			Text:   "I couldn't book the meeting just now. Say yes to try again or no to cancel.",
			Action: ActionConfirm,
			Err:    fmt.Errorf("%w: %v", ErrCalendarFailure, err),
		}
	}
	if !reserved {
		logger.Info("duplicate confirmation ignored", "key", key)
		reply := Reply{Text: "That meeting is already scheduled.", Action: ActionAlreadyDone}
		if eventID, err := e.deps.Ledger.Committed(ctx, key); err != nil {
			logger.Warn("reading commit failed", "key", key, "error", err)
		} else if eventID != "" {
			reply.Meeting = &MeetingSummary{EventID: eventID, Title: p.Title, Start: start,
				Duration: time.Duration(p.DurationMinutes) * time.Minute, Attendees: p.Contacts()}
		}
		st.reset()
		return reply
	}

	contacts := p.Contacts()
	req := calendar.EventRequest{
		Title:       p.Title,
		Description: p.Description,
		Start:       start,
		Duration:    time.Duration(p.DurationMinutes) * time.Minute,
		Organizer:   calendar.Attendee{Name: e.opts.Organizer.Name, Email: e.opts.Organizer.Email},
	}
	for _, c := range contacts {
		req.Attendees = append(req.Attendees, calendar.Attendee{Name: c.Name, Email: c.Email})
	}

	// The key is held from here on, so cancelling the turn must not abort
	// the write and release the key while the backend may still create it.
	ctx = context.WithoutCancel(ctx)
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	created, err := e.deps.Calendar.CreateEvent(cctx, req)
	cancel()
	if err != nil {
		logger.Error("creating calendar event failed", "key", key, "error", err)
		if rerr := e.deps.Ledger.Release(ctx, key); rerr != nil {
			logger.Error("releasing commit failed", "key", key, "error", rerr)
		}
		return Reply{
			Text:   "I couldn't create the calendar event. Say yes to try again or no to cancel.",
			Action: ActionConfirm,
			Err:    fmt.Errorf("%w: %v", ErrCalendarFailure, err),
		}
	}

	// The event exists; nothing below may undo or skip it.
	logger.Info("calendar event created", "key", key, "event", created.EventID)
	if err := e.deps.Ledger.Complete(ctx, key, created.EventID); err != nil {
		logger.Error("completing commit failed", "key", key, "error", err)
	}

	meeting := &store.Meeting{
		ParentMeetingID:   p.ParentMeetingID,
		UserID:            st.UserID,
		Title:             p.Title,
		Description:       p.Description,
		Start:             start,
		DurationMinutes:   p.DurationMinutes,
		CalendarEventID:   created.EventID,
		CalendarEventLink: created.Link,
		Status:            store.StatusScheduled,
	}
	for _, c := range contacts {
		meeting.Participants = append(meeting.Participants, store.Participant{ContactID: c.ID, Name: c.Name, Email: c.Email})
	}

	var warnings []string
	reply := Reply{Action: ActionScheduled}

	sctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	if err := e.deps.Meetings.SaveMeeting(sctx, meeting); err != nil {
		logger.Error("saving meeting failed", "event", created.EventID, "error", err)
		warnings = append(warnings, "it's on the calendar but I couldn't save it to your meeting history")
	}
	cancel()

	invite := notify.Invite{
		MeetingID:       meeting.ID,
		ThreadID:        meeting.ThreadID,
		EventID:         created.EventID,
		EventLink:       created.Link,
		Title:           meeting.Title,
		Description:     meeting.Description,
		Start:           start,
		DurationMinutes: meeting.DurationMinutes,
		Organizer:       e.opts.Organizer,
		FollowUp:        p.ParentMeetingID != "",
	}
	for _, c := range contacts {
		invite.Attendees = append(invite.Attendees, notify.Person{Name: c.Name, Email: c.Email})
	}
	nctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	if err := e.deps.Notifier.Notify(nctx, invite); err != nil {
		logger.Warn("sending invitations failed", "event", created.EventID, "error", err)
		warnings = append(warnings, "some invitations may not have been sent")
		reply.Err = fmt.Errorf("%w: %v", ErrNotifierFailure, err)
	}
	cancel()

	reply.Meeting = &MeetingSummary{
		ID:        meeting.ID,
		ThreadID:  meeting.ThreadID,
		EventID:   created.EventID,
		EventLink: created.Link,
		Title:     meeting.Title,
		Start:     start,
		Duration:  req.Duration,
		Attendees: contacts,
	}
	reply.Text = e.scheduledText(meeting, contacts)
	if len(warnings) > 0 {
		reply.Warning = strings.Join(warnings, "; ")
		reply.Text += "\n\nNote: " + reply.Warning + "."
	}

	st.reset()
	return reply
}

func (e *Engine) scheduledText(m *store.Meeting, contacts []directory.Contact) string {
	var names []string
	for _, c := range contacts {
		names = append(names, c.Name)
	}
	text := fmt.Sprintf("Meeting scheduled: **%s** on %s for %d minutes with %s.",
		m.Title, m.Start.In(e.opts.Location).Format("Monday, January 2 at 3:04 PM"),
		m.DurationMinutes, strings.Join(names, ", "))
	if m.CalendarEventLink != "" {
		text += "\n" + m.CalendarEventLink
	}
	return text
}
