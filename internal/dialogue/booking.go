package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/logging"
)

var questions = map[Field]string{
	FieldParticipants: "Who should attend this meeting?",
	FieldDate:         "What date would you like to schedule this meeting?",
	FieldTime:         "What time should the meeting be scheduled?",
}

func (e *Engine) durationQuestion() string {
	return fmt.Sprintf("How long should the meeting be? (Default is %d minutes)", e.opts.DefaultDuration)
}

// startBooking opens a new PendingMeeting from a scheduling command.
func (e *Engine) startBooking(ctx context.Context, st *ConversationState, cmd *ai.Command) Reply {
	p := &PendingMeeting{}
	e.mergeDetails(p, cmd.Meeting, mergeFill)
	if cmd.Intent == ai.IntentFollowUp {
		p.IsFollowUp = true
	}
	if p.IsFollowUp {
		e.linkParent(ctx, st, p)
	}

	st.reset()
	st.Pending = p
	st.Phase = PhaseCollecting
	return e.advance(ctx, st)
}

// linkParent finds the meeting a follow-up refers to.
func (e *Engine) linkParent(ctx context.Context, st *ConversationState, p *PendingMeeting) {
	ref := strings.TrimSpace(p.FollowUpReference)
	if ref == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	parent, err := e.deps.Meetings.FindMeeting(ctx, st.UserID, ref)
	if err != nil {
		logging.FromContext(ctx, e.logger).Warn("looking up follow-up parent failed", "ref", ref, "error", err)
		return
	}
	if parent == nil {
		return
	}
	p.ParentMeetingID = parent.ID
	if p.Title == "" {
		p.Title = "Follow-up: " + parent.Title
	}
	if len(p.Participants) == 0 {
		for _, mp := range parent.Participants {
			p.Participants = append(p.Participants, Unresolved(mp.Name, ""))
		}
	}
}

type mergeMode int

const (
	// mergeFill only sets fields that are still empty.
	mergeFill mergeMode = iota
	// mergeOverwrite replaces any field the message mentions.
	mergeOverwrite
)

// mergeDetails folds parsed fields into p and reports whether anything changed.
func (e *Engine) mergeDetails(p *PendingMeeting, d ai.MeetingDetails, mode mergeMode) bool {
	changed := false
	setString := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v == "" || *dst == v || (mode == mergeFill && *dst != "") {
			return
		}
		*dst = v
		changed = true
	}

	setString(&p.Title, d.Title)
	setString(&p.Description, d.Description)
	setString(&p.Date, normalizeDate(d.Date))
	setString(&p.Time, normalizeTime(d.Time))
	setString(&p.FollowUpReference, d.FollowUpReference)

	if d.DurationMinutes > 0 && d.DurationMinutes != p.DurationMinutes &&
		(mode == mergeOverwrite || p.DurationMinutes == 0) {
		p.DurationMinutes = d.DurationMinutes
		changed = true
	}
	if d.UseFirstAvailable && !p.UseFirstAvailable {
		p.UseFirstAvailable = true
		changed = true
	}
	if d.OfferOptions && !p.OfferOptions {
		p.OfferOptions = true
		changed = true
	}
	if d.IsFollowUp && !p.IsFollowUp {
		p.IsFollowUp = true
		changed = true
	}
	if refs := refsFromParsed(d.Participants); len(refs) > 0 {
		p.Participants = addRefs(p.Participants, refs)
		changed = true
	}
	return changed
}

func refsFromParsed(parsed []ai.Participant) []ParticipantRef {
	var refs []ParticipantRef
	for _, pp := range parsed {
		name := strings.TrimSpace(pp.Name)
		dept := strings.TrimSpace(pp.Department)
		switch {
		case pp.IsDepartmentGroup && dept != "":
			refs = append(refs, DepartmentGroup(dept))
		case pp.IsDepartmentGroup && name != "":
			refs = append(refs, DepartmentGroup(name))
		case name != "":
			refs = append(refs, Unresolved(name, dept))
		}
	}
	return refs
}

// addRefs appends refs, first dropping names the directory could not find
// since a new name is usually a correction of them.
func addRefs(existing, refs []ParticipantRef) []ParticipantRef {
	var out []ParticipantRef
	for _, r := range existing {
		if r.Kind == RefUnresolved && r.NotFound {
			continue
		}
		out = append(out, r)
	}
	for _, r := range refs {
		if !hasRef(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func hasRef(refs []ParticipantRef, r ParticipantRef) bool {
	for _, have := range refs {
		switch {
		case r.Kind == RefDepartment && have.Kind == RefDepartment:
			if strings.EqualFold(have.Department, r.Department) {
				return true
			}
		case r.Kind == RefUnresolved && have.Kind == RefUnresolved:
			if strings.EqualFold(have.Name, r.Name) {
				return true
			}
		case r.Kind == RefUnresolved && have.Kind == RefResolved && have.Contact != nil:
			if strings.EqualFold(have.Contact.Name, r.Name) {
				return true
			}
		}
	}
	return false
}

// missingField returns the first unanswered required field in the order
// participants, date, time, duration.
func (e *Engine) missingField(p *PendingMeeting) Field {
	switch {
	case !p.fullyResolved():
		return FieldParticipants
	case p.Date == "":
		return FieldDate
	case p.Time == "" && !p.wantsSlots():
		return FieldTime
	case p.DurationMinutes == 0 && e.opts.DurationPolicy == AskFirst && !p.DurationAsked:
		return FieldDuration
	}
	return FieldNone
}

// advance resolves participants and moves the booking to whatever phase
// the pending meeting now calls for.
func (e *Engine) advance(ctx context.Context, st *ConversationState) Reply {
	p := st.Pending

	if err := e.resolveParticipants(ctx, st); err != nil {
		logging.FromContext(ctx, e.logger).Error("participant lookup failed", "error", err)
		st.Phase = PhaseCollecting
		return Reply{
			Text:   "I couldn't reach the address book just now. Please try again in a moment.",
			Action: ActionAsk,
			Err:    err,
		}
	}

	if idx := firstAmbiguous(p); idx >= 0 {
		return e.askDisambiguation(st, idx, "")
	}

	if field := e.missingField(p); field != FieldNone {
		return e.ask(st, field)
	}

	if p.DurationMinutes == 0 {
		p.DurationMinutes = e.opts.DefaultDuration
	}
	if p.wantsSlots() {
		return e.offerSlots(ctx, st)
	}
	return e.propose(st, "")
}

// ask puts the question for field to the user.
func (e *Engine) ask(st *ConversationState, field Field) Reply {
	p := st.Pending
	st.Phase = PhaseCollecting
	st.LastQuestion = field

	reply := Reply{Action: ActionAsk}
	switch field {
	case FieldParticipants:
		reply.Text = participantsQuestion(p)
		if len(notFound(p)) > 0 {
			reply.Err = ErrResolutionEmpty
		}
	case FieldDuration:
		p.DurationAsked = true
		reply.Text = e.durationQuestion()
	default:
		reply.Text = questions[field]
	}
	return reply
}

func notFound(p *PendingMeeting) []string {
	var names []string
	for _, r := range p.Participants {
		if r.Kind == RefUnresolved && r.NotFound {
			names = append(names, r.Name)
		}
	}
	return names
}

func participantsQuestion(p *PendingMeeting) string {
	var lines []string
	for _, name := range notFound(p) {
		lines = append(lines, fmt.Sprintf("I couldn't find '%s' in the address book. Could you provide their full name?", name))
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	if len(p.EmptyGroups) > 0 {
		return fmt.Sprintf("I couldn't find anyone in %s. Who should attend this meeting?", strings.Join(p.EmptyGroups, ", "))
	}
	return questions[FieldParticipants]
}

// reask repeats the question for the current phase, prefixed by note.
func (e *Engine) reask(st *ConversationState, note string) Reply {
	var reply Reply
	switch st.Phase {
	case PhaseDisambiguation:
		if st.Disambiguation != nil {
			reply = Reply{Text: disambiguationPrompt(st.Disambiguation), Action: ActionAsk}
		}
	case PhaseSlotChoice:
		reply = Reply{Text: e.slotPrompt(st), Action: ActionAsk}
	case PhaseConfirmation:
		reply = Reply{Text: "Shall I go ahead and schedule this? (Yes/No)", Action: ActionConfirm}
	default:
		if st.LastQuestion == FieldDuration {
			reply = Reply{Text: e.durationQuestion(), Action: ActionAsk}
		} else if q, ok := questions[st.LastQuestion]; ok {
			if st.LastQuestion == FieldParticipants && st.Pending != nil {
				q = participantsQuestion(st.Pending)
			}
			reply = Reply{Text: q, Action: ActionAsk}
		} else {
			reply = Reply{Text: "What would you like to change: participants, date, time or duration?", Action: ActionAsk}
		}
	}
	if note != "" {
		reply.Text = note + " " + reply.Text
	}
	return reply
}

func (e *Engine) handleCollecting(ctx context.Context, st *ConversationState, cmd *ai.Command, text string, parseErr error) Reply {
	p := st.Pending
	if p == nil {
		st.reset()
		return e.dispatch(ctx, st, cmd)
	}

	changed := false
	if cmd != nil {
		changed = e.mergeDetails(p, cmd.Meeting, mergeFill)
	}
	if e.directParse(p, text, st.LastQuestion, mergeFill) {
		changed = true
	}

	if !changed {
		if st.LastQuestion == FieldDuration {
			// Asked once; an unusable answer takes the default.
			return e.advance(ctx, st)
		}
		reply := e.reask(st, "Sorry, I didn't catch that.")
		if parseErr != nil {
			reply.Err = parseErr
		} else if st.LastQuestion == FieldParticipants && len(notFound(p)) > 0 {
			reply.Err = ErrResolutionEmpty
		}
		return reply
	}
	return e.advance(ctx, st)
}

// propose fills derived fields and asks the user to confirm.
func (e *Engine) propose(st *ConversationState, note string) Reply {
	p := st.Pending
	if p.DurationMinutes == 0 {
		p.DurationMinutes = e.opts.DefaultDuration
	}
	if p.Title == "" {
		p.Title = defaultTitle(p)
	}
	p.ProposedAtTurn = st.Turn
	p.ProposalID = uuid.NewString()

	st.Phase = PhaseConfirmation
	st.LastQuestion = FieldNone
	st.SlotsOffered = nil
	st.Disambiguation = nil

	text := e.confirmationText(p)
	if note != "" {
		text = note + "\n\n" + text
	}
	return Reply{Text: text, Action: ActionConfirm}
}

func defaultTitle(p *PendingMeeting) string {
	contacts := p.Contacts()
	var names []string
	for i, c := range contacts {
		if i == 3 {
			break
		}
		names = append(names, c.Name)
	}
	title := "Meeting with " + strings.Join(names, ", ")
	if extra := len(contacts) - len(names); extra > 0 {
		title += fmt.Sprintf(" and %d more", extra)
	}
	return title
}

func (e *Engine) confirmationText(p *PendingMeeting) string {
	var b strings.Builder
	b.WriteString("Please confirm the meeting details:\n\n")
	fmt.Fprintf(&b, "**Title:** %s\n", p.Title)
	if start, err := p.Start(e.opts.Location); err == nil {
		fmt.Fprintf(&b, "**Date:** %s\n", start.Format("Monday, January 2, 2006"))
		fmt.Fprintf(&b, "**Time:** %s\n", start.Format("3:04 PM"))
	} else {
		fmt.Fprintf(&b, "**Date:** %s\n**Time:** %s\n", p.Date, p.Time)
	}
	fmt.Fprintf(&b, "**Duration:** %d minutes\n", p.DurationMinutes)

	var labels []string
	for _, c := range p.Contacts() {
		labels = append(labels, c.Label())
	}
	fmt.Fprintf(&b, "**Participants:** %s\n", strings.Join(labels, ", "))
	if p.Description != "" {
		fmt.Fprintf(&b, "**Description:** %s\n", p.Description)
	}
	if p.ParentMeetingID != "" {
		fmt.Fprintf(&b, "**Follows up:** %s\n", p.ParentMeetingID)
	}
	if len(p.EmptyGroups) > 0 {
		fmt.Fprintf(&b, "\nNote: nobody was found in %s.\n", strings.Join(p.EmptyGroups, ", "))
	}
	b.WriteString("\nShall I go ahead and schedule this? (Yes/No)")
	return b.String()
}

func (e *Engine) handleConfirmation(ctx context.Context, st *ConversationState, cmd *ai.Command, text string) Reply {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	decision, err := e.deps.Confirmer.ClassifyConfirmation(cctx, text)
	cancel()
	if err != nil {
		logging.FromContext(ctx, e.logger).Warn("confirmation classification failed", "error", err)
	}

	switch decision {
	case ai.Confirmed:
		return e.commit(ctx, st)
	case ai.Cancelled:
		st.reset()
		return Reply{Text: "Meeting scheduling cancelled. How else can I help?", Action: ActionCancelled}
	case ai.Modification:
		return e.modify(ctx, st, cmd, text)
	}
	reply := e.reask(st, "Sorry, I didn't get that.")
	if err != nil {
		reply.Err = fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return reply
}

// modify applies a change requested at the confirmation step.
func (e *Engine) modify(ctx context.Context, st *ConversationState, cmd *ai.Command, text string) Reply {
	p := st.Pending
	st.Phase = PhaseCollecting
	st.LastQuestion = FieldNone

	changed := false
	if cmd != nil {
		changed = e.mergeDetails(p, cmd.Meeting, mergeOverwrite)
	}
	if e.directParse(p, text, FieldNone, mergeOverwrite) {
		changed = true
	}
	if changed {
		return e.advance(ctx, st)
	}

	// Nothing usable; clear whichever field the user pointed at and ask again.
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "who", "participant", "attendee", "people", "invite"):
		p.Participants = nil
		p.EmptyGroups = nil
		p.Title = ""
		return e.ask(st, FieldParticipants)
	case containsAny(lower, "date", "day"):
		p.Date = ""
		return e.ask(st, FieldDate)
	case containsAny(lower, "time", "when", "earlier", "later"):
		p.Time = ""
		p.UseFirstAvailable = false
		p.OfferOptions = false
		return e.ask(st, FieldTime)
	case containsAny(lower, "long", "duration", "length", "minutes", "hour"):
		p.DurationMinutes = 0
		p.DurationAsked = false
		return e.ask(st, FieldDuration)
	}
	return Reply{Text: "What would you like to change: participants, date, time or duration?", Action: ActionAsk}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func normalizeTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range []string{"15:04", "15:04:05", "3:04PM", "3:04 PM", "3PM", "3 PM"} {
		if t, err := time.Parse(layout, strings.ToUpper(s)); err == nil {
			return t.Format("15:04")
		}
	}
	return ""
}
