package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/calendar"
	"github.com/christopherklint97/convene/internal/logging"
)

// offerSlots searches the pending date for free slots. One slot, or a
// first-available request, goes straight to confirmation; otherwise the
// user picks from up to MaxSlotOffers.
func (e *Engine) offerSlots(ctx context.Context, st *ConversationState) Reply {
	p := st.Pending
	logger := logging.FromContext(ctx, e.logger)

	day, err := time.ParseInLocation("2006-01-02", p.Date, e.opts.Location)
	if err != nil {
		p.Date = ""
		return e.ask(st, FieldDate)
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	slots, err := e.deps.Calendar.FindAvailableSlots(cctx, day, p.DurationMinutes, e.opts.Hours)
	cancel()
	if err != nil {
		logger.Error("finding available slots failed", "date", p.Date, "error", err)
		p.UseFirstAvailable = false
		p.OfferOptions = false
		reply := e.ask(st, FieldTime)
		reply.Text = "I couldn't check the calendar for free slots right now. " + reply.Text
		reply.Err = fmt.Errorf("%w: %v", ErrCalendarFailure, err)
		return reply
	}

	now := e.now()
	var upcoming []time.Time
	for _, s := range slots {
		if s.After(now) {
			upcoming = append(upcoming, s.In(e.opts.Location))
		}
	}
	logger.Debug("slots found", "date", p.Date, "count", len(upcoming))

	if len(upcoming) == 0 {
		day := day.Format("Monday, January 2")
		p.Date = ""
		reply := e.ask(st, FieldDate)
		reply.Text = fmt.Sprintf("There are no free %d-minute slots on %s. Which other date works?", p.DurationMinutes, day)
		reply.Err = ErrNoAvailability
		return reply
	}

	if len(upcoming) == 1 || (p.UseFirstAvailable && !p.OfferOptions) {
		p.Time = upcoming[0].Format("15:04")
		return e.propose(st, "The first available slot is "+calendar.FormatSlot(upcoming[0])+".")
	}

	if len(upcoming) > e.opts.MaxSlotOffers {
		upcoming = upcoming[:e.opts.MaxSlotOffers]
	}
	st.Phase = PhaseSlotChoice
	st.LastQuestion = FieldSlotChoice
	st.SlotsOffered = upcoming
	return Reply{Text: e.slotPrompt(st), Action: ActionAsk}
}

func (e *Engine) slotPrompt(st *ConversationState) string {
	return "Here are the available slots:\n" + calendar.FormatSlots(st.SlotsOffered) +
		"\nWhich one works? (Reply with a number or a time)"
}

func (e *Engine) handleSlotChoice(ctx context.Context, st *ConversationState, cmd *ai.Command, text string, parseErr error) Reply {
	p := st.Pending

	var chosen time.Time
	if k, ok := parseOrdinal(text, len(st.SlotsOffered)); ok {
		chosen = st.SlotsOffered[k-1]
	} else if day, ok := e.requestedDay(cmd, text); ok && day != p.Date {
		// A different day means searching again.
		p.Date = day
		st.SlotsOffered = nil
		return e.advance(ctx, st)
	} else if clock, ok := e.requestedClock(cmd, text); ok {
		for _, s := range st.SlotsOffered {
			if s.In(e.opts.Location).Format("15:04") == clock {
				chosen = s
				break
			}
		}
		if chosen.IsZero() {
			// A time outside the offer is taken as the user's own pick.
			p.Time = clock
			st.SlotsOffered = nil
			return e.advance(ctx, st)
		}
	}

	if chosen.IsZero() {
		reply := e.reask(st, "Sorry, I didn't catch which slot you want.")
		reply.Err = parseErr
		return reply
	}

	p.Time = chosen.In(e.opts.Location).Format("15:04")
	st.SlotsOffered = nil
	return e.advance(ctx, st)
}

func (e *Engine) requestedDay(cmd *ai.Command, text string) (string, bool) {
	if cmd != nil {
		if d := normalizeDate(cmd.Meeting.Date); d != "" {
			return d, true
		}
	}
	return parseDay(text, e.now())
}

func (e *Engine) requestedClock(cmd *ai.Command, text string) (string, bool) {
	if t, ok := parseClock(text); ok {
		return t, true
	}
	if cmd != nil {
		if t := normalizeTime(cmd.Meeting.Time); t != "" {
			return t, true
		}
	}
	return "", false
}
