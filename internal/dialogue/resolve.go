package dialogue

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/directory"
	"github.com/christopherklint97/convene/internal/logging"
)

// resolveParticipants looks up every Unresolved and DepartmentGroup ref
// concurrently and folds the results back in list order, dropping
// duplicate contacts.
func (e *Engine) resolveParticipants(ctx context.Context, st *ConversationState) error {
	p := st.Pending
	scope := e.scope(st)

	results := make([][]directory.Contact, len(p.Participants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.LookupConcurrency)
	lookups := 0
	for i, ref := range p.Participants {
		if ref.Kind != RefUnresolved && ref.Kind != RefDepartment {
			continue
		}
		lookups++
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, e.opts.CallTimeout)
			defer cancel()
			var (
				found []directory.Contact
				err   error
			)
			if ref.Kind == RefDepartment {
				found, err = e.deps.Directory.DepartmentMembers(lctx, ref.Department, scope)
			} else {
				found, err = e.deps.Directory.Resolve(lctx, ref.Name, ref.Department, scope)
			}
			if err != nil {
				return fmt.Errorf("looking up %q: %w", refLabel(ref), err)
			}
			results[i] = found
			return nil
		})
	}
	if lookups == 0 {
		return nil
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, ref := range p.Participants {
		if ref.Kind == RefResolved && ref.Contact != nil {
			seen[contactKey(*ref.Contact)] = true
		}
	}
	add := func(out []ParticipantRef, c directory.Contact) []ParticipantRef {
		key := contactKey(c)
		if seen[key] {
			return out
		}
		seen[key] = true
		return append(out, Resolved(c))
	}

	var out []ParticipantRef
	for i, ref := range p.Participants {
		found := results[i]
		switch ref.Kind {
		case RefResolved, RefAmbiguous:
			out = append(out, ref)
		case RefDepartment:
			if len(found) == 0 {
				if !slices.ContainsFunc(p.EmptyGroups, func(g string) bool { return strings.EqualFold(g, ref.Department) }) {
					p.EmptyGroups = append(p.EmptyGroups, ref.Department)
				}
				continue
			}
			for _, c := range found {
				out = add(out, c)
			}
		case RefUnresolved:
			switch len(found) {
			case 0:
				ref.NotFound = true
				out = append(out, ref)
			case 1:
				out = add(out, found[0])
			default:
				out = append(out, Ambiguous(ref.Name, found))
			}
		}
	}
	p.Participants = out

	logging.FromContext(ctx, e.logger).Debug("participants resolved",
		"lookups", lookups, "resolved", len(p.Contacts()), "not_found", len(notFound(p)))
	return nil
}

func contactKey(c directory.Contact) string {
	if c.ID != "" {
		return "id:" + c.ID
	}
	return "email:" + strings.ToLower(c.Email)
}

func refLabel(r ParticipantRef) string {
	if r.Kind == RefDepartment {
		return r.Department
	}
	return r.Name
}

func firstAmbiguous(p *PendingMeeting) int {
	for i, r := range p.Participants {
		if r.Kind == RefAmbiguous {
			return i
		}
	}
	return -1
}

func disambiguationPrompt(d *Disambiguation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I found multiple people named '%s':\n", d.Name)
	for i, c := range d.Candidates {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, c.Label())
	}
	b.WriteString("Which one did you mean? (Specify by number or full name)")
	return b.String()
}

func (e *Engine) askDisambiguation(st *ConversationState, idx int, note string) Reply {
	ref := st.Pending.Participants[idx]
	st.Phase = PhaseDisambiguation
	st.LastQuestion = FieldDisambiguation
	st.Disambiguation = &Disambiguation{Index: idx, Name: ref.Name, Candidates: ref.Candidates}

	text := disambiguationPrompt(st.Disambiguation)
	if note != "" {
		text = note + "\n" + text
	}
	return Reply{Text: text, Action: ActionAsk}
}

// pickCandidate matches a reply against the candidates by number, email,
// full name, or a department only one candidate belongs to. Emails must
// match a whole word of the reply. A name that is the whole reply wins;
// otherwise a name or department counts only when it appears as whole
// words and exactly one candidate has it.
func pickCandidate(text string, candidates []directory.Contact) (directory.Contact, bool) {
	if k, ok := parseOrdinal(text, len(candidates)); ok {
		return candidates[k-1], true
	}
	words := replyWords(text)
	if len(words) == 0 {
		return directory.Contact{}, false
	}
	for _, c := range candidates {
		if c.Email != "" && slices.Contains(words, strings.ToLower(c.Email)) {
			return c, true
		}
	}

	reply := strings.Join(words, " ")
	padded := " " + reply + " "
	var exact, byName, byDept []directory.Contact
	for _, c := range candidates {
		name := strings.Join(replyWords(c.Name), " ")
		dept := strings.Join(replyWords(c.Department), " ")
		switch {
		case name == "":
		case name == reply:
			exact = append(exact, c)
		case strings.Contains(padded, " "+name+" "):
			byName = append(byName, c)
		case dept != "" && strings.Contains(padded, " "+dept+" "):
			byDept = append(byDept, c)
		}
	}
	switch {
	case len(exact) == 1:
		return exact[0], true
	case len(exact) > 0:
		return directory.Contact{}, false
	case len(byName) == 1:
		return byName[0], true
	case len(byName) == 0 && len(byDept) == 1:
		return byDept[0], true
	}
	return directory.Contact{}, false
}

// replyWords lowercases s and splits it on whitespace, trimming punctuation
// from the ends of each word so "kumar," and "kumar" compare equal.
func replyWords(s string) []string {
	var words []string
	for _, f := range strings.Fields(strings.ToLower(s)) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func (e *Engine) handleDisambiguation(ctx context.Context, st *ConversationState, cmd *ai.Command, text string) Reply {
	d := st.Disambiguation
	p := st.Pending
	if d == nil || p == nil || d.Index >= len(p.Participants) || p.Participants[d.Index].Kind != RefAmbiguous {
		st.Disambiguation = nil
		st.Phase = PhaseCollecting
		return e.advance(ctx, st)
	}

	choice, ok := pickCandidate(text, d.Candidates)
	if !ok && cmd != nil {
		for _, pp := range cmd.Meeting.Participants {
			if c, found := pickCandidate(pp.Name+" "+pp.Department, d.Candidates); found {
				choice, ok = c, true
				break
			}
		}
	}
	if !ok {
		st.DisambiguationAttempts++
		if st.DisambiguationAttempts >= e.opts.MaxDisambiguationAttempts {
			st.DisambiguationAttempts = 0
			return Reply{
				Text: fmt.Sprintf("I still can't tell which '%s' you mean. Reply with a number from the list or their email, or say 'cancel' to stop.\n%s",
					d.Name, disambiguationPrompt(d)),
				Action: ActionAsk,
				Err:    ErrAmbiguityUnresolved,
			}
		}
		return e.reask(st, "Sorry, I didn't catch which one.")
	}

	logging.FromContext(ctx, e.logger).Debug("participant disambiguated", "name", d.Name, "contact", choice.ID)
	p.Participants[d.Index] = Resolved(choice)
	p.Participants = dedupeResolved(p.Participants)
	st.Disambiguation = nil
	st.DisambiguationAttempts = 0
	st.Phase = PhaseCollecting
	return e.advance(ctx, st)
}

func dedupeResolved(refs []ParticipantRef) []ParticipantRef {
	seen := make(map[string]bool)
	var out []ParticipantRef
	for _, r := range refs {
		if r.Kind == RefResolved && r.Contact != nil {
			key := contactKey(*r.Contact)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, r)
	}
	return out
}
