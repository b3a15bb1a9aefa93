package dialogue

import (
	"fmt"
	"slices"
	"time"

	"github.com/christopherklint97/convene/internal/ai"
	"github.com/christopherklint97/convene/internal/directory"
)

// Phase is where a conversation stands in the booking flow.
type Phase string

const (
	PhaseIdle           Phase = "IDLE"
	PhaseCollecting     Phase = "COLLECTING_INFO"
	PhaseDisambiguation Phase = "AWAITING_DISAMBIGUATION"
	PhaseSlotChoice     Phase = "AWAITING_SLOT_CHOICE"
	PhaseConfirmation   Phase = "AWAITING_CONFIRMATION"
)

// Field names the question last put to the user.
type Field string

const (
	FieldNone           Field = ""
	FieldParticipants   Field = "participants"
	FieldDate           Field = "date"
	FieldTime           Field = "time"
	FieldDuration       Field = "duration"
	FieldDisambiguation Field = "disambiguation"
	FieldSlotChoice     Field = "slotChoice"
)

type RefKind string

const (
	RefResolved   RefKind = "resolved"
	RefUnresolved RefKind = "unresolved"
	RefDepartment RefKind = "department_group"
	RefAmbiguous  RefKind = "ambiguous"
)

// ParticipantRef is one attendee reference at some stage of resolution.
type ParticipantRef struct {
	Kind       RefKind             `json:"kind"`
	Name       string              `json:"name,omitempty"`
	Department string              `json:"department,omitempty"`
	Contact    *directory.Contact  `json:"contact,omitempty"`
	Candidates []directory.Contact `json:"candidates,omitempty"`
	// NotFound marks an Unresolved ref the directory had no match for.
	NotFound bool `json:"not_found,omitempty"`
}

func Resolved(c directory.Contact) ParticipantRef {
	return ParticipantRef{Kind: RefResolved, Name: c.Name, Department: c.Department, Contact: &c}
}

func Unresolved(name, departmentHint string) ParticipantRef {
	return ParticipantRef{Kind: RefUnresolved, Name: name, Department: departmentHint}
}

func DepartmentGroup(department string) ParticipantRef {
	return ParticipantRef{Kind: RefDepartment, Department: department}
}

func Ambiguous(name string, candidates []directory.Contact) ParticipantRef {
	return ParticipantRef{Kind: RefAmbiguous, Name: name, Candidates: candidates}
}

// PendingMeeting accumulates what is known about the meeting being booked.
// Date is YYYY-MM-DD and Time is HH:MM in the engine's location.
type PendingMeeting struct {
	Title             string           `json:"title,omitempty"`
	Description       string           `json:"description,omitempty"`
	Participants      []ParticipantRef `json:"participants,omitempty"`
	Date              string           `json:"date,omitempty"`
	Time              string           `json:"time,omitempty"`
	DurationMinutes   int              `json:"duration_minutes,omitempty"`
	UseFirstAvailable bool             `json:"use_first_available,omitempty"`
	OfferOptions      bool             `json:"offer_options,omitempty"`
	IsFollowUp        bool             `json:"is_followup,omitempty"`
	FollowUpReference string           `json:"followup_reference,omitempty"`
	ParentMeetingID   string           `json:"parent_meeting_id,omitempty"`
	DurationAsked     bool             `json:"duration_asked,omitempty"`
	EmptyGroups       []string         `json:"empty_groups,omitempty"`
	ProposedAtTurn    int              `json:"proposed_at_turn,omitempty"`
	ProposalID        string           `json:"proposal_id,omitempty"`
}

// Contacts returns the resolved attendees in list order.
func (p *PendingMeeting) Contacts() []directory.Contact {
	var out []directory.Contact
	for _, r := range p.Participants {
		if r.Kind == RefResolved && r.Contact != nil {
			out = append(out, *r.Contact)
		}
	}
	return out
}

// wantsSlots reports whether the time will come from a slot search.
func (p *PendingMeeting) wantsSlots() bool {
	return (p.UseFirstAvailable || p.OfferOptions) && p.Time == ""
}

// fullyResolved reports whether every participant ref is Resolved.
func (p *PendingMeeting) fullyResolved() bool {
	for _, r := range p.Participants {
		if r.Kind != RefResolved {
			return false
		}
	}
	return len(p.Participants) > 0
}

// Complete reports whether the meeting can be committed.
func (p *PendingMeeting) Complete() bool {
	return p.Title != "" && p.fullyResolved() && p.Date != "" && p.Time != "" && p.DurationMinutes > 0
}

// Start combines Date and Time in loc.
func (p *PendingMeeting) Start(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", p.Date+" "+p.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing meeting start %q %q: %w", p.Date, p.Time, err)
	}
	return t, nil
}

func (p *PendingMeeting) clone() *PendingMeeting {
	if p == nil {
		return nil
	}
	c := *p
	c.Participants = make([]ParticipantRef, len(p.Participants))
	for i, r := range p.Participants {
		if r.Contact != nil {
			contact := *r.Contact
			r.Contact = &contact
		}
		r.Candidates = slices.Clone(r.Candidates)
		c.Participants[i] = r
	}
	c.EmptyGroups = slices.Clone(p.EmptyGroups)
	return &c
}

// Disambiguation is the ambiguous participant currently being asked about.
type Disambiguation struct {
	Index      int                 `json:"index"`
	Name       string              `json:"name"`
	Candidates []directory.Contact `json:"candidates"`
}

// ConversationState is everything the engine needs between turns. The engine
// never mutates a state it was given; Step returns the next one.
type ConversationState struct {
	ConversationID         string          `json:"conversation_id"`
	UserID                 string          `json:"user_id"`
	Phase                  Phase           `json:"phase"`
	Pending                *PendingMeeting `json:"pending,omitempty"`
	LastQuestion           Field           `json:"last_question,omitempty"`
	Disambiguation         *Disambiguation `json:"disambiguation,omitempty"`
	SlotsOffered           []time.Time     `json:"slots_offered,omitempty"`
	Turn                   int             `json:"turn"`
	DisambiguationAttempts int             `json:"disambiguation_attempts,omitempty"`
	History                []ai.Message    `json:"history,omitempty"`
}

func NewConversation(conversationID, userID string) ConversationState {
	return ConversationState{ConversationID: conversationID, UserID: userID, Phase: PhaseIdle}
}

func (s ConversationState) clone() ConversationState {
	c := s
	c.Pending = s.Pending.clone()
	if s.Disambiguation != nil {
		d := *s.Disambiguation
		d.Candidates = slices.Clone(d.Candidates)
		c.Disambiguation = &d
	}
	c.SlotsOffered = slices.Clone(s.SlotsOffered)
	c.History = slices.Clone(s.History)
	return c
}

// reset drops any booking in progress; turn and history survive.
func (s *ConversationState) reset() {
	s.Phase = PhaseIdle
	s.Pending = nil
	s.LastQuestion = FieldNone
	s.Disambiguation = nil
	s.SlotsOffered = nil
	s.DisambiguationAttempts = 0
}
