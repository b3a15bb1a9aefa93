package ai

// Intent is what the user wants done with a message.
type Intent string

const (
	IntentSchedule        Intent = "schedule_meeting"
	IntentFollowUp        Intent = "followup_meeting"
	IntentReschedule      Intent = "reschedule_meeting"
	IntentCancel          Intent = "cancel_meeting"
	IntentListMeetings    Intent = "list_meetings"
	IntentSearchMeetings  Intent = "search_meetings"
	IntentSearchMoM       Intent = "search_mom"
	IntentUploadRecording Intent = "upload_recording"
	IntentManageContacts  Intent = "manage_contacts"
	IntentGeneralChat     Intent = "general_chat"
)

// IsScheduling reports whether the intent starts or continues booking a meeting.
func (i Intent) IsScheduling() bool {
	return i == IntentSchedule || i == IntentFollowUp
}

// Participant is a person or department group as the user referred to it.
type Participant struct {
	Name              string `json:"name" jsonschema_description:"Person's name as spoken; first name only if only that was given"`
	Department        string `json:"department,omitempty" jsonschema_description:"Department if mentioned"`
	IsDepartmentGroup bool   `json:"is_department_group,omitempty" jsonschema_description:"True when referring to all members of a department"`
}

// MeetingDetails are the scheduling fields extracted from a message.
// Empty strings and zero values mean "not mentioned".
type MeetingDetails struct {
	Title             string        `json:"title,omitempty" jsonschema_description:"Meeting title or subject if mentioned"`
	Participants      []Participant `json:"participants,omitempty"`
	Date              string        `json:"date,omitempty" jsonschema_description:"Resolved date in YYYY-MM-DD format, empty if not specified"`
	Time              string        `json:"time,omitempty" jsonschema_description:"Time in HH:MM 24h format, empty if not specified"`
	DurationMinutes   int           `json:"duration_minutes,omitempty" jsonschema_description:"Duration in minutes, 0 if not specified"`
	Description       string        `json:"description,omitempty" jsonschema_description:"Agenda or description if mentioned"`
	UseFirstAvailable bool          `json:"use_first_available,omitempty" jsonschema_description:"True if the user wants the first available slot"`
	OfferOptions      bool          `json:"offer_options,omitempty" jsonschema_description:"True if the user asked to see several available slots"`
	IsFollowUp        bool          `json:"is_followup,omitempty" jsonschema_description:"True if this follows up on a previous meeting"`
	FollowUpReference string        `json:"followup_reference,omitempty" jsonschema_description:"Title or id of the previous meeting for follow-ups"`
}

// Command is the structured reading of one user message.
type Command struct {
	Intent          Intent         `json:"intent" jsonschema:"enum=schedule_meeting,enum=followup_meeting,enum=reschedule_meeting,enum=cancel_meeting,enum=list_meetings,enum=search_meetings,enum=search_mom,enum=upload_recording,enum=manage_contacts,enum=general_chat"`
	Meeting         MeetingDetails `json:"meeting_details"`
	MissingFields   []string       `json:"missing_fields,omitempty" jsonschema_description:"Required fields that are missing: participants, date, time, duration"`
	SearchQuery     string         `json:"search_query,omitempty" jsonschema_description:"Query for meeting or minutes searches"`
	ResponseMessage string         `json:"response_message,omitempty" jsonschema_description:"Natural reply for general chat or acknowledgements"`
}

// Confirmation is how a user answered "shall I book this?".
type Confirmation string

const (
	Confirmed    Confirmation = "confirmed"
	Cancelled    Confirmation = "cancelled"
	Modification Confirmation = "modification"
	Unclear      Confirmation = "unclear"
)

type confirmationResult struct {
	Decision Confirmation `json:"decision" jsonschema:"enum=confirmed,enum=cancelled,enum=modification,enum=unclear"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one line of recent conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseRequest is a message to parse along with what the conversation already holds.
type ParseRequest struct {
	Text    string
	History []Message
	// Context describes an in-progress booking, e.g. which field was asked for.
	Context string
}
