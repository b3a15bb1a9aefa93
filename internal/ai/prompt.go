package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

var (
	commandSchema      = reflectSchema(&Command{})
	confirmationSchema = reflectSchema(&confirmationResult{})
)

func reflectSchema(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := r.Reflect(v)
	s.Version = ""
	return s
}

func schemaJSON(s *jsonschema.Schema) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func buildSystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are the language understanding engine of a meeting scheduling assistant. Read the user's message and extract its intent and meeting details.

Today's date is %s. The current day is %s.

Rules:
- Resolve relative dates like "next Tuesday" or "coming Monday" to YYYY-MM-DD.
- "Thursday after next week" means the Thursday of the week after next week.
- When the user says "all members of <department>", add one participant with that department and is_department_group true.
- When a person is mentioned "from <department>", include the department so the right person can be found.
- Keep names as spoken. If only a first name is given, return just the first name.
- Times are 24h HH:MM. Leave date, time and duration empty when not mentioned; never guess them.
- Set use_first_available when the user asks for the first or earliest free slot, and offer_options when they want to see several options.
- Set is_followup and followup_reference when the meeting follows up on an earlier one.
- List missing required fields (participants, date, time, duration) in missing_fields.
- Use list_meetings to show meetings, search_meetings to find past meetings, search_mom for meeting minutes.
- For anything unrelated to meetings use general_chat with a short, friendly response_message.

Respond only with JSON matching the schema.`, now.Format(time.DateOnly), now.Weekday())
}

func buildUserPrompt(req ParseRequest) string {
	var b strings.Builder
	if req.Context != "" {
		fmt.Fprintf(&b, "Booking in progress: %s\n", req.Context)
	}
	fmt.Fprintf(&b, "User says: %s", req.Text)
	return b.String()
}

// historyTranscript flattens history for providers without a message list.
func historyTranscript(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

const confirmationPrompt = `The assistant asked the user to confirm booking a meeting. Classify the user's reply as one of:
- confirmed: they want to proceed
- cancelled: they want to stop
- modification: they want to change something about the meeting
- unclear: anything else
Respond only with JSON matching the schema.`
