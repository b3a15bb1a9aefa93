package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content string, inspect func(body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if inspect != nil {
			inspect(body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIParseCommand(t *testing.T) {
	reply := `{"intent":"schedule_meeting","meeting_details":{"participants":[{"name":"John"}],"date":"2026-10-20","time":"14:00"},"missing_fields":["duration"]}`
	srv := completionServer(t, reply, func(body map[string]any) {
		format := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		schema := format["json_schema"].(map[string]any)
		assert.Equal(t, "command", schema["name"])

		messages := body["messages"].([]any)
		require.Len(t, messages, 3)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Equal(t, "assistant", messages[1].(map[string]any)["role"])
		assert.Contains(t, messages[0].(map[string]any)["content"], "Today's date is 2026-10-16")
	})

	p := NewOpenAI("test-key", srv.URL, "gpt-4o-mini", nil, option.WithMaxRetries(0))
	p.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }

	cmd, err := p.ParseCommand(context.Background(), ParseRequest{
		Text:    "with John next Tuesday at 2pm",
		History: []Message{{Role: RoleAssistant, Content: "Who should attend?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, IntentSchedule, cmd.Intent)
	assert.Equal(t, "2026-10-20", cmd.Meeting.Date)
	assert.Equal(t, []Participant{{Name: "John"}}, cmd.Meeting.Participants)
	assert.Equal(t, []string{"duration"}, cmd.MissingFields)
}

func TestOpenAIParseCommandBadJSON(t *testing.T) {
	srv := completionServer(t, "not json", nil)
	p := NewOpenAI("k", srv.URL, "", nil, option.WithMaxRetries(0))
	_, err := p.ParseCommand(context.Background(), ParseRequest{Text: "hi"})
	assert.Error(t, err)
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOpenAI("k", srv.URL, "", nil, option.WithMaxRetries(0))
	_, err := p.ParseCommand(context.Background(), ParseRequest{Text: "hi"})
	assert.Error(t, err)
}

func TestOpenAIClassifyConfirmation(t *testing.T) {
	srv := completionServer(t, `{"decision":"modification"}`, nil)
	p := NewOpenAI("k", srv.URL, "", nil, option.WithMaxRetries(0))
	got, err := p.ClassifyConfirmation(context.Background(), "make it 3pm")
	require.NoError(t, err)
	assert.Equal(t, Modification, got)

	odd := completionServer(t, `{"decision":"maybe"}`, nil)
	p = NewOpenAI("k", odd.URL, "", nil, option.WithMaxRetries(0))
	got, err = p.ClassifyConfirmation(context.Background(), "hmm")
	require.NoError(t, err)
	assert.Equal(t, Unclear, got)
}

type stubProvider struct {
	decision Confirmation
	err      error
	calls    int
}

func (s *stubProvider) ParseCommand(context.Context, ParseRequest) (*Command, error) {
	return nil, errors.New("unused")
}

func (s *stubProvider) ClassifyConfirmation(context.Context, string) (Confirmation, error) {
	s.calls++
	return s.decision, s.err
}

func TestConfirmerQuickWords(t *testing.T) {
	stub := &stubProvider{decision: Modification}
	c := NewConfirmer(stub, nil)
	ctx := context.Background()

	for _, text := range []string{"yes", "Y", "Yes please!", "go ahead", "ok."} {
		got, err := c.ClassifyConfirmation(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, Confirmed, got, text)
	}
	for _, text := range []string{"no", "Never mind", "forget it", "STOP"} {
		got, err := c.ClassifyConfirmation(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, Cancelled, got, text)
	}
	assert.Zero(t, stub.calls)

	got, err := c.ClassifyConfirmation(ctx, "change it to 4pm")
	require.NoError(t, err)
	assert.Equal(t, Modification, got)
	assert.Equal(t, 1, stub.calls)
}

func TestConfirmerProviderError(t *testing.T) {
	c := NewConfirmer(&stubProvider{err: errors.New("timeout")}, nil)
	got, err := c.ClassifyConfirmation(context.Background(), "perhaps later")
	assert.Error(t, err)
	assert.Equal(t, Unclear, got)
}

func TestIsCancelPhrase(t *testing.T) {
	assert.True(t, IsCancelPhrase("cancel"))
	assert.True(t, IsCancelPhrase("Forget it."))
	assert.False(t, IsCancelPhrase("no"), "a bare no answers a question")
	assert.False(t, IsCancelPhrase("cancel my 3pm meeting"))
}

func TestUnwrapEnvelope(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name, in, want string
	}{
		{"structured output", `{"type":"result","structured_output":{"intent":"list_meetings"},"result":"done"}`, `{"intent":"list_meetings"}`},
		{"result string", `{"type":"result","result":"{\"intent\":\"general_chat\"}"}`, `{"intent":"general_chat"}`},
		{"result object", `{"type":"result","result":{"intent":"general_chat"}}`, `{"intent":"general_chat"}`},
		{"raw", `{"intent":"cancel_meeting"}`, `{"intent":"cancel_meeting"}`},
		{"not json", `plain`, `plain`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unwrapEnvelope([]byte(tt.in), logger))
		})
	}
}

func TestCommandSchema(t *testing.T) {
	data, err := json.Marshal(commandSchema)
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	props := schema["properties"].(map[string]any)
	intent := props["intent"].(map[string]any)
	assert.Contains(t, intent["enum"], "list_meetings")
	assert.Contains(t, props, "meeting_details")
}
