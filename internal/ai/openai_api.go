package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAI parses commands with a chat completion constrained to a JSON schema.
// Any OpenAI-compatible endpoint works through baseURL.
type OpenAI struct {
	client openai.Client
	model  string
	now    func() time.Time
	logger *slog.Logger
}

func NewOpenAI(apiKey, baseURL, model string, logger *slog.Logger, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(2)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
		now:    time.Now,
		logger: logger,
	}
}

func (o *OpenAI) ParseCommand(ctx context.Context, req ParseRequest) (*Command, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(buildSystemPrompt(o.now())),
	}
	for _, m := range req.History {
		if m.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(buildUserPrompt(req)))

	raw, err := o.complete(ctx, messages, "command", commandSchema)
	if err != nil {
		return nil, err
	}

	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		o.logger.Error("failed to parse command", "error", err, "raw", truncateStr(raw, 2000))
		return nil, fmt.Errorf("parsing command: %w (raw: %s)", err, truncateStr(raw, 500))
	}
	o.logger.Debug("parsed command", "intent", cmd.Intent, "participants", len(cmd.Meeting.Participants), "missing", cmd.MissingFields)
	return &cmd, nil
}

func (o *OpenAI) ClassifyConfirmation(ctx context.Context, text string) (Confirmation, error) {
	raw, err := o.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(confirmationPrompt),
		openai.UserMessage(text),
	}, "confirmation", confirmationSchema)
	if err != nil {
		return Unclear, err
	}

	var res confirmationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Unclear, fmt.Errorf("parsing confirmation: %w", err)
	}
	return normalizeConfirmation(res.Decision), nil
}

func (o *OpenAI) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, name string, schema *jsonschema.Schema) (string, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.model),
		Messages:    messages,
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
				},
			},
		},
	})
	elapsed := time.Since(start)
	if err != nil {
		o.logger.Error("chat completion failed", "model", o.model, "elapsed", elapsed, "error", err)
		if ctx.Err() != nil {
			return "", fmt.Errorf("chat completion timed out after %s: %w", elapsed.Truncate(time.Millisecond), ctx.Err())
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	o.logger.Debug("chat completion finished", "model", o.model, "elapsed", elapsed, "content_len", len(content))
	return content, nil
}

func normalizeConfirmation(c Confirmation) Confirmation {
	switch c {
	case Confirmed, Cancelled, Modification:
		return c
	default:
		return Unclear
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
