package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// cleanEnv returns os.Environ() with Claude Code session vars removed
// so the subprocess doesn't get blocked by the nested-session check.
func cleanEnv() []string {
	blocked := map[string]bool{
		"CLAUDECODE":                           true,
		"CLAUDE_CODE_ENTRYPOINT":               true,
		"CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS": true,
	}
	var env []string
	for _, e := range os.Environ() {
		key, _, _ := strings.Cut(e, "=")
		if !blocked[key] {
			env = append(env, e)
		}
	}
	return env
}

// ClaudeCLI parses commands by shelling out to the claude CLI in print mode
// with a JSON schema, for users without an API key.
type ClaudeCLI struct {
	Model  string
	binary string
	now    func() time.Time
	logger *slog.Logger
}

func NewClaudeCLI(model string, logger *slog.Logger) *ClaudeCLI {
	if model == "" {
		model = "haiku"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ClaudeCLI{Model: model, binary: "claude", now: time.Now, logger: logger}
}

func (c *ClaudeCLI) args(system, user, schema string) []string {
	return []string{
		"-p", user,
		"--output-format", "json",
		"--model", c.Model,
		"--system-prompt", system,
		"--json-schema", schema,
		"--no-session-persistence",
	}
}

func (c *ClaudeCLI) ParseCommand(ctx context.Context, req ParseRequest) (*Command, error) {
	user := buildUserPrompt(req)
	if len(req.History) > 0 {
		user = "Recent conversation:\n" + historyTranscript(req.History) + "\n" + user
	}

	result, err := c.run(ctx, c.args(buildSystemPrompt(c.now()), user, schemaJSON(commandSchema)))
	if err != nil {
		return nil, err
	}

	var cmd Command
	if err := json.Unmarshal([]byte(result), &cmd); err != nil {
		c.logger.Error("failed to parse command", "error", err, "raw", truncateStr(result, 2000))
		return nil, fmt.Errorf("parsing command: %w (raw: %s)", err, truncateStr(result, 1000))
	}
	c.logger.Debug("parsed command", "intent", cmd.Intent, "participants", len(cmd.Meeting.Participants))
	return &cmd, nil
}

func (c *ClaudeCLI) ClassifyConfirmation(ctx context.Context, text string) (Confirmation, error) {
	result, err := c.run(ctx, c.args(confirmationPrompt, text, schemaJSON(confirmationSchema)))
	if err != nil {
		return Unclear, err
	}
	var res confirmationResult
	if err := json.Unmarshal([]byte(result), &res); err != nil {
		return Unclear, fmt.Errorf("parsing confirmation: %w", err)
	}
	return normalizeConfirmation(res.Decision), nil
}

// run executes the CLI and returns the JSON produced for the schema.
func (c *ClaudeCLI) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Env = cleanEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	err := cmd.Run()
	elapsed := time.Since(startTime)

	c.logger.Debug("claude CLI finished",
		"model", c.Model,
		"elapsed", elapsed,
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	if err != nil {
		c.logger.Error("claude CLI failed", "error", err, "elapsed", elapsed, "stderr", stderr.String())
		if ctx.Err() != nil {
			return "", fmt.Errorf("claude CLI timed out after %s: %w", elapsed.Truncate(time.Second), ctx.Err())
		}
		return "", fmt.Errorf("running claude CLI: %w (stderr: %s)", err, stderr.String())
	}

	return unwrapEnvelope(stdout.Bytes(), c.logger), nil
}

// unwrapEnvelope extracts the payload from `--output-format json` output,
// preferring structured_output over the textual result.
func unwrapEnvelope(out []byte, logger *slog.Logger) string {
	var wrapper struct {
		Type             string          `json:"type"`
		Subtype          string          `json:"subtype"`
		Result           json.RawMessage `json:"result"`
		StructuredOutput json.RawMessage `json:"structured_output"`
	}
	if err := json.Unmarshal(out, &wrapper); err != nil {
		logger.Debug("wrapper parse failed, treating as raw output", "error", err)
		return string(out)
	}

	if len(wrapper.StructuredOutput) > 0 && wrapper.StructuredOutput[0] == '{' {
		return string(wrapper.StructuredOutput)
	}

	if len(wrapper.Result) > 0 {
		// result is either a JSON string holding the payload or the payload itself
		var s string
		if err := json.Unmarshal(wrapper.Result, &s); err == nil && s != "" {
			return s
		}
		if wrapper.Result[0] == '{' || wrapper.Result[0] == '[' {
			return string(wrapper.Result)
		}
		logger.Debug("result field present but could not unwrap", "result_preview", truncateStr(string(wrapper.Result), 500))
	}
	return string(out)
}
