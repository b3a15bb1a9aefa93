//go:build integration

package ai_test

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"testing"
	"time"

	"github.com/christopherklint97/convene/internal/ai"
)

func skipIfNoClaude(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("claude"); err != nil {
		t.Skip("claude CLI not found in PATH, skipping integration test")
	}
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func TestClaudeCLI_ParseCommand_Schedule(t *testing.T) {
	skipIfNoClaude(t)

	cli := ai.NewClaudeCLI("haiku", testLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd, err := cli.ParseCommand(ctx, ai.ParseRequest{Text: "Schedule a meeting with John next Tuesday at 2pm"})
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	t.Logf("Parsed command: %+v", cmd)

	if cmd.Intent != ai.IntentSchedule {
		t.Errorf("intent = %q, want %q", cmd.Intent, ai.IntentSchedule)
	}
	if len(cmd.Meeting.Participants) != 1 || cmd.Meeting.Participants[0].Name != "John" {
		t.Errorf("participants = %+v, want [John]", cmd.Meeting.Participants)
	}
	if !isoDate.MatchString(cmd.Meeting.Date) {
		t.Errorf("date %q is not YYYY-MM-DD", cmd.Meeting.Date)
	}
	if cmd.Meeting.Time != "14:00" {
		t.Errorf("time = %q, want 14:00", cmd.Meeting.Time)
	}
	if cmd.Meeting.DurationMinutes != 0 {
		t.Errorf("duration = %d, want 0 (not mentioned)", cmd.Meeting.DurationMinutes)
	}
}

func TestClaudeCLI_ParseCommand_DepartmentGroup(t *testing.T) {
	skipIfNoClaude(t)

	cli := ai.NewClaudeCLI("haiku", testLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd, err := cli.ParseCommand(ctx, ai.ParseRequest{Text: "Set up a meeting with all members of Tech on the first available slot tomorrow"})
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	t.Logf("Parsed command: %+v", cmd)

	if !cmd.Meeting.UseFirstAvailable {
		t.Error("expected use_first_available")
	}
	found := false
	for _, p := range cmd.Meeting.Participants {
		if p.IsDepartmentGroup {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a department group participant, got %+v", cmd.Meeting.Participants)
	}
}

func TestClaudeCLI_ParseCommand_ListMeetings(t *testing.T) {
	skipIfNoClaude(t)

	cli := ai.NewClaudeCLI("haiku", testLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd, err := cli.ParseCommand(ctx, ai.ParseRequest{
		Text:    "actually, show my meetings",
		Context: "asked the user for the meeting date",
	})
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if cmd.Intent != ai.IntentListMeetings {
		t.Errorf("intent = %q, want %q", cmd.Intent, ai.IntentListMeetings)
	}
}

func TestClaudeCLI_ClassifyConfirmation(t *testing.T) {
	skipIfNoClaude(t)

	cli := ai.NewClaudeCLI("haiku", testLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	got, err := cli.ClassifyConfirmation(ctx, "make it 30 minutes instead")
	if err != nil {
		t.Fatalf("ClassifyConfirmation failed: %v", err)
	}
	if got != ai.Modification {
		t.Errorf("decision = %q, want %q", got, ai.Modification)
	}
}
