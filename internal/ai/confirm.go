package ai

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

var (
	confirmWords = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "sure": true, "go ahead": true,
		"confirm": true, "ok": true, "okay": true, "schedule it": true, "do it": true,
		"please": true, "yes please": true,
	}
	cancelWords = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "nevermind": true,
		"never mind": true, "forget it": true, "stop": true,
	}
)

func normalizeReply(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRight(s, ".!? ")
}

// QuickConfirmation classifies the common one-word replies without a model call.
func QuickConfirmation(text string) (Confirmation, bool) {
	s := normalizeReply(text)
	switch {
	case confirmWords[s]:
		return Confirmed, true
	case cancelWords[s]:
		return Cancelled, true
	}
	return "", false
}

// IsCancelPhrase reports whether text is an explicit request to abandon the booking.
func IsCancelPhrase(text string) bool {
	s := normalizeReply(text)
	return s != "n" && s != "no" && s != "nope" && cancelWords[s]
}

// Confirmer applies the quick-word lists before asking the provider.
type Confirmer struct {
	provider Provider
	logger   *slog.Logger
}

func NewConfirmer(provider Provider, logger *slog.Logger) *Confirmer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Confirmer{provider: provider, logger: logger}
}

// ClassifyConfirmation never fails hard: a provider error reads as Unclear
// and is returned alongside so the caller can log it.
func (c *Confirmer) ClassifyConfirmation(ctx context.Context, text string) (Confirmation, error) {
	if decision, ok := QuickConfirmation(text); ok {
		return decision, nil
	}
	decision, err := c.provider.ClassifyConfirmation(ctx, text)
	if err != nil {
		c.logger.Warn("confirmation classification failed", "error", err)
		return Unclear, err
	}
	return normalizeConfirmation(decision), nil
}
