package ai

import (
	"context"
)

type Provider interface {
	ParseCommand(ctx context.Context, req ParseRequest) (*Command, error)
	ClassifyConfirmation(ctx context.Context, text string) (Confirmation, error)
}
