package llm

import (
	"context"
	"encoding/json"
	"errors"

	t "codemapper/internal/types"
)

// ErrInvalidJSON is returned when a backend reply carries no parsable JSON.
var ErrInvalidJSON = errors.New("llm: model did not return valid JSON")

// Usage is the token accounting for one backend call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Client is the minimal contract for an AI backend. Absence of a client
// (nil) is a supported mode: callers must degrade, never fail.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, Usage, error)
	Close() error
}

// Rough per-token USD estimate used by the cost ledger. Accounting is
// best-effort, not billing-grade.
const (
	promptTokenUSD     = 0.30 / 1_000_000
	completionTokenUSD = 2.50 / 1_000_000
)

// EstimateCost converts one call's usage into a ledger delta.
func EstimateCost(u Usage) t.CostDelta {
	return t.CostDelta{
		RequestCount:     1,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		EstimatedCostUSD: float64(u.PromptTokens)*promptTokenUSD + float64(u.CompletionTokens)*completionTokenUSD,
	}
}
