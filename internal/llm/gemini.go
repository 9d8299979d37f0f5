package llm

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client. It only
// focuses on the API call itself; fallback behavior on failure is the
// caller's responsibility.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient builds a client for the given model. The genai SDK reads
// GEMINI_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

// NewFromEnv returns a Gemini client when GEMINI_API_KEY is set, else nil.
// A nil client means every enrichment call degrades to heuristic output.
func NewFromEnv(ctx context.Context) (Client, error) {
	if strings.TrimSpace(os.Getenv("GEMINI_API_KEY")) == "" {
		return nil, nil
	}
	return NewGeminiClient(ctx, os.Getenv("GEMINI_MODEL"))
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

// GenerateJSON concatenates prompt and input, asks for application/json,
// and returns the model's JSON together with its token usage.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, Usage, error) {
	in, _ := json.MarshalIndent(input, "", "  ")
	full := prompt + "\n\n[INPUT JSON]\n" + string(in)

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, Usage{}, err
	}
	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, usage, ErrInvalidJSON
	}
	txt := resp.Candidates[0].Content.Parts[0].Text
	raw := json.RawMessage(txt)
	var scratch any
	if err := json.Unmarshal(raw, &scratch); err != nil {
		return nil, usage, ErrInvalidJSON
	}
	return raw, usage, nil
}
