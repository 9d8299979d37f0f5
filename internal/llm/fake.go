package llm

import (
	"context"
	"encoding/json"
)

// FakeClient returns a scripted JSON payload for offline use and tests.
type FakeClient struct {
	// Reply is returned verbatim when set; otherwise an empty object.
	Reply json.RawMessage
	// Err, when set, makes every call fail.
	Err error
	// FakeUsage is reported on successful calls.
	FakeUsage Usage

	Calls int
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, Usage, error) {
	f.Calls++
	if f.Err != nil {
		return nil, Usage{}, f.Err
	}
	if len(f.Reply) == 0 {
		return json.RawMessage(`{}`), f.FakeUsage, nil
	}
	return f.Reply, f.FakeUsage, nil
}
