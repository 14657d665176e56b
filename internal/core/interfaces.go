package core

import (
	"context"
)

// LLMClient abstracts the OpenAI-compatible chat completion endpoint.
type LLMClient interface {
	ChatCompletion(ctx context.Context, req CompletionRequest) (*Completion, error)
	// ChatCompletionStream calls onDelta for each content fragment as it arrives and
	// returns the assembled message once the stream ends.
	ChatCompletionStream(ctx context.Context, req CompletionRequest, onDelta func(string)) (*Completion, error)
	Provider() string
	Model() string
}

// ToolExecutor advertises and dispatches tools.
type ToolExecutor interface {
	Definitions() []ToolDefinition
	Dispatch(ctx context.Context, name, argsJSON string) (string, error)
}
