package agent

import (
	"context"
	"errors"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/llmclient"
	"github.com/hattiebot/familiar/internal/significance"
	"github.com/hattiebot/familiar/internal/store"
)

var (
	// ErrInternal is what outer surfaces report for fatal turn errors.
	ErrInternal = errors.New("internal error, please try again")
	// ErrEmptyPrompt rejects blank user input before anything is stored.
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// PublicError maps a turn error to what may be shown to a user: cancellation and
// input errors pass through, everything else becomes ErrInternal.
func PublicError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return ErrInternal
}

// IsFatal reports whether err aborted a turn because the model or the store failed.
func IsFatal(err error) bool {
	return errors.Is(err, llmclient.ErrTransport) || errors.Is(err, store.ErrStoreUnavailable)
}

// EventType tags a turn event.
type EventType string

const (
	EventToken      EventType = "token"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one item of a streamed turn. Text carries token text for EventToken and
// the JSON result for EventToolResult. Call is set for tool events.
type Event struct {
	Type   EventType
	Text   string
	Call   *core.ToolCall
	Result *TurnResult
	Err    error
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	Response     string              `json:"response"`
	Significance significance.Result `json:"significance"`
	ToolsUsed    []string            `json:"tools_used"`
	Steps        int                 `json:"steps"`
	// Partial is set when the step budget ran out before a final answer.
	Partial bool `json:"partial,omitempty"`
}

// Observer receives turn progress. Nil fields are skipped.
type Observer struct {
	Token      func(text string)
	ToolCall   func(call core.ToolCall)
	ToolResult func(call core.ToolCall, result string)
}

func (o Observer) token(s string) {
	if o.Token != nil && s != "" {
		o.Token(s)
	}
}

func (o Observer) toolCall(c core.ToolCall) {
	if o.ToolCall != nil {
		o.ToolCall(c)
	}
}

func (o Observer) toolResult(c core.ToolCall, result string) {
	if o.ToolResult != nil {
		o.ToolResult(c, result)
	}
}
