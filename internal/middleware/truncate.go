package middleware

import (
	"context"
	"strconv"

	"github.com/hattiebot/familiar/internal/core"
)

// suffixReserve is runes reserved for the truncation marker.
const suffixReserve = 80

// TruncateToolOutput caps s at maxRunes runes, keeping the start and appending a marker
// with the original length. maxRunes <= 0 disables truncation. Truncated JSON may be
// invalid; the model still sees the head of the result.
func TruncateToolOutput(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	keep := maxRunes - suffixReserve
	if keep <= 0 {
		keep = 1
	}
	return string(r[:keep]) + "\n...[output truncated, total " + strconv.Itoa(len(r)) + " runes]"
}

// TruncatingExecutor wraps a ToolExecutor and truncates results to maxRunes.
type TruncatingExecutor struct {
	next     core.ToolExecutor
	maxRunes int
}

// NewTruncatingExecutor returns an executor that truncates results from next.
func NewTruncatingExecutor(next core.ToolExecutor, maxRunes int) *TruncatingExecutor {
	return &TruncatingExecutor{next: next, maxRunes: maxRunes}
}

func (t *TruncatingExecutor) Definitions() []core.ToolDefinition {
	return t.next.Definitions()
}

// Dispatch runs the inner executor and truncates the result before returning.
func (t *TruncatingExecutor) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	result, err := t.next.Dispatch(ctx, name, argsJSON)
	if err != nil {
		return "", err
	}
	return TruncateToolOutput(result, t.maxRunes), nil
}
