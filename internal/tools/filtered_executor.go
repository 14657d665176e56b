package tools

import (
	"context"

	"github.com/hattiebot/familiar/internal/core"
)

// FilteredExecutor hides disabled tools: they are not advertised, and calls to them
// fail as unknown tools.
type FilteredExecutor struct {
	inner    core.ToolExecutor
	disabled map[string]bool
}

// NewFilteredExecutor wraps inner, disabling the named tools.
func NewFilteredExecutor(inner core.ToolExecutor, disabled []string) *FilteredExecutor {
	set := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		set[name] = true
	}
	return &FilteredExecutor{inner: inner, disabled: set}
}

func (f *FilteredExecutor) Definitions() []core.ToolDefinition {
	all := f.inner.Definitions()
	if len(f.disabled) == 0 {
		return all
	}
	out := make([]core.ToolDefinition, 0, len(all))
	for _, d := range all {
		if !f.disabled[d.Function.Name] {
			out = append(out, d)
		}
	}
	return out
}

func (f *FilteredExecutor) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	if f.disabled[name] {
		return "", &UnknownToolError{Name: name}
	}
	return f.inner.Dispatch(ctx, name, argsJSON)
}
