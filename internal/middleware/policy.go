package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/tools"
)

// ErrDenied is the cause reported when the user declines a tool call.
var ErrDenied = errors.New("user denied permission to run this tool")

// ConfirmationFunc asks the user whether a tool call may run.
type ConfirmationFunc func(ctx context.Context, toolName, argsJSON string) (bool, error)

// PolicyExecutor asks for confirmation before dispatching tools whose policy is "confirm".
type PolicyExecutor struct {
	next     core.ToolExecutor
	confirm  ConfirmationFunc
	policies map[string]string
}

// NewPolicyExecutor wraps next. A nil confirm lets every call through.
func NewPolicyExecutor(next core.ToolExecutor, confirm ConfirmationFunc) *PolicyExecutor {
	policies := make(map[string]string)
	for _, d := range next.Definitions() {
		policies[d.Function.Name] = d.Policy
	}
	return &PolicyExecutor{next: next, confirm: confirm, policies: policies}
}

func (m *PolicyExecutor) Definitions() []core.ToolDefinition {
	return m.next.Definitions()
}

func (m *PolicyExecutor) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	if m.policies[name] == "confirm" && m.confirm != nil {
		ok, err := m.confirm(ctx, name, argsJSON)
		if err != nil {
			return "", &tools.ToolExecutionError{Tool: name, Err: fmt.Errorf("confirmation: %w", err)}
		}
		if !ok {
			return "", &tools.ToolExecutionError{Tool: name, Err: ErrDenied}
		}
	}
	return m.next.Dispatch(ctx, name, argsJSON)
}
