package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/tools"
)

type mockExecutor struct {
	defs   []core.ToolDefinition
	result string
	err    error
	calls  []string
}

func (m *mockExecutor) Definitions() []core.ToolDefinition { return m.defs }

func (m *mockExecutor) Dispatch(ctx context.Context, name, argsJSON string) (string, error) {
	m.calls = append(m.calls, name)
	if m.err != nil {
		return "", m.err
	}
	return m.result, nil
}

func TestTruncateToolOutput(t *testing.T) {
	assert.Equal(t, "short", TruncateToolOutput("short", 0))
	assert.Equal(t, "short", TruncateToolOutput("short", -1))
	assert.Equal(t, "short", TruncateToolOutput("short", 100))

	long := strings.Repeat("é", 500)
	got := TruncateToolOutput(long, 200)
	assert.Contains(t, got, "...[output truncated, total 500 runes]")
	assert.Less(t, utf8.RuneCountInString(got), 500)
	assert.True(t, utf8.ValidString(got))
}

func TestTruncatingExecutor(t *testing.T) {
	inner := &mockExecutor{result: strings.Repeat("x", 500)}

	got, err := NewTruncatingExecutor(inner, 0).Dispatch(context.Background(), "getWeather", `{}`)
	require.NoError(t, err)
	assert.Len(t, got, 500)

	got, err = NewTruncatingExecutor(inner, 200).Dispatch(context.Background(), "getWeather", `{}`)
	require.NoError(t, err)
	assert.Contains(t, got, "...[output truncated, total 500 runes]")
}

var errToolFailed = errors.New("tool failed")

func TestTruncatingExecutor_PassesErrorThrough(t *testing.T) {
	inner := &mockExecutor{err: errToolFailed}
	_, err := NewTruncatingExecutor(inner, 100).Dispatch(context.Background(), "unknown", "{}")
	assert.ErrorIs(t, err, errToolFailed)
}

func TestPolicyExecutor(t *testing.T) {
	inner := &mockExecutor{
		result: `{"ok":true}`,
		defs: []core.ToolDefinition{
			{Function: core.FunctionSpec{Name: "addition"}, Policy: "safe"},
			{Function: core.FunctionSpec{Name: "clearChatHistory"}, Policy: "confirm"},
		},
	}
	var asked []string
	answer := false
	exec := NewPolicyExecutor(inner, func(ctx context.Context, name, args string) (bool, error) {
		asked = append(asked, name)
		return answer, nil
	})

	_, err := exec.Dispatch(context.Background(), "addition", `{}`)
	require.NoError(t, err)
	assert.Empty(t, asked)

	_, err = exec.Dispatch(context.Background(), "clearChatHistory", `{}`)
	assert.ErrorIs(t, err, ErrDenied)
	assert.True(t, tools.IsRecoverable(err))
	assert.Equal(t, []string{"addition"}, inner.calls)

	answer = true
	_, err = exec.Dispatch(context.Background(), "clearChatHistory", `{}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"addition", "clearChatHistory"}, inner.calls)
}

func TestPolicyExecutor_NilConfirmAllows(t *testing.T) {
	inner := &mockExecutor{defs: []core.ToolDefinition{{Function: core.FunctionSpec{Name: "clearChatHistory"}, Policy: "confirm"}}}
	_, err := NewPolicyExecutor(inner, nil).Dispatch(context.Background(), "clearChatHistory", `{}`)
	assert.NoError(t, err)
}
