package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hattiebot/familiar/internal/core"
)

type echoTool struct {
	name string
	err  error
}

func (e echoTool) Name() string { return e.name }

func (e echoTool) Definition() core.ToolDefinition {
	return core.ToolDefinition{Type: "function", Function: core.FunctionSpec{
		Name: e.name,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
	}}
}

func (e echoTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	if e.err != nil {
		return nil, e.err
	}
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return map[string]string{"echo": args.Text}, nil
}

func newTestRegistry(t *testing.T, ts ...Tool) *Registry {
	t.Helper()
	r, err := NewRegistry(ts...)
	require.NoError(t, err)
	return r
}

func TestDispatch_Success(t *testing.T) {
	r := newTestRegistry(t, echoTool{name: "echo"})
	out, err := r.Dispatch(context.Background(), "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, out)
}

func TestDispatch_UnknownTool(t *testing.T) {
	r := newTestRegistry(t, echoTool{name: "echo"})
	_, err := r.Dispatch(context.Background(), "teleport", `{}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)
	var ute *UnknownToolError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "teleport", ute.Name)
	assert.True(t, IsRecoverable(err))
}

func TestDispatch_MalformedArguments(t *testing.T) {
	r := newTestRegistry(t, echoTool{name: "echo"})
	for name, raw := range map[string]string{
		"not json":         `{"text":`,
		"missing required": `{}`,
		"wrong type":       `{"text": 3}`,
		"array":            `["hi"]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), "echo", raw)
			assert.ErrorIs(t, err, ErrMalformedArguments)
		})
	}
}

func TestDispatch_EmptyArgumentsAreAnEmptyObject(t *testing.T) {
	r := newTestRegistry(t, echoTool{name: "echo"})
	_, err := r.Dispatch(context.Background(), "echo", "")
	// {} is valid JSON but lacks the required field.
	assert.ErrorIs(t, err, ErrMalformedArguments)
	assert.NotContains(t, err.Error(), "invalid character")
}

func TestDispatch_ExecutionError(t *testing.T) {
	boom := errors.New("disk on fire")
	r := newTestRegistry(t, echoTool{name: "echo", err: boom})
	_, err := r.Dispatch(context.Background(), "echo", `{"text":"x"}`)
	assert.ErrorIs(t, err, ErrToolExecution)
	assert.ErrorIs(t, err, boom)
	assert.JSONEq(t, `{"error":"echo failed: disk on fire"}`, ErrorEnvelope(err))
}

func TestDefinitions_StableOrder(t *testing.T) {
	r := newTestRegistry(t, echoTool{name: "b"}, echoTool{name: "a"}, echoTool{name: "c"})
	for i := 0; i < 5; i++ {
		var names []string
		for _, d := range r.Definitions() {
			names = append(names, d.Function.Name)
		}
		assert.Equal(t, []string{"b", "a", "c"}, names)
	}
	assert.Equal(t, []string{"b", "a", "c"}, r.Names())
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(echoTool{name: "echo"}, echoTool{name: "echo"})
	assert.Error(t, err)
}

func TestConversationContext(t *testing.T) {
	ctx := WithConversation(context.Background(), "kitchen")
	assert.Equal(t, "kitchen", ConversationFrom(ctx))
	assert.Empty(t, ConversationFrom(context.Background()))
}
