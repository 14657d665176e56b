package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilteredExecutor(t *testing.T) {
	r := newTestRegistry(t, echoTool{name: "echo"}, echoTool{name: "shout"})
	f := NewFilteredExecutor(r, []string{"shout"})

	defs := f.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Function.Name)

	out, err := f.Dispatch(context.Background(), "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, out)

	_, err = f.Dispatch(context.Background(), "shout", `{"text":"hi"}`)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestFilteredExecutor_NothingDisabled(t *testing.T) {
	r := newTestRegistry(t, echoTool{name: "echo"})
	f := NewFilteredExecutor(r, nil)
	assert.Equal(t, r.Definitions(), f.Definitions())
}
