package builtin

import (
	"context"
	"encoding/json"

	"github.com/hattiebot/familiar/internal/core"
)

// AdditionTool sums a list of numbers.
type AdditionTool struct{}

func (AdditionTool) Name() string { return "addition" }

func (t AdditionTool) Definition() core.ToolDefinition {
	return definition(t.Name(), "Add a list of numbers together", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"numbers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "number"},
				"description": "The numbers to add",
			},
		},
		"required": []string{"numbers"},
	})
}

func (AdditionTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Numbers []float64 `json:"numbers"`
	}
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	var sum float64
	for _, n := range args.Numbers {
		sum += n
	}
	return map[string]float64{"result": sum}, nil
}
