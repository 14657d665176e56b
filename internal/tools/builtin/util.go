package builtin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/profile"
)

func definition(name, description string, params map[string]any) core.ToolDefinition {
	return core.ToolDefinition{
		Type: "function",
		Function: core.FunctionSpec{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		Policy: "safe",
	}
}

func noParams() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

// fieldSchema builds an object schema with one optional property per document field.
// A null value clears the field.
func fieldSchema(fields []profile.Field) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		p := map[string]any{"type": []string{f.Type, "null"}, "description": f.Description}
		if f.Ranged() {
			p["description"] = fmt.Sprintf("%s (%g-%g)", f.Description, f.Min, f.Max)
			p["minimum"] = f.Min
			p["maximum"] = f.Max
		}
		props[f.Key] = p
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             []string{},
		"additionalProperties": false,
	}
}

func fieldKeys(fields []profile.Field) string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	return strings.Join(keys, ", ")
}

func decode(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
