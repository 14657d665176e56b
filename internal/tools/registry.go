package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hattiebot/familiar/internal/core"
)

// Tool is a callable local capability advertised to the model.
type Tool interface {
	Name() string
	Definition() core.ToolDefinition
	// Invoke runs the tool with arguments that already passed schema validation.
	// The result must be JSON-serializable.
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry is the fixed set of tools available for a process lifetime.
type Registry struct {
	order   []string
	entries map[string]entry
}

// NewRegistry compiles every tool's parameter schema and returns a registry that
// advertises them in the given order.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{entries: make(map[string]entry, len(tools))}
	for _, t := range tools {
		name := t.Name()
		def := t.Definition()
		if def.Function.Name != name {
			return nil, fmt.Errorf("tool %q: definition is named %q", name, def.Function.Name)
		}
		if _, dup := r.entries[name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}
		schema, err := compileSchema(name, def.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		r.entries[name] = entry{tool: t, schema: schema}
		r.order = append(r.order, name)
	}
	return r, nil
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []core.ToolDefinition {
	defs := make([]core.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].tool.Definition())
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Dispatch validates rawArgs against the tool's schema, invokes it and returns the
// JSON-encoded result. Errors are *UnknownToolError, *MalformedArgumentsError or
// *ToolExecutionError.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string) (string, error) {
	e, ok := r.entries[name]
	if !ok {
		return "", &UnknownToolError{Name: name}
	}
	if strings.TrimSpace(rawArgs) == "" {
		rawArgs = "{}"
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(rawArgs))
	if err != nil {
		return "", &MalformedArgumentsError{Tool: name, Err: err}
	}
	if e.schema != nil {
		if err := e.schema.Validate(inst); err != nil {
			return "", &MalformedArgumentsError{Tool: name, Err: err}
		}
	}

	result, err := e.tool.Invoke(ctx, json.RawMessage(rawArgs))
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Err: err}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("encode result: %w", err)}
	}
	return string(b), nil
}

var _ core.ToolExecutor = (*Registry)(nil)

// compileSchema compiles a tool's parameter schema. A nil schema accepts any object.
func compileSchema(name string, params any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile(url)
}
