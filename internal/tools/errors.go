package tools

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownTool        = errors.New("unknown tool")
	ErrMalformedArguments = errors.New("malformed arguments")
	ErrToolExecution      = errors.New("tool execution failed")
)

// UnknownToolError is returned when no tool is registered under Name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// MalformedArgumentsError is returned when arguments are not JSON or fail schema validation.
type MalformedArgumentsError struct {
	Tool string
	Err  error
}

func (e *MalformedArgumentsError) Error() string {
	return fmt.Sprintf("malformed arguments for %s: %v", e.Tool, e.Err)
}

func (e *MalformedArgumentsError) Unwrap() error { return e.Err }

func (e *MalformedArgumentsError) Is(target error) bool { return target == ErrMalformedArguments }

// ToolExecutionError carries the error a tool handler returned.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func (e *ToolExecutionError) Is(target error) bool { return target == ErrToolExecution }

// IsRecoverable reports whether err should become an in-band tool error rather than end the turn.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnknownTool) || errors.Is(err, ErrMalformedArguments) || errors.Is(err, ErrToolExecution)
}

// ErrorEnvelope renders err as the {"error": message} payload sent back to the model.
func ErrorEnvelope(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
