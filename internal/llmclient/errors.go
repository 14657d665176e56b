package llmclient

import (
	"errors"
	"fmt"
)

// ErrTransport is wrapped by every error that means the endpoint could not produce a completion.
var ErrTransport = errors.New("llm transport error")

// APIError is a non-2xx response from the endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

func (e *APIError) Is(target error) bool { return target == ErrTransport }

func (e *APIError) retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
