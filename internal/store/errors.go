package store

import "errors"

var (
	// ErrStoreUnavailable is returned when the database cannot be read or written.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidMessage is returned when a message violates the role rules.
	ErrInvalidMessage = errors.New("invalid message")
)
