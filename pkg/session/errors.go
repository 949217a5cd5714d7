package session

import "errors"

var (
	// ErrNotFound is returned when no session has the requested id
	ErrNotFound = errors.New("session not found")

	// ErrInvalidInput is returned for empty titles, empty models, unknown roles and similar
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState is returned when an operation does not apply to the session's current state
	ErrInvalidState = errors.New("invalid session state")
)
