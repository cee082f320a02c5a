// Package apperror defines the application error type shared between API
// handlers, background jobs and queue consumers: an error code identifying
// the failure class plus a human-readable message.
package apperror

import "fmt"

// CodeServiceUnavailable marks failures of external collaborators (database,
// internal microservices, third-party HTTP services) that are expected to
// recover on their own. Queue consumers translate it into a backoff instead
// of treating it as a hard error.
const CodeServiceUnavailable = "service_unavailable"

// Error is an application fault carrying a stable error code and a message.
// Algorithm code can return it directly.
type Error struct {
	Code    string
	Message string
}

// New returns an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Unavailable returns an Error flagged as a temporary external outage.
// An empty message defaults to "Service unavailable".
func Unavailable(message string) *Error {
	if message == "" {
		message = "Service unavailable"
	}
	return &Error{Code: CodeServiceUnavailable, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s - %s", e.Code, e.Message)
}
