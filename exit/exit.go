// Package exit defines the terminal outcomes a queue consumer can signal for
// a single SQS message.
//
// Exits are ordinary error values so that business code can return them from
// ProcessJob, but they are not failures in the usual sense: each one tells
// the dispatcher whether the outcome counts as an error worth reporting and
// whether the message must be deleted from the queue. Any error that is not
// an Exit (and cannot be translated into one, see Classify) is treated as an
// unhandled fault: reported, deleted, and re-surfaced to the batch caller.
package exit

import "fmt"

// Exit is a terminal processing outcome for one SQS message.
//
// IsError reports whether the outcome should trigger the consumer's error
// hook. DeleteMessage reports whether the message must be removed from the
// queue; when false the message stays in the queue and SQS redelivers it
// after the visibility timeout expires.
type Exit interface {
	error
	IsError() bool
	DeleteMessage() bool
}

// DuplicateExit signals that the message was already processed before and
// the current delivery should be dropped without redoing the work.
//
// Not an error; the message is deleted from the queue.
type DuplicateExit struct {
	// Note is an optional free-form detail appended to the log line.
	Note string
}

// Duplicate returns a DuplicateExit with an optional note.
func Duplicate(note string) *DuplicateExit {
	return &DuplicateExit{Note: note}
}

func (e *DuplicateExit) Error() string {
	return compose("skipping duplicated SQS message", e.Note)
}

func (e *DuplicateExit) IsError() bool { return false }

func (e *DuplicateExit) DeleteMessage() bool { return true }

// BackoffExit stops processing due to a temporary condition, keeping the
// message in the queue so it is retried on a later delivery.
//
// Return it when external resources (the application database, internal
// microservices, third-party HTTP services) are momentarily unavailable due
// to network failure, rate limiting or similar transient causes.
//
// Not an error; the message is kept in the queue.
type BackoffExit struct {
	Note string
}

// Backoff returns a BackoffExit with an optional note.
func Backoff(note string) *BackoffExit {
	return &BackoffExit{Note: note}
}

func (e *BackoffExit) Error() string {
	return compose("backing off SQS message", e.Note)
}

func (e *BackoffExit) IsError() bool { return false }

func (e *BackoffExit) DeleteMessage() bool { return false }

// AbortExit stops processing due to a critical error and deletes the message
// from the queue: a malformed message or an internal code failure would only
// trigger the same error again on redelivery.
//
// An error; the message is deleted from the queue.
type AbortExit struct {
	ErrorCode    string
	ErrorMessage string

	// Extra carries optional fields forwarded to the consumer error hook
	// alongside the code and message.
	Extra map[string]any
}

// Abort returns an AbortExit with the given error code and message.
func Abort(errorCode, errorMessage string) *AbortExit {
	return &AbortExit{ErrorCode: errorCode, ErrorMessage: errorMessage}
}

func (e *AbortExit) Error() string {
	return fmt.Sprintf("aborting SQS message due to error %s: %s", e.ErrorCode, e.ErrorMessage)
}

func (e *AbortExit) IsError() bool { return true }

func (e *AbortExit) DeleteMessage() bool { return true }

func compose(msg, note string) string {
	if note == "" {
		return msg
	}
	return msg + ": " + note
}
