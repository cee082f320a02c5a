package exit

import (
	"errors"

	"github.com/M3-MIIA/sqs-consumer/apperror"
)

// Classify maps a fault returned by business code to a terminal Exit.
//
// Explicit Exit values pass through unchanged. Application errors
// (apperror.Error) are translated so that business code does not need to
// know about queue semantics: a service_unavailable error becomes a Backoff
// (the message is retried once the external dependency recovers), any other
// coded error becomes an Abort carrying the same code and message.
//
// The second return value is false when the fault is not recognized; such
// faults must be handled as unhandled: deleted, reported and re-surfaced.
func Classify(err error) (Exit, bool) {
	var ex Exit
	if errors.As(err, &ex) {
		return ex, true
	}

	var ae *apperror.Error
	if errors.As(err, &ae) {
		if ae.Code == apperror.CodeServiceUnavailable {
			return Backoff(ae.Message), true
		}
		return Abort(ae.Code, ae.Message), true
	}

	return nil, false
}
