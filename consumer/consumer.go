// Package consumer dispatches one Lambda-delivered batch of SQS messages to
// user business logic under a concurrency cap, classifies each outcome, acts
// on the matching delete-or-keep decision and surfaces unhandled faults as a
// single batch-level error.
//
// The recommended structure for a consumer is:
//
//  1. Write a function that encapsulates only the business logic, without
//     platform specifics: all input as parameters, all output as returned
//     values.
//  2. Write a type implementing Consumer whose ProcessJob fetches the input
//     data from its data sources, calls the business logic function and
//     stores the results into the matching sinks. Implement the optional
//     capability interfaces (MessageParser, ErrorHandler, ...) as needed.
//  3. Wire a Processor for that consumer into the Lambda handler:
//
//	func main() {
//		p, err := consumer.New[ScoreRequest](scoreConsumer{db: db})
//		if err != nil {
//			log.Fatal().Err(err).Msg("building consumer")
//		}
//		lambda.Start(p.HandleEvent)
//	}
//
// Keeping the business logic function isolated from queue and storage
// details lets the same function run in unit tests with fixed inputs, in
// local runs against files, and in queue handlers against databases.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/M3-MIIA/sqs-consumer/exit"
)

// Consumer is the business contract for one SQS message type M.
//
// ProcessJob is the only required method. Behavior beyond it is customized
// through the optional capability interfaces in this package, which the
// Processor discovers by type assertion.
type Consumer[M any] interface {
	// ProcessJob runs the business logic for one parsed message. Returning
	// an exit.Exit (or a translatable apperror.Error) selects the matching
	// terminal outcome; any other error is an unhandled fault: the message
	// is deleted and the fault is re-surfaced in the batch aggregate error.
	ProcessJob(ctx context.Context, msg M) error
}

// MessageParser overrides how a raw SQS record body becomes a typed message.
// Without it the record body is JSON-unmarshalled into M. A parse failure is
// handled as Abort("internal_server_error", ...): the malformed message is
// deleted, since redelivery would fail the same way.
type MessageParser[M any] interface {
	ParseMessage(record events.SQSMessage) (M, error)
}

// MessageIDExtractor exposes an application-level id for a parsed message,
// used only to enrich log lines alongside the SQS message id. Returning ""
// means no custom id; that is not an error.
type MessageIDExtractor[M any] interface {
	CustomMessageID(msg M) string
}

// ExitHandler is called for every non-success terminal outcome, before the
// delete decision is acted on. msg is nil when parsing failed.
//
// Implementations replacing the default behavior usually still want to chain
// to DefaultHandleExit so error-kind outcomes keep reaching the
// ErrorHandler. A fault returned here is never swallowed: it is wrapped and
// escalates as the record's unhandled fault.
type ExitHandler[M any] interface {
	HandleExit(ctx context.Context, record events.SQSMessage, msg *M, cause error) error
}

// ErrorHandler is called when a record reaches an error-kind outcome (Abort
// or an unhandled fault) and a typed message was successfully parsed.
// errorCode and errorMessage are the Abort's pair, or
// "internal_server_error" / "Internal server error" for unhandled faults.
//
// Typical implementations persist the failure where the application expects
// to find job results.
type ErrorHandler[M any] interface {
	HandleError(ctx context.Context, record events.SQSMessage, msg M, cause error, errorCode, errorMessage string) error
}

// ParallelismLimiter lets a consumer bound how many of its records are
// processed concurrently within one batch. Values < 1 fall back to the
// processor-wide default.
type ParallelismLimiter interface {
	MaxParallelTasks() int
}

// Default code/message pair reported for unhandled faults.
const (
	InternalErrorCode    = "internal_server_error"
	InternalErrorMessage = "Internal server error"
)

// DefaultHandleExit is the exit handling applied when a consumer does not
// implement ExitHandler. It does nothing unless a typed message is available
// and the cause is an error-kind outcome; in that case it resolves the error
// code and message (from the Abort, or the internal-server-error defaults)
// and delegates to the consumer's ErrorHandler, if any.
//
// Consumers overriding HandleExit can call this to keep the delegation.
func DefaultHandleExit[M any](ctx context.Context, c Consumer[M], record events.SQSMessage, msg *M, cause error) error {
	if msg == nil {
		// No message content to match the error with.
		return nil
	}

	errorCode := InternalErrorCode
	errorMessage := InternalErrorMessage
	if ex, ok := exit.Classify(cause); ok {
		if !ex.IsError() {
			// Backoff will be retried, duplicate is already resolved;
			// neither is a final error state for the job.
			return nil
		}
		if abort, isAbort := ex.(*exit.AbortExit); isAbort {
			errorCode = abort.ErrorCode
			errorMessage = abort.ErrorMessage
		}
	}

	if h, ok := c.(ErrorHandler[M]); ok {
		return h.HandleError(ctx, record, *msg, cause, errorCode, errorMessage)
	}
	return nil
}

// parseMessage applies the consumer's MessageParser or falls back to JSON
// unmarshalling of the record body.
func parseMessage[M any](c Consumer[M], record events.SQSMessage) (M, error) {
	if p, ok := c.(MessageParser[M]); ok {
		return p.ParseMessage(record)
	}

	var msg M
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		return msg, fmt.Errorf("unmarshalling SQS message body: %w", err)
	}
	return msg, nil
}

func customMessageID[M any](c Consumer[M], msg M) string {
	if e, ok := c.(MessageIDExtractor[M]); ok {
		return e.CustomMessageID(msg)
	}
	return ""
}

var errNoConsumer = errors.New("consumer is nil")
