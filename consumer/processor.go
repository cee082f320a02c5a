package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/M3-MIIA/sqs-consumer/ack"
	"github.com/M3-MIIA/sqs-consumer/exit"
)

// Environment variables read by New when the matching option is absent.
const (
	// EnvQueueURL supplies the source queue URL.
	EnvQueueURL = "SQS_QUEUE_URL"
	// EnvMaxParallelTasks overrides the default concurrency cap.
	EnvMaxParallelTasks = "SQS_MAX_PARALLEL_TASKS"
)

// DefaultMaxParallelTasks bounds per-batch concurrency when neither the
// consumer, an option nor the environment sets a value.
const DefaultMaxParallelTasks = 3

var (
	// ErrMissingQueueURL is returned by New when no queue URL is configured.
	ErrMissingQueueURL = errors.New("missing SQS queue URL")

	// ErrMalformedEvent is returned by ProcessEvent when the incoming event
	// has no Records field at all (as opposed to an empty batch).
	ErrMalformedEvent = errors.New(`malformed SQS event (missing "Records" entry)`)
)

// Acknowledger deletes one message from its source queue. *ack.Sink is the
// production implementation.
type Acknowledger interface {
	Delete(ctx context.Context, queueURL, messageID, receiptHandle string) error
}

// Outcome is the terminal result of one record in a batch.
type Outcome struct {
	// MessageID is the SQS message id of the record.
	MessageID string

	// Exit is the terminal signal for the record, after translation.
	// Nil on pure success and for unhandled faults.
	Exit exit.Exit

	// Err is the record's unhandled fault: a fault no taxonomy member
	// matched, a fault raised by an exit or error hook, or a failed queue
	// delete. Records with a non-nil Err are re-surfaced in the batch
	// aggregate error.
	Err error
}

// Processor runs batches of SQS records against one Consumer.
//
// A Processor is stateless across invocations except for the injected
// acknowledger; it is safe to reuse for the lifetime of the process and safe
// for concurrent batches.
type Processor[M any] struct {
	consumer    Consumer[M]
	queueURL    string
	maxParallel int64
	sink        Acknowledger
	log         zerolog.Logger
}

// Option configures a Processor.
type Option func(*settings)

type settings struct {
	queueURL    string
	maxParallel int
	sink        Acknowledger
	log         *zerolog.Logger
}

// WithQueueURL sets the source queue URL explicitly, taking precedence over
// the SQS_QUEUE_URL environment variable.
func WithQueueURL(queueURL string) Option {
	return func(s *settings) { s.queueURL = queueURL }
}

// WithMaxParallelTasks sets the concurrency cap for one batch, overriding
// the consumer's ParallelismLimiter and the environment default.
func WithMaxParallelTasks(n int) Option {
	return func(s *settings) { s.maxParallel = n }
}

// WithAcknowledger replaces the queue-delete sink. Intended for tests and
// for sharing one ack.Sink between processors.
func WithAcknowledger(sink Acknowledger) Option {
	return func(s *settings) { s.sink = sink }
}

// WithLogger replaces the processor's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) { s.log = &log }
}

// New builds a Processor for the given consumer.
//
// The queue URL is resolved from WithQueueURL, then SQS_QUEUE_URL; a missing
// URL is a construction-time error. The concurrency cap is resolved from
// WithMaxParallelTasks, then the consumer's MaxParallelTasks, then
// SQS_MAX_PARALLEL_TASKS, then DefaultMaxParallelTasks.
func New[M any](c Consumer[M], opts ...Option) (*Processor[M], error) {
	if c == nil {
		return nil, errNoConsumer
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}

	queueURL := s.queueURL
	if queueURL == "" {
		queueURL = os.Getenv(EnvQueueURL)
	}
	if queueURL == "" {
		return nil, ErrMissingQueueURL
	}

	maxParallel := s.maxParallel
	if maxParallel < 1 {
		if l, ok := c.(ParallelismLimiter); ok {
			maxParallel = l.MaxParallelTasks()
		}
	}
	if maxParallel < 1 {
		maxParallel = envMaxParallelTasks()
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if s.log != nil {
		log = *s.log
	}

	sink := s.sink
	if sink == nil {
		sink = ack.New(ack.WithLogger(log))
	}

	return &Processor[M]{
		consumer:    c,
		queueURL:    queueURL,
		maxParallel: int64(maxParallel),
		sink:        sink,
		log:         log,
	}, nil
}

func envMaxParallelTasks() int {
	if v := os.Getenv(EnvMaxParallelTasks); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultMaxParallelTasks
}

// QueueURL returns the resolved source queue URL.
func (p *Processor[M]) QueueURL() string { return p.queueURL }

// HandleEvent processes one batch and returns its aggregate fault, if any.
// Its signature matches what lambda.Start expects for an SQS-triggered
// handler; a non-nil return makes the host redeliver the failed records,
// relying on the per-record delete decisions already applied.
func (p *Processor[M]) HandleEvent(ctx context.Context, event events.SQSEvent) error {
	_, err := p.ProcessEvent(ctx, event)
	return err
}

// ProcessEvent processes one batch and returns one Outcome per input record,
// in batch order, regardless of individual successes or failures.
//
// Records are admitted to the worker pool in batch order, at most
// maxParallel at a time; completion order is unspecified. A fault in one
// record never cancels or blocks the others. After all records complete,
// every unhandled fault is logged with its record id and the aggregate error
// joining all of them is returned; nil when every record was handled.
func (p *Processor[M]) ProcessEvent(ctx context.Context, event events.SQSEvent) ([]Outcome, error) {
	if event.Records == nil {
		return nil, ErrMalformedEvent
	}
	records := event.Records

	p.log.Info().
		Int("records", len(records)).
		Int64("max_parallel_tasks", p.maxParallel).
		Msg("processing SQS batch")

	sem := semaphore.NewWeighted(p.maxParallel)
	outcomes := make([]Outcome, len(records))

	var wg sync.WaitGroup
	for i := range records {
		// Admission is in batch order and, once admitted, a record runs to
		// its terminal state: acquisition deliberately ignores ctx so no
		// record is dropped from the outcome set mid-batch.
		_ = sem.Acquire(context.Background(), 1)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = p.processRecord(ctx, records[i])
		}(i)
	}
	wg.Wait()

	var faults []error
	for i := range outcomes {
		if err := outcomes[i].Err; err != nil {
			p.log.Error().
				Str("message_id", outcomes[i].MessageID).
				Err(err).
				Msg("unhandled error while processing SQS message")
			faults = append(faults, err)
		}
	}
	if len(faults) > 0 {
		return outcomes, fmt.Errorf("%d of %d SQS records failed: %w",
			len(faults), len(records), errors.Join(faults...))
	}
	return outcomes, nil
}

// processRecord drives one record through parse, process, classification,
// exit handling and acknowledgment. It never panics and never drops a fault:
// everything unrecognized ends up in the returned Outcome.Err.
func (p *Processor[M]) processRecord(ctx context.Context, record events.SQSMessage) Outcome {
	outcome := Outcome{MessageID: record.MessageId}
	logID := record.MessageId

	var msg *M
	var cause error

	parsed, err := parseMessage(p.consumer, record)
	if err != nil {
		// Parse failure is terminal: the record is aborted and the job never
		// runs for it.
		p.log.Error().Str("message_id", logID).Err(err).Msg("failed parsing SQS message")
		cause = exit.Abort(InternalErrorCode, InternalErrorMessage)
	} else {
		msg = &parsed
		if customID := customMessageID(p.consumer, parsed); customID != "" {
			logID = fmt.Sprintf("%s (%s)", record.MessageId, customID)
		}
		cause = p.runJob(ctx, parsed)
	}

	deleteMessage := true
	if cause != nil {
		if ex, ok := exit.Classify(cause); ok {
			outcome.Exit = ex
			deleteMessage = ex.DeleteMessage()
			p.logExit(ex, logID)
			cause = ex // hooks see the translated signal
		} else {
			// Unhandled fault: the message is still deleted, and the fault
			// re-surfaces through the aggregator.
			outcome.Err = fmt.Errorf("failed processing SQS message %s: %w", logID, cause)
		}

		if hookErr := p.handleExit(ctx, record, msg, cause); hookErr != nil {
			hookErr = fmt.Errorf("error raised while handling a previous exit of SQS message %s: %w", logID, hookErr)
			outcome.Err = errors.Join(outcome.Err, hookErr)
		}
	}

	if deleteMessage {
		if delErr := p.sink.Delete(ctx, p.queueURL, record.MessageId, record.ReceiptHandle); delErr != nil {
			outcome.Err = errors.Join(outcome.Err, fmt.Errorf("acknowledging SQS message %s: %w", logID, delErr))
		}
	}

	return outcome
}

// runJob calls ProcessJob, converting a panic into an unhandled fault so one
// record cannot take down the rest of the batch.
func (p *Processor[M]) runJob(ctx context.Context, msg M) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing job: %v", r)
		}
	}()
	return p.consumer.ProcessJob(ctx, msg)
}

func (p *Processor[M]) handleExit(ctx context.Context, record events.SQSMessage, msg *M, cause error) error {
	if h, ok := p.consumer.(ExitHandler[M]); ok {
		return h.HandleExit(ctx, record, msg, cause)
	}
	return DefaultHandleExit(ctx, p.consumer, record, msg, cause)
}

// logExit logs a terminal signal at the severity its kind implies: warning
// for recoverable or already-resolved outcomes, error for aborts.
func (p *Processor[M]) logExit(ex exit.Exit, logID string) {
	evt := p.log.Warn()
	if ex.IsError() {
		evt = p.log.Error()
	}
	evt.Str("message_id", logID).Msg(ex.Error())
}
