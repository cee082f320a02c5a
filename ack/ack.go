// Package ack deletes processed messages from their source SQS queue.
package ack

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
)

// DummyQueueURL is a placeholder queue URL for local and offline runs.
// Deletes against it are logged and skipped without touching the network.
const DummyQueueURL = "dummy_sqs_queue_url"

type sqsAPI interface {
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Dialer creates the SQS client used by a Sink. The default dialer loads the
// ambient AWS configuration; tests inject their own.
type Dialer func(ctx context.Context) (sqsAPI, error)

// Sink acknowledges SQS messages by deleting them from their queue.
//
// The underlying SQS client is created lazily on the first delete and cached
// for the lifetime of the process. Any delete fault invalidates the cached
// client so the next caller reconnects with a fresh one; a stale or broken
// connection therefore self-heals on the following call. A Sink is safe for
// concurrent use.
//
// DeleteMessage is idempotent on the SQS side: deleting an already-deleted
// receipt handle succeeds, so retried records do not fail here.
type Sink struct {
	log  zerolog.Logger
	dial Dialer

	mu     sync.Mutex
	client sqsAPI
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger replaces the sink's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// WithClient injects a pre-built SQS client, bypassing the lazy dial.
// Intended for tests with fake clients.
func WithClient(client sqsAPI) Option {
	return func(s *Sink) { s.client = client }
}

// WithDialer replaces the function that creates the SQS client when the
// cache is empty.
func WithDialer(dial Dialer) Option {
	return func(s *Sink) { s.dial = dial }
}

// New returns a Sink. Without options it logs to the default zerolog logger
// and dials SQS from the ambient AWS configuration on first use.
func New(opts ...Option) *Sink {
	s := &Sink{
		log:  zerolog.Nop(),
		dial: defaultDial,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func defaultDial(ctx context.Context) (sqsAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		o.Retryer = retry.AddWithMaxAttempts(o.Retryer, 3)
	}), nil
}

// Delete removes one message from the queue by its receipt handle.
// messageID is used only to annotate logs and errors.
//
// Faults are returned to the caller, never swallowed; the caller decides how
// a failed acknowledgment affects the record's outcome.
func (s *Sink) Delete(ctx context.Context, queueURL, messageID, receiptHandle string) error {
	if queueURL == DummyQueueURL {
		s.log.Info().Str("message_id", messageID).Msg("dummy queue URL, skipping SQS message delete")
		return nil
	}

	client, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("creating SQS client: %w", err)
	}

	_, err = client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &queueURL,
		ReceiptHandle: &receiptHandle,
	})
	if err != nil {
		s.invalidate(client)
		return fmt.Errorf("deleting SQS message %s: %w", messageID, err)
	}

	s.log.Debug().Str("message_id", messageID).Msg("SQS message deleted")
	return nil
}

func (s *Sink) acquire(ctx context.Context) (sqsAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

// invalidate clears the cached client only if it is still the one that
// faulted, so a reconnection made by a concurrent caller is kept.
func (s *Sink) invalidate(client sqsAPI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == client {
		s.client = nil
	}
}
