package exit

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M3-MIIA/sqs-consumer/apperror"
)

func TestClassify_ExplicitExitsPassThrough(t *testing.T) {
	for _, ex := range []Exit{Duplicate("d"), Backoff("b"), Abort("code", "msg")} {
		got, ok := Classify(ex)
		require.True(t, ok)
		assert.Same(t, ex, got)
	}
}

func TestClassify_WrappedExit(t *testing.T) {
	wrapped := fmt.Errorf("running job: %w", Backoff("db down"))

	got, ok := Classify(wrapped)
	require.True(t, ok)

	backoff, isBackoff := got.(*BackoffExit)
	require.True(t, isBackoff)
	assert.Equal(t, "db down", backoff.Note)
}

func TestClassify_ServiceUnavailableBecomesBackoff(t *testing.T) {
	got, ok := Classify(apperror.Unavailable("rate limited"))
	require.True(t, ok)

	backoff, isBackoff := got.(*BackoffExit)
	require.True(t, isBackoff)
	assert.Equal(t, "rate limited", backoff.Note)
	assert.False(t, got.IsError())
	assert.False(t, got.DeleteMessage())
}

func TestClassify_AppErrorBecomesAbort(t *testing.T) {
	got, ok := Classify(apperror.New("essay_not_found", "Essay 42 not found"))
	require.True(t, ok)

	abort, isAbort := got.(*AbortExit)
	require.True(t, isAbort)
	assert.Equal(t, "essay_not_found", abort.ErrorCode)
	assert.Equal(t, "Essay 42 not found", abort.ErrorMessage)
	assert.True(t, got.IsError())
	assert.True(t, got.DeleteMessage())
}

func TestClassify_UnrecognizedFault(t *testing.T) {
	for _, err := range []error{io.ErrUnexpectedEOF, errors.New("boom")} {
		got, ok := Classify(err)
		assert.False(t, ok)
		assert.Nil(t, got)
	}
}
