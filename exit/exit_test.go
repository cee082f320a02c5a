package exit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitKinds_Flags(t *testing.T) {
	cases := []struct {
		name   string
		exit   Exit
		isErr  bool
		delete bool
	}{
		{"duplicate", Duplicate(""), false, true},
		{"backoff", Backoff(""), false, false},
		{"abort", Abort("bad_input", "x"), true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.isErr, tc.exit.IsError())
			assert.Equal(t, tc.delete, tc.exit.DeleteMessage())
		})
	}
}

func TestExitMessages(t *testing.T) {
	assert.Equal(t, "backing off SQS message", Backoff("").Error())
	assert.Equal(t, "backing off SQS message: db down", Backoff("db down").Error())
	assert.Equal(t, "skipping duplicated SQS message", Duplicate("").Error())
	assert.Equal(t, "skipping duplicated SQS message: seen before", Duplicate("seen before").Error())
	assert.Equal(t,
		"aborting SQS message due to error bad_input: malformed payload",
		Abort("bad_input", "malformed payload").Error())
}

func TestAbort_ExtraFields(t *testing.T) {
	ex := Abort("quota_exceeded", "tenant over quota")
	ex.Extra = map[string]any{"tenant": "acme"}

	assert.True(t, ex.IsError())
	assert.Equal(t, "acme", ex.Extra["tenant"])
}
