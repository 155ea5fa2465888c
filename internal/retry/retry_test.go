package retry

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("rpc timed out")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("invalid params")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)
}

func TestClassify_RateLimitedError(t *testing.T) {
	decision := Classify(&RateLimitedError{Err: errors.New("slow down"), RetryAfterMS: 500})
	assert.Equal(t, ClassRateLimit, decision.Class)
	assert.True(t, decision.IsTransient())
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{
			name:          "context deadline transient",
			err:           context.DeadlineExceeded,
			expectedClass: ClassTransient,
		},
		{
			name:          "context canceled terminal",
			err:           context.Canceled,
			expectedClass: ClassTerminal,
		},
		{
			name:          "net timeout transient",
			err:           &net.DNSError{IsTimeout: true, Err: "lookup timed out"},
			expectedClass: ClassTransient,
		},
		{
			name:          "429 message rate limited",
			err:           errors.New("upstream responded 429 too many requests"),
			expectedClass: ClassRateLimit,
		},
		{
			name:          "connection reset transient",
			err:           errors.New("read tcp: connection reset by peer"),
			expectedClass: ClassTransient,
		},
		{
			name:          "not found terminal",
			err:           errors.New("transaction not found"),
			expectedClass: ClassTerminal,
		},
		{
			name:          "unknown defaults terminal",
			err:           errors.New("unexpected failure"),
			expectedClass: ClassTerminal,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class)
		})
	}
}

func TestClassify_NilError(t *testing.T) {
	decision := Classify(nil)
	assert.Equal(t, ClassTerminal, decision.Class)
	assert.Equal(t, "nil_error", decision.Reason)
}
