package liteerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	rate := &ServerError{Code: CodeRateLimit, Message: "too many requests"}
	wrapped := &RetryLimitError{Attempts: 3, Last: rate}

	assert.True(t, IsRateLimit(rate))
	assert.True(t, IsRateLimit(wrapped))
	assert.True(t, IsRateLimit(fmt.Errorf("call: %w", wrapped)))
	assert.False(t, IsRateLimit(&ServerError{Code: 651}))

	assert.True(t, IsNodeFailure(&TransportError{Op: "read", Err: errors.New("eof")}))
	assert.True(t, IsNodeFailure(wrapped))
	assert.True(t, IsNodeFailure(&TimeoutError{Scope: ScopeProvider}))
	assert.True(t, IsNodeFailure(fmt.Errorf("x: %w", ErrNotConnected)))
	assert.False(t, IsNodeFailure(&MethodError{ExitCode: 11}))
	assert.False(t, IsNodeFailure(&DecodeError{Type: "x", Err: errors.New("short")}))
	assert.False(t, IsNodeFailure(context.Canceled))
	assert.False(t, IsNodeFailure(nil))
}

func TestTimeoutIsDeadline(t *testing.T) {
	err := &TimeoutError{Scope: ScopeBalancer, Op: "getMasterchainInfo"}
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsTimeout(fmt.Errorf("wrap: %w", err)))
}
