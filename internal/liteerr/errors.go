// Package liteerr holds the error taxonomy shared by the transport, provider and balancer layers.
package liteerr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("closed")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Server error codes that mean the node is throttling us.
const (
	CodeRateLimit       = 228
	CodeRateLimitAlt    = 5556
	CodeBlockNotApplied = 651
	CodeBackendTimeout  = 502
	CodeTimeout         = 652
)

// TransportError covers handshake, framing, cipher and socket state failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a local provider failure such as a malformed envelope.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ServerError is an explicit liteServer.error answer.
type ServerError struct {
	Code    int32
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// RetryLimitError wraps the last server error once a retry rule ran out of attempts.
type RetryLimitError struct {
	Attempts int
	Last     *ServerError
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("retry limit reached after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryLimitError) Unwrap() error { return e.Last }

type TimeoutScope string

const (
	ScopeProvider TimeoutScope = "provider"
	ScopeBalancer TimeoutScope = "balancer"
	ScopeConnect  TimeoutScope = "connect"
)

type TimeoutError struct {
	Scope   TimeoutScope
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %s: %s", e.Scope, e.Timeout, e.Op)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// MethodError is a get-method that ran and returned a non-zero exit code.
// The node answered correctly, so it is never retried and never counts against node health.
type MethodError struct {
	Address  string
	Method   string
	ExitCode int32
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("get-method %s on %s failed with exit code %d", e.Method, e.Address, e.ExitCode)
}

// DecodeError is an answer that arrived but could not be decoded into the expected type.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type BalancerError struct {
	Reason string
	// Err holds the member failures; several are combined with multierr.
	Err error
}

func (e *BalancerError) Error() string {
	if e.Err != nil {
		return "balancer: " + e.Reason + ": " + e.Err.Error()
	}
	return "balancer: " + e.Reason
}

func (e *BalancerError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err carries a throttling server code.
func IsRateLimit(err error) bool {
	var se *ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == CodeRateLimit || se.Code == CodeRateLimitAlt
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsNodeFailure reports whether err is evidence that the node itself is unhealthy.
func IsNodeFailure(err error) bool {
	if err == nil {
		return false
	}
	var (
		me *MethodError
		de *DecodeError
	)
	if errors.As(err, &me) || errors.As(err, &de) {
		return false
	}
	var (
		te  *TransportError
		pe  *ProviderError
		se  *ServerError
		toe *TimeoutError
	)
	switch {
	case errors.As(err, &te), errors.As(err, &pe), errors.As(err, &se), errors.As(err, &toe):
		return true
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrClosed):
		return true
	}
	return false
}
