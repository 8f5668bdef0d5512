package forwarder

import (
	"fmt"
)

// TimeoutPhase identifies which per-attempt timeout fired.
type TimeoutPhase string

const (
	// PhaseFirstByte is the wait for response headers of a streaming
	// request.
	PhaseFirstByte TimeoutPhase = "first_byte"

	// PhaseIdle is the gap between consecutive streaming body chunks.
	PhaseIdle TimeoutPhase = "idle"

	// PhaseFixed is the total duration of a non-streaming request.
	PhaseFixed TimeoutPhase = "fixed"
)

// ConnectError is a DNS, TCP, TLS, or proxy failure before any HTTP
// response arrived.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TimeoutError is a per-attempt timeout, subdivided by phase.
type TimeoutError struct {
	Phase TimeoutPhase
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout (%s): %v", e.Phase, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UpstreamHTTPError is a response with status >= 400. Body carries the
// parsed JSON payload when the upstream sent one.
type UpstreamHTTPError struct {
	StatusCode int
	Body       map[string]any

	// Message is the extracted upstream error message, empty when the
	// body was not a recognizable error payload.
	Message string
}

func (e *UpstreamHTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// FakeSuccessError is a 200 response whose body is actually an error
// payload or is suspiciously empty.
type FakeSuccessError struct {
	Reason string

	// Body carries the parsed error payload when one was present.
	Body map[string]any
}

func (e *FakeSuccessError) Error() string {
	return fmt.Sprintf("fake success: %s", e.Reason)
}

// ExhaustedError is terminal: every attempt failed. It wraps the last
// underlying cause. Its message is stable and never includes endpoint
// URLs or credentials.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// CancelledError is a client-initiated abort. It is not a health
// signal and never feeds the circuit breakers.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled: %v", e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }
