package runner

import (
	"errors"
	"fmt"

	"github.com/avolkhin/snaptix/driver"
)

// FailureReason classifies why a run did not succeed.
type FailureReason string

const (
	FailureUserStop   FailureReason = "user_stop"
	FailureConnection FailureReason = "automation_connection_failed"
	FailureFlow       FailureReason = "flow_failure"
	FailureUnexpected FailureReason = "unexpected_error"
	FailureMaxRetries FailureReason = "max_retries_reached"
)

// FlowError reports that a required workflow step could not complete.
// It carries the phase at which the step failed.
type FlowError struct {
	Phase   Phase
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Phase, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Phase, e.Message)
}

func (e *FlowError) Unwrap() error { return e.Err }

// StoppedError reports cooperative cancellation observed at a step
// boundary. User intent to stop is authoritative: it is never retried.
type StoppedError struct {
	Phase Phase
}

func (e *StoppedError) Error() string {
	return fmt.Sprintf("run stopped during %s", e.Phase)
}

// Diagnose classifies an attempt error into a failure reason and an
// operator-facing message. Pure and deterministic: unexpected errors
// keep their original message verbatim.
func Diagnose(err error) (FailureReason, string) {
	var stopped *StoppedError
	if errors.As(err, &stopped) {
		return FailureUserStop, "stopped by user request"
	}

	var connection *driver.ConnectionError
	if errors.As(err, &connection) {
		return FailureConnection, connection.Error()
	}

	var flow *FlowError
	if errors.As(err, &flow) {
		return FailureFlow, flow.Error()
	}

	return FailureUnexpected, err.Error()
}
