package schemas

import (
	"errors"
	"fmt"
)

// FailureKind is the closed failure taxonomy shared by the validator, the
// controller, the executor and the audit trail. Using a custom type ensures
// only predefined constants appear where a FailureKind is expected.
type FailureKind string

const (
	// FailureInferenceUnavailable means the backing capability could not be
	// reached at all (connection refused, timeout on the local endpoint).
	FailureInferenceUnavailable FailureKind = "inference_unavailable"
	// FailureInferenceMalformed means a response arrived but could not be
	// parsed into a valid proposal shape.
	FailureInferenceMalformed FailureKind = "inference_malformed"
	// FailureOutOfBounds marks click geometry the captured screen cannot
	// contain, or an erratic click jump with no intervening capture.
	FailureOutOfBounds FailureKind = "out_of_bounds"
	// FailureUnsafeContent marks denylisted text payloads, dangerous key
	// chords and disallowed action kinds.
	FailureUnsafeContent FailureKind = "unsafe_content"
	// FailureRateLimited is a soft rejection; the controller cools down and
	// retries without failing the command.
	FailureRateLimited FailureKind = "rate_limited"
	// FailureExecutor marks device-level apply errors, including a hung
	// dispatch hitting its deadline.
	FailureExecutor FailureKind = "executor_failure"
	// FailureTimeout marks a step that exceeded the configured step timeout.
	FailureTimeout FailureKind = "timeout"
	// FailureAborted is the emergency stop. Process-fatal for automation:
	// the current command fails and the controller loop halts.
	FailureAborted FailureKind = "aborted"
	// FailureConnectivityTimeout fails network-dependent commands whose
	// reachability wait expired.
	FailureConnectivityTimeout FailureKind = "connectivity_timeout"
	// FailureStepBudgetExceeded marks a command that burned its whole step
	// budget without the model reporting done.
	FailureStepBudgetExceeded FailureKind = "step_budget_exceeded"
)

// AgentError attaches a FailureKind to an error so callers can route on the
// taxonomy with errors.As while still unwrapping the cause.
type AgentError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Is matches two AgentErrors by kind, so errors.Is(err, &AgentError{Kind: k})
// works without identity.
func (e *AgentError) Is(target error) bool {
	var other *AgentError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// NewError builds a kinded error with no underlying cause.
func NewError(kind FailureKind, format string, args ...interface{}) *AgentError {
	return &AgentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a kinded error around a cause.
func WrapError(kind FailureKind, err error, format string, args ...interface{}) *AgentError {
	return &AgentError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the FailureKind from an error chain. Unclassified errors
// report FailureExecutor so nothing escapes the taxonomy on the audit trail.
func KindOf(err error) FailureKind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return FailureExecutor
}
