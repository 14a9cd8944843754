// Package graph provides the core diagram execution engine.
package graph

import "errors"

// EngineError is an attributable, typed error. It mirrors the package's own
// EngineError/NodeError shape (Message/Code/NodeID/Cause + Unwrap), extended
// with the full error-kind taxonomy this project needs.
type EngineError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.NodeID != "" {
		return e.Code + ": " + e.Message + " (node " + e.NodeID + ")"
	}
	return e.Code + ": " + e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Error codes, one per error kind.
const (
	CodeInvalidGraph        = "INVALID_GRAPH"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeHandlerFailure      = "HANDLER_FAILURE"
	CodeDeadlock            = "DEADLOCK"
	CodeNodeTimeout         = "NODE_TIMEOUT"
	CodeExecutionTimeout    = "EXECUTION_TIMEOUT"
	CodeCancelled           = "CANCELLED"
	CodeConditionEvalError  = "CONDITION_EVAL_ERROR"
	CodeTemplateError       = "TEMPLATE_ERROR"
	CodeDependencyFailed    = "DEPENDENCY_FAILED"
	CodeUnknownHandler      = "UNKNOWN_HANDLER"
	CodeUnknownService      = "UNKNOWN_SERVICE"
)

// Sentinel errors follow the package's style of package-level
// `var Err... = errors.New(...)` declarations, used for errors.Is checks
// that don't need per-node attribution.
var (
	// ErrNoProgress indicates a full scheduler round produced an empty
	// ready set while no node was in flight: the remaining diagram cannot
	// make progress.
	ErrNoProgress = errors.New("no ready nodes and nothing in flight: deadlock")

	// ErrReplayMismatch indicates recorded I/O during ReplayMode did not
	// match the hash computed for the current (nodeID, attempt) pair,
	// signalling the node's logic changed since the recording was made.
	ErrReplayMismatch = errors.New("replay I/O hash mismatch")

	// ErrIdempotencyViolation indicates a checkpoint write reused an
	// idempotency key already claimed by a different step.
	ErrIdempotencyViolation = errors.New("idempotency key already claimed by a different step")

	// ErrInvalidRetryPolicy indicates a RetryPolicy failed Validate().
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrMaxAttemptsExceeded indicates a node exhausted its RetryPolicy's
	// MaxAttempts without a successful execution.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
)
