package control

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, a circuit that will close again.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, a provider rejecting a deploy.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes for programmatic handling.
const (
	// ErrCodeDeployment wraps a provider deploy failure with resource context.
	ErrCodeDeployment = "deployment_failed"

	// ErrCodeManifestUnavailable means the remote manifest store was
	// unreachable after exhausting retries. The manifest may well exist;
	// the backend could not serve it.
	ErrCodeManifestUnavailable = "manifest_unavailable"

	// ErrCodeManifestMissing means the store answered but the environment
	// has no active build or persisted manifest yet.
	ErrCodeManifestMissing = "manifest_missing"

	// ErrCodeCircuitOpen is the expected fail-fast signal from an open
	// circuit breaker. It is not an application bug.
	ErrCodeCircuitOpen = "circuit_open"

	// ErrCodeReconcileTimeout means the reconciliation deadline was exceeded.
	ErrCodeReconcileTimeout = "reconcile_timeout"

	// ErrCodeRemoteExecution means a remote function call failed or the
	// callee raised; the callee's error text is surfaced.
	ErrCodeRemoteExecution = "remote_execution_failed"

	// ErrCodeNotFound means a referenced resource or function is unknown.
	ErrCodeNotFound = "not_found"

	// ErrCodeValidation means an input failed validation.
	ErrCodeValidation = "validation_failed"
)

// ControlError is a classified error with resource and operation context.
type ControlError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code identifies the failure category.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// RetryAfter is how long until the operation may be retried. Only set
	// for circuit-open errors.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Attempts is the number of attempts made before giving up. Only set
	// when retries were exhausted.
	Attempts int `json:"attempts,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ControlError) Error() string {
	msg := e.Message
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ControlError) Unwrap() error {
	return e.Err
}

// Is matches two control errors by code, so errors.Is works against the
// sentinel constructors.
func (e *ControlError) Is(target error) bool {
	t, ok := target.(*ControlError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithResource attaches resource context to the error.
func (e *ControlError) WithResource(name string) *ControlError {
	e.Resource = name
	return e
}

// WithOperation attaches operation context to the error.
func (e *ControlError) WithOperation(op string) *ControlError {
	e.Operation = op
	return e
}

// NewDeploymentError wraps a provider deploy failure with the resource name.
func NewDeploymentError(resource string, err error) *ControlError {
	return &ControlError{
		Class:    ErrorClassPermanent,
		Code:     ErrCodeDeployment,
		Message:  "resource deployment failed",
		Resource: resource,
		Err:      err,
	}
}

// NewManifestUnavailableError reports the remote manifest store unreachable
// after the given number of attempts.
func NewManifestUnavailableError(attempts int, err error) *ControlError {
	return &ControlError{
		Class:    ErrorClassTransient,
		Code:     ErrCodeManifestUnavailable,
		Message:  fmt.Sprintf("manifest service unavailable after %d attempts", attempts),
		Attempts: attempts,
		Err:      err,
	}
}

// NewManifestMissingError reports that an environment has no active build or
// persisted manifest to read. Unlike NewManifestUnavailableError this is an
// authoritative answer from the store, not a failure to reach it.
func NewManifestMissingError(envID string, err error) *ControlError {
	return &ControlError{
		Class:   ErrorClassPermanent,
		Code:    ErrCodeManifestMissing,
		Message: fmt.Sprintf("no persisted manifest available for environment %q", envID),
		Err:     err,
	}
}

// NewCircuitOpenError is the fail-fast signal raised without invoking the
// protected call while a breaker is open.
func NewCircuitOpenError(url string, retryAfter time.Duration) *ControlError {
	return &ControlError{
		Class:      ErrorClassTransient,
		Code:       ErrCodeCircuitOpen,
		Message:    fmt.Sprintf("circuit open for %s, retry in %.0fs", url, retryAfter.Seconds()),
		RetryAfter: retryAfter,
	}
}

// NewReconcileTimeoutError reports that concurrent provisioning exceeded the
// overall reconciliation deadline.
func NewReconcileTimeoutError(timeout time.Duration, err error) *ControlError {
	return &ControlError{
		Class: ErrorClassPermanent,
		Code:  ErrCodeReconcileTimeout,
		Message: fmt.Sprintf(
			"reconciliation did not finish within %s; check provider capacity or raise the reconcile timeout", timeout),
		Err: err,
	}
}

// NewRemoteExecutionError surfaces a failed remote function call with the
// callee's error text.
func NewRemoteExecutionError(message string, err error) *ControlError {
	return &ControlError{
		Class:   ErrorClassPermanent,
		Code:    ErrCodeRemoteExecution,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError reports an unknown resource or function.
func NewNotFoundError(message string) *ControlError {
	return &ControlError{
		Class:   ErrorClassPermanent,
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NewValidationError reports invalid input.
func NewValidationError(message string, err error) *ControlError {
	return &ControlError{
		Class:   ErrorClassPermanent,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// IsCircuitOpen reports whether err is the expected circuit-open signal.
func IsCircuitOpen(err error) bool {
	var ce *ControlError
	return errors.As(err, &ce) && ce.Code == ErrCodeCircuitOpen
}

// IsManifestUnavailable reports whether err means the remote manifest store
// could not be reached.
func IsManifestUnavailable(err error) bool {
	var ce *ControlError
	return errors.As(err, &ce) && ce.Code == ErrCodeManifestUnavailable
}

// IsManifestMissing reports whether err means the store holds no manifest
// for the environment. Reconciliation treats this as a first run.
func IsManifestMissing(err error) bool {
	var ce *ControlError
	return errors.As(err, &ce) && ce.Code == ErrCodeManifestMissing
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce.Class == ErrorClassTransient
	}
	return false
}
