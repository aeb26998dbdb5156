// Package orchestrator contains the deployment queue, its retry policy, and
// the classified error model shared by the cloud adapters and provisioners.
// Exactly one deployment is in flight at any time; everything that touches a
// target account goes through the retry executor.
package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// idempotence handling.
type ErrorClass string

const (
	// ErrorClassThrottled indicates a transient rate-limit rejection from the
	// cloud API. The only class the retry executor retries.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource-state mismatch, such as a role
	// that already exists on create or is missing on delete. Handled by the
	// provisioners' idempotent fallbacks, never retried.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: authorization failure, malformed policy document.
	ErrorClassPermanent ErrorClass = "permanent"
)

// DeployError is a classified error carrying deployment context. Cloud
// adapters set the class when translating SDK errors so that retry policy
// never depends on matching error strings.
type DeployError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Account is the target account identifier, if applicable.
	Account string `json:"account,omitempty"`

	// Operation is the cloud operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	if e.Account != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (account=%s, operation=%s): %s",
			e.Class, e.Message, e.Account, e.Operation, e.unwrapMessage())
	}
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation=%s): %s",
			e.Class, e.Message, e.Operation, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeployError) Unwrap() error {
	return e.Err
}

func (e *DeployError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithAccount adds target account context to an error.
func (e *DeployError) WithAccount(account string) *DeployError {
	e.Account = account
	return e
}

// WithOperation adds operation context to an error.
func (e *DeployError) WithOperation(operation string) *DeployError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *DeployError) WithCode(code string) *DeployError {
	e.Code = code
	return e
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried. Only throttling is
// retryable; conflicts are resolved by the provisioners and everything else
// propagates immediately.
func IsRetryable(err error) bool {
	return IsThrottled(err)
}

// ErrorClassOf returns the classification of an error, or ErrorClassPermanent
// for unclassified errors.
func ErrorClassOf(err error) ErrorClass {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// Common error codes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
