package cloud

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/grantline/grantline/pkg/orchestrator"
)

// throttlingCodes are the AWS error codes treated as throttling signals.
var throttlingCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"TooManyRequestsException": true,
	"RequestLimitExceeded":     true,
	"SlowDown":                 true,
}

// notFoundCodes map to the conflict class with a NOT_FOUND code, which the
// provisioners resolve via idempotent fallbacks.
var notFoundCodes = map[string]bool{
	"NoSuchEntity":              true,
	"NoSuchEntityException":     true,
	"ResourceNotFoundException": true,
}

// alreadyExistsCodes map to the conflict class with an ALREADY_EXISTS code.
var alreadyExistsCodes = map[string]bool{
	"EntityAlreadyExists":          true,
	"EntityAlreadyExistsException": true,
	"ConflictException":            true,
}

// accessDeniedCodes map to the permanent class; authorization failures are
// fatal for the deployment.
var accessDeniedCodes = map[string]bool{
	"AccessDenied":          true,
	"AccessDeniedException": true,
	"UnauthorizedOperation": true,
}

// Classify translates an AWS SDK error into a classified DeployError so that
// retry policy and idempotence handling never depend on string matching
// outside this adapter. A nil error returns nil; an already-classified error
// passes through unchanged.
func Classify(operation string, err error) error {
	if err == nil {
		return nil
	}

	var classified *orchestrator.DeployError
	if errors.As(err, &classified) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()

		switch {
		case throttlingCodes[code]:
			return orchestrator.NewThrottledError("cloud API throttled the request", err).
				WithOperation(operation).
				WithCode(orchestrator.ErrCodeRateLimited)
		case notFoundCodes[code]:
			return orchestrator.NewConflictError("resource does not exist", err).
				WithOperation(operation).
				WithCode(orchestrator.ErrCodeNotFound)
		case alreadyExistsCodes[code]:
			return orchestrator.NewConflictError("resource already exists", err).
				WithOperation(operation).
				WithCode(orchestrator.ErrCodeAlreadyExists)
		case accessDeniedCodes[code]:
			return orchestrator.NewPermanentError("access denied", err).
				WithOperation(operation).
				WithCode(orchestrator.ErrCodePermissionDenied)
		}

		// Some services report throttling only in the message body.
		if strings.Contains(apiErr.ErrorMessage(), "Rate exceeded") {
			return orchestrator.NewThrottledError("cloud API throttled the request", err).
				WithOperation(operation).
				WithCode(orchestrator.ErrCodeRateLimited)
		}
	}

	return orchestrator.NewPermanentError("cloud API call failed", err).
		WithOperation(operation)
}

// IsNotFound reports whether err is a classified not-found conflict.
func IsNotFound(err error) bool {
	var e *orchestrator.DeployError
	if errors.As(err, &e) {
		return e.Class == orchestrator.ErrorClassConflict && e.Code == orchestrator.ErrCodeNotFound
	}
	return false
}

// IsAlreadyExists reports whether err is a classified already-exists conflict.
func IsAlreadyExists(err error) bool {
	var e *orchestrator.DeployError
	if errors.As(err, &e) {
		return e.Class == orchestrator.ErrorClassConflict && e.Code == orchestrator.ErrCodeAlreadyExists
	}
	return false
}
