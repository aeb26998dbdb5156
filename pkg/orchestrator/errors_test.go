package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	throttled := NewThrottledError("rate exceeded", nil)
	conflict := NewConflictError("already exists", nil)
	permanent := NewPermanentError("access denied", nil)

	if !IsThrottled(throttled) || IsThrottled(conflict) || IsThrottled(permanent) {
		t.Error("IsThrottled misclassified")
	}
	if !IsConflict(conflict) || IsConflict(throttled) {
		t.Error("IsConflict misclassified")
	}
	if !IsPermanent(permanent) || IsPermanent(throttled) {
		t.Error("IsPermanent misclassified")
	}
}

func TestIsRetryableOnlyThrottled(t *testing.T) {
	cases := map[error]bool{
		NewThrottledError("rate exceeded", nil): true,
		NewConflictError("already exists", nil): false,
		NewPermanentError("access denied", nil): false,
		errors.New("plain error"):               false,
		nil:                                     false,
	}
	for err, want := range cases {
		if got := IsRetryable(err); got != want {
			t.Errorf("IsRetryable(%v) = %v, want %v", err, got, want)
		}
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := NewThrottledError("rate exceeded", nil)
	wrapped := fmt.Errorf("assuming role: %w", inner)

	if !IsThrottled(wrapped) {
		t.Error("wrapped throttled error lost its classification")
	}
	if !IsRetryable(wrapped) {
		t.Error("wrapped throttled error not retryable")
	}
	if ErrorClassOf(wrapped) != ErrorClassThrottled {
		t.Errorf("ErrorClassOf(wrapped) = %s", ErrorClassOf(wrapped))
	}
}

func TestErrorClassOfUnclassified(t *testing.T) {
	if got := ErrorClassOf(errors.New("plain")); got != ErrorClassPermanent {
		t.Errorf("expected permanent for unclassified error, got %s", got)
	}
}

func TestDeployErrorContext(t *testing.T) {
	err := NewPermanentError("create failed", errors.New("boom")).
		WithAccount("123456789012").
		WithOperation("iam.CreateRole").
		WithCode(ErrCodePermissionDenied)

	msg := err.Error()
	for _, part := range []string{"permanent", "create failed", "123456789012", "iam.CreateRole", "boom"} {
		if !strings.Contains(msg, part) {
			t.Errorf("error message missing %q: %s", part, msg)
		}
	}
	if err.Code != ErrCodePermissionDenied {
		t.Errorf("unexpected code %s", err.Code)
	}
}

func TestDeployErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewThrottledError("rate exceeded", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the underlying cause")
	}
}
