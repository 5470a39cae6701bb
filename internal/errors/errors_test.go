package errors

import (
	stderrors "errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	e := ValidationError("bad input")
	if e.Error() != "bad input" {
		t.Errorf("Error() = %q, want %q", e.Error(), "bad input")
	}

	wrapped := DependencyError(stderrors.New("boom"), "store write failed")
	if wrapped.Error() != "store write failed: boom" {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), "store write failed: boom")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindInternal, SeverityLow, "unused") != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	e := DependencyError(cause, "wrapping")
	if !stderrors.Is(e, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestIsMatchesByKind(t *testing.T) {
	a := ValidationError("a")
	b := ValidationErrorf("b %d", 1)
	if !a.Is(b) {
		t.Error("two validation errors should match via Is")
	}

	c := NotFoundError("c")
	if a.Is(c) {
		t.Error("a validation error should not match a not-found error")
	}
}

func TestRetryable(t *testing.T) {
	if !DependencyError(stderrors.New("x"), "y").Retryable() {
		t.Error("dependency errors should be retryable")
	}
	if !ConflictError("conflict").Retryable() {
		t.Error("conflict errors should be retryable")
	}
	if ValidationError("bad").Retryable() {
		t.Error("validation errors should not be retryable")
	}
}

func TestGetKind(t *testing.T) {
	if GetKind(nil) != KindInternal {
		t.Error("GetKind(nil) should be KindInternal")
	}
	if GetKind(NotFoundError("x")) != KindNotFound {
		t.Error("GetKind should report the error's own kind")
	}
	if GetKind(stderrors.New("plain")) != KindInternal {
		t.Error("GetKind on a non-*Error should default to KindInternal")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) should be false")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("IsRetryable on a non-*Error should be false")
	}
	if !IsRetryable(ConflictError("x")) {
		t.Error("IsRetryable should delegate to Retryable for *Error")
	}
}

func TestWithContext(t *testing.T) {
	e := InternalError("oops").WithContext("memory_id", "m1")
	if e.Context["memory_id"] != "m1" {
		t.Error("WithContext should attach the key/value pair")
	}
}
