package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{KindConflict, http.StatusConflict},
		{KindTooManyJobs, http.StatusTooManyRequests},
		{KindOrchestratorUnavailable, http.StatusServiceUnavailable},
		{KindInternal, http.StatusInternalServerError},
		{Kind("unknown"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.kind.Status(); got != tt.want {
			t.Errorf("Kind(%q).Status() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindOfAndMessageOf(t *testing.T) {
	err := New(KindNotFound, "job not found")
	if got := KindOf(err); got != KindNotFound {
		t.Errorf("KindOf() = %q, want %q", got, KindNotFound)
	}
	if got := MessageOf(err); got != "job not found" {
		t.Errorf("MessageOf() = %q, want %q", got, "job not found")
	}

	plain := errors.New("boom")
	if got := KindOf(plain); got != KindInternal {
		t.Errorf("KindOf(plain error) = %q, want %q", got, KindInternal)
	}
	if got := MessageOf(plain); got != "boom" {
		t.Errorf("MessageOf(plain error) = %q, want %q", got, "boom")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	wrapped := Wrap(KindInternal, cause, "operation failed")

	if !errors.Is(wrapped, cause) {
		t.Error("Wrap() should preserve the cause for errors.Is")
	}
	if got := MessageOf(wrapped); got != "operation failed" {
		t.Errorf("MessageOf(wrapped) = %q, want %q", got, "operation failed")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(KindTooManyJobs, "too many jobs (%d/%d)", 3, 2)
	if got, want := err.Message, "too many jobs (3/2)"; got != want {
		t.Errorf("Newf message = %q, want %q", got, want)
	}
}
