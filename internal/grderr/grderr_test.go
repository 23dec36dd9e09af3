package grderr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := WouldBlock("frame queue full for surface %d", 3)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatal("expected errors.Is to match ErrWouldBlock sentinel")
	}
	if errors.Is(err, ErrNeedsKeyframe) {
		t.Fatal("should not match a different kind")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("socket reset")
	err := Wrap(KindFailed, cause, "peek routing token")
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Fatal("expected Unwrap to return the cause")
	}
}

func TestOfExtractsKind(t *testing.T) {
	err := NeedsKeyframe("surface %d has no reference frame", 7)
	if Of(err) != KindNeedsKeyframe {
		t.Fatalf("Of() = %v, want KindNeedsKeyframe", Of(err))
	}
	wrapped := fmt.Errorf("context: %w", err)
	if Of(wrapped) != KindNeedsKeyframe {
		t.Fatal("Of() should see through fmt.Errorf wrapping")
	}
	if Of(errors.New("plain")) != KindUnknown {
		t.Fatal("Of() on a non-grderr error should be KindUnknown")
	}
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	cause := errors.New("ECONNRESET")
	err := Wrap(KindFailed, cause, "read handover socket")
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
}
