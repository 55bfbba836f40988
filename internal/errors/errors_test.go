package errors

import (
	stderrors "errors"
	"testing"

	"execution-core/internal/schema"
)

func TestWrap(t *testing.T) {
	base := New("boom")
	wrapped := Wrap(base, "submit order")

	if got := wrapped.Error(); got != "submit order, err: boom" {
		t.Fatalf("Error() = %q", got)
	}
	if !stderrors.Is(wrapped, base) {
		t.Fatal("wrapped error lost its cause")
	}
	if Wrap(nil, "anything") != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
	if Wrap(base, "") != base {
		t.Fatal("Wrap with empty text must return the cause unchanged")
	}
}

func TestWithReason(t *testing.T) {
	base := New("venue timed out")
	err := WithReason(base, schema.ReasonAdapterTimeout)

	code, ok := ReasonOf(err)
	if !ok || code != schema.ReasonAdapterTimeout {
		t.Fatalf("ReasonOf = %q, %v", code, ok)
	}
	if !stderrors.Is(err, base) {
		t.Fatal("reason error lost its cause")
	}

	// The reason survives further wrapping.
	code, ok = ReasonOf(Wrap(err, "dispatch"))
	if !ok || code != schema.ReasonAdapterTimeout {
		t.Fatalf("ReasonOf after wrap = %q, %v", code, ok)
	}

	if WithReason(nil, schema.ReasonAdapterTimeout) != nil {
		t.Fatal("WithReason(nil) must be nil")
	}
	if _, ok := ReasonOf(base); ok {
		t.Fatal("bare error must carry no reason")
	}
}
