package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	base := New(KindConflict, "doctor already booked from %s", "10:00")
	wrapped := fmt.Errorf("create appointment: %w", base)

	if !IsConflict(wrapped) {
		t.Fatalf("expected conflict kind through wrapping, got %s", KindOf(wrapped))
	}
	if IsNotFound(wrapped) {
		t.Fatal("conflict error should not match not_found")
	}
}

func TestKindOf_Foreign(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("expected unknown kind for foreign error, got %s", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Fatalf("expected unknown kind for nil, got %s", got)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUpstream, cause, "identity service lookup failed")

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause should survive errors.Is")
	}
	if !IsUpstream(err) {
		t.Fatalf("expected upstream kind, got %s", KindOf(err))
	}
}
