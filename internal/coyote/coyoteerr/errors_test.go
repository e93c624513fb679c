package coyoteerr

import (
	"errors"
	"testing"
)

func TestErrorIncludesCategoryAndCode(t *testing.T) {
	err := SafetyAssertion("flag was true", nil)
	msg := err.Error()
	if want := "[SAFETY:ASSERTION_FAILED]"; !contains(msg, want) {
		t.Fatalf("error message %q missing %q", msg, want)
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CategoryInternal, "WRAPPED", "something failed", cause, nil)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is must find the wrapped cause")
	}
	if want := "boom"; !contains(err.Error(), want) {
		t.Fatalf("error message %q must mention the cause", err.Error())
	}
}

func TestDeadlockCarriesBlockedOps(t *testing.T) {
	err := Deadlock([]uint64{1, 2, 3})
	if err.Category != CategoryDeadlock {
		t.Fatalf("got category %s, want %s", err.Category, CategoryDeadlock)
	}
	ops, ok := err.Context["blocked_ops"].([]uint64)
	if !ok || len(ops) != 3 {
		t.Fatalf("expected blocked_ops context with 3 entries, got %v", err.Context["blocked_ops"])
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
