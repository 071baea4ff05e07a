package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindUnknown},
		{"wrapped full", fmt.Errorf("join ABCD: %w", ErrFull), KindFull},
		{"new", New(ErrLocked, "game %d", 4), KindLocked},
		{"invalid", Invalid("empty guess"), KindInvalid},
		{"session wraps not found", fmt.Errorf("%w: %w", ErrSessionUnresolvable, ErrNotFound), KindSessionUnresolvable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestUnavailableKeepsKnownKinds(t *testing.T) {
	err := Unavailable("join_room", ErrFull)
	if !errors.Is(err, ErrFull) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected known kind to pass through, got %v", err)
	}

	cause := errors.New("connection refused")
	err = Unavailable("join_room", cause)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected unavailable wrapping cause, got %v", err)
	}
	if Unavailable("noop", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestSentinelRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindNotFound, KindConflict, KindFull, KindForbidden, KindLocked, KindUnavailable, KindIncomplete, KindInvalid} {
		if got := KindOf(Sentinel(k)); got != k {
			t.Fatalf("expected %q, got %q", k, got)
		}
	}
	if Sentinel(KindUnknown) != nil {
		t.Fatalf("expected nil sentinel for unknown kind")
	}
}
