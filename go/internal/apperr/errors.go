// Package apperr defines the error kinds shared by the room, session and
// round components, and the backends that serve them.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a room, game or participant lookup misses.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on a room code collision.
	ErrConflict = errors.New("conflict")
	// ErrFull is returned when a room has no free seat.
	ErrFull = errors.New("room is full")
	// ErrForbidden is returned when a non-leader attempts a leader-gated action.
	ErrForbidden = errors.New("forbidden")
	// ErrLocked is returned when settings change outside the waiting state.
	ErrLocked = errors.New("locked")
	// ErrUnavailable is returned when a backend call fails transiently.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrIncomplete is returned when a backend call succeeds with a partial result.
	ErrIncomplete = errors.New("incomplete backend response")
	// ErrSessionUnresolvable is returned when a session cannot be entered.
	ErrSessionUnresolvable = errors.New("session unresolvable")
	// ErrInvalid is returned by local validation before any backend call.
	ErrInvalid = errors.New("invalid input")
)

// Kind names an error class for logs and transport mapping.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindFull                Kind = "full"
	KindForbidden           Kind = "forbidden"
	KindLocked              Kind = "locked"
	KindUnavailable         Kind = "unavailable"
	KindIncomplete          Kind = "incomplete"
	KindSessionUnresolvable Kind = "session_unresolvable"
	KindInvalid             Kind = "invalid"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrSessionUnresolvable, KindSessionUnresolvable},
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrFull, KindFull},
	{ErrForbidden, KindForbidden},
	{ErrLocked, KindLocked},
	{ErrUnavailable, KindUnavailable},
	{ErrIncomplete, KindIncomplete},
	{ErrInvalid, KindInvalid},
}

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Sentinel returns the sentinel error for a kind, nil for unknown kinds.
func Sentinel(kind Kind) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}

// New wraps a sentinel with a formatted message.
func New(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// Invalid is shorthand for a local validation failure.
func Invalid(format string, args ...any) error {
	return New(ErrInvalid, format, args...)
}

// Unavailable wraps a transport or driver failure.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
