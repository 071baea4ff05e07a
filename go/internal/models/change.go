package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names carried by change events.
const (
	TableRooms       = "rooms"
	TableGames       = "games"
	TableGamePlayers = "game_players"
	TableUserGuesses = "user_guesses"
)

// ChangeKind is the row operation behind a change event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is a row-level change notification. Before is empty for inserts,
// After is empty for deletes.
type Change struct {
	ID          uuid.UUID       `json:"id"`
	Table       string          `json:"table"`
	Kind        ChangeKind      `json:"kind"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Record returns the row image that identifies the changed record:
// After for inserts and updates, Before for deletes.
func (c Change) Record() json.RawMessage {
	if c.Kind == ChangeDelete || len(c.After) == 0 {
		return c.Before
	}
	return c.After
}

// Decode unmarshals the identifying row image into v.
func (c Change) Decode(v any) error {
	rec := c.Record()
	if len(rec) == 0 {
		return fmt.Errorf("change %s on %s has no row image", c.ID, c.Table)
	}
	if err := json.Unmarshal(rec, v); err != nil {
		return fmt.Errorf("decode %s row: %w", c.Table, err)
	}
	return nil
}

// NewChange builds a change event from Go row values.
func NewChange(table string, kind ChangeKind, before, after any, at time.Time) (Change, error) {
	ch := Change{
		ID:          uuid.New(),
		Table:       table,
		Kind:        kind,
		CommittedAt: at,
	}
	if before != nil {
		b, err := json.Marshal(before)
		if err != nil {
			return Change{}, fmt.Errorf("marshal before image: %w", err)
		}
		ch.Before = b
	}
	if after != nil {
		a, err := json.Marshal(after)
		if err != nil {
			return Change{}, fmt.Errorf("marshal after image: %w", err)
		}
		ch.After = a
	}
	return ch, nil
}
