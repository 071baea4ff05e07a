// Package relay carries row-level change notifications from the backend to
// subscribed game clients.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mcdev12/trivia/go/internal/models"
)

// Handle identifies a subscription.
type Handle string

// Relay delivers changes matching a filter, at least once and in best-effort
// order. Callbacks may run on any goroutine.
type Relay interface {
	Subscribe(ctx context.Context, filter Filter, onChange func(models.Change)) (Handle, error)
	Unsubscribe(handle Handle) error
}

// Publisher is the capture side of a relay.
type Publisher interface {
	Publish(ctx context.Context, change models.Change) error
}

// Filter selects changes of one table whose column equals a value.
type Filter struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// ScopeColumns lists the filterable columns per table.
var ScopeColumns = map[string][]string{
	models.TableRooms:       {"id", "code"},
	models.TableGames:       {"id", "room_id"},
	models.TableGamePlayers: {"id", "game_id"},
	models.TableUserGuesses: {"game_id", "participant_id"},
}

// ByID filters a table on its primary key.
func ByID(table string, id int64) Filter {
	return Filter{Table: table, Column: "id", Value: strconv.FormatInt(id, 10)}
}

// ByGame filters a child table on game_id.
func ByGame(table string, gameID int64) Filter {
	return Filter{Table: table, Column: "game_id", Value: strconv.FormatInt(gameID, 10)}
}

// Key renders the filter as table:column=value.
func (f Filter) Key() string {
	return fmt.Sprintf("%s:%s=%s", f.Table, f.Column, f.Value)
}

// Validate checks the filter against the known scope columns. Values are
// restricted to subject-safe tokens.
func (f Filter) Validate() error {
	cols, ok := ScopeColumns[f.Table]
	if !ok {
		return fmt.Errorf("unknown table %q", f.Table)
	}
	found := false
	for _, c := range cols {
		if c == f.Column {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("column %q is not filterable on %s", f.Column, f.Table)
	}
	if f.Value == "" {
		return fmt.Errorf("filter value is required")
	}
	for _, r := range f.Value {
		if !isTokenRune(r) {
			return fmt.Errorf("filter value %q contains unsupported characters", f.Value)
		}
	}
	return nil
}

// Matches reports whether change falls under the filter.
func (f Filter) Matches(change models.Change) bool {
	if change.Table != f.Table {
		return false
	}
	v, ok := ScopeValue(change, f.Column)
	return ok && v == f.Value
}

// ScopeValue extracts a column of the identifying row image as text.
func ScopeValue(change models.Change, column string) (string, bool) {
	rec := change.Record()
	if len(rec) == 0 {
		return "", false
	}
	var row map[string]json.RawMessage
	if err := json.Unmarshal(rec, &row); err != nil {
		return "", false
	}
	raw, ok := row[column]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return strings.TrimSpace(string(raw)), true
}

func isTokenRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-'
}
