package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/trivia/go/internal/models"
)

func mustChange(t *testing.T, table string, kind models.ChangeKind, before, after any) models.Change {
	t.Helper()
	ch, err := models.NewChange(table, kind, before, after, time.Now())
	if err != nil {
		t.Fatalf("build change: %v", err)
	}
	return ch
}

type recorder struct {
	mu      sync.Mutex
	changes []models.Change
}

func (r *recorder) add(ch models.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
}

func (r *recorder) all() []models.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Change(nil), r.changes...)
}

func TestBusDeliversMatchingChangesInOrder(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	var rec recorder
	if _, err := bus.Subscribe(ctx, ByID(models.TableGames, 7), rec.add); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for v := int64(1); v <= 5; v++ {
		g := models.Game{ID: 7, RoomID: 1, Version: v}
		if err := bus.Publish(ctx, mustChange(t, models.TableGames, models.ChangeUpdate, nil, g)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	other := models.Game{ID: 8, RoomID: 1}
	_ = bus.Publish(ctx, mustChange(t, models.TableGames, models.ChangeUpdate, nil, other))
	bus.Wait()

	got := rec.all()
	if len(got) != 5 {
		t.Fatalf("expected 5 changes, got %d", len(got))
	}
	for i, ch := range got {
		var g models.Game
		if err := ch.Decode(&g); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if g.Version != int64(i+1) {
			t.Fatalf("expected version %d at %d, got %d", i+1, i, g.Version)
		}
	}
}

func TestBusDeleteMatchesOnBeforeImage(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	var rec recorder
	if _, err := bus.Subscribe(ctx, ByGame(models.TableGamePlayers, 3), rec.add); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	p := models.Participant{ID: 11, GameID: 3, Username: "ada"}
	_ = bus.Publish(ctx, mustChange(t, models.TableGamePlayers, models.ChangeDelete, p, nil))
	bus.Wait()

	got := rec.all()
	if len(got) != 1 || got[0].Kind != models.ChangeDelete {
		t.Fatalf("expected one delete, got %#v", got)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	var rec recorder
	h, err := bus.Subscribe(ctx, Filter{Table: models.TableRooms, Column: "code", Value: "ABCD"}, rec.add)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	room := models.Room{ID: 1, Code: "ABCD", PlayerCount: 1, Capacity: 8}
	_ = bus.Publish(ctx, mustChange(t, models.TableRooms, models.ChangeInsert, nil, room))
	bus.Wait()

	if err := bus.Unsubscribe(h); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	_ = bus.Publish(ctx, mustChange(t, models.TableRooms, models.ChangeUpdate, room, room))
	bus.Wait()

	if n := len(rec.all()); n != 1 {
		t.Fatalf("expected 1 change before unsubscribe, got %d", n)
	}
	if err := bus.Unsubscribe(h); err == nil {
		t.Fatalf("expected error on second unsubscribe")
	}
	if bus.Subscriptions() != 0 {
		t.Fatalf("expected no subscriptions, got %d", bus.Subscriptions())
	}
}

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{"game id", ByID(models.TableGames, 4), false},
		{"roster", ByGame(models.TableGamePlayers, 4), false},
		{"room code", Filter{Table: models.TableRooms, Column: "code", Value: "AB12"}, false},
		{"unknown table", Filter{Table: "items", Column: "id", Value: "1"}, true},
		{"unknown column", Filter{Table: models.TableGames, Column: "state", Value: "waiting"}, true},
		{"empty value", Filter{Table: models.TableGames, Column: "id"}, true},
		{"wildcard", Filter{Table: models.TableGames, Column: "id", Value: ">"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestScopeValue(t *testing.T) {
	room := models.Room{ID: 42, Code: "WXYZ"}
	ch := mustChange(t, models.TableRooms, models.ChangeInsert, nil, room)

	if v, ok := ScopeValue(ch, "id"); !ok || v != "42" {
		t.Fatalf("expected id 42, got %q (%v)", v, ok)
	}
	if v, ok := ScopeValue(ch, "code"); !ok || v != "WXYZ" {
		t.Fatalf("expected code WXYZ, got %q (%v)", v, ok)
	}
	if _, ok := ScopeValue(ch, "missing"); ok {
		t.Fatalf("expected missing column to report false")
	}
}
