package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
)

func newTestMemory(t *testing.T, opts ...MemoryOption) (*Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC))
	m := NewMemory(append([]MemoryOption{WithClock(clock), WithPicker(func(int) int { return 0 })}, opts...)...)
	cat := m.AddCategory("Flags")
	m.AddItem(models.Item{CategoryID: cat.ID, Question: "flag-fr.png", Answer: "France"})
	m.AddItem(models.Item{CategoryID: cat.ID, Question: "flag-de.png", Answer: "Germany"})
	return m, clock
}

func join(t *testing.T, m *Memory, code, name string) *JoinRoomResult {
	t.Helper()
	res, err := m.JoinRoom(context.Background(), code, name)
	if err != nil {
		t.Fatalf("join %s as %s: %v", code, name, err)
	}
	return res
}

func TestCreateRoomDefaults(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	res, err := m.CreateRoom(ctx, "ab12", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Code != "AB12" {
		t.Errorf("expected normalised code AB12, got %s", res.Code)
	}
	room, err := m.GetRoomByCode(ctx, "AB12")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.PlayerCount != 0 || room.Capacity != models.DefaultCapacity {
		t.Errorf("unexpected room %+v", room)
	}
	game, err := m.GetGameByRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if game.State != models.GameStateWaiting || game.TargetScore != 10 || game.TimeLimit == nil || *game.TimeLimit != 60 {
		t.Errorf("unexpected game defaults %+v", game)
	}

	if _, err := m.CreateRoom(ctx, "AB12", "bob"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on duplicate code, got %v", err)
	}
	if _, err := m.CreateRoom(ctx, "A!", "bob"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid code error, got %v", err)
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "ROOM", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := join(t, m, "ROOM", "alice")
	second := join(t, m, "room", "alice")
	if first.ParticipantID != second.ParticipantID {
		t.Errorf("rejoin created a second participant: %d vs %d", first.ParticipantID, second.ParticipantID)
	}
	room, _ := m.GetRoomByCode(ctx, "ROOM")
	if room.PlayerCount != 1 {
		t.Errorf("expected player count 1, got %d", room.PlayerCount)
	}

	if _, err := m.JoinRoom(ctx, "NONE", "bob"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	const capacity = 4
	m, _ := newTestMemory(t, WithCapacity(capacity))
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "FULL", "host"); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, name := range []string{"p1", "p2", "p3"} {
		join(t, m, "FULL", name)
	}

	const joiners = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		full     int
	)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.JoinRoom(ctx, "FULL", "late-"+string(rune('a'+i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, apperr.ErrFull):
				full++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if admitted != 1 || full != joiners-1 {
		t.Fatalf("expected 1 admitted and %d full, got %d admitted and %d full", joiners-1, admitted, full)
	}
	room, _ := m.GetRoomByCode(ctx, "FULL")
	if room.PlayerCount != capacity {
		t.Errorf("expected player count %d, got %d", capacity, room.PlayerCount)
	}
}

func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	bus := relay.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	m, _ := newTestMemory(t, WithPublisher(bus))
	ctx := context.Background()

	created, err := m.CreateRoom(ctx, "GONE", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a := join(t, m, "GONE", "alice")
	join(t, m, "GONE", "bob")

	var mu sync.Mutex
	var kinds []models.ChangeKind
	if _, err := bus.Subscribe(ctx, relay.ByID(models.TableRooms, created.RoomID), func(ch models.Change) {
		mu.Lock()
		kinds = append(kinds, ch.Kind)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID}); err != nil {
		t.Fatalf("start round: %v", err)
	}
	if _, err := m.InsertGuess(ctx, InsertGuessRequest{GameID: a.GameID, ParticipantID: a.ParticipantID, Guess: "spain"}); err != nil {
		t.Fatalf("insert guess: %v", err)
	}

	res, err := m.LeaveRoom(ctx, "GONE", "alice")
	if err != nil || !res.Success || res.RoomDeleted {
		t.Fatalf("first leave: %+v, %v", res, err)
	}
	guesses, _ := m.ListGuesses(ctx, a.GameID, 0)
	if len(guesses) != 0 {
		t.Errorf("expected guesses of the leaver removed, got %d", len(guesses))
	}

	res, err = m.LeaveRoom(ctx, "GONE", "carol")
	if err != nil || res.Success {
		t.Errorf("leaving as a stranger should report no success without error: %+v, %v", res, err)
	}

	res, err = m.LeaveRoom(ctx, "GONE", "bob")
	if err != nil || !res.RoomDeleted {
		t.Fatalf("last leave: %+v, %v", res, err)
	}
	if _, err := m.GetRoomByCode(ctx, "GONE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected room deleted, got %v", err)
	}
	if _, err := m.GetGame(ctx, a.GameID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected game deleted, got %v", err)
	}
	if _, err := m.LeaveRoom(ctx, "GONE", "bob"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found leaving a deleted room, got %v", err)
	}

	bus.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != models.ChangeUpdate || kinds[1] != models.ChangeDelete {
		t.Errorf("expected room update then delete, got %v", kinds)
	}
}

func TestStartNewRoundHonoursExpectedStart(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "RND1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a := join(t, m, "RND1", "alice")

	first, err := m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID})
	if err != nil || !first.Advanced {
		t.Fatalf("first round: %+v, %v", first, err)
	}

	clock.Advance(61 * time.Second)
	stale := first.RoundStartTime.Add(-time.Second)
	cur, err := m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID, ExpectedRoundStart: &stale})
	if err != nil {
		t.Fatalf("stale advance: %v", err)
	}
	if cur.Advanced || !cur.RoundStartTime.Equal(first.RoundStartTime) {
		t.Errorf("stale advance should return the current round, got %+v", cur)
	}

	next, err := m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID, ExpectedRoundStart: &first.RoundStartTime})
	if err != nil || !next.Advanced {
		t.Fatalf("advance: %+v, %v", next, err)
	}
	if !next.RoundStartTime.After(first.RoundStartTime) {
		t.Errorf("expected a later round start")
	}
	game, _ := m.GetGame(ctx, a.GameID)
	if game.State != models.GameStateInProgress || game.Version != 3 {
		t.Errorf("unexpected game after two rounds: state %s version %d", game.State, game.Version)
	}
}

func TestStartNewRoundWithoutItems(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "EMPT", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a := join(t, m, "EMPT", "alice")
	if _, err := m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found without items, got %v", err)
	}
}

func TestFinishGamePicksFirstToTarget(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "WIN1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a := join(t, m, "WIN1", "alice")
	b := join(t, m, "WIN1", "bob")
	if _, err := m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := m.FinishGame(ctx, a.GameID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict with nobody at target, got %v", err)
	}

	if _, err := m.IncrementScore(ctx, b.ParticipantID, 10); err != nil {
		t.Fatalf("score bob: %v", err)
	}
	if _, err := m.IncrementScore(ctx, a.ParticipantID, 20); err != nil {
		t.Fatalf("score alice: %v", err)
	}
	if _, err := m.IncrementScore(ctx, a.ParticipantID, 0); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid zero increment, got %v", err)
	}

	game, err := m.FinishGame(ctx, a.GameID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if game.WinnerID == nil || *game.WinnerID != b.ParticipantID {
		t.Errorf("expected bob to win by reaching the target first, got %v", game.WinnerID)
	}
	if !game.HasRound() {
		t.Errorf("finishing should keep the last round")
	}

	again, err := m.FinishGame(ctx, a.GameID)
	if err != nil || again.Version != game.Version {
		t.Errorf("second finish should be a no-op: %+v, %v", again, err)
	}
	if _, err := m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID}); !errors.Is(err, apperr.ErrLocked) {
		t.Errorf("expected locked round start on finished game, got %v", err)
	}
}

func TestResetGameRequiresLeaderAndFinished(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "RST1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a := join(t, m, "RST1", "alice")
	clock.Advance(time.Second)
	b := join(t, m, "RST1", "bob")

	if _, err := m.ResetGame(ctx, a.GameID, a.ParticipantID); !errors.Is(err, apperr.ErrLocked) {
		t.Errorf("expected locked reset while waiting, got %v", err)
	}

	_, _ = m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID})
	_, _ = m.IncrementScore(ctx, a.ParticipantID, 10)
	if _, err := m.FinishGame(ctx, a.GameID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if _, err := m.ResetGame(ctx, a.GameID, b.ParticipantID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden reset by non-leader, got %v", err)
	}
	game, err := m.ResetGame(ctx, a.GameID, a.ParticipantID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if game.State != models.GameStateWaiting || game.HasRound() || game.WinnerID != nil {
		t.Errorf("unexpected reset game %+v", game)
	}
	roster, _ := m.ListParticipants(ctx, a.GameID)
	for _, p := range roster {
		if p.Score != 0 || p.ScoreSeq != nil {
			t.Errorf("expected scores cleared, got %+v", p)
		}
	}
}

func TestUpdateGameSettings(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "SET1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a := join(t, m, "SET1", "alice")
	clock.Advance(time.Second)
	b := join(t, m, "SET1", "bob")
	cats, _ := m.ListCategories(ctx)

	target, zero := 15, 0
	game, err := m.UpdateGameSettings(ctx, a.GameID, a.ParticipantID, models.SettingsPatch{
		CategoryID:  &cats[0].ID,
		TargetScore: &target,
		TimeLimit:   &zero,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if game.TargetScore != 15 || game.TimeLimit != nil || game.CategoryID == nil {
		t.Errorf("unexpected settings %+v", game.Settings())
	}

	if _, err := m.UpdateGameSettings(ctx, a.GameID, b.ParticipantID, models.SettingsPatch{TargetScore: &target}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden for non-leader, got %v", err)
	}
	missing := int64(999)
	if _, err := m.UpdateGameSettings(ctx, a.GameID, a.ParticipantID, models.SettingsPatch{CategoryID: &missing}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found category, got %v", err)
	}
	bad := 0
	if _, err := m.UpdateGameSettings(ctx, a.GameID, a.ParticipantID, models.SettingsPatch{TargetScore: &bad}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid target, got %v", err)
	}

	_, _ = m.StartNewRound(ctx, StartRoundRequest{GameID: a.GameID})
	if _, err := m.UpdateGameSettings(ctx, a.GameID, a.ParticipantID, models.SettingsPatch{TargetScore: &target}); !errors.Is(err, apperr.ErrLocked) {
		t.Errorf("expected locked settings in progress, got %v", err)
	}
}

func TestListRoomsNewestFirst(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()
	for _, code := range []string{"AAAA", "BBBB", "CCCC"} {
		if _, err := m.CreateRoom(ctx, code, "host"); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
		clock.Advance(time.Minute)
	}

	rooms, err := m.ListRooms(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Code != "CCCC" || rooms[1].Code != "BBBB" {
		t.Errorf("unexpected rooms %+v", rooms)
	}
	if rooms[0].State != models.GameStateWaiting {
		t.Errorf("expected waiting state in summary, got %s", rooms[0].State)
	}
}

func TestListGuessesReturnsLatestAscending(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()
	if _, err := m.CreateRoom(ctx, "GUES", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	a := join(t, m, "GUES", "alice")
	for _, g := range []string{"one", "two", "three"} {
		clock.Advance(time.Second)
		if _, err := m.InsertGuess(ctx, InsertGuessRequest{GameID: a.GameID, ParticipantID: a.ParticipantID, Guess: g}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	guesses, _ := m.ListGuesses(ctx, a.GameID, 2)
	if len(guesses) != 2 || guesses[0].Guess != "two" || guesses[1].Guess != "three" {
		t.Errorf("unexpected guesses %+v", guesses)
	}

	if _, err := m.InsertGuess(ctx, InsertGuessRequest{GameID: a.GameID + 100, ParticipantID: a.ParticipantID}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for foreign game, got %v", err)
	}
}

func TestPurgeIdleRoomsKeepsOccupiedAndFreshRooms(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	for _, code := range []string{"IDLE", "BUSY"} {
		if _, err := m.CreateRoom(ctx, code, "alice"); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}
	join(t, m, "BUSY", "alice")
	clock.Advance(10 * time.Minute)
	if _, err := m.CreateRoom(ctx, "NEW1", "bob"); err != nil {
		t.Fatalf("create NEW1: %v", err)
	}

	n, err := m.PurgeIdleRooms(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 room purged, got %d", n)
	}
	if _, err := m.GetRoomByCode(ctx, "IDLE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected IDLE to be gone, got %v", err)
	}
	for _, code := range []string{"BUSY", "NEW1"} {
		if _, err := m.GetRoomByCode(ctx, code); err != nil {
			t.Errorf("expected %s to survive: %v", code, err)
		}
	}
}
