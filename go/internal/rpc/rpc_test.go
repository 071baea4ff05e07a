package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
)

func newTestClient(t *testing.T) (*Client, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory(backend.WithCapacity(2))
	cat := mem.AddCategory("Flags")
	mem.AddItem(models.Item{CategoryID: cat.ID, Question: "flag-fr.png", Answer: `["France"]`})

	path, handler := NewHandler(NewService(mem))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL), mem
}

func TestRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	created, err := client.CreateRoom(ctx, "WXYZ", "ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Code != "WXYZ" || created.GameID == 0 {
		t.Fatalf("unexpected create result %+v", created)
	}

	joined, err := client.JoinRoom(ctx, "WXYZ", "ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.GameID != created.GameID {
		t.Errorf("expected game %d, got %d", created.GameID, joined.GameID)
	}

	ps, err := client.ListParticipants(ctx, created.GameID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(ps) != 1 || ps[0].Username != "ana" {
		t.Fatalf("expected ana alone, got %+v", ps)
	}

	target := 30
	game, err := client.UpdateGameSettings(ctx, created.GameID, joined.ParticipantID, models.SettingsPatch{TargetScore: &target})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if game.TargetScore != 30 {
		t.Errorf("expected target 30, got %d", game.TargetScore)
	}

	round, err := client.StartNewRound(ctx, backend.StartRoundRequest{GameID: created.GameID})
	if err != nil {
		t.Fatalf("start round: %v", err)
	}
	if round.Item.Question != "flag-fr.png" || !round.Advanced {
		t.Errorf("unexpected round %+v", round)
	}

	guess, err := client.InsertGuess(ctx, backend.InsertGuessRequest{
		GameID:        created.GameID,
		ItemID:        round.Item.ID,
		ParticipantID: joined.ParticipantID,
		Guess:         "france",
		IsCorrect:     true,
	})
	if err != nil {
		t.Fatalf("insert guess: %v", err)
	}
	guesses, err := client.ListGuesses(ctx, created.GameID, 10)
	if err != nil {
		t.Fatalf("list guesses: %v", err)
	}
	if len(guesses) != 1 || guesses[0].ID != guess.ID {
		t.Errorf("expected the inserted guess, got %+v", guesses)
	}

	score, err := client.IncrementScore(ctx, joined.ParticipantID, 10)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if score.NewScore != 10 {
		t.Errorf("expected score 10, got %d", score.NewScore)
	}

	rooms, err := client.ListRooms(ctx, 0)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].State != models.GameStateInProgress {
		t.Errorf("unexpected rooms %+v", rooms)
	}

	left, err := client.LeaveRoom(ctx, "WXYZ", "ana")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !left.RoomDeleted {
		t.Errorf("expected the room to be deleted, got %+v", left)
	}
}

func TestErrorKindsSurviveTransport(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := client.GetRoomByCode(ctx, "NONE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := client.CreateRoom(ctx, "DUPE", "ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.CreateRoom(ctx, "DUPE", "ben"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	for _, name := range []string{"ana", "ben"} {
		if _, err := client.JoinRoom(ctx, "DUPE", name); err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
	}
	if _, err := client.JoinRoom(ctx, "DUPE", "cy"); !errors.Is(err, apperr.ErrFull) {
		t.Errorf("expected full, got %v", err)
	}

	room, _ := client.GetRoomByCode(ctx, "DUPE")
	game, err := client.GetGameByRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("game: %v", err)
	}
	if _, err := client.FinishGame(ctx, game.ID); !errors.Is(err, apperr.ErrLocked) {
		t.Errorf("expected locked, got %v", err)
	}
}

func TestUnknownErrorIsUnavailable(t *testing.T) {
	err := fromConnectError("get game", errors.New("connection reset"))
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
