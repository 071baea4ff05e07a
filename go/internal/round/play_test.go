package round

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/models"
)

func startedGame(t *testing.T, f *fixture, leader *Controller) {
	t.Helper()
	if _, err := leader.StartGame(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.bus.Wait()
}

func raiseTarget(t *testing.T, f *fixture, leader *Controller, target int) {
	t.Helper()
	g := leader.session.Game()
	if _, err := f.mem.UpdateGameSettings(context.Background(), g.ID, mustSelf(t, leader.session), models.SettingsPatch{TargetScore: &target}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	f.bus.Wait()
}

func currentAnswer(t *testing.T, c *Controller) string {
	t.Helper()
	g := c.session.Game()
	if g.CurrentItem == nil {
		t.Fatalf("no current item")
	}
	return g.CurrentItem.Answer
}

func TestSubmitGuessRejectsEmpty(t *testing.T) {
	f := newFixture(t, "alice")
	alice, _ := f.controller(t, "alice")
	startedGame(t, f, alice)

	if _, err := alice.SubmitGuess(context.Background(), "   "); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	guesses, _ := f.mem.ListGuesses(context.Background(), alice.session.Game().ID, 0)
	if len(guesses) != 0 {
		t.Errorf("empty guess should not be logged, got %d", len(guesses))
	}
}

func TestSubmitGuessBeforeStartIsLocked(t *testing.T) {
	f := newFixture(t, "alice")
	alice, _ := f.controller(t, "alice")
	if _, err := alice.SubmitGuess(context.Background(), "italy"); !errors.Is(err, apperr.ErrLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
}

func TestIncorrectGuessIsLoggedOnly(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice, _ := f.controller(t, "alice")
	bob, s := f.controller(t, "bob")
	startedGame(t, f, alice)

	res, err := bob.SubmitGuess(context.Background(), "atlantis")
	if err != nil {
		t.Fatalf("guess: %v", err)
	}
	if res.Correct || res.Points != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	f.bus.Wait()
	self, _ := s.Self()
	if self.Score != 0 {
		t.Errorf("expected score 0, got %d", self.Score)
	}
	last := s.LastIncorrectGuesses()
	if last[self.ID].Guess != "atlantis" {
		t.Errorf("expected atlantis as last wrong guess, got %+v", last)
	}
}

func TestRepeatedCorrectGuessScoresEachTime(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice, _ := f.controller(t, "alice")
	bob, s := f.controller(t, "bob")
	raiseTarget(t, f, alice, 100)
	startedGame(t, f, alice)
	answer := currentAnswer(t, bob)

	for i := 1; i <= 2; i++ {
		res, err := bob.SubmitGuess(context.Background(), answer)
		if err != nil {
			t.Fatalf("guess %d: %v", i, err)
		}
		if !res.Correct || res.Points != DefaultPoints || res.NewScore != i*DefaultPoints {
			t.Errorf("guess %d: unexpected result %+v", i, res)
		}
	}
	f.bus.Wait()

	guesses, _ := f.mem.ListGuesses(context.Background(), s.Game().ID, 0)
	if len(guesses) != 2 {
		t.Errorf("expected 2 logged guesses, got %d", len(guesses))
	}
	self, _ := s.Self()
	if self.Score != 20 {
		t.Errorf("expected score 20, got %d", self.Score)
	}
}

func TestLeaderCorrectGuessAdvancesRound(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice, s := f.controller(t, "alice")
	raiseTarget(t, f, alice, 100)
	startedGame(t, f, alice)
	first := roundStart(s)

	f.clock.Advance(3 * time.Second)
	if _, err := alice.SubmitGuess(context.Background(), currentAnswer(t, alice)); err != nil {
		t.Fatalf("guess: %v", err)
	}
	f.bus.Wait()
	if !roundStart(s).After(first) {
		t.Errorf("expected the leader's correct guess to advance the round")
	}
}

func TestFollowerCorrectGuessKeepsRound(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice, _ := f.controller(t, "alice")
	bob, s := f.controller(t, "bob")
	raiseTarget(t, f, alice, 100)
	startedGame(t, f, alice)
	first := roundStart(s)

	f.clock.Advance(3 * time.Second)
	if _, err := bob.SubmitGuess(context.Background(), currentAnswer(t, bob)); err != nil {
		t.Fatalf("guess: %v", err)
	}
	f.bus.Wait()
	if !roundStart(s).Equal(first) {
		t.Errorf("a follower's correct guess should not advance the round")
	}
}

func TestReachingTargetFinishesAndResetClears(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	alice, as := f.controller(t, "alice")
	bob, s := f.controller(t, "bob", WithPoints(TimeWeighted))
	startedGame(t, f, alice)

	res, err := bob.SubmitGuess(context.Background(), currentAnswer(t, bob))
	if err != nil {
		t.Fatalf("guess: %v", err)
	}
	if !res.Finished || res.Winner == nil || *res.Winner != mustSelf(t, s) {
		t.Fatalf("expected bob to win, got %+v", res)
	}
	f.bus.Wait()
	if s.Game().State != models.GameStateFinished {
		t.Fatalf("expected finished game, got %s", s.Game().State)
	}
	if alice.State() != StateAwaitingQuestion {
		t.Errorf("expected idle clock after finish, got %s", alice.State())
	}

	if _, err := bob.Reset(context.Background()); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden reset by follower, got %v", err)
	}
	game, err := alice.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	f.bus.Wait()
	if game.State != models.GameStateWaiting || game.TargetScore != models.DefaultTargetScore {
		t.Errorf("unexpected reset game %+v", game)
	}
	for _, p := range as.Roster() {
		if p.Score != 0 {
			t.Errorf("expected score reset for %s, got %d", p.Username, p.Score)
		}
	}
}
