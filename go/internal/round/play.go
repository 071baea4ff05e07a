package round

import (
	"context"
	"errors"
	"strings"

	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/rs/zerolog/log"
)

// GuessResult reports what a submitted guess did.
type GuessResult struct {
	Guess    models.Guess
	Correct  bool
	Points   int
	NewScore int
	Finished bool
	Winner   *int64
}

// StartGame moves a waiting game to its first round. Leader only.
func (c *Controller) StartGame(ctx context.Context) (*backend.RoundStart, error) {
	if !c.session.IsLeader() {
		return nil, apperr.New(apperr.ErrForbidden, "only the leader can start the game")
	}
	game := c.session.Game()
	if game.State != models.GameStateWaiting {
		return nil, apperr.New(apperr.ErrLocked, "game is %s", game.State)
	}
	res, err := c.backend.StartNewRound(ctx, backend.StartRoundRequest{GameID: game.ID})
	if err != nil {
		return nil, apperr.Unavailable("start game", err)
	}
	log.Info().Int64("game_id", game.ID).Int64("item_id", res.Item.ID).Msg("game started")
	return res, nil
}

// SubmitGuess checks text against the current answer, records it, and
// scores it when correct. A correct guess that reaches the target score
// finishes the game; a correct guess by the leader advances the round.
func (c *Controller) SubmitGuess(ctx context.Context, text string) (*GuessResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Invalid("guess is empty")
	}
	game := c.session.Game()
	if game.State != models.GameStateInProgress || !game.HasRound() {
		return nil, apperr.New(apperr.ErrLocked, "no question is active")
	}
	participantID, err := c.session.ResolveParticipant(ctx)
	if err != nil {
		return nil, err
	}

	correct := IsCorrect(text, game.CurrentItem.Answer)
	guess, err := c.backend.InsertGuess(ctx, backend.InsertGuessRequest{
		GameID:        game.ID,
		ItemID:        game.CurrentItem.ID,
		ParticipantID: participantID,
		Guess:         text,
		IsCorrect:     correct,
	})
	if err != nil {
		return nil, apperr.Unavailable("record guess", err)
	}
	result := &GuessResult{Guess: *guess, Correct: correct}
	if !correct {
		return result, nil
	}

	result.Points = c.points(Remaining(c.clock.Now(), *game.RoundStart, game.RoundLimit()), game.RoundLimit())
	score, err := c.backend.IncrementScore(ctx, participantID, result.Points)
	if err != nil {
		return result, apperr.Unavailable("increment score", err)
	}
	result.NewScore = score.NewScore
	log.Info().
		Int64("game_id", game.ID).
		Int64("participant_id", participantID).
		Int("points", result.Points).
		Int("score", score.NewScore).
		Msg("correct guess")

	if score.NewScore >= game.TargetScore {
		finished, err := c.backend.FinishGame(ctx, game.ID)
		if err != nil {
			return result, apperr.Unavailable("finish game", err)
		}
		result.Finished = true
		result.Winner = finished.WinnerID
		log.Info().Int64("game_id", game.ID).Interface("winner_id", finished.WinnerID).Msg("game finished")
		return result, nil
	}

	if c.session.IsLeader() {
		_, err := c.backend.StartNewRound(ctx, backend.StartRoundRequest{GameID: game.ID, ExpectedRoundStart: game.RoundStart})
		if err != nil && !errors.Is(err, apperr.ErrLocked) {
			log.Error().Err(err).Int64("game_id", game.ID).Msg("advance after correct guess failed")
		}
	}
	return result, nil
}

// Reset returns a finished game to waiting. Leader only.
func (c *Controller) Reset(ctx context.Context) (*models.Game, error) {
	self, ok := c.session.Self()
	if !ok || !c.session.IsLeader() {
		return nil, apperr.New(apperr.ErrForbidden, "only the leader can reset the game")
	}
	game := c.session.Game()
	if game.State != models.GameStateFinished {
		return nil, apperr.New(apperr.ErrLocked, "game is %s", game.State)
	}
	reset, err := c.backend.ResetGame(ctx, game.ID, self.ID)
	if err != nil {
		return nil, apperr.Unavailable("reset game", err)
	}
	log.Info().Int64("game_id", game.ID).Msg("game reset")
	return reset, nil
}
