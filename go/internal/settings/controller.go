// Package settings lets the session leader change game settings with an
// optimistic local overlay that clears when the change feed echoes it.
package settings

import (
	"context"
	"sync"

	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/session"
	"github.com/rs/zerolog/log"
)

// field is one pending value. seq identifies the update that wrote it so a
// failed call only rolls back its own values.
type field[T any] struct {
	set   bool
	value T
	seq   uint64
}

type pending struct {
	category  field[*int64]
	target    field[int]
	timeLimit field[*int]
}

// Controller applies settings patches for the local participant.
type Controller struct {
	session *session.Session
	backend backend.Backend

	mu      sync.Mutex
	pending pending
	seq     uint64
}

// New creates a Controller and registers it for game echoes.
func New(s *session.Session, b backend.Backend) *Controller {
	c := &Controller{session: s, backend: b}
	s.OnGame(c.Observe)
	return c
}

// UpdateSettings changes the game settings. Only the leader may call it and
// only while the game is waiting.
func (c *Controller) UpdateSettings(ctx context.Context, patch models.SettingsPatch) (*models.Game, error) {
	if err := backend.ValidatePatch(patch); err != nil {
		return nil, err
	}
	self, ok := c.session.Self()
	if !ok || !c.session.IsLeader() {
		return nil, apperr.New(apperr.ErrForbidden, "only the leader can change settings")
	}
	game := c.session.Game()
	if game.State != models.GameStateWaiting {
		return nil, apperr.New(apperr.ErrLocked, "settings are locked while the game is %s", game.State)
	}

	seq := c.stage(patch)
	updated, err := c.backend.UpdateGameSettings(ctx, game.ID, self.ID, patch)
	if err != nil {
		c.rollback(seq)
		log.Error().Err(err).Int64("game_id", game.ID).Msg("settings update failed")
		return nil, apperr.Unavailable("update settings", err)
	}
	c.Observe(*updated)

	log.Info().Int64("game_id", game.ID).Int("target_score", updated.TargetScore).Msg("settings updated")
	return updated, nil
}

func (c *Controller) stage(patch models.SettingsPatch) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	seq := c.seq

	switch {
	case patch.ClearCategory:
		c.pending.category = field[*int64]{set: true, seq: seq}
	case patch.CategoryID != nil:
		id := *patch.CategoryID
		c.pending.category = field[*int64]{set: true, value: &id, seq: seq}
	}
	if patch.TargetScore != nil {
		c.pending.target = field[int]{set: true, value: *patch.TargetScore, seq: seq}
	}
	if patch.TimeLimit != nil {
		var limit *int
		if *patch.TimeLimit > 0 {
			v := *patch.TimeLimit
			limit = &v
		}
		c.pending.timeLimit = field[*int]{set: true, value: limit, seq: seq}
	}
	return seq
}

func (c *Controller) rollback(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.category.seq == seq {
		c.pending.category = field[*int64]{}
	}
	if c.pending.target.seq == seq {
		c.pending.target = field[int]{}
	}
	if c.pending.timeLimit.seq == seq {
		c.pending.timeLimit = field[*int]{}
	}
}

// Observe clears every pending value the server copy of game now carries.
func (c *Controller) Observe(game models.Game) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.category.set && equalPtr(c.pending.category.value, game.CategoryID) {
		c.pending.category = field[*int64]{}
	}
	if c.pending.target.set && c.pending.target.value == game.TargetScore {
		c.pending.target = field[int]{}
	}
	if c.pending.timeLimit.set && equalPtr(c.pending.timeLimit.value, game.TimeLimit) {
		c.pending.timeLimit = field[*int]{}
	}
}

// Effective returns the server settings overlaid with pending values.
func (c *Controller) Effective() models.Settings {
	out := c.session.Game().Settings()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.category.set {
		out.CategoryID = c.pending.category.value
	}
	if c.pending.target.set {
		out.TargetScore = c.pending.target.value
	}
	if c.pending.timeLimit.set {
		out.TimeLimit = c.pending.timeLimit.value
	}
	return out
}

// Pending reports whether any update awaits its echo.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.category.set || c.pending.target.set || c.pending.timeLimit.set
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
