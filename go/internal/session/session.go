// Package session enters a room's game and keeps a local mirror of the room,
// the game, the roster and the guess log current from the change relay.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/leadership"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// GuessBacklog is how many past guesses are loaded when the guess log
// subscription starts.
const GuessBacklog = 50

// pendingHandle marks a guess log subscription in flight.
const pendingHandle relay.Handle = "pending"

// Identity names the local player.
type Identity struct {
	Username string
}

// Bootstrapper resolves sessions.
type Bootstrapper struct {
	backend backend.Backend
	relay   relay.Relay
}

// NewBootstrapper creates a Bootstrapper.
func NewBootstrapper(b backend.Backend, r relay.Relay) *Bootstrapper {
	return &Bootstrapper{backend: b, relay: r}
}

// Session is the local view of one room's game.
type Session struct {
	backend  backend.Backend
	relay    relay.Relay
	ctx      context.Context
	identity Identity

	mu          sync.RWMutex
	room        models.Room
	game        models.Game
	roster      map[int64]models.Participant
	departed    map[int64]struct{}
	guesses     []models.Guess
	leader      models.Participant
	hasLeader   bool
	handles     []relay.Handle
	guessHandle relay.Handle
	closed      bool

	hooksMu sync.RWMutex
	hooks   hooks
}

type hooks struct {
	game   []func(models.Game)
	roster []func([]models.Participant)
	guess  []func(models.Guess)
	leader []func(leader models.Participant, ok bool)
	closed []func()
}

// Enter resolves the room and its game, loads the roster and subscribes to
// their changes. Lookup failures are reported as ErrSessionUnresolvable.
func (b *Bootstrapper) Enter(ctx context.Context, code string, id Identity) (*Session, error) {
	code = models.NormalizeRoomCode(code)
	id.Username = strings.TrimSpace(id.Username)

	room, err := b.backend.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: room %s: %w", apperr.ErrSessionUnresolvable, code, err)
	}
	game, err := b.backend.GetGameByRoom(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: game of room %s: %w", apperr.ErrSessionUnresolvable, code, err)
	}
	roster, err := b.backend.ListParticipants(ctx, game.ID)
	if err != nil {
		return nil, apperr.Unavailable("list participants", err)
	}

	s := &Session{
		backend:  b.backend,
		relay:    b.relay,
		ctx:      context.WithoutCancel(ctx),
		identity: id,
		room:     *room,
		game:     *game,
		roster:   make(map[int64]models.Participant, len(roster)),
		departed: make(map[int64]struct{}),
	}
	for _, p := range roster {
		s.roster[p.ID] = p
	}
	s.leader, s.hasLeader = leadership.Resolve(roster)

	subs := []struct {
		filter relay.Filter
		apply  func(models.Change)
	}{
		{relay.ByID(models.TableRooms, room.ID), s.applyRoom},
		{relay.ByID(models.TableGames, game.ID), s.applyGame},
		{relay.ByGame(models.TableGamePlayers, game.ID), s.applyParticipant},
	}
	for _, sub := range subs {
		h, err := b.relay.Subscribe(ctx, sub.filter, sub.apply)
		if err != nil {
			s.Close()
			return nil, apperr.Unavailable("subscribe "+sub.filter.Key(), err)
		}
		s.mu.Lock()
		s.handles = append(s.handles, h)
		s.mu.Unlock()
	}

	// Changes committed between the reads above and the subscriptions are
	// picked up by one reconciliation read; the version guard drops
	// anything older than what the relay already delivered.
	if err := s.resync(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.ensureGuessLog()

	log.Info().
		Str("room_code", code).
		Int64("game_id", game.ID).
		Str("username", id.Username).
		Int("roster", len(roster)).
		Msg("session entered")
	return s, nil
}

func (s *Session) resync(ctx context.Context) error {
	game, err := s.backend.GetGame(ctx, s.game.ID)
	if err != nil {
		return fmt.Errorf("%w: game %d: %w", apperr.ErrSessionUnresolvable, s.game.ID, err)
	}
	roster, err := s.backend.ListParticipants(ctx, game.ID)
	if err != nil {
		return apperr.Unavailable("list participants", err)
	}

	s.mu.Lock()
	if game.Version >= s.game.Version {
		s.game = *game
	}
	fresh := make(map[int64]models.Participant, len(roster))
	for _, p := range roster {
		if _, gone := s.departed[p.ID]; gone {
			continue
		}
		if cur, ok := s.roster[p.ID]; ok && cur.Version > p.Version {
			p = cur
		}
		fresh[p.ID] = p
	}
	s.roster = fresh
	s.mu.Unlock()

	s.recomputeLeader()
	return nil
}

// Room returns the current room record.
func (s *Session) Room() models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// Game returns the current game record.
func (s *Session) Game() models.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.game
}

// Identity returns the local player's identity.
func (s *Session) Identity() Identity {
	return s.identity
}

// Roster returns the participants in join order.
func (s *Session) Roster() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterLocked()
}

func (s *Session) rosterLocked() []models.Participant {
	out := make([]models.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, p)
	}
	return leadership.Ordered(out)
}

// Participant returns a participant of the roster by id.
func (s *Session) Participant(id int64) (models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.roster[id]
	return p, ok
}

// Leader returns the current leader.
func (s *Session) Leader() (models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader, s.hasLeader
}

// Self returns the local participant if it is in the roster.
func (s *Session) Self() (models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfLocked()
}

func (s *Session) selfLocked() (models.Participant, bool) {
	for _, p := range s.roster {
		if p.Username == s.identity.Username {
			return p, true
		}
	}
	return models.Participant{}, false
}

// IsLeader reports whether the local participant leads the game.
func (s *Session) IsLeader() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	self, ok := s.selfLocked()
	return ok && s.hasLeader && s.leader.ID == self.ID
}

// ResolveParticipant returns the local participant id, reading the roster
// from the backend when the relay has not delivered the join yet.
func (s *Session) ResolveParticipant(ctx context.Context) (int64, error) {
	if self, ok := s.Self(); ok {
		return self.ID, nil
	}
	roster, err := s.backend.ListParticipants(ctx, s.Game().ID)
	if err != nil {
		return 0, apperr.Unavailable("list participants", err)
	}
	for _, p := range roster {
		if p.Username == s.identity.Username {
			return p.ID, nil
		}
	}
	return 0, apperr.New(apperr.ErrNotFound, "%s is not a participant", s.identity.Username)
}

// Guesses returns the loaded guess log, oldest first.
func (s *Session) Guesses() []models.Guess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Guess(nil), s.guesses...)
}

// LastIncorrectGuesses returns each participant's latest wrong guess for
// the current question.
func (s *Session) LastIncorrectGuesses() map[int64]models.Guess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]models.Guess)
	if s.game.CurrentItem == nil {
		return out
	}
	itemID := s.game.CurrentItem.ID
	for _, g := range s.guesses {
		if g.ItemID != itemID || g.IsCorrect {
			continue
		}
		if s.game.RoundStart != nil && g.CreatedAt.Before(*s.game.RoundStart) {
			continue
		}
		out[g.ParticipantID] = g
	}
	return out
}

// Closed reports whether the room is gone or the session was closed.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// OnGame registers fn for every applied game update.
func (s *Session) OnGame(fn func(models.Game)) {
	s.hooksMu.Lock()
	s.hooks.game = append(s.hooks.game, fn)
	s.hooksMu.Unlock()
}

// OnRoster registers fn for every roster change.
func (s *Session) OnRoster(fn func([]models.Participant)) {
	s.hooksMu.Lock()
	s.hooks.roster = append(s.hooks.roster, fn)
	s.hooksMu.Unlock()
}

// OnGuess registers fn for every new guess.
func (s *Session) OnGuess(fn func(models.Guess)) {
	s.hooksMu.Lock()
	s.hooks.guess = append(s.hooks.guess, fn)
	s.hooksMu.Unlock()
}

// OnLeaderChange registers fn for leader re-elections.
func (s *Session) OnLeaderChange(fn func(leader models.Participant, ok bool)) {
	s.hooksMu.Lock()
	s.hooks.leader = append(s.hooks.leader, fn)
	s.hooksMu.Unlock()
}

// OnClosed registers fn for room deletion.
func (s *Session) OnClosed(fn func()) {
	s.hooksMu.Lock()
	s.hooks.closed = append(s.hooks.closed, fn)
	s.hooksMu.Unlock()
}

func (s *Session) snapshotHooks() hooks {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return s.hooks
}

// Leave removes the local player from the room and closes the session.
func (s *Session) Leave(ctx context.Context) (*backend.LeaveRoomResult, error) {
	res, err := s.backend.LeaveRoom(ctx, s.Room().Code, s.identity.Username)
	s.Close()
	if err != nil {
		return nil, apperr.Unavailable("leave room", err)
	}
	return res, nil
}

// Close drops every relay subscription. It does not leave the room.
func (s *Session) Close() {
	s.mu.Lock()
	handles := s.handles
	if s.guessHandle != "" && s.guessHandle != pendingHandle {
		handles = append(handles, s.guessHandle)
	}
	s.handles = nil
	s.guessHandle = ""
	s.closed = true
	s.mu.Unlock()

	for _, h := range handles {
		if err := s.relay.Unsubscribe(h); err != nil {
			log.Debug().Err(err).Str("handle", string(h)).Msg("unsubscribe failed")
		}
	}
}

func (s *Session) applyRoom(ch models.Change) {
	if ch.Kind == models.ChangeDelete {
		s.roomGone("room deleted")
		return
	}
	var room models.Room
	if err := ch.Decode(&room); err != nil {
		log.Error().Err(err).Str("change_id", ch.ID.String()).Msg("bad room change")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || room.Version < s.room.Version {
		log.Debug().Int64("room_id", room.ID).Int64("version", room.Version).Msg("stale room change ignored")
		return
	}
	s.room = room
}

func (s *Session) roomGone(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.Close()
	log.Info().Str("room_code", s.Room().Code).Msg(reason)
	for _, fn := range s.snapshotHooks().closed {
		fn()
	}
}

func (s *Session) applyGame(ch models.Change) {
	if ch.Kind == models.ChangeDelete {
		s.roomGone("game deleted")
		return
	}
	var game models.Game
	if err := ch.Decode(&game); err != nil {
		log.Error().Err(err).Str("change_id", ch.ID.String()).Msg("bad game change")
		return
	}

	s.mu.Lock()
	if s.closed || game.Version < s.game.Version {
		s.mu.Unlock()
		log.Debug().Int64("game_id", game.ID).Int64("version", game.Version).Msg("stale game change ignored")
		return
	}
	s.game = game
	s.mu.Unlock()

	s.ensureGuessLog()
	for _, fn := range s.snapshotHooks().game {
		fn(game)
	}
}

func (s *Session) applyParticipant(ch models.Change) {
	var p models.Participant
	if err := ch.Decode(&p); err != nil {
		log.Error().Err(err).Str("change_id", ch.ID.String()).Msg("bad participant change")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	// Participant ids are never reused, so a departed id stays departed
	// even when an older insert or update of it is delivered again.
	_, gone := s.departed[p.ID]
	cur, exists := s.roster[p.ID]
	switch {
	case ch.Kind == models.ChangeDelete:
		delete(s.roster, p.ID)
		s.departed[p.ID] = struct{}{}
		if !exists {
			s.mu.Unlock()
			return
		}
	case gone, exists && p.Version < cur.Version:
		s.mu.Unlock()
		return
	default:
		s.roster[p.ID] = p
	}
	roster := s.rosterLocked()
	s.mu.Unlock()

	for _, fn := range s.snapshotHooks().roster {
		fn(roster)
	}
	s.recomputeLeader()
}

func (s *Session) recomputeLeader() {
	s.mu.Lock()
	leader, ok := leadership.Resolve(s.rosterLocked())
	changed := ok != s.hasLeader || leader.ID != s.leader.ID
	s.leader, s.hasLeader = leader, ok
	s.mu.Unlock()

	if !changed {
		return
	}
	log.Info().Int64("game_id", s.Game().ID).Int64("leader_id", leader.ID).Bool("has_leader", ok).Msg("leader changed")
	for _, fn := range s.snapshotHooks().leader {
		fn(leader, ok)
	}
}

func (s *Session) ensureGuessLog() {
	s.mu.Lock()
	if s.closed || s.guessHandle != "" || s.game.State != models.GameStateInProgress {
		s.mu.Unlock()
		return
	}
	// Reserve the slot so concurrent game changes subscribe once.
	s.guessHandle = pendingHandle
	gameID := s.game.ID
	s.mu.Unlock()

	h, err := s.relay.Subscribe(s.ctx, relay.ByGame(models.TableUserGuesses, gameID), s.applyGuess)
	if err != nil {
		log.Error().Err(err).Int64("game_id", gameID).Msg("guess log subscription failed")
		s.mu.Lock()
		s.guessHandle = ""
		s.mu.Unlock()
		return
	}
	backlog, err := s.backend.ListGuesses(s.ctx, gameID, GuessBacklog)
	if err != nil {
		log.Error().Err(err).Int64("game_id", gameID).Msg("guess backlog read failed")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = s.relay.Unsubscribe(h)
		return
	}
	s.guessHandle = h
	for _, g := range backlog {
		s.addGuessLocked(g)
	}
	s.mu.Unlock()
}

// addGuessLocked keeps the log ordered by id and free of duplicates.
func (s *Session) addGuessLocked(g models.Guess) bool {
	i, found := slices.BinarySearchFunc(s.guesses, g.ID, func(have models.Guess, id int64) int {
		return cmp.Compare(have.ID, id)
	})
	if found {
		return false
	}
	s.guesses = slices.Insert(s.guesses, i, g)
	return true
}

func (s *Session) applyGuess(ch models.Change) {
	var g models.Guess
	if err := ch.Decode(&g); err != nil {
		log.Error().Err(err).Str("change_id", ch.ID.String()).Msg("bad guess change")
		return
	}

	s.mu.Lock()
	if ch.Kind == models.ChangeDelete {
		s.guesses = removeGuess(s.guesses, g.ID)
		s.mu.Unlock()
		return
	}
	added := s.addGuessLocked(g)
	s.mu.Unlock()

	if !added {
		return
	}
	for _, fn := range s.snapshotHooks().guess {
		fn(g)
	}
}

func removeGuess(guesses []models.Guess, id int64) []models.Guess {
	out := guesses[:0]
	for _, g := range guesses {
		if g.ID != id {
			out = append(out, g)
		}
	}
	return out
}

// IsUnresolvable reports whether err came from a failed Enter lookup.
func IsUnresolvable(err error) bool {
	return errors.Is(err, apperr.ErrSessionUnresolvable)
}
