package backend

import (
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/leadership"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// Memory is an in-process Backend. One mutex makes every procedure atomic;
// change events are published after the mutex is released.
type Memory struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	publisher relay.Publisher
	capacity  int
	pick      func(n int) int

	nextID  int64
	nextSeq int64

	users        map[string]models.User
	rooms        map[int64]*models.Room
	roomsByCode  map[string]int64
	games        map[int64]*models.Game
	gameByRoom   map[int64]int64
	participants map[int64]*models.Participant
	categories   map[int64]*models.Category
	items        map[int64]*models.Item
	guesses      []models.Guess
}

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithClock sets the clock used for timestamps.
func WithClock(c clockwork.Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// WithPublisher sets where change events go.
func WithPublisher(p relay.Publisher) MemoryOption {
	return func(m *Memory) { m.publisher = p }
}

// WithCapacity sets the seat count of new rooms.
func WithCapacity(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithPicker sets the random index function used to select round items.
func WithPicker(pick func(n int) int) MemoryOption {
	return func(m *Memory) { m.pick = pick }
}

// NewMemory creates an empty in-memory backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:        clockwork.NewRealClock(),
		capacity:     models.DefaultCapacity,
		pick:         rand.IntN,
		users:        make(map[string]models.User),
		rooms:        make(map[int64]*models.Room),
		roomsByCode:  make(map[string]int64),
		games:        make(map[int64]*models.Game),
		gameByRoom:   make(map[int64]int64),
		participants: make(map[int64]*models.Participant),
		categories:   make(map[int64]*models.Category),
		items:        make(map[int64]*models.Item),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Backend = (*Memory)(nil)

// changeSet accumulates events inside a locked section.
type changeSet struct {
	m       *Memory
	changes []models.Change
}

func (cs *changeSet) add(table string, kind models.ChangeKind, before, after any) {
	ch, err := models.NewChange(table, kind, before, after, cs.m.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("table", table).Msg("failed to build change event")
		return
	}
	cs.changes = append(cs.changes, ch)
}

func (m *Memory) publish(ctx context.Context, cs *changeSet) {
	if m.publisher == nil {
		return
	}
	for _, ch := range cs.changes {
		if err := m.publisher.Publish(ctx, ch); err != nil {
			log.Error().Err(err).Str("table", ch.Table).Str("change_id", ch.ID.String()).Msg("failed to publish change")
		}
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// AddCategory stores a category, returning the existing one on name match.
func (m *Memory) AddCategory(name string) models.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.Name == name {
			return *c
		}
	}
	c := &models.Category{ID: m.id(), Name: name}
	m.categories[c.ID] = c
	return *c
}

// AddItem stores a reference item.
func (m *Memory) AddItem(item models.Item) models.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.id()
	m.items[item.ID] = &item
	return item
}

// ImportItems adds items to the named category, skipping any whose
// external id is already present there. It returns the number added.
func (m *Memory) ImportItems(category string, items []models.Item) int {
	cat := m.AddCategory(category)
	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[string]bool)
	for _, it := range m.items {
		if it.CategoryID == cat.ID && it.ExternalID != "" {
			known[it.ExternalID] = true
		}
	}
	added := 0
	for _, it := range items {
		if it.ExternalID != "" && known[it.ExternalID] {
			continue
		}
		it.ID = m.id()
		it.CategoryID = cat.ID
		m.items[it.ID] = &it
		known[it.ExternalID] = true
		added++
	}
	return added
}

func (m *Memory) ensureUser(username string) models.User {
	if u, ok := m.users[username]; ok {
		return u
	}
	u := models.User{ID: uuid.New(), Username: username, CreatedAt: m.clock.Now()}
	m.users[username] = u
	return u
}

func (m *Memory) roomByCode(code string) (*models.Room, error) {
	id, ok := m.roomsByCode[code]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "room %s", code)
	}
	return m.rooms[id], nil
}

func (m *Memory) roster(gameID int64) []models.Participant {
	var out []models.Participant
	for _, p := range m.participants {
		if p.GameID == gameID {
			out = append(out, *p)
		}
	}
	return leadership.Ordered(out)
}

func (m *Memory) requireLeader(gameID, actorID int64) error {
	if !leadership.IsLeader(m.roster(gameID), actorID) {
		return apperr.New(apperr.ErrForbidden, "participant %d does not lead game %d", actorID, gameID)
	}
	return nil
}

// CreateRoom inserts a room and its game in one step.
func (m *Memory) CreateRoom(ctx context.Context, code, creator string) (*CreateRoomResult, error) {
	code = models.NormalizeRoomCode(code)
	if !models.ValidRoomCode(code) {
		return nil, apperr.Invalid("room code %q must be %d letters or digits", code, models.RoomCodeLength)
	}
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return nil, apperr.Invalid("creator username is required")
	}

	cs := &changeSet{m: m}
	m.mu.Lock()
	if _, exists := m.roomsByCode[code]; exists {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrConflict, "room code %s is taken", code)
	}
	user := m.ensureUser(creator)
	now := m.clock.Now()
	room := &models.Room{ID: m.id(), Code: code, Capacity: m.capacity, Version: 1, CreatedAt: now}
	limit := models.DefaultTimeLimit
	game := &models.Game{
		ID:          m.id(),
		RoomID:      room.ID,
		CreatorID:   user.ID,
		TargetScore: models.DefaultTargetScore,
		TimeLimit:   &limit,
		State:       models.GameStateWaiting,
		Version:     1,
		CreatedAt:   now,
	}
	m.rooms[room.ID] = room
	m.roomsByCode[code] = room.ID
	m.games[game.ID] = game
	m.gameByRoom[room.ID] = game.ID
	cs.add(models.TableRooms, models.ChangeInsert, nil, *room)
	cs.add(models.TableGames, models.ChangeInsert, nil, *game)
	m.mu.Unlock()

	m.publish(ctx, cs)
	return &CreateRoomResult{RoomID: room.ID, GameID: game.ID, UserID: user.ID, Code: code}, nil
}

// JoinRoom checks capacity and inserts the participant atomically.
func (m *Memory) JoinRoom(ctx context.Context, code, username string) (*JoinRoomResult, error) {
	code = models.NormalizeRoomCode(code)
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Invalid("username is required")
	}

	cs := &changeSet{m: m}
	m.mu.Lock()
	room, err := m.roomByCode(code)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	gameID := m.gameByRoom[room.ID]
	user := m.ensureUser(username)

	for _, p := range m.participants {
		if p.GameID == gameID && p.UserID == user.ID {
			m.mu.Unlock()
			return &JoinRoomResult{ParticipantID: p.ID, UserID: user.ID, RoomID: room.ID, GameID: gameID}, nil
		}
	}
	if room.Full() {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrFull, "room %s has %d/%d players", code, room.PlayerCount, room.Capacity)
	}

	before := *room
	room.PlayerCount++
	room.Version++
	p := &models.Participant{
		ID:       m.id(),
		GameID:   gameID,
		UserID:   user.ID,
		Username: user.Username,
		JoinedAt: m.clock.Now(),
		Version:  1,
	}
	m.participants[p.ID] = p
	cs.add(models.TableRooms, models.ChangeUpdate, before, *room)
	cs.add(models.TableGamePlayers, models.ChangeInsert, nil, *p)
	m.mu.Unlock()

	m.publish(ctx, cs)
	return &JoinRoomResult{ParticipantID: p.ID, UserID: user.ID, RoomID: room.ID, GameID: gameID}, nil
}

// LeaveRoom removes the participant and deletes the room once empty.
func (m *Memory) LeaveRoom(ctx context.Context, code, username string) (*LeaveRoomResult, error) {
	code = models.NormalizeRoomCode(code)
	username = strings.TrimSpace(username)

	cs := &changeSet{m: m}
	m.mu.Lock()
	room, err := m.roomByCode(code)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	gameID := m.gameByRoom[room.ID]
	user, ok := m.users[username]
	var target *models.Participant
	if ok {
		for _, p := range m.participants {
			if p.GameID == gameID && p.UserID == user.ID {
				target = p
				break
			}
		}
	}
	if target == nil {
		m.mu.Unlock()
		return &LeaveRoomResult{Success: false}, nil
	}

	m.deleteGuesses(cs, func(g models.Guess) bool { return g.ParticipantID == target.ID })
	delete(m.participants, target.ID)
	cs.add(models.TableGamePlayers, models.ChangeDelete, *target, nil)

	game := m.games[gameID]
	if game.WinnerID != nil && *game.WinnerID == target.ID {
		before := *game
		game.WinnerID = nil
		game.Version++
		cs.add(models.TableGames, models.ChangeUpdate, before, *game)
	}

	before := *room
	room.PlayerCount = max(0, room.PlayerCount-1)
	deleted := room.PlayerCount == 0
	if deleted {
		m.deleteGuesses(cs, func(g models.Guess) bool { return g.GameID == gameID })
		delete(m.games, gameID)
		delete(m.gameByRoom, room.ID)
		delete(m.rooms, room.ID)
		delete(m.roomsByCode, room.Code)
		cs.add(models.TableGames, models.ChangeDelete, *game, nil)
		cs.add(models.TableRooms, models.ChangeDelete, before, nil)
	} else {
		room.Version++
		cs.add(models.TableRooms, models.ChangeUpdate, before, *room)
	}
	m.mu.Unlock()

	m.publish(ctx, cs)
	return &LeaveRoomResult{Success: true, RemovedUsername: username, RoomDeleted: deleted}, nil
}

// PurgeIdleRooms deletes rooms that never got a player and are older than
// maxAge. It returns how many were removed.
func (m *Memory) PurgeIdleRooms(ctx context.Context, maxAge time.Duration) (int64, error) {
	cs := &changeSet{m: m}
	cutoff := m.clock.Now().Add(-maxAge)
	var n int64
	m.mu.Lock()
	for id, room := range m.rooms {
		if room.PlayerCount > 0 || !room.CreatedAt.Before(cutoff) {
			continue
		}
		gameID := m.gameByRoom[id]
		if game, ok := m.games[gameID]; ok {
			cs.add(models.TableGames, models.ChangeDelete, *game, nil)
		}
		delete(m.games, gameID)
		delete(m.gameByRoom, id)
		delete(m.rooms, id)
		delete(m.roomsByCode, room.Code)
		cs.add(models.TableRooms, models.ChangeDelete, *room, nil)
		n++
	}
	m.mu.Unlock()

	m.publish(ctx, cs)
	return n, nil
}

func (m *Memory) deleteGuesses(cs *changeSet, match func(models.Guess) bool) {
	kept := m.guesses[:0]
	for _, g := range m.guesses {
		if match(g) {
			cs.add(models.TableUserGuesses, models.ChangeDelete, g, nil)
			continue
		}
		kept = append(kept, g)
	}
	m.guesses = kept
}

// StartNewRound writes a random item of the game's category and a fresh
// round start onto the game.
func (m *Memory) StartNewRound(ctx context.Context, req StartRoundRequest) (*RoundStart, error) {
	cs := &changeSet{m: m}
	m.mu.Lock()
	game, ok := m.games[req.GameID]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "game %d", req.GameID)
	}
	if game.State == models.GameStateFinished {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrLocked, "game %d is finished", req.GameID)
	}
	if req.ExpectedRoundStart != nil {
		if game.RoundStart == nil || game.CurrentItem == nil {
			m.mu.Unlock()
			return nil, apperr.New(apperr.ErrConflict, "game %d has no round to advance", req.GameID)
		}
		if !game.RoundStart.Equal(*req.ExpectedRoundStart) {
			current := &RoundStart{Item: *game.CurrentItem, RoundStartTime: *game.RoundStart, TimeLimit: game.TimeLimit}
			m.mu.Unlock()
			return current, nil
		}
	}

	var pool []*models.Item
	for _, it := range m.items {
		if game.CategoryID == nil || it.CategoryID == *game.CategoryID {
			pool = append(pool, it)
		}
	}
	if len(pool) == 0 {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "no items for game %d", req.GameID)
	}
	slices.SortFunc(pool, func(a, b *models.Item) int { return int(a.ID - b.ID) })
	item := *pool[m.pick(len(pool))]

	before := *game
	now := m.clock.Now()
	game.CurrentItem = &item
	game.RoundStart = &now
	game.State = models.GameStateInProgress
	game.Version++
	res := &RoundStart{Item: item, RoundStartTime: now, TimeLimit: game.TimeLimit, Advanced: true}
	cs.add(models.TableGames, models.ChangeUpdate, before, *game)
	m.mu.Unlock()

	m.publish(ctx, cs)
	return res, nil
}

// IncrementScore adds increment to the participant's score in place.
func (m *Memory) IncrementScore(ctx context.Context, participantID int64, increment int) (*ScoreResult, error) {
	if increment <= 0 {
		return nil, apperr.Invalid("increment must be positive, got %d", increment)
	}

	cs := &changeSet{m: m}
	m.mu.Lock()
	p, ok := m.participants[participantID]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "participant %d", participantID)
	}
	before := *p
	p.Score += increment
	p.Version++
	if game, ok := m.games[p.GameID]; ok && p.ScoreSeq == nil && p.Score >= game.TargetScore {
		m.nextSeq++
		seq := m.nextSeq
		p.ScoreSeq = &seq
	}
	res := &ScoreResult{NewScore: p.Score, ScoreSeq: p.ScoreSeq}
	cs.add(models.TableGamePlayers, models.ChangeUpdate, before, *p)
	m.mu.Unlock()

	m.publish(ctx, cs)
	return res, nil
}

// FinishGame marks the game finished with the first participant to reach
// the target score. Finishing a finished game returns it unchanged.
func (m *Memory) FinishGame(ctx context.Context, gameID int64) (*models.Game, error) {
	cs := &changeSet{m: m}
	m.mu.Lock()
	game, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "game %d", gameID)
	}
	if game.State == models.GameStateFinished {
		out := *game
		m.mu.Unlock()
		return &out, nil
	}
	if game.State != models.GameStateInProgress {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrLocked, "game %d is %s", gameID, game.State)
	}

	var winner *models.Participant
	for _, p := range m.participants {
		if p.GameID != gameID || p.ScoreSeq == nil {
			continue
		}
		if winner == nil || *p.ScoreSeq < *winner.ScoreSeq {
			winner = p
		}
	}
	if winner == nil {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrConflict, "no participant of game %d reached %d", gameID, game.TargetScore)
	}

	before := *game
	game.State = models.GameStateFinished
	game.WinnerID = &winner.ID
	game.Version++
	out := *game
	cs.add(models.TableGames, models.ChangeUpdate, before, out)
	m.mu.Unlock()

	m.publish(ctx, cs)
	return &out, nil
}

// ResetGame returns a finished game to waiting, keeping its settings.
func (m *Memory) ResetGame(ctx context.Context, gameID, actorID int64) (*models.Game, error) {
	cs := &changeSet{m: m}
	m.mu.Lock()
	game, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "game %d", gameID)
	}
	if err := m.requireLeader(gameID, actorID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if game.State != models.GameStateFinished {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrLocked, "game %d is %s", gameID, game.State)
	}

	before := *game
	game.State = models.GameStateWaiting
	game.CurrentItem = nil
	game.RoundStart = nil
	game.WinnerID = nil
	game.Version++
	out := *game
	cs.add(models.TableGames, models.ChangeUpdate, before, out)

	for _, p := range m.participants {
		if p.GameID != gameID {
			continue
		}
		pb := *p
		p.Score = 0
		p.ScoreSeq = nil
		p.Version++
		cs.add(models.TableGamePlayers, models.ChangeUpdate, pb, *p)
	}
	m.mu.Unlock()

	m.publish(ctx, cs)
	return &out, nil
}

// UpdateGameSettings applies a leader's settings patch while waiting.
func (m *Memory) UpdateGameSettings(ctx context.Context, gameID, actorID int64, patch models.SettingsPatch) (*models.Game, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	cs := &changeSet{m: m}
	m.mu.Lock()
	game, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "game %d", gameID)
	}
	if err := m.requireLeader(gameID, actorID); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if game.State != models.GameStateWaiting {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrLocked, "game %d is %s", gameID, game.State)
	}
	if patch.CategoryID != nil {
		if _, ok := m.categories[*patch.CategoryID]; !ok {
			m.mu.Unlock()
			return nil, apperr.New(apperr.ErrNotFound, "category %d", *patch.CategoryID)
		}
	}

	before := *game
	ApplyPatch(game, patch)
	game.Version++
	out := *game
	cs.add(models.TableGames, models.ChangeUpdate, before, out)
	m.mu.Unlock()

	m.publish(ctx, cs)
	return &out, nil
}

// InsertGuess appends to the guess log.
func (m *Memory) InsertGuess(ctx context.Context, req InsertGuessRequest) (*models.Guess, error) {
	cs := &changeSet{m: m}
	m.mu.Lock()
	p, ok := m.participants[req.ParticipantID]
	if !ok || p.GameID != req.GameID {
		m.mu.Unlock()
		return nil, apperr.New(apperr.ErrNotFound, "participant %d in game %d", req.ParticipantID, req.GameID)
	}
	g := models.Guess{
		ID:            m.id(),
		GameID:        req.GameID,
		ItemID:        req.ItemID,
		ParticipantID: req.ParticipantID,
		Guess:         req.Guess,
		IsCorrect:     req.IsCorrect,
		CreatedAt:     m.clock.Now(),
	}
	m.guesses = append(m.guesses, g)
	cs.add(models.TableUserGuesses, models.ChangeInsert, nil, g)
	m.mu.Unlock()

	m.publish(ctx, cs)
	return &g, nil
}

// GetRoomByCode looks a live room up by code.
func (m *Memory) GetRoomByCode(_ context.Context, code string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, err := m.roomByCode(models.NormalizeRoomCode(code))
	if err != nil {
		return nil, err
	}
	out := *room
	return &out, nil
}

// GetGameByRoom returns the single game of a room.
func (m *Memory) GetGameByRoom(_ context.Context, roomID int64) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.gameByRoom[roomID]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "game of room %d", roomID)
	}
	out := *m.games[id]
	return &out, nil
}

// GetGame returns a game by id.
func (m *Memory) GetGame(_ context.Context, gameID int64) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "game %d", gameID)
	}
	out := *g
	return &out, nil
}

// ListParticipants returns the roster ordered by join time.
func (m *Memory) ListParticipants(_ context.Context, gameID int64) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, apperr.New(apperr.ErrNotFound, "game %d", gameID)
	}
	return m.roster(gameID), nil
}

// ListRooms returns the most recently created rooms.
func (m *Memory) ListRooms(_ context.Context, limit int) ([]models.RoomSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.RoomSummary, 0, len(m.rooms))
	for _, r := range m.rooms {
		s := models.RoomSummary{Code: r.Code, PlayerCount: r.PlayerCount, Capacity: r.Capacity, CreatedAt: r.CreatedAt}
		if g, ok := m.games[m.gameByRoom[r.ID]]; ok {
			s.State = g.State
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b models.RoomSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListCategories returns categories by name with item counts.
func (m *Memory) ListCategories(_ context.Context) ([]models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[int64]int)
	for _, it := range m.items {
		counts[it.CategoryID]++
	}
	out := make([]models.Category, 0, len(m.categories))
	for _, c := range m.categories {
		cat := *c
		cat.ItemCount = counts[c.ID]
		out = append(out, cat)
	}
	slices.SortFunc(out, func(a, b models.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// ListGuesses returns the latest guesses of a game, oldest first.
func (m *Memory) ListGuesses(_ context.Context, gameID int64, limit int) ([]models.Guess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Guess
	for _, g := range m.guesses {
		if g.GameID == gameID {
			out = append(out, g)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
