// Package postgres serves the backend contract from PostgreSQL. The atomic
// procedures live in plpgsql (see migrations); change events are captured
// by triggers into change_outbox and relayed by the outbox worker.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
)

// Store implements backend.Backend over a pgx connection pool.
type Store struct {
	pool     *pgxpool.Pool
	capacity int
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the seat count of rooms created through the store.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewStore wraps an open pool.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, capacity: models.DefaultCapacity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ backend.Backend = (*Store)(nil)

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.pool.Ping(ctx))
}

func (s *Store) CreateRoom(ctx context.Context, code, creator string) (*backend.CreateRoomResult, error) {
	code = models.NormalizeRoomCode(code)
	if !models.ValidRoomCode(code) {
		return nil, apperr.Invalid("room code %q must be %d letters or digits", code, models.RoomCodeLength)
	}
	var res backend.CreateRoomResult
	err := s.pool.QueryRow(ctx,
		`SELECT room_id, game_id, user_id, code FROM create_room($1, $2, $3)`,
		code, strings.TrimSpace(creator), s.capacity,
	).Scan(&res.RoomID, &res.GameID, &res.UserID, &res.Code)
	if err != nil {
		return nil, mapError("create_room", err)
	}
	return &res, nil
}

func (s *Store) JoinRoom(ctx context.Context, code, username string) (*backend.JoinRoomResult, error) {
	var res backend.JoinRoomResult
	err := s.pool.QueryRow(ctx,
		`SELECT participant_id, user_id, room_id, game_id FROM join_room($1, $2)`,
		models.NormalizeRoomCode(code), username,
	).Scan(&res.ParticipantID, &res.UserID, &res.RoomID, &res.GameID)
	if err != nil {
		return nil, mapError("join_room", err)
	}
	return &res, nil
}

func (s *Store) LeaveRoom(ctx context.Context, code, username string) (*backend.LeaveRoomResult, error) {
	var (
		res     backend.LeaveRoomResult
		removed *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT success, removed_username, room_deleted FROM leave_room($1, $2)`,
		models.NormalizeRoomCode(code), username,
	).Scan(&res.Success, &removed, &res.RoomDeleted)
	if err != nil {
		return nil, mapError("leave_room", err)
	}
	if removed != nil {
		res.RemovedUsername = *removed
	}
	return &res, nil
}

func (s *Store) StartNewRound(ctx context.Context, req backend.StartRoundRequest) (*backend.RoundStart, error) {
	var (
		res  backend.RoundStart
		item []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT item, round_start_time, time_limit, advanced FROM start_new_round($1, $2)`,
		req.GameID, req.ExpectedRoundStart,
	).Scan(&item, &res.RoundStartTime, &res.TimeLimit, &res.Advanced)
	if err != nil {
		return nil, mapError("start_new_round", err)
	}
	if err := json.Unmarshal(item, &res.Item); err != nil {
		return nil, apperr.New(apperr.ErrIncomplete, "start_new_round: decode item: %v", err)
	}
	return &res, nil
}

func (s *Store) IncrementScore(ctx context.Context, participantID int64, increment int) (*backend.ScoreResult, error) {
	if increment <= 0 {
		return nil, apperr.Invalid("increment must be positive, got %d", increment)
	}
	var res backend.ScoreResult
	err := s.pool.QueryRow(ctx,
		`SELECT new_score, score_seq FROM increment_score($1, $2)`,
		participantID, increment,
	).Scan(&res.NewScore, &res.ScoreSeq)
	if err != nil {
		return nil, mapError("increment_score", err)
	}
	return &res, nil
}

func (s *Store) FinishGame(ctx context.Context, gameID int64) (*models.Game, error) {
	return s.gameRow(ctx, "finish_game", `SELECT finish_game($1)`, gameID)
}

func (s *Store) ResetGame(ctx context.Context, gameID, actorID int64) (*models.Game, error) {
	return s.gameRow(ctx, "reset_game", `SELECT reset_game($1, $2)`, gameID, actorID)
}

func (s *Store) UpdateGameSettings(ctx context.Context, gameID, actorID int64, patch models.SettingsPatch) (*models.Game, error) {
	if err := backend.ValidatePatch(patch); err != nil {
		return nil, err
	}
	return s.gameRow(ctx, "update_game_settings",
		`SELECT update_game_settings($1, $2, $3, $4, $5, $6)`,
		gameID, actorID, patch.CategoryID, patch.ClearCategory, patch.TargetScore, patch.TimeLimit,
	)
}

func (s *Store) InsertGuess(ctx context.Context, req backend.InsertGuessRequest) (*models.Guess, error) {
	g := models.Guess{
		GameID:        req.GameID,
		ItemID:        req.ItemID,
		ParticipantID: req.ParticipantID,
		Guess:         req.Guess,
		IsCorrect:     req.IsCorrect,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_guesses (game_id, item_id, participant_id, guess, is_correct)
		SELECT $1::bigint, $2::bigint, p.id, $4::text, $5::boolean
		FROM game_players p
		WHERE p.id = $3 AND p.game_id = $1
		RETURNING id, created_at`,
		req.GameID, req.ItemID, req.ParticipantID, req.Guess, req.IsCorrect,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return nil, mapError(fmt.Sprintf("insert guess for participant %d", req.ParticipantID), err)
	}
	return &g, nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var r models.Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, code, player_count, capacity, version, created_at FROM rooms WHERE code = $1`,
		models.NormalizeRoomCode(code),
	).Scan(&r.ID, &r.Code, &r.PlayerCount, &r.Capacity, &r.Version, &r.CreatedAt)
	if err != nil {
		return nil, mapError("room "+code, err)
	}
	return &r, nil
}

func (s *Store) GetGameByRoom(ctx context.Context, roomID int64) (*models.Game, error) {
	return s.gameRow(ctx, fmt.Sprintf("game of room %d", roomID),
		`SELECT to_jsonb(g) FROM games g WHERE g.room_id = $1`, roomID)
}

func (s *Store) GetGame(ctx context.Context, gameID int64) (*models.Game, error) {
	return s.gameRow(ctx, fmt.Sprintf("game %d", gameID),
		`SELECT to_jsonb(g) FROM games g WHERE g.id = $1`, gameID)
}

func (s *Store) ListParticipants(ctx context.Context, gameID int64) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, game_id, user_id, username, score, joined_at, score_seq, version
		FROM game_players
		WHERE game_id = $1
		ORDER BY joined_at, id`, gameID)
	if err != nil {
		return nil, mapError("list participants", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Participant, error) {
		var p models.Participant
		err := row.Scan(&p.ID, &p.GameID, &p.UserID, &p.Username, &p.Score, &p.JoinedAt, &p.ScoreSeq, &p.Version)
		return p, err
	})
	if err != nil {
		return nil, mapError("list participants", err)
	}
	return out, nil
}

func (s *Store) ListRooms(ctx context.Context, limit int) ([]models.RoomSummary, error) {
	if limit <= 0 {
		limit = backend.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.code, r.player_count, r.capacity, coalesce(g.state, ''), r.created_at
		FROM rooms r
		LEFT JOIN games g ON g.room_id = r.id
		ORDER BY r.created_at DESC, r.code
		LIMIT $1`, limit)
	if err != nil {
		return nil, mapError("list rooms", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RoomSummary, error) {
		var r models.RoomSummary
		var state string
		err := row.Scan(&r.Code, &r.PlayerCount, &r.Capacity, &state, &r.CreatedAt)
		r.State = models.GameState(state)
		return r, err
	})
	if err != nil {
		return nil, mapError("list rooms", err)
	}
	return out, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, count(i.id)
		FROM categories c
		LEFT JOIN items i ON i.category_id = c.id
		GROUP BY c.id, c.name
		ORDER BY c.name`)
	if err != nil {
		return nil, mapError("list categories", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Category, error) {
		var c models.Category
		err := row.Scan(&c.ID, &c.Name, &c.ItemCount)
		return c, err
	})
	if err != nil {
		return nil, mapError("list categories", err)
	}
	return out, nil
}

func (s *Store) ListGuesses(ctx context.Context, gameID int64, limit int) ([]models.Guess, error) {
	// limit 0 means all; the inner query takes the newest rows
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, game_id, item_id, participant_id, guess, is_correct, created_at
		FROM (
			SELECT * FROM user_guesses
			WHERE game_id = $1
			ORDER BY id DESC
			LIMIT $2
		) latest
		ORDER BY id`, gameID, lim)
	if err != nil {
		return nil, mapError("list guesses", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Guess, error) {
		var g models.Guess
		err := row.Scan(&g.ID, &g.GameID, &g.ItemID, &g.ParticipantID, &g.Guess, &g.IsCorrect, &g.CreatedAt)
		return g, err
	})
	if err != nil {
		return nil, mapError("list guesses", err)
	}
	return out, nil
}

// gameRow runs a query yielding one jsonb games row.
func (s *Store) gameRow(ctx context.Context, op, query string, args ...any) (*models.Game, error) {
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		return nil, mapError(op, err)
	}
	return decodeGame(op, raw)
}

func decodeGame(op string, raw []byte) (*models.Game, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	var g models.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, apperr.New(apperr.ErrIncomplete, "%s: decode game: %v", op, err)
	}
	return &g, nil
}

// PurgeIdleRooms deletes rooms with no players older than maxAge and
// returns how many were removed.
func (s *Store) PurgeIdleRooms(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rooms WHERE player_count = 0 AND created_at < now() - make_interval(secs => $1)`,
		maxAge.Seconds())
	if err != nil {
		return 0, mapError("purge idle rooms", err)
	}
	return tag.RowsAffected(), nil
}
