// Package backend defines the data and procedure contract the game
// components depend on. Every mutation that must be atomic is a single
// procedure here; callers never read-modify-write shared counters.
package backend

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/trivia/go/internal/models"
)

// Backend is the remote data/RPC service.
type Backend interface {
	Procedures
	Reads

	// InsertGuess appends a guess to the log.
	InsertGuess(ctx context.Context, req InsertGuessRequest) (*models.Guess, error)
}

// Procedures are the named atomic operations.
type Procedures interface {
	CreateRoom(ctx context.Context, code, creator string) (*CreateRoomResult, error)
	JoinRoom(ctx context.Context, code, username string) (*JoinRoomResult, error)
	LeaveRoom(ctx context.Context, code, username string) (*LeaveRoomResult, error)
	StartNewRound(ctx context.Context, req StartRoundRequest) (*RoundStart, error)
	IncrementScore(ctx context.Context, participantID int64, increment int) (*ScoreResult, error)
	FinishGame(ctx context.Context, gameID int64) (*models.Game, error)
	ResetGame(ctx context.Context, gameID, actorID int64) (*models.Game, error)
	UpdateGameSettings(ctx context.Context, gameID, actorID int64, patch models.SettingsPatch) (*models.Game, error)
}

// Reads are filtered lookups over the table-like entities.
type Reads interface {
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	GetGameByRoom(ctx context.Context, roomID int64) (*models.Game, error)
	GetGame(ctx context.Context, gameID int64) (*models.Game, error)
	ListParticipants(ctx context.Context, gameID int64) ([]models.Participant, error)
	ListRooms(ctx context.Context, limit int) ([]models.RoomSummary, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListGuesses(ctx context.Context, gameID int64, limit int) ([]models.Guess, error)
}

// CreateRoomResult is returned by create_room.
type CreateRoomResult struct {
	RoomID int64     `json:"room_id"`
	GameID int64     `json:"game_id"`
	UserID uuid.UUID `json:"user_id"`
	Code   string    `json:"code"`
}

// JoinRoomResult is returned by join_room.
type JoinRoomResult struct {
	ParticipantID int64     `json:"participant_id"`
	UserID        uuid.UUID `json:"user_id"`
	RoomID        int64     `json:"room_id"`
	GameID        int64     `json:"game_id"`
}

// LeaveRoomResult is returned by leave_room.
type LeaveRoomResult struct {
	Success         bool   `json:"success"`
	RemovedUsername string `json:"removed_username"`
	RoomDeleted     bool   `json:"room_deleted"`
}

// StartRoundRequest asks for the next question of a game.
// When ExpectedRoundStart is set the call only advances if the game is
// still on that round; otherwise the current round is returned unchanged.
type StartRoundRequest struct {
	GameID             int64      `json:"game_id"`
	ExpectedRoundStart *time.Time `json:"expected_round_start,omitempty"`
}

// RoundStart is returned by start_new_round.
type RoundStart struct {
	Item           models.Item `json:"item"`
	RoundStartTime time.Time   `json:"round_start_time"`
	TimeLimit      *int        `json:"time_limit"`
	Advanced       bool        `json:"advanced"`
}

// ScoreResult is returned by increment_score.
type ScoreResult struct {
	NewScore int    `json:"new_score"`
	ScoreSeq *int64 `json:"score_seq"`
}

// InsertGuessRequest is the payload of a guess log append.
type InsertGuessRequest struct {
	GameID        int64  `json:"game_id"`
	ItemID        int64  `json:"item_id"`
	ParticipantID int64  `json:"participant_id"`
	Guess         string `json:"guess"`
	IsCorrect     bool   `json:"is_correct"`
}

// DefaultListLimit is the number of rooms shown by the directory.
const DefaultListLimit = 12
