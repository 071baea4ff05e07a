package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a user's membership record within one game.
type Participant struct {
	ID       int64     `json:"id"`
	GameID   int64     `json:"game_id"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joined_at"`
	// ScoreSeq is stamped from a server sequence when the score first
	// reaches the game's target score.
	ScoreSeq *int64 `json:"score_seq"`
	Version  int64  `json:"version"`
}

// User is the identity behind participants.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
