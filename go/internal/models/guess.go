package models

import "time"

// Guess is an append-only record of a submitted answer.
type Guess struct {
	ID            int64     `json:"id"`
	GameID        int64     `json:"game_id"`
	ItemID        int64     `json:"item_id"`
	ParticipantID int64     `json:"participant_id"`
	Guess         string    `json:"guess"`
	IsCorrect     bool      `json:"is_correct"`
	CreatedAt     time.Time `json:"created_at"`
}
