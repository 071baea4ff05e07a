package models

import (
	"time"

	"github.com/google/uuid"
)

// GameState defines the lifecycle state of a game.
type GameState string

const (
	GameStateWaiting    GameState = "waiting"
	GameStateInProgress GameState = "in_progress"
	GameStateFinished   GameState = "finished"
)

// Defaults applied when a room and its game are created.
const (
	DefaultTargetScore = 10
	DefaultTimeLimit   = 60
	DefaultCapacity    = 8
)

// Game holds one play session's configuration and round state.
type Game struct {
	ID          int64      `json:"id"`
	RoomID      int64      `json:"room_id"`
	CreatorID   uuid.UUID  `json:"creator_id"`
	TargetScore int        `json:"target_score"`
	TimeLimit   *int       `json:"time_limit"` // seconds, nil means untimed
	CategoryID  *int64     `json:"category_id"`
	State       GameState  `json:"state"`
	CurrentItem *Item      `json:"current_item"`
	RoundStart  *time.Time `json:"round_start"`
	WinnerID    *int64     `json:"winner_id"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Settings is the leader-controlled configuration of a game.
type Settings struct {
	CategoryID  *int64 `json:"category_id"`
	TargetScore int    `json:"target_score"`
	TimeLimit   *int   `json:"time_limit"`
}

// Settings returns the configurable part of the game.
func (g Game) Settings() Settings {
	return Settings{
		CategoryID:  g.CategoryID,
		TargetScore: g.TargetScore,
		TimeLimit:   g.TimeLimit,
	}
}

// Timed reports whether rounds of this game expire.
func (g Game) Timed() bool {
	return g.TimeLimit != nil && *g.TimeLimit > 0
}

// RoundLimit returns the round duration, zero when untimed.
func (g Game) RoundLimit() time.Duration {
	if !g.Timed() {
		return 0
	}
	return time.Duration(*g.TimeLimit) * time.Second
}

// HasRound reports whether a question and its start timestamp are set.
func (g Game) HasRound() bool {
	return g.CurrentItem != nil && g.RoundStart != nil
}

// SettingsPatch carries independent optional settings updates.
// A nil field is left untouched. ClearCategory unsets the category.
type SettingsPatch struct {
	CategoryID    *int64 `json:"category_id,omitempty"`
	ClearCategory bool   `json:"clear_category,omitempty"`
	TargetScore   *int   `json:"target_score,omitempty"`
	TimeLimit     *int   `json:"time_limit,omitempty"` // 0 means untimed
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p.CategoryID == nil && !p.ClearCategory && p.TargetScore == nil && p.TimeLimit == nil
}
