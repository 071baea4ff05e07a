package models

import (
	"strings"
	"time"
)

// Room is a short-lived lobby identified by a four character code.
type Room struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	PlayerCount int       `json:"player_count"`
	Capacity    int       `json:"capacity"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// Full reports whether the room has no free seat left.
func (r Room) Full() bool {
	return r.PlayerCount >= r.Capacity
}

// RoomSummary is a row of the room directory listing.
type RoomSummary struct {
	Code        string    `json:"code"`
	PlayerCount int       `json:"player_count"`
	Capacity    int       `json:"capacity"`
	State       GameState `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoomCodeLength is the number of characters in a room code.
const RoomCodeLength = 4

// NormalizeRoomCode trims and upper-cases a human-entered code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether code is exactly four upper-case
// alphanumeric characters.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
