// Package leadership derives the session leader from the roster. The
// leader is never stored; it is recomputed from join order on every roster
// change.
package leadership

import (
	"slices"

	"github.com/mcdev12/trivia/go/internal/models"
)

// Resolve returns the participant with the earliest join timestamp. Equal
// timestamps fall back to the smaller participant id so the result does not
// depend on roster order. ok is false for an empty roster.
func Resolve(roster []models.Participant) (leader models.Participant, ok bool) {
	for i, p := range roster {
		if i == 0 || before(p, leader) {
			leader = p
		}
	}
	return leader, len(roster) > 0
}

// IsLeader reports whether participantID leads the roster.
func IsLeader(roster []models.Participant, participantID int64) bool {
	leader, ok := Resolve(roster)
	return ok && leader.ID == participantID
}

// Ordered returns a copy of the roster sorted by join order.
func Ordered(roster []models.Participant) []models.Participant {
	out := slices.Clone(roster)
	slices.SortStableFunc(out, func(a, b models.Participant) int {
		switch {
		case before(a, b):
			return -1
		case before(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}

func before(a, b models.Participant) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ID < b.ID
}
