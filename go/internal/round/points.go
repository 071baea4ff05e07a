package round

import (
	"math"
	"time"
)

// DefaultPoints is awarded per correct answer by FixedPoints.
const DefaultPoints = 10

// PointsPolicy decides how many points a correct answer earns given the
// time left in the round. limit is zero for untimed rounds.
type PointsPolicy func(remaining, limit time.Duration) int

// FixedPoints awards n points regardless of timing.
func FixedPoints(n int) PointsPolicy {
	return func(time.Duration, time.Duration) int { return n }
}

// TimeWeighted awards between 3 and 10 points, scaling linearly with the
// fraction of the round still remaining. Untimed rounds award the maximum.
func TimeWeighted(remaining, limit time.Duration) int {
	if limit <= 0 {
		return 10
	}
	pts := int(math.Round(float64(remaining)/float64(limit)*7 + 3))
	return max(3, min(10, pts))
}

// Remaining returns how much of a round is left at now, never negative.
func Remaining(now, roundStart time.Time, limit time.Duration) time.Duration {
	left := limit - now.Sub(roundStart)
	if left < 0 {
		return 0
	}
	return left
}
