package round

import (
	"testing"
	"time"
)

func TestRemainingClampsAtZero(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if got := Remaining(now, now.Add(-61*time.Second), 60*time.Second); got != 0 {
		t.Errorf("expected 0 remaining, got %v", got)
	}
	if got := Remaining(now, now.Add(-15*time.Second), 60*time.Second); got != 45*time.Second {
		t.Errorf("expected 45s remaining, got %v", got)
	}
}

func TestTimeWeighted(t *testing.T) {
	limit := 30 * time.Second
	cases := []struct {
		remaining time.Duration
		want      int
	}{
		{30 * time.Second, 10},
		{15 * time.Second, 7},
		{0, 3},
		{-time.Second, 3},
		{time.Minute, 10},
	}
	for _, tc := range cases {
		if got := TimeWeighted(tc.remaining, limit); got != tc.want {
			t.Errorf("TimeWeighted(%v) = %d, expected %d", tc.remaining, got, tc.want)
		}
	}
	if got := TimeWeighted(0, 0); got != 10 {
		t.Errorf("untimed rounds should award 10, got %d", got)
	}
	if got := FixedPoints(DefaultPoints)(0, limit); got != 10 {
		t.Errorf("expected fixed 10, got %d", got)
	}
}
