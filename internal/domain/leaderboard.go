package domain

import (
	"strings"
	"time"
)

// Range selects a leaderboard window.
type Range string

const (
	RangeDay  Range = "day"
	RangeWeek Range = "week"
	RangeAll  Range = "all"
)

// ParseRange accepts day, week and all (case-insensitive).
func ParseRange(raw string, fallback Range) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(raw))); r {
	case "":
		return fallback, nil
	case RangeDay, RangeWeek, RangeAll:
		return r, nil
	}
	return "", Invalidf("range must be day|week|all, got %q", raw)
}

// Window returns the trailing duration aggregated for a windowed range.
func (r Range) Window() (time.Duration, bool) {
	switch r {
	case RangeDay:
		return 24 * time.Hour, true
	case RangeWeek:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

// LeaderboardItem is one ranked row.
type LeaderboardItem struct {
	Rank       int    `json:"rank"`
	UserID     string `json:"uid"`
	Score      int64  `json:"score"`
	Streak     int    `json:"streak"`
	BestStreak int    `json:"bestStreak"`
	League     League `json:"league,omitempty"`
}

// LeaderboardSnapshot is a cached windowed leaderboard. It is derived data and
// can always be rebuilt from votes.
type LeaderboardSnapshot struct {
	Range     Range             `json:"range"`
	Items     []LeaderboardItem `json:"items"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Count     int               `json:"count"`
}

// FreshAt reports whether the snapshot is at most ttl old at now.
func (s LeaderboardSnapshot) FreshAt(now time.Time, ttl time.Duration) bool {
	if s.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(s.UpdatedAt) <= ttl
}
