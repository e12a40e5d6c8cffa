package domain

import (
	"strings"
	"time"
)

// RangeSeason ranks by season points. Only standing reads accept it.
const RangeSeason Range = "season"

// ParseStandingRange accepts day, week, season and all. An empty string
// selects week.
func ParseStandingRange(raw string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(raw))); r {
	case "":
		return RangeWeek, nil
	case RangeDay, RangeWeek, RangeSeason, RangeAll:
		return r, nil
	}
	return "", Invalidf("range must be day|week|season|all, got %q", raw)
}

// UserScore is a user's totals plus recent resolved points.
type UserScore struct {
	Score      int64 `json:"score"`
	Streak     int   `json:"streak"`
	BestStreak int   `json:"bestStreak"`
	WeekPoints int64 `json:"weekPoints"`
	DayPoints  int64 `json:"dayPoints"`
}

// VoteHistoryItem is one vote joined with its dilemma. Binary items carry the
// split, multi items the smoothed share of the chosen option once resolved.
type VoteHistoryItem struct {
	DilemmaID  string    `json:"dilemmaId"`
	Title      string    `json:"title"`
	Kind       Kind      `json:"type"`
	ChoiceX    bool      `json:"choiceX"`
	OptionID   string    `json:"optionId,omitempty"`
	XPct       *float64  `json:"xPct,omitempty"`
	YPct       *float64  `json:"yPct,omitempty"`
	OptionPct  *float64  `json:"optionPct,omitempty"`
	CastAt     time.Time `json:"ts"`
	Confidence *float64  `json:"confidence,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Resolved   bool      `json:"resolved"`
	Correct    *bool     `json:"correct,omitempty"`
	Points     int       `json:"points"`
	VariantTag string    `json:"variant,omitempty"`
}

// StandingNeighbour is a nearby competitor.
type StandingNeighbour struct {
	UserID string `json:"uid"`
	Score  int64  `json:"score"`
}

// StandingProgress is the gap to the next rank up.
type StandingProgress struct {
	PointsNeeded int64  `json:"pointsNeeded"`
	TargetUserID string `json:"targetUid"`
	TargetScore  int64  `json:"targetScore"`
}

// Standing is a user's position in one range.
type Standing struct {
	Range          Range               `json:"range"`
	Rank           int                 `json:"rank"`
	Score          int64               `json:"score"`
	League         League              `json:"league"`
	Near           []StandingNeighbour `json:"near"`
	ProgressToNext *StandingProgress   `json:"progressToNext,omitempty"`
}

// ProgressPoint is one periodic snapshot of a user's totals and ranks. Ranks
// and leagues are nil when the user was not ranked on that board.
type ProgressPoint struct {
	UserID       string    `json:"uid"`
	At           time.Time `json:"ts"`
	Score        int64     `json:"score"`
	WeeklyPoints int64     `json:"weeklyPoints"`
	RankAll      *int      `json:"rankAll,omitempty"`
	RankWeek     *int      `json:"rankWeek,omitempty"`
	LeagueAll    League    `json:"leagueAll,omitempty"`
	LeagueWeek   League    `json:"leagueWeek,omitempty"`
}

// Progression is a user's series for one range. Week series report weekly
// points as the score.
type Progression struct {
	Range  Range           `json:"range"`
	Points []ProgressPoint `json:"points"`
}

// ProgressSnapshotResult summarises a progression snapshot pass.
type ProgressSnapshotResult struct {
	ActiveUsers int `json:"activeUsers"`
	Snapshots   int `json:"snapshots"`
}
