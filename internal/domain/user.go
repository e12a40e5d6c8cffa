package domain

import (
	"strings"
	"time"
)

// User holds cumulative scores, the daily vote streak and the league tier.
type User struct {
	ID              string    `json:"uid"`
	Score           int64     `json:"score"`
	WeeklyPoints    int64     `json:"weeklyPoints"`
	SeasonPoints    int64     `json:"seasonPoints"`
	AllTimePoints   int64     `json:"allTimePoints"`
	Streak          int       `json:"streak"`
	BestStreak      int       `json:"bestStreak"`
	LastVoteDate    string    `json:"lastVoteDate,omitempty"`
	League          League    `json:"league,omitempty"`
	LeagueUpdatedAt time.Time `json:"leagueUpdatedAt,omitempty"`
	SeasonID        string    `json:"seasonId,omitempty"`
	SeasonStartedAt time.Time `json:"seasonStartedAt,omitempty"`
}

// Value returns the user's value for a ranking field.
func (u User) Value(f RankField) int64 {
	switch f {
	case FieldScore:
		return u.Score
	case FieldSeasonPoints:
		return u.SeasonPoints
	case FieldAllTimePoints:
		return u.AllTimePoints
	default:
		return u.WeeklyPoints
	}
}

// StreakDateLayout formats the UTC calendar day of a vote.
const StreakDateLayout = "2006-01-02"

// Streak is the daily voting streak state written with a vote.
type Streak struct {
	LastVoteDate string
	Current      int
	Best         int
}

// NextStreak advances the streak for a vote on day now. It reports false when
// the user already voted that day and nothing changes.
func NextStreak(u User, now time.Time) (Streak, bool) {
	today := now.UTC().Format(StreakDateLayout)
	if u.LastVoteDate == today {
		return Streak{LastVoteDate: today, Current: u.Streak, Best: u.BestStreak}, false
	}
	yesterday := now.UTC().AddDate(0, 0, -1).Format(StreakDateLayout)
	current := 1
	if u.LastVoteDate == yesterday {
		current = u.Streak + 1
	}
	best := u.BestStreak
	if current > best {
		best = current
	}
	return Streak{LastVoteDate: today, Current: current, Best: best}, true
}

// League is a percentile tier.
type League string

const (
	LeagueElite  League = "elite"
	LeagueGold   League = "gold"
	LeagueSilver League = "silver"
	LeagueBronze League = "bronze"
)

// LeagueFromTopShare maps a top share (1 = first place) to a league.
func LeagueFromTopShare(pTop float64) League {
	switch {
	case pTop >= 0.95:
		return LeagueElite
	case pTop >= 0.75:
		return LeagueGold
	case pTop >= 0.40:
		return LeagueSilver
	default:
		return LeagueBronze
	}
}

// RankField is a user score column that leagues can be computed over.
type RankField string

const (
	FieldScore         RankField = "score"
	FieldWeeklyPoints  RankField = "weeklyPoints"
	FieldSeasonPoints  RankField = "seasonPoints"
	FieldAllTimePoints RankField = "allTimePoints"
)

// ParseRankField accepts the canonical names and their short aliases. An empty
// string selects weekly points.
func ParseRankField(raw string) (RankField, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "week", "weekly", "weeklypoints":
		return FieldWeeklyPoints, nil
	case "season", "seasonpoints":
		return FieldSeasonPoints, nil
	case "all", "alltime", "alltimepoints":
		return FieldAllTimePoints, nil
	case "score":
		return FieldScore, nil
	}
	return "", Invalidf("unknown ranking field %q", raw)
}

// LeagueCuts are the last ranks of each tier above bronze.
type LeagueCuts struct {
	EliteCut  int `json:"eliteCut"`
	GoldCut   int `json:"goldCut"`
	SilverCut int `json:"silverCut"`
}

// League returns the tier for a 1-based rank.
func (c LeagueCuts) League(rank int) League {
	switch {
	case rank <= c.EliteCut:
		return LeagueElite
	case rank <= c.GoldCut:
		return LeagueGold
	case rank <= c.SilverCut:
		return LeagueSilver
	default:
		return LeagueBronze
	}
}

// RankCursor is a resumable page boundary of a ranking pass.
type RankCursor struct {
	Value  int64  `json:"value"`
	UserID string `json:"uid"`
	Rank   int    `json:"rank"`
}

// RecomputeResult summarises a league pass.
type RecomputeResult struct {
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Writes    int         `json:"writes"`
	Field     RankField   `json:"field"`
	Cuts      LeagueCuts  `json:"cuts"`
	DryRun    bool        `json:"dryRun"`
	Cursor    *RankCursor `json:"cursor,omitempty"`
}

// SeasonResetResult summarises a season reset pass.
type SeasonResetResult struct {
	SeasonID  string `json:"seasonId"`
	Processed int    `json:"processed"`
}
