package postgres

import (
	"time"

	"dilemma-cloud/internal/domain"
	"github.com/uptrace/bun"
)

type dilemmaRow struct {
	bun.BaseModel `bun:"table:dilemmas"`

	ID         string             `bun:"id,pk"`
	Title      string             `bun:"title,notnull"`
	Kind       string             `bun:"kind,notnull"`
	Options    []domain.Option    `bun:"options,type:jsonb"`
	Category   string             `bun:"category,notnull"`
	XCount     int64              `bun:"x_count,notnull"`
	YCount     int64              `bun:"y_count,notnull"`
	StartedAt  time.Time          `bun:"started_at,notnull"`
	ExpiresAt  time.Time          `bun:"expires_at,nullzero"`
	CreatedAt  time.Time          `bun:"created_at,notnull"`
	Resolved   bool               `bun:"resolved,notnull"`
	Settled    bool               `bun:"settled,notnull"`
	Resolution *domain.Resolution `bun:"resolution,type:jsonb"`
}

type optionCountRow struct {
	bun.BaseModel `bun:"table:dilemma_option_counts"`

	DilemmaID string `bun:"dilemma_id,pk"`
	OptionID  string `bun:"option_id,pk"`
	Count     int64  `bun:"count,notnull"`
}

type voteRow struct {
	bun.BaseModel `bun:"table:votes"`

	DilemmaID  string    `bun:"dilemma_id,pk"`
	UserID     string    `bun:"user_id,pk"`
	ChoiceX    bool      `bun:"choice_x,notnull"`
	OptionID   string    `bun:"option_id,notnull"`
	Confidence *float64  `bun:"confidence"`
	Reason     string    `bun:"reason,notnull"`
	VariantTag string    `bun:"variant_tag,notnull"`
	CastAt     time.Time `bun:"cast_at,notnull"`
	Resolved   bool      `bun:"resolved,notnull"`
	Correct    *bool     `bun:"correct"`
	Points     *int      `bun:"points"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID              string    `bun:"id,pk"`
	Score           int64     `bun:"score,notnull"`
	WeeklyPoints    int64     `bun:"weekly_points,notnull"`
	SeasonPoints    int64     `bun:"season_points,notnull"`
	AllTimePoints   int64     `bun:"all_time_points,notnull"`
	Streak          int       `bun:"streak,notnull"`
	BestStreak      int       `bun:"best_streak,notnull"`
	LastVoteDate    string    `bun:"last_vote_date,notnull"`
	League          string    `bun:"league,notnull"`
	LeagueUpdatedAt time.Time `bun:"league_updated_at,nullzero"`
	SeasonID        string    `bun:"season_id,notnull"`
	SeasonStartedAt time.Time `bun:"season_started_at,nullzero"`
}

type experimentRow struct {
	bun.BaseModel `bun:"table:scoring_experiments"`

	DilemmaID string                  `bun:"dilemma_id,pk"`
	Report    domain.ExperimentReport `bun:"report,type:jsonb"`
	CreatedAt time.Time               `bun:"created_at,notnull"`
}

type progressRow struct {
	bun.BaseModel `bun:"table:user_progress"`

	UserID       string    `bun:"user_id,pk"`
	TakenAt      time.Time `bun:"taken_at,pk"`
	Score        int64     `bun:"score,notnull"`
	WeeklyPoints int64     `bun:"weekly_points,notnull"`
	RankAll      *int      `bun:"rank_all"`
	RankWeek     *int      `bun:"rank_week"`
	LeagueAll    string    `bun:"league_all,notnull"`
	LeagueWeek   string    `bun:"league_week,notnull"`
}

// rankColumns maps ranking fields to their indexed columns.
var rankColumns = map[domain.RankField]string{
	domain.FieldScore:         "score",
	domain.FieldWeeklyPoints:  "weekly_points",
	domain.FieldSeasonPoints:  "season_points",
	domain.FieldAllTimePoints: "all_time_points",
}

func newDilemmaRow(d domain.Dilemma) *dilemmaRow {
	return &dilemmaRow{
		ID:         d.ID,
		Title:      d.Title,
		Kind:       string(d.Kind),
		Options:    d.Options,
		Category:   d.Category,
		XCount:     d.XCount,
		YCount:     d.YCount,
		StartedAt:  d.StartedAt,
		ExpiresAt:  d.ExpiresAt,
		CreatedAt:  d.CreatedAt,
		Resolved:   d.Resolved,
		Settled:    d.Settled,
		Resolution: d.Resolution,
	}
}

func (r *dilemmaRow) toDomain(counts []optionCountRow) domain.Dilemma {
	d := domain.Dilemma{
		ID:         r.ID,
		Title:      r.Title,
		Kind:       domain.Kind(r.Kind),
		Options:    r.Options,
		Category:   r.Category,
		XCount:     r.XCount,
		YCount:     r.YCount,
		StartedAt:  r.StartedAt,
		ExpiresAt:  r.ExpiresAt,
		CreatedAt:  r.CreatedAt,
		Resolved:   r.Resolved,
		Settled:    r.Settled,
		Resolution: r.Resolution,
	}
	if d.Kind == domain.KindMulti {
		d.OptionCounts = make(map[string]int64, len(counts))
		for _, c := range counts {
			d.OptionCounts[c.OptionID] = c.Count
		}
	}
	return d
}

func newVoteRow(v domain.Vote) *voteRow {
	return &voteRow{
		DilemmaID:  v.DilemmaID,
		UserID:     v.UserID,
		ChoiceX:    v.Choice.X,
		OptionID:   v.Choice.OptionID,
		Confidence: v.Confidence,
		Reason:     v.Reason,
		VariantTag: v.VariantTag,
		CastAt:     v.CastAt,
		Resolved:   v.Resolved,
		Correct:    v.Correct,
		Points:     v.Points,
	}
}

func (r *voteRow) toDomain() domain.Vote {
	return domain.Vote{
		DilemmaID:  r.DilemmaID,
		UserID:     r.UserID,
		Choice:     domain.Choice{X: r.ChoiceX, OptionID: r.OptionID},
		Confidence: r.Confidence,
		Reason:     r.Reason,
		VariantTag: r.VariantTag,
		CastAt:     r.CastAt,
		Resolved:   r.Resolved,
		Correct:    r.Correct,
		Points:     r.Points,
	}
}

func (r *userRow) toDomain() domain.User {
	return domain.User{
		ID:              r.ID,
		Score:           r.Score,
		WeeklyPoints:    r.WeeklyPoints,
		SeasonPoints:    r.SeasonPoints,
		AllTimePoints:   r.AllTimePoints,
		Streak:          r.Streak,
		BestStreak:      r.BestStreak,
		LastVoteDate:    r.LastVoteDate,
		League:          domain.League(r.League),
		LeagueUpdatedAt: r.LeagueUpdatedAt,
		SeasonID:        r.SeasonID,
		SeasonStartedAt: r.SeasonStartedAt,
	}
}

func votesToDomain(rows []voteRow) []domain.Vote {
	out := make([]domain.Vote, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}

func usersToDomain(rows []userRow) []domain.User {
	out := make([]domain.User, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}

func newProgressRow(p domain.ProgressPoint) progressRow {
	return progressRow{
		UserID:       p.UserID,
		TakenAt:      p.At,
		Score:        p.Score,
		WeeklyPoints: p.WeeklyPoints,
		RankAll:      p.RankAll,
		RankWeek:     p.RankWeek,
		LeagueAll:    string(p.LeagueAll),
		LeagueWeek:   string(p.LeagueWeek),
	}
}

func (r *progressRow) toDomain() domain.ProgressPoint {
	return domain.ProgressPoint{
		UserID:       r.UserID,
		At:           r.TakenAt,
		Score:        r.Score,
		WeeklyPoints: r.WeeklyPoints,
		RankAll:      r.RankAll,
		RankWeek:     r.RankWeek,
		LeagueAll:    domain.League(r.LeagueAll),
		LeagueWeek:   domain.League(r.LeagueWeek),
	}
}
