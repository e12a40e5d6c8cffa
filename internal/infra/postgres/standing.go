package postgres

import (
	"context"
	"time"

	"dilemma-cloud/internal/domain"
	"github.com/uptrace/bun"
)

// UserVotes implements app.UserVoteHistory.
func (s *Store) UserVotes(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Vote, error) {
	var rows []voteRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("cast_at >= ?", since)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.OrderExpr("cast_at DESC, dilemma_id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return votesToDomain(rows), nil
}

// CountUsersAbove implements app.StandingReader.
func (s *Store) CountUsersAbove(ctx context.Context, field domain.RankField, value int64) (int, error) {
	col, ok := rankColumns[field]
	if !ok {
		return 0, domain.Invalidf("unknown ranking field %q", field)
	}
	return s.db.NewSelect().
		Model((*userRow)(nil)).
		Where("? > ?", bun.Ident(col), value).
		Count(ctx)
}

// UsersAbove implements app.StandingReader.
func (s *Store) UsersAbove(ctx context.Context, field domain.RankField, value int64, n int) ([]domain.User, error) {
	return s.neighbours(ctx, field, ">", "ASC", value, n)
}

// UsersBelow implements app.StandingReader.
func (s *Store) UsersBelow(ctx context.Context, field domain.RankField, value int64, n int) ([]domain.User, error) {
	return s.neighbours(ctx, field, "<", "DESC", value, n)
}

func (s *Store) neighbours(ctx context.Context, field domain.RankField, cmp, dir string, value int64, n int) ([]domain.User, error) {
	col, ok := rankColumns[field]
	if !ok {
		return nil, domain.Invalidf("unknown ranking field %q", field)
	}
	var rows []userRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("? "+cmp+" ?", bun.Ident(col), value).
		OrderExpr("? "+dir+", id ASC", bun.Ident(col)).
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return usersToDomain(rows), nil
}

// PutProgress implements app.ProgressStore.
func (s *Store) PutProgress(ctx context.Context, points []domain.ProgressPoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]progressRow, len(points))
	for i, p := range points {
		rows[i] = newProgressRow(p)
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (user_id, taken_at) DO UPDATE").
		Set("score = EXCLUDED.score").
		Set("weekly_points = EXCLUDED.weekly_points").
		Set("rank_all = EXCLUDED.rank_all").
		Set("rank_week = EXCLUDED.rank_week").
		Set("league_all = EXCLUDED.league_all").
		Set("league_week = EXCLUDED.league_week").
		Exec(ctx)
	return err
}

// ListProgress implements app.ProgressStore.
func (s *Store) ListProgress(ctx context.Context, userID string, since time.Time, limit int) ([]domain.ProgressPoint, error) {
	var rows []progressRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("taken_at >= ?", since)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.OrderExpr("taken_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.ProgressPoint, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
