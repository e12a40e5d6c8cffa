package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const defaultMaxAttempts = 5

// Store is the production app.Store on Postgres. Vote and resolve bodies run
// in SERIALIZABLE transactions and are retried on serialization failures;
// counters and user totals are only ever changed with col = col + ? updates.
type Store struct {
	db          *bun.DB
	maxAttempts int
}

var _ app.Store = (*Store)(nil)

func NewStore(db *bun.DB, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Store{db: db, maxAttempts: maxAttempts}
}

// RunTx implements app.Transactor.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
			return fn(ctx, &pgTx{tx: tx})
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if err := backoff(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", domain.ErrConcurrencyExhausted, s.maxAttempts)
}

// retryable reports serialization failures and deadlocks.
func retryable(err error) bool {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Field('C') {
	case "40001", "40P01":
		return true
	}
	return false
}

func uniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt*attempt) * 5 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Commit implements app.Transactor. Marks are conditional on the vote still
// being unresolved, so replaying a committed page fails instead of paying twice.
func (s *Store) Commit(ctx context.Context, b *app.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, m := range b.Marks {
			correct, points := m.Correct, m.Points
			res, err := tx.NewUpdate().
				Model((*voteRow)(nil)).
				Set("resolved = TRUE").
				Set("correct = ?", correct).
				Set("points = ?", points).
				Where("dilemma_id = ?", m.DilemmaID).
				Where("user_id = ?", m.UserID).
				Where("NOT resolved").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("mark vote %s/%s: %w", m.DilemmaID, m.UserID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("vote %s/%s: %w", m.DilemmaID, m.UserID, domain.ErrVoteAlreadyMarked)
			}
		}

		for _, p := range b.Points {
			row := &userRow{ID: p.UserID, Score: p.Delta, WeeklyPoints: p.Delta, SeasonPoints: p.Delta, AllTimePoints: p.Delta}
			_, err := tx.NewInsert().
				Model(row).
				Column("id", "score", "weekly_points", "season_points", "all_time_points").
				On("CONFLICT (id) DO UPDATE").
				Set("score = ?TableAlias.score + EXCLUDED.score").
				Set("weekly_points = ?TableAlias.weekly_points + EXCLUDED.weekly_points").
				Set("season_points = ?TableAlias.season_points + EXCLUDED.season_points").
				Set("all_time_points = ?TableAlias.all_time_points + EXCLUDED.all_time_points").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("increment user %s: %w", p.UserID, err)
			}
		}

		for _, l := range b.Leagues {
			_, err := tx.NewUpdate().
				Model((*userRow)(nil)).
				Set("league = ?", string(l.League)).
				Set("league_updated_at = ?", l.At).
				Where("id = ?", l.UserID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("assign league to %s: %w", l.UserID, err)
			}
		}

		for _, a := range b.Seasons {
			_, err := tx.NewUpdate().
				Model((*userRow)(nil)).
				Set("season_points = 0").
				Set("season_id = ?", a.SeasonID).
				Set("season_started_at = ?", a.StartedAt).
				Where("id = ?", a.UserID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("reset season of %s: %w", a.UserID, err)
			}
		}
		return nil
	})
}

// CreateDilemma implements app.DilemmaRepository.
func (s *Store) CreateDilemma(ctx context.Context, d domain.Dilemma) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(newDilemmaRow(d)).Exec(ctx); err != nil {
			return err
		}
		if len(d.OptionCounts) == 0 {
			return nil
		}
		rows := make([]optionCountRow, 0, len(d.OptionCounts))
		for id, c := range d.OptionCounts {
			rows = append(rows, optionCountRow{DilemmaID: d.ID, OptionID: id, Count: c})
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if uniqueViolation(err) {
		return fmt.Errorf("dilemma %s exists: %w", d.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create dilemma %s: %w", d.ID, err)
	}
	return nil
}

// GetDilemma implements app.DilemmaRepository.
func (s *Store) GetDilemma(ctx context.Context, id string) (domain.Dilemma, error) {
	return loadDilemma(ctx, s.db, id)
}

func loadDilemma(ctx context.Context, db bun.IDB, id string) (domain.Dilemma, error) {
	row := new(dilemmaRow)
	err := db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dilemma{}, domain.ErrDilemmaNotFound
	}
	if err != nil {
		return domain.Dilemma{}, fmt.Errorf("load dilemma %s: %w", id, err)
	}
	var counts []optionCountRow
	if row.Kind == string(domain.KindMulti) {
		if err := db.NewSelect().Model(&counts).Where("dilemma_id = ?", id).Scan(ctx); err != nil {
			return domain.Dilemma{}, fmt.Errorf("load option counts of %s: %w", id, err)
		}
	}
	return row.toDomain(counts), nil
}

// MarkSettled implements app.DilemmaRepository.
func (s *Store) MarkSettled(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().
		Model((*dilemmaRow)(nil)).
		Set("settled = TRUE").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark %s settled: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDilemmaNotFound
	}
	return nil
}

// ScanVotes implements app.DilemmaRepository.
func (s *Store) ScanVotes(ctx context.Context, dilemmaID, afterUserID string, limit int) ([]domain.Vote, error) {
	var rows []voteRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("dilemma_id = ?", dilemmaID).
		Where("user_id > ?", afterUserID).
		OrderExpr("user_id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return votesToDomain(rows), nil
}

// PutExperiment implements app.DilemmaRepository.
func (s *Store) PutExperiment(ctx context.Context, r domain.ExperimentReport) error {
	row := &experimentRow{DilemmaID: r.DilemmaID, Report: r, CreatedAt: time.Now().UTC()}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (dilemma_id) DO UPDATE").
		Set("report = EXCLUDED.report").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	return err
}

// ScanResolvedVotes implements app.VoteHistory.
func (s *Store) ScanResolvedVotes(ctx context.Context, from, to time.Time, after *app.VoteCursor, limit int) ([]domain.Vote, error) {
	var rows []voteRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("resolved").
		Where("cast_at >= ?", from).
		Where("cast_at < ?", to)
	if after != nil {
		q = q.Where("(cast_at, dilemma_id, user_id) > (?, ?, ?)", after.CastAt, after.DilemmaID, after.UserID)
	}
	err := q.OrderExpr("cast_at ASC, dilemma_id ASC, user_id ASC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return votesToDomain(rows), nil
}

// CountUsers implements app.UserRepository.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*userRow)(nil)).Count(ctx)
}

// ScanUsers implements app.UserRepository.
func (s *Store) ScanUsers(ctx context.Context, field domain.RankField, after *domain.RankCursor, limit int) ([]domain.User, error) {
	col, ok := rankColumns[field]
	if !ok {
		return nil, domain.Invalidf("unknown ranking field %q", field)
	}
	var rows []userRow
	q := s.db.NewSelect().Model(&rows)
	if after != nil {
		q = q.Where("(? < ? OR (? = ? AND id > ?))", bun.Ident(col), after.Value, bun.Ident(col), after.Value, after.UserID)
	}
	err := q.OrderExpr("? DESC, id ASC", bun.Ident(col)).Limit(limit).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return usersToDomain(rows), nil
}

// ScanUsersByID implements app.UserRepository.
func (s *Store) ScanUsersByID(ctx context.Context, afterID string, limit int) ([]domain.User, error) {
	var rows []userRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("id > ?", afterID).
		OrderExpr("id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return usersToDomain(rows), nil
}

// GetUsers implements app.UserRepository.
func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []userRow
	if err := s.db.NewSelect().Model(&rows).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = rows[i].toDomain()
	}
	return out, nil
}
