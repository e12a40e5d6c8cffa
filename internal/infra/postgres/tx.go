package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
	"github.com/uptrace/bun"
)

// pgTx executes reads and writes directly inside the serializable transaction;
// Postgres detects the conflicting interleavings and the store retries.
type pgTx struct {
	tx bun.Tx
}

var _ app.Tx = (*pgTx)(nil)

func (t *pgTx) Dilemma(ctx context.Context, id string) (domain.Dilemma, error) {
	return loadDilemma(ctx, t.tx, id)
}

func (t *pgTx) Vote(ctx context.Context, dilemmaID, userID string) (domain.Vote, bool, error) {
	row := new(voteRow)
	err := t.tx.NewSelect().
		Model(row).
		Where("dilemma_id = ?", dilemmaID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Vote{}, false, nil
	}
	if err != nil {
		return domain.Vote{}, false, fmt.Errorf("load vote %s/%s: %w", dilemmaID, userID, err)
	}
	return row.toDomain(), true, nil
}

func (t *pgTx) User(ctx context.Context, userID string) (domain.User, bool, error) {
	row := new(userRow)
	err := t.tx.NewSelect().Model(row).Where("id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{ID: userID}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("load user %s: %w", userID, err)
	}
	return row.toDomain(), true, nil
}

func (t *pgTx) IncrementBucket(ctx context.Context, dilemmaID, bucket string, delta int64) error {
	var err error
	switch bucket {
	case domain.BucketX:
		_, err = t.tx.NewUpdate().Model((*dilemmaRow)(nil)).
			Set("x_count = x_count + ?", delta).
			Where("id = ?", dilemmaID).
			Exec(ctx)
	case domain.BucketY:
		_, err = t.tx.NewUpdate().Model((*dilemmaRow)(nil)).
			Set("y_count = y_count + ?", delta).
			Where("id = ?", dilemmaID).
			Exec(ctx)
	default:
		row := &optionCountRow{DilemmaID: dilemmaID, OptionID: bucket, Count: delta}
		_, err = t.tx.NewInsert().Model(row).
			On("CONFLICT (dilemma_id, option_id) DO UPDATE").
			Set("count = ?TableAlias.count + EXCLUDED.count").
			Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("increment %s/%s: %w", dilemmaID, bucket, err)
	}
	return nil
}

func (t *pgTx) PutVote(ctx context.Context, v domain.Vote) error {
	_, err := t.tx.NewInsert().
		Model(newVoteRow(v)).
		On("CONFLICT (dilemma_id, user_id) DO UPDATE").
		Set("choice_x = EXCLUDED.choice_x").
		Set("option_id = EXCLUDED.option_id").
		Set("confidence = EXCLUDED.confidence").
		Set("reason = EXCLUDED.reason").
		Set("variant_tag = EXCLUDED.variant_tag").
		Set("cast_at = EXCLUDED.cast_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put vote %s/%s: %w", v.DilemmaID, v.UserID, err)
	}
	return nil
}

func (t *pgTx) PutStreak(ctx context.Context, userID string, st domain.Streak) error {
	row := &userRow{ID: userID, Streak: st.Current, BestStreak: st.Best, LastVoteDate: st.LastVoteDate}
	_, err := t.tx.NewInsert().
		Model(row).
		Column("id", "streak", "best_streak", "last_vote_date").
		On("CONFLICT (id) DO UPDATE").
		Set("streak = EXCLUDED.streak").
		Set("best_streak = EXCLUDED.best_streak").
		Set("last_vote_date = EXCLUDED.last_vote_date").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put streak of %s: %w", userID, err)
	}
	return nil
}

func (t *pgTx) MarkResolved(ctx context.Context, dilemmaID string, r domain.Resolution) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode resolution of %s: %w", dilemmaID, err)
	}
	res, err := t.tx.NewUpdate().
		Model((*dilemmaRow)(nil)).
		Set("resolved = TRUE").
		Set("resolution = ?::jsonb", string(raw)).
		Where("id = ?", dilemmaID).
		Where("NOT resolved").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark %s resolved: %w", dilemmaID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDilemmaResolved
	}
	return nil
}
