package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dilemma-cloud/internal/domain"
)

const (
	progressBatchSize    = 400
	progressScanPage     = 500
	maxProgressionPoints = 360
)

// Progression returns the user's stored snapshots, oldest first. The week
// range covers the last seven days and reports weekly points as the score.
func (s *StandingService) Progression(ctx context.Context, userID, rawRange string) (domain.Progression, error) {
	id, err := requireUser(userID)
	if err != nil {
		return domain.Progression{}, err
	}
	var r domain.Range
	switch strings.ToLower(strings.TrimSpace(rawRange)) {
	case "", "all":
		r = domain.RangeAll
	case "week":
		r = domain.RangeWeek
	default:
		return domain.Progression{}, domain.Invalidf("range must be all|week, got %q", rawRange)
	}

	var since time.Time
	if r == domain.RangeWeek {
		since = s.opts.now().Add(-7 * 24 * time.Hour)
	}
	points, err := s.store.ListProgress(ctx, id, since, maxProgressionPoints)
	if err != nil {
		return domain.Progression{}, fmt.Errorf("load progression of %s: %w", id, err)
	}
	if r == domain.RangeWeek {
		for i := range points {
			points[i].Score = points[i].WeeklyPoints
		}
	}
	return domain.Progression{Range: r, Points: points}, nil
}

// SnapshotProgress records one progression point for every user whose score
// is above minScore. The all-time rank runs over those users by score; the
// weekly rank over every user with weekly points. Points share one timestamp,
// so re-running in the same instant overwrites instead of duplicating.
func (s *StandingService) SnapshotProgress(ctx context.Context, minScore int64) (domain.ProgressSnapshotResult, error) {
	minScore = max(0, minScore)
	started := s.opts.now()

	active, err := s.rankWhile(ctx, domain.FieldScore, minScore)
	if err != nil {
		return domain.ProgressSnapshotResult{}, err
	}
	res := domain.ProgressSnapshotResult{ActiveUsers: len(active)}
	if len(active) == 0 {
		return res, nil
	}
	weekly, err := s.rankWhile(ctx, domain.FieldWeeklyPoints, 0)
	if err != nil {
		return res, err
	}
	weekRank := make(map[string]int, len(weekly))
	for i, u := range weekly {
		weekRank[u.ID] = i + 1
	}

	at := started.UTC()
	batch := make([]domain.ProgressPoint, 0, progressBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.PutProgress(ctx, batch); err != nil {
			return fmt.Errorf("write progress batch after %d snapshots: %w", res.Snapshots, err)
		}
		res.Snapshots += len(batch)
		batch = batch[:0]
		return nil
	}
	for i, u := range active {
		rankAll := i + 1
		p := domain.ProgressPoint{
			UserID:       u.ID,
			At:           at,
			Score:        u.Score,
			WeeklyPoints: u.WeeklyPoints,
			RankAll:      &rankAll,
			LeagueAll:    leagueForTopShare(rankAll, len(active)),
		}
		if rw, ok := weekRank[u.ID]; ok {
			p.RankWeek = &rw
			p.LeagueWeek = leagueForTopShare(rw, len(weekly))
		}
		batch = append(batch, p)
		if len(batch) == progressBatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	s.opts.logger.Info("progress_snapshot_done",
		slog.Int64("min_score", minScore),
		slog.Int("active_users", res.ActiveUsers),
		slog.Int("snapshots", res.Snapshots),
		slog.Duration("elapsed", s.opts.now().Sub(started)),
	)
	return res, nil
}

// rankWhile returns users in field order while their value stays above floor.
func (s *StandingService) rankWhile(ctx context.Context, field domain.RankField, floor int64) ([]domain.User, error) {
	var (
		out   []domain.User
		after *domain.RankCursor
	)
	for {
		page, err := s.store.ScanUsers(ctx, field, after, progressScanPage)
		if err != nil {
			return nil, fmt.Errorf("scan users by %s: %w", field, err)
		}
		for _, u := range page {
			if u.Value(field) <= floor {
				return out, nil
			}
			out = append(out, u)
		}
		if len(page) < progressScanPage {
			return out, nil
		}
		tail := page[len(page)-1]
		after = &domain.RankCursor{Value: tail.Value(field), UserID: tail.ID, Rank: len(out)}
	}
}
