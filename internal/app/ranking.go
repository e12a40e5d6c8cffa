package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"dilemma-cloud/internal/domain"
)

const defaultRankPageSize = 500

// RankingService assigns percentile leagues over the whole user set.
type RankingService struct {
	tx       Transactor
	users    UserRepository
	pageSize int
	opts     options
}

func NewRankingService(tx Transactor, users UserRepository, pageSize int, opts ...Option) *RankingService {
	if pageSize <= 0 {
		pageSize = defaultRankPageSize
	}
	return &RankingService{tx: tx, users: users, pageSize: pageSize, opts: buildOptions("ranking", opts)}
}

// ComputeCuts derives the league boundaries for a population of total users.
func ComputeCuts(total int) domain.LeagueCuts {
	if total <= 0 {
		return domain.LeagueCuts{}
	}
	n := float64(total)
	elite := max(1, int(math.Ceil(0.05*n)))
	gold := max(elite, int(math.Ceil(0.25*n)))
	silver := max(gold, int(math.Ceil(0.60*n)))
	return domain.LeagueCuts{EliteCut: elite, GoldCut: gold, SilverCut: silver}
}

// Recompute runs a full pass from the top of the ranking.
func (s *RankingService) Recompute(ctx context.Context, field string, dryRun bool) (domain.RecomputeResult, error) {
	return s.Resume(ctx, field, dryRun, nil)
}

// Resume continues a pass after cursor, which carries the last committed
// (value, user id) and the rank reached. A nil cursor starts from rank 1.
// On a page failure the result holds the cursor of the last committed page.
func (s *RankingService) Resume(ctx context.Context, rawField string, dryRun bool, cursor *domain.RankCursor) (domain.RecomputeResult, error) {
	field, err := domain.ParseRankField(rawField)
	if err != nil {
		return domain.RecomputeResult{}, err
	}
	start := s.opts.now()

	total, err := s.users.CountUsers(ctx)
	if err != nil {
		return domain.RecomputeResult{}, fmt.Errorf("count users: %w", err)
	}
	res := domain.RecomputeResult{
		Total:  total,
		Field:  field,
		Cuts:   ComputeCuts(total),
		DryRun: dryRun,
	}
	if total == 0 {
		return res, nil
	}

	var after *domain.RankCursor
	rank := 0
	if cursor != nil {
		c := *cursor
		after = &c
		rank = c.Rank
		res.Cursor = &c
	}

	for {
		page, err := s.users.ScanUsers(ctx, field, after, s.pageSize)
		if err != nil {
			return res, fmt.Errorf("scan users by %s: %w", field, err)
		}
		if len(page) == 0 {
			break
		}

		now := s.opts.now()
		batch := &Batch{}
		pageRank := rank
		for _, u := range page {
			pageRank++
			if !dryRun {
				batch.Leagues = append(batch.Leagues, LeagueAssignment{
					UserID: u.ID,
					League: res.Cuts.League(pageRank),
					At:     now,
				})
			}
		}
		if batch.Len() > 0 {
			if err := s.tx.Commit(ctx, batch); err != nil {
				s.opts.logger.Error("league_page_failed", slog.Int("rank", rank), slog.Any("err", err))
				return res, fmt.Errorf("commit league page at rank %d: %w", rank+1, err)
			}
			res.Writes += batch.Len()
		}

		rank = pageRank
		res.Processed += len(page)
		tail := page[len(page)-1]
		after = &domain.RankCursor{Value: tail.Value(field), UserID: tail.ID, Rank: rank}
		res.Cursor = after

		if len(page) < s.pageSize {
			break
		}
	}

	elapsed := s.opts.now().Sub(start)
	s.opts.metrics.RecomputeDone(elapsed)
	s.opts.logger.Info("league_recompute_done",
		slog.String("field", string(field)),
		slog.Int("total", res.Total),
		slog.Int("processed", res.Processed),
		slog.Int("writes", res.Writes),
		slog.Bool("dry_run", dryRun),
		slog.Duration("elapsed", elapsed),
	)
	return res, nil
}

// ResetSeason zeroes season points for every user and stamps seasonID. It is
// idempotent and can simply be re-run after a failure.
func (s *RankingService) ResetSeason(ctx context.Context, seasonID string) (domain.SeasonResetResult, error) {
	seasonID = strings.TrimSpace(seasonID)
	if seasonID == "" {
		seasonID = s.opts.now().UTC().Format("2006-01")
	}
	res := domain.SeasonResetResult{SeasonID: seasonID}
	started := s.opts.now()

	after := ""
	for {
		page, err := s.users.ScanUsersByID(ctx, after, s.pageSize)
		if err != nil {
			return res, fmt.Errorf("scan users: %w", err)
		}
		if len(page) == 0 {
			break
		}
		batch := &Batch{}
		for _, u := range page {
			batch.Seasons = append(batch.Seasons, SeasonAssignment{UserID: u.ID, SeasonID: seasonID, StartedAt: started})
		}
		if err := s.tx.Commit(ctx, batch); err != nil {
			return res, fmt.Errorf("commit season page after %q: %w", after, err)
		}
		res.Processed += len(page)
		after = page[len(page)-1].ID
		if len(page) < s.pageSize {
			break
		}
	}

	s.opts.logger.Info("season_reset_done", slog.String("season_id", seasonID), slog.Int("processed", res.Processed))
	return res, nil
}

// leagueForTopShare is the read-side league of a leaderboard row.
func leagueForTopShare(rank, total int) domain.League {
	if total <= 0 {
		return domain.LeagueBronze
	}
	pTop := 1 - float64(rank-1)/float64(total)
	return domain.LeagueFromTopShare(pTop)
}
