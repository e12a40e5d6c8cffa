package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"dilemma-cloud/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSnapshotLimit = 200
	maxSnapshotLimit     = 1000
	defaultReadLimit     = 50
	maxReadLimit         = 200
	defaultFreshness     = 15 * time.Minute
	voteScanPage         = 1000
)

// LeaderboardService materialises windowed leaderboards and serves them from
// the snapshot cache while they are fresh.
type LeaderboardService struct {
	votes         VoteHistory
	users         UserRepository
	snapshots     SnapshotStore
	freshness     time.Duration
	snapshotLimit int
	sf            singleflight.Group
	opts          options
}

// NewLeaderboardService uses freshness as the cache TTL (15 minutes when zero)
// and snapshotLimit as the size of cache refreshes done on reads.
func NewLeaderboardService(votes VoteHistory, users UserRepository, snapshots SnapshotStore, freshness time.Duration, snapshotLimit int, opts ...Option) *LeaderboardService {
	if freshness <= 0 {
		freshness = defaultFreshness
	}
	return &LeaderboardService{
		votes:         votes,
		users:         users,
		snapshots:     snapshots,
		freshness:     freshness,
		snapshotLimit: clampLimit(snapshotLimit, defaultSnapshotLimit, maxSnapshotLimit),
		opts:          buildOptions("leaderboard", opts),
	}
}

// Snapshot aggregates the window live and persists it as the range's cache
// document. A zero limit keeps the configured snapshot size.
func (s *LeaderboardService) Snapshot(ctx context.Context, rawRange string, limit int) (domain.LeaderboardSnapshot, error) {
	r, err := domain.ParseRange(rawRange, domain.RangeDay)
	if err != nil {
		return domain.LeaderboardSnapshot{}, err
	}
	if r == domain.RangeAll {
		return domain.LeaderboardSnapshot{}, domain.Invalidf("snapshot range must be day|week")
	}
	snap, err := s.build(ctx, r, clampLimit(limit, s.snapshotLimit, maxSnapshotLimit))
	if err != nil {
		return domain.LeaderboardSnapshot{}, err
	}
	if err := s.snapshots.PutSnapshot(ctx, snap); err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("persist %s snapshot: %w", r, err)
	}
	s.opts.logger.Info("leaderboard_snapshot_written",
		slog.String("range", string(r)),
		slog.Int("count", snap.Count),
	)
	return snap, nil
}

// Leaderboard serves a ranked list with read-side leagues. Windowed ranges
// use a cached snapshot no older than the freshness TTL when preferCache is
// set; otherwise the window is aggregated live and the cache refreshed.
func (s *LeaderboardService) Leaderboard(ctx context.Context, rawRange string, limit int, preferCache bool) ([]domain.LeaderboardItem, error) {
	r, err := domain.ParseRange(rawRange, domain.RangeAll)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultReadLimit, maxReadLimit)

	if r == domain.RangeAll {
		return s.allTime(ctx, limit)
	}

	if preferCache {
		snap, ok, err := s.snapshots.GetSnapshot(ctx, r)
		switch {
		case err != nil:
			s.opts.logger.Warn("leaderboard_cache_unavailable", slog.String("range", string(r)), slog.Any("err", err))
			s.opts.metrics.LeaderboardCache("miss")
		case !ok:
			s.opts.metrics.LeaderboardCache("miss")
		case snap.FreshAt(s.opts.now(), s.freshness):
			s.opts.metrics.LeaderboardCache("hit")
			s.opts.logger.Debug("leaderboard_cache_hit", slog.String("range", string(r)))
			return withLeagues(snap.Items, limit, len(snap.Items)), nil
		default:
			s.opts.metrics.LeaderboardCache("stale")
		}
	} else {
		s.opts.metrics.LeaderboardCache("bypass")
	}

	v, err, _ := s.sf.Do(string(r), func() (interface{}, error) {
		snap, err := s.build(ctx, r, s.snapshotLimit)
		if err != nil {
			return domain.LeaderboardSnapshot{}, err
		}
		if err := s.snapshots.PutSnapshot(ctx, snap); err != nil {
			s.opts.logger.Warn("leaderboard_cache_refresh_failed", slog.String("range", string(r)), slog.Any("err", err))
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	items := v.(domain.LeaderboardSnapshot).Items
	return withLeagues(items, limit, len(items)), nil
}

func (s *LeaderboardService) allTime(ctx context.Context, limit int) ([]domain.LeaderboardItem, error) {
	total, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	users, err := s.users.ScanUsers(ctx, domain.FieldScore, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("scan users by score: %w", err)
	}
	items := make([]domain.LeaderboardItem, 0, len(users))
	for i, u := range users {
		items = append(items, domain.LeaderboardItem{
			Rank:       i + 1,
			UserID:     u.ID,
			Score:      u.Score,
			Streak:     u.Streak,
			BestStreak: u.BestStreak,
		})
	}
	return withLeagues(items, limit, max(total, len(items))), nil
}

// build sums positive points of resolved votes cast in [now-window, now).
func (s *LeaderboardService) build(ctx context.Context, r domain.Range, limit int) (domain.LeaderboardSnapshot, error) {
	window, ok := r.Window()
	if !ok {
		return domain.LeaderboardSnapshot{}, domain.Invalidf("range %q has no window", r)
	}
	now := s.opts.now()
	from := now.Add(-window)

	totals, err := windowTotals(ctx, s.votes, from, now)
	if err != nil {
		return domain.LeaderboardSnapshot{}, err
	}
	rows := rankTotals(totals)
	if len(rows) > limit {
		rows = rows[:limit]
	}

	ids := make([]string, len(rows))
	for i, rw := range rows {
		ids[i] = rw.uid
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("load leaderboard users: %w", err)
	}

	items := make([]domain.LeaderboardItem, 0, len(rows))
	for i, rw := range rows {
		u := users[rw.uid]
		items = append(items, domain.LeaderboardItem{
			Rank:       i + 1,
			UserID:     rw.uid,
			Score:      rw.score,
			Streak:     u.Streak,
			BestStreak: u.BestStreak,
		})
	}
	return domain.LeaderboardSnapshot{
		Range:     r,
		Items:     items,
		UpdatedAt: now,
		Count:     len(items),
	}, nil
}

// windowTotals sums the positive points of resolved votes cast in [from, to)
// per user.
func windowTotals(ctx context.Context, votes VoteHistory, from, to time.Time) (map[string]int64, error) {
	totals := make(map[string]int64)
	var after *VoteCursor
	for {
		page, err := votes.ScanResolvedVotes(ctx, from, to, after, voteScanPage)
		if err != nil {
			return nil, fmt.Errorf("scan resolved votes: %w", err)
		}
		for _, v := range page {
			if v.Points != nil && *v.Points > 0 {
				totals[v.UserID] += int64(*v.Points)
			}
		}
		if len(page) < voteScanPage {
			return totals, nil
		}
		last := page[len(page)-1]
		after = &VoteCursor{CastAt: last.CastAt, DilemmaID: last.DilemmaID, UserID: last.UserID}
	}
}

type scoredUser struct {
	uid   string
	score int64
}

// rankTotals orders by score descending, then user id.
func rankTotals(totals map[string]int64) []scoredUser {
	rows := make([]scoredUser, 0, len(totals))
	for uid, score := range totals {
		rows = append(rows, scoredUser{uid: uid, score: score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].uid < rows[j].uid
	})
	return rows
}

// withLeagues copies at most limit items and attaches leagues relative to a
// population of total ranked users.
func withLeagues(items []domain.LeaderboardItem, limit, total int) []domain.LeaderboardItem {
	total = max(1, total)
	n := min(limit, len(items))
	out := make([]domain.LeaderboardItem, n)
	for i := 0; i < n; i++ {
		out[i] = items[i]
		out[i].League = leagueForTopShare(out[i].Rank, total)
	}
	return out
}

func clampLimit(limit, fallback, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	return min(limit, ceiling)
}
