package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/logging"
)

type countingHistory struct {
	app.VoteHistory
	scans atomic.Int32
}

func (c *countingHistory) ScanResolvedVotes(ctx context.Context, from, to time.Time, after *app.VoteCursor, limit int) ([]domain.Vote, error) {
	c.scans.Add(1)
	return c.VoteHistory.ScanResolvedVotes(ctx, from, to, after, limit)
}

// seedLeaderboard leaves x00=24, x01..x03=14 and y00=10 in resolved points.
func seedLeaderboard(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()

	d1 := h.binary(t)
	seedBinary(t, h, d1, 4, 1)
	if _, err := h.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: d1.ID, CorrectX: boolPtr(true)}); err != nil {
		t.Fatalf("resolve d1: %v", err)
	}

	d2 := h.binary(t)
	h.voteX(t, d2.ID, "x00", true)
	h.voteX(t, d2.ID, "y00", true)
	if _, err := h.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: d2.ID, CorrectX: boolPtr(true)}); err != nil {
		t.Fatalf("resolve d2: %v", err)
	}
	h.advance(time.Minute)
}

func TestLeaderboardAggregatesWindowWithTiesAndLeagues(t *testing.T) {
	h := newHarness(t)
	seedLeaderboard(t, h)

	items, err := h.leaderboard.Leaderboard(context.Background(), "day", 0, false)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	want := []struct {
		uid    string
		score  int64
		league domain.League
	}{
		{"x00", 24, domain.LeagueElite},
		{"x01", 14, domain.LeagueGold},
		{"x02", 14, domain.LeagueSilver},
		{"x03", 14, domain.LeagueSilver},
		{"y00", 10, domain.LeagueBronze},
	}
	if len(items) != len(want) {
		t.Fatalf("expected %d rows, got %+v", len(want), items)
	}
	for i, w := range want {
		got := items[i]
		if got.Rank != i+1 || got.UserID != w.uid || got.Score != w.score || got.League != w.league {
			t.Fatalf("row %d: expected %+v, got %+v", i, w, got)
		}
	}
	if items[0].Streak != 1 {
		t.Fatalf("expected streak carried onto rows, got %d", items[0].Streak)
	}
}

func TestLeaderboardWindowExcludesOldVotes(t *testing.T) {
	h := newHarness(t)
	seedLeaderboard(t, h)
	h.advance(48 * time.Hour)
	ctx := context.Background()

	day, err := h.leaderboard.Leaderboard(ctx, "day", 0, false)
	if err != nil || len(day) != 0 {
		t.Fatalf("expected empty day board, got %+v %v", day, err)
	}
	week, err := h.leaderboard.Leaderboard(ctx, "week", 0, false)
	if err != nil || len(week) != 5 {
		t.Fatalf("expected 5 rows in week board, got %+v %v", week, err)
	}
}

func TestLeaderboardAllTimeUsesUserScores(t *testing.T) {
	h := newHarness(t)
	seedLeaderboard(t, h)

	items, err := h.leaderboard.Leaderboard(context.Background(), "", 2, true)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(items) != 2 || items[0].UserID != "x00" || items[0].Score != 24 || items[1].UserID != "x01" {
		t.Fatalf("unexpected all-time board %+v", items)
	}
}

func TestLeaderboardAllTimeLeaguesUseWholePopulation(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 100; i++ {
		h.store.PutUser(domain.User{ID: fmt.Sprintf("u%03d", i), Score: int64(1000 - i)})
	}

	items, err := h.leaderboard.Leaderboard(context.Background(), "all", 10, true)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(items))
	}
	for _, it := range items {
		if it.Rank == 6 {
			continue
		}
		want := domain.LeagueGold
		if it.Rank <= 5 {
			want = domain.LeagueElite
		}
		if it.League != want {
			t.Fatalf("rank %d of 100: expected %s, got %s", it.Rank, want, it.League)
		}
	}
}

func TestLeaderboardServesFreshSnapshot(t *testing.T) {
	h := newHarness(t)
	seedLeaderboard(t, h)
	history := &countingHistory{VoteHistory: h.store}
	lb := app.NewLeaderboardService(history, h.store, h.snapshots, 15*time.Minute, 200,
		app.WithClock(h.clock), app.WithLogger(logging.Discard()))
	ctx := context.Background()

	if _, err := lb.Leaderboard(ctx, "day", 0, true); err != nil {
		t.Fatalf("first read: %v", err)
	}
	built := history.scans.Load()
	if built == 0 {
		t.Fatalf("expected a cache miss to aggregate live")
	}

	h.advance(10 * time.Minute)
	items, err := lb.Leaderboard(ctx, "day", 3, true)
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if history.scans.Load() != built {
		t.Fatalf("expected fresh snapshot served without aggregation")
	}
	if len(items) != 3 || items[2].League != domain.LeagueSilver {
		t.Fatalf("expected leagues relative to the full snapshot, got %+v", items)
	}

	h.advance(6 * time.Minute)
	if _, err := lb.Leaderboard(ctx, "day", 0, true); err != nil {
		t.Fatalf("stale read: %v", err)
	}
	if history.scans.Load() == built {
		t.Fatalf("expected stale snapshot to be rebuilt")
	}

	rebuilt := history.scans.Load()
	if _, err := lb.Leaderboard(ctx, "day", 0, false); err != nil {
		t.Fatalf("bypass read: %v", err)
	}
	if history.scans.Load() == rebuilt {
		t.Fatalf("expected preferCache=false to aggregate live")
	}
}

func TestSnapshotPersistsWindow(t *testing.T) {
	h := newHarness(t)
	seedLeaderboard(t, h)
	ctx := context.Background()

	snap, err := h.leaderboard.Snapshot(ctx, "", 2)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Range != domain.RangeDay || snap.Count != 2 || !snap.UpdatedAt.Equal(h.clock()) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	stored, ok, _ := h.snapshots.GetSnapshot(ctx, domain.RangeDay)
	if !ok || stored.Count != 2 || stored.Items[0].UserID != "x00" {
		t.Fatalf("expected snapshot persisted, got %+v", stored)
	}
}

func TestSnapshotDefaultsToConfiguredLimit(t *testing.T) {
	h := newHarness(t)
	seedLeaderboard(t, h)
	lb := app.NewLeaderboardService(h.store, h.store, h.snapshots, 15*time.Minute, 2,
		app.WithClock(h.clock), app.WithLogger(logging.Discard()))
	ctx := context.Background()

	snap, err := lb.Snapshot(ctx, "day", 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Count != 2 {
		t.Fatalf("expected configured limit of 2, got %d", snap.Count)
	}
	snap, err = lb.Snapshot(ctx, "day", 5000)
	if err != nil {
		t.Fatalf("oversized snapshot: %v", err)
	}
	if snap.Count != 5 {
		t.Fatalf("expected explicit limit to override the default, got %d", snap.Count)
	}
}

func TestLeaderboardRangeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.leaderboard.Snapshot(ctx, "all", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected all-time snapshot rejected, got %v", err)
	}
	if _, err := h.leaderboard.Leaderboard(ctx, "month", 0, true); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown range rejected, got %v", err)
	}
	if items, err := h.leaderboard.Leaderboard(ctx, "week", 5000, true); err != nil || len(items) != 0 {
		t.Fatalf("expected empty clamped read, got %+v %v", items, err)
	}
}
