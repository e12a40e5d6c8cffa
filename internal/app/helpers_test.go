package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/infra/memory"
	"dilemma-cloud/internal/logging"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	snapshots *memory.SnapshotStore
	notifier  *recordingNotifier

	mu  sync.Mutex
	now time.Time

	dilemmas    *app.DilemmaService
	votes       *app.VoteService
	resolution  *app.ResolutionService
	ranking     *app.RankingService
	leaderboard *app.LeaderboardService
	standing    *app.StandingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		snapshots: memory.NewSnapshotStore(),
		notifier:  &recordingNotifier{},
		now:       t0,
	}
	opts := []app.Option{app.WithClock(h.clock), app.WithLogger(logging.Discard())}
	cfg := memory.NewStaticConfigLoader(domain.DefaultScoringConfig())

	h.dilemmas = app.NewDilemmaService(h.store, opts...)
	h.votes = app.NewVoteService(h.store, nil, app.RateLimits{}, opts...)
	h.resolution = app.NewResolutionService(h.store, h.store, cfg, h.notifier, 450, opts...)
	h.ranking = app.NewRankingService(h.store, h.store, 500, opts...)
	h.leaderboard = app.NewLeaderboardService(h.store, h.store, h.snapshots, 15*time.Minute, 200, opts...)
	h.standing = app.NewStandingService(h.store, opts...)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) binary(t *testing.T) domain.Dilemma {
	t.Helper()
	d, err := h.dilemmas.Create(context.Background(), domain.NewDilemma{Title: "Will it rain tomorrow?"})
	if err != nil {
		t.Fatalf("create binary dilemma: %v", err)
	}
	return d
}

func (h *harness) multi(t *testing.T, ids ...string) domain.Dilemma {
	t.Helper()
	opts := make([]domain.Option, 0, len(ids))
	for _, id := range ids {
		opts = append(opts, domain.Option{ID: id, Label: "Option " + id})
	}
	d, err := h.dilemmas.Create(context.Background(), domain.NewDilemma{Title: "Which one wins?", Options: opts})
	if err != nil {
		t.Fatalf("create multi dilemma: %v", err)
	}
	return d
}

func (h *harness) voteX(t *testing.T, dilemmaID, uid string, x bool) {
	t.Helper()
	err := h.votes.CastVote(context.Background(), domain.VoteRequest{DilemmaID: dilemmaID, UserID: uid, ChoiceX: &x})
	if err != nil {
		t.Fatalf("vote %s on %s: %v", uid, dilemmaID, err)
	}
}

func (h *harness) voteOption(t *testing.T, dilemmaID, uid, option string) {
	t.Helper()
	err := h.votes.CastVote(context.Background(), domain.VoteRequest{DilemmaID: dilemmaID, UserID: uid, OptionID: option})
	if err != nil {
		t.Fatalf("vote %s on %s: %v", uid, dilemmaID, err)
	}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.ResolutionEvent
}

func (n *recordingNotifier) PublishResolution(_ context.Context, ev domain.ResolutionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}
