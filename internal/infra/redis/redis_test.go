package redis

import (
	"context"
	"testing"
	"time"

	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

type countingLoader struct {
	memory.ConfigLoader
	calls int
}

func (l *countingLoader) LoadScoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	l.calls++
	return l.ConfigLoader.LoadScoringConfig(ctx)
}

func TestConfigRepositoryCachesInRedis(t *testing.T) {
	mr, client := newClient(t)
	cfg := domain.DefaultScoringConfig()
	cfg.Multi.Base0 = 25
	loader := &countingLoader{ConfigLoader: memory.NewStaticConfigLoader(cfg)}
	repo := NewConfigRepository(client, loader, time.Minute)
	ctx := context.Background()

	got, err := repo.ScoringConfig(ctx)
	if err != nil {
		t.Fatalf("scoring config: %v", err)
	}
	if got.Multi.Base0 != 25 || loader.calls != 1 {
		t.Fatalf("expected loaded config, got base0=%d calls=%d", got.Multi.Base0, loader.calls)
	}
	if !mr.Exists(configKey) {
		t.Fatalf("expected redis key to be set")
	}

	// A second replica shares the cached copy.
	other := NewConfigRepository(client, loader, time.Minute)
	got, _ = other.ScoringConfig(ctx)
	if loader.calls != 1 || got.Binary.Variants["A"].Beta != 1.0 {
		t.Fatalf("expected cache hit, loader calls=%d cfg=%+v", loader.calls, got.Binary)
	}

	if err := repo.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.ScoringConfig(ctx)
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestConfigRepositoryExpires(t *testing.T) {
	mr, client := newClient(t)
	loader := &countingLoader{ConfigLoader: memory.NewStaticConfigLoader(domain.DefaultScoringConfig())}
	repo := NewConfigRepository(client, loader, time.Minute)

	_, _ = repo.ScoringConfig(context.Background())
	mr.FastForward(2 * time.Minute)
	_, _ = repo.ScoringConfig(context.Background())
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls=%d", loader.calls)
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	mr, client := newClient(t)
	store := NewSnapshotStore(client, time.Hour)
	ctx := context.Background()

	if _, ok, err := store.GetSnapshot(ctx, domain.RangeDay); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	snap := domain.LeaderboardSnapshot{
		Range:     domain.RangeDay,
		Items:     []domain.LeaderboardItem{{Rank: 1, UserID: "u1", Score: 42, Streak: 3, BestStreak: 5}},
		UpdatedAt: at,
		Count:     1,
	}
	if err := store.PutSnapshot(ctx, snap); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !mr.Exists("leaderboard:snapshot:day") {
		t.Fatalf("expected snapshot key")
	}
	got, ok, err := store.GetSnapshot(ctx, domain.RangeDay)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.UpdatedAt.Equal(at) || len(got.Items) != 1 || got.Items[0].Score != 42 || got.Items[0].BestStreak != 5 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if _, ok, _ := store.GetSnapshot(ctx, domain.RangeWeek); ok {
		t.Fatalf("expected ranges stored independently")
	}
}

func TestRateLimiterFixedWindow(t *testing.T) {
	mr, client := newClient(t)
	limiter := NewRateLimiter(client)
	now := time.Date(2026, 10, 14, 9, 0, 10, 0, time.UTC)
	limiter.clock = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := limiter.Allow(ctx, "uid:u1", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d: expected allowed, got ok=%v err=%v", i, ok, err)
		}
	}
	ok, retry, err := limiter.Allow(ctx, "uid:u1", 3, time.Minute)
	if err != nil || ok {
		t.Fatalf("expected limit hit, got ok=%v err=%v", ok, err)
	}
	if retry != 50*time.Second {
		t.Fatalf("expected retry after 50s, got %s", retry)
	}
	if ok, _, _ := limiter.Allow(ctx, "uid:u2", 3, time.Minute); !ok {
		t.Fatalf("expected other key unaffected")
	}

	key := "ratelimit:uid:u1:1791968400"
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window expiry on %s, got %s", key, ttl)
	}

	now = now.Add(time.Minute)
	if ok, _, _ := limiter.Allow(ctx, "uid:u1", 3, time.Minute); !ok {
		t.Fatalf("expected new window to allow")
	}
}
