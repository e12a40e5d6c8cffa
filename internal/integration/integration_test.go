package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/infra/postgres"
	"dilemma-cloud/internal/infra/postgres/migrations"
	infraredis "dilemma-cloud/internal/infra/redis"
	"dilemma-cloud/internal/logging"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

type services struct {
	store       *postgres.Store
	dilemmas    *app.DilemmaService
	votes       *app.VoteService
	resolution  *app.ResolutionService
	ranking     *app.RankingService
	leaderboard *app.LeaderboardService
	standing    *app.StandingService
}

func setup(t *testing.T, ctx context.Context) services {
	t.Helper()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := migrateDB(t, ctx, pgURL)
	t.Cleanup(func() { db.Close() })

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)
	loader := postgres.NewConfigLoader(pool)
	if err := loader.SaveScoringConfig(ctx, domain.DefaultScoringConfig()); err != nil {
		t.Fatalf("seed scoring config: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	store := postgres.NewStore(db, 25)
	opts := []app.Option{app.WithLogger(logging.Discard())}
	return services{
		store:       store,
		dilemmas:    app.NewDilemmaService(store, opts...),
		votes:       app.NewVoteService(store, infraredis.NewRateLimiter(redisClient), app.DefaultRateLimits(), opts...),
		resolution:  app.NewResolutionService(store, store, infraredis.NewConfigRepository(redisClient, loader, 5*time.Minute), nil, 450, opts...),
		ranking:     app.NewRankingService(store, store, 3, opts...),
		leaderboard: app.NewLeaderboardService(store, store, infraredis.NewSnapshotStore(redisClient, time.Hour), 15*time.Minute, 200, opts...),
		standing:    app.NewStandingService(store, opts...),
	}
}

func TestVoteResolveLeaderboardEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc := setup(t, ctx)

	d, err := svc.dilemmas.Create(ctx, domain.NewDilemma{Title: "Will the launch slip?"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	yes, no := true, false
	for i := 0; i < 4; i++ {
		if err := svc.votes.CastVote(ctx, domain.VoteRequest{DilemmaID: d.ID, UserID: fmt.Sprintf("x%02d", i), ChoiceX: &yes}); err != nil {
			t.Fatalf("vote x%02d: %v", i, err)
		}
	}
	if err := svc.votes.CastVote(ctx, domain.VoteRequest{DilemmaID: d.ID, UserID: "y00", ChoiceX: &no}); err != nil {
		t.Fatalf("vote y00: %v", err)
	}

	stats, err := svc.dilemmas.Stats(ctx, d.ID)
	if err != nil || stats.X != 4 || stats.Y != 1 {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}

	res, err := svc.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: d.ID, CorrectX: &yes})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Updated != 5 {
		t.Fatalf("expected 5 votes marked, got %d", res.Updated)
	}
	if _, err := svc.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: d.ID, CorrectX: &yes}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected second resolve to conflict, got %v", err)
	}
	again, err := svc.resolution.Settle(ctx, d.ID)
	if err != nil || again.Updated != 0 {
		t.Fatalf("expected settled dilemma to be a no-op, got %+v %v", again, err)
	}

	users, err := svc.store.GetUsers(ctx, []string{"x00", "y00"})
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	if users["x00"].Score != 14 || users["x00"].WeeklyPoints != 14 || users["y00"].Score != 0 {
		t.Fatalf("unexpected totals %+v", users)
	}

	items, err := svc.leaderboard.Leaderboard(ctx, "all", 3, true)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(items) != 3 || items[0].Score != 14 {
		t.Fatalf("unexpected all-time board %+v", items)
	}

	snap, err := svc.leaderboard.Snapshot(ctx, "week", 10)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Count != 4 {
		t.Fatalf("expected 4 scorers in week snapshot, got %+v", snap)
	}

	rec, err := svc.ranking.Recompute(ctx, "weeklyPoints", false)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rec.Total != 5 || rec.Processed != 5 {
		t.Fatalf("unexpected recompute result %+v", rec)
	}

	st, err := svc.standing.Standing(ctx, "y00", "all")
	if err != nil {
		t.Fatalf("standing: %v", err)
	}
	if st.Rank != 5 || len(st.Near) != 3 || st.ProgressToNext == nil || st.ProgressToNext.PointsNeeded != 15 {
		t.Fatalf("unexpected standing %+v", st)
	}
	history, err := svc.standing.Votes(ctx, "x00", 0)
	if err != nil || len(history) != 1 || history[0].Points != 14 {
		t.Fatalf("unexpected vote history %+v %v", history, err)
	}
	progress, err := svc.standing.SnapshotProgress(ctx, 0)
	if err != nil || progress.ActiveUsers != 4 || progress.Snapshots != 4 {
		t.Fatalf("unexpected progress snapshot %+v %v", progress, err)
	}
	series, err := svc.standing.Progression(ctx, "x00", "week")
	if err != nil || len(series.Points) != 1 || series.Points[0].Score != 14 {
		t.Fatalf("unexpected progression %+v %v", series, err)
	}
}

func TestConcurrentVotesOnPostgres(t *testing.T) {
	ctx := context.Background()
	svc := setup(t, ctx)

	d, err := svc.dilemmas.Create(ctx, domain.NewDilemma{Title: "Ship on Friday?"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const voters = 8
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			choice := i%2 == 0
			errs <- svc.votes.CastVote(ctx, domain.VoteRequest{DilemmaID: d.ID, UserID: fmt.Sprintf("c%02d", i), ChoiceX: &choice})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent vote: %v", err)
		}
	}

	stats, err := svc.dilemmas.Stats(ctx, d.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.X != voters/2 || stats.Y != voters/2 {
		t.Fatalf("expected counters to match votes, got %+v", stats)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "dilemma", "POSTGRES_PASSWORD": "dilemmapass", "POSTGRES_DB": "dilemmas"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://dilemma:dilemmapass@%s:%s/dilemmas?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
