package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/config"
	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/infra/kafka"
	"dilemma-cloud/internal/infra/memory"
	"dilemma-cloud/internal/infra/postgres"
	redisinfra "dilemma-cloud/internal/infra/redis"
	"dilemma-cloud/internal/metrics"
	transport "dilemma-cloud/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// runtime holds the services of one process and the resources behind them.
type runtime struct {
	services transport.Services
	metrics  *metrics.Metrics
	limiter  *memory.RateLimiter
	closers  []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// abort releases what was opened so far and reports both failures.
func (r *runtime) abort(err error) error {
	return errors.Join(err, r.Close())
}

func openBunDB(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// buildRuntime wires Postgres, Redis and Kafka when configured and falls back
// to the in-memory adapters otherwise.
func buildRuntime(ctx context.Context, cfg config.Config, log *slog.Logger) (*runtime, error) {
	rt := &runtime{metrics: metrics.New(nil)}
	opts := []app.Option{app.WithLogger(log), app.WithMetrics(rt.metrics)}

	var store app.Store
	var loader memory.ConfigLoader = memory.NewStaticConfigLoader(domain.DefaultScoringConfig())
	if cfg.Postgres.URL != "" {
		db := openBunDB(cfg.Postgres.URL)
		rt.closers = append(rt.closers, db.Close)
		store = postgres.NewStore(db, cfg.Store.MaxAttempts)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, rt.abort(fmt.Errorf("connect postgres pool: %w", err))
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		loader = postgres.NewConfigLoader(pool)
	} else {
		log.Warn("postgres_not_configured", slog.String("store", "memory"))
		store = memory.NewStore(memory.WithMaxAttempts(cfg.Store.MaxAttempts))
	}

	cacheTTL := config.TTLDuration(cfg.Scoring.CacheTTL, 10*time.Minute)
	retention := config.TTLDuration(cfg.Leaderboard.Retention, 24*time.Hour)
	var (
		scoringCfg app.ConfigSource
		snapshots  app.SnapshotStore
		limiter    app.Limiter
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)
		scoringCfg = redisinfra.NewConfigRepository(client, loader, cacheTTL)
		snapshots = redisinfra.NewSnapshotStore(client, retention)
		limiter = redisinfra.NewRateLimiter(client)
	} else {
		scoringCfg = memory.NewConfigRepository(loader, cacheTTL)
		snapshots = memory.NewSnapshotStore()
		rt.limiter = memory.NewRateLimiter()
		limiter = rt.limiter
	}

	var notifier app.ResolutionNotifier
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewResolutionPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		rt.closers = append(rt.closers, pub.Close)
		notifier = pub
	}

	limits := app.RateLimits{
		PerUser: cfg.RateLimit.UserPerMinute,
		PerIP:   cfg.RateLimit.IPPerMinute,
		Window:  time.Minute,
	}
	freshness := config.TTLDuration(cfg.Leaderboard.Freshness, 15*time.Minute)
	rt.services = transport.Services{
		Dilemmas:    app.NewDilemmaService(store, opts...),
		Votes:       app.NewVoteService(store, limiter, limits, opts...),
		Resolution:  app.NewResolutionService(store, store, scoringCfg, notifier, cfg.Store.BatchOps, opts...),
		Ranking:     app.NewRankingService(store, store, cfg.Ranking.PageSize, opts...),
		Leaderboard: app.NewLeaderboardService(store, store, snapshots, freshness, cfg.Leaderboard.SnapshotLimit, opts...),
		Standing:    app.NewStandingService(store, opts...),
	}
	return rt, nil
}
