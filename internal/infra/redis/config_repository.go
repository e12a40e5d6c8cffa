package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"dilemma-cloud/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const configKey = "scoring:config"

// ConfigLoader fetches scoring tables from the backing store (e.g. Postgres).
type ConfigLoader interface {
	LoadScoringConfig(ctx context.Context) (domain.ScoringConfig, error)
}

// ConfigRepository caches the scoring config in Redis as one JSON document
// and falls back to a loader on cache miss. Replicas share the cached copy.
//
//	SET scoring:config {"scoring":{...},"scoring_multi":{...}} EX ttl
type ConfigRepository struct {
	client *redis.Client
	loader ConfigLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewConfigRepository(client *redis.Client, loader ConfigLoader, ttl time.Duration) *ConfigRepository {
	return &ConfigRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ScoringConfig implements app.ConfigSource.
func (r *ConfigRepository) ScoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	if cfg, ok := r.cached(ctx); ok {
		return cfg, nil
	}

	result, err, _ := r.sf.Do(configKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if cfg, ok := r.cached(ctx); ok {
			return cfg, nil
		}

		cfg, err := r.loader.LoadScoringConfig(ctx)
		if err != nil {
			return domain.ScoringConfig{}, err
		}
		if raw, err := json.Marshal(cfg); err == nil {
			_ = r.client.Set(ctx, configKey, raw, r.ttlWithJitter()).Err()
		}
		return cfg, nil
	})
	if err != nil {
		return domain.ScoringConfig{}, err
	}
	return result.(domain.ScoringConfig), nil
}

// Invalidate drops the shared cached copy.
func (r *ConfigRepository) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, configKey).Err(); err != nil {
		return fmt.Errorf("invalidate scoring config: %w", err)
	}
	return nil
}

func (r *ConfigRepository) cached(ctx context.Context) (domain.ScoringConfig, bool) {
	raw, err := r.client.Get(ctx, configKey).Bytes()
	if err != nil {
		return domain.ScoringConfig{}, false
	}
	var cfg domain.ScoringConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.ScoringConfig{}, false
	}
	return cfg, true
}

func (r *ConfigRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
