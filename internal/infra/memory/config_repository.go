package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"dilemma-cloud/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ConfigLoader fetches scoring tables from a backing store.
type ConfigLoader interface {
	LoadScoringConfig(ctx context.Context) (domain.ScoringConfig, error)
}

// ConfigRepository caches scoring config with TTL to avoid a store read per
// resolution.
type ConfigRepository struct {
	loader ConfigLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	cached    *domain.ScoringConfig
	expiresAt time.Time
}

func NewConfigRepository(loader ConfigLoader, ttl time.Duration) *ConfigRepository {
	return &ConfigRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ScoringConfig implements app.ConfigSource.
func (r *ConfigRepository) ScoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	if cfg, ok := r.fresh(r.clock()); ok {
		return cfg, nil
	}

	result, err, _ := r.sf.Do("scoring", func() (interface{}, error) {
		now := r.clock()
		if cfg, ok := r.fresh(now); ok {
			return cfg, nil
		}

		cfg, err := r.loader.LoadScoringConfig(ctx)
		if err != nil {
			return domain.ScoringConfig{}, err
		}

		r.mu.Lock()
		r.cached = &cfg
		r.expiresAt = now.Add(r.ttlWithJitter())
		r.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return domain.ScoringConfig{}, err
	}
	return result.(domain.ScoringConfig), nil
}

// Invalidate drops the cached config so the next read reloads it.
func (r *ConfigRepository) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *ConfigRepository) fresh(now time.Time) (domain.ScoringConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached != nil && r.expiresAt.After(now) {
		return *r.cached, true
	}
	return domain.ScoringConfig{}, false
}

// StaticConfigLoader serves a fixed config (useful for tests/demos).
type StaticConfigLoader struct {
	cfg domain.ScoringConfig
}

func NewStaticConfigLoader(cfg domain.ScoringConfig) *StaticConfigLoader {
	return &StaticConfigLoader{cfg: cfg}
}

func (l *StaticConfigLoader) LoadScoringConfig(_ context.Context) (domain.ScoringConfig, error) {
	return l.cfg, nil
}

// ScoringConfig lets the loader be used directly as an app.ConfigSource.
func (l *StaticConfigLoader) ScoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	return l.LoadScoringConfig(ctx)
}

func (r *ConfigRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
