package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dilemma-cloud/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore keeps one leaderboard snapshot document per range:
//
//	SET leaderboard:snapshot:{range} {json}
//
// Freshness is judged by the reader from UpdatedAt; retention only bounds
// how long an abandoned range lingers.
type SnapshotStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewSnapshotStore(client *redis.Client, retention time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, retention: retention}
}

// GetSnapshot implements app.SnapshotStore.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, r domain.Range) (domain.LeaderboardSnapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key(r)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LeaderboardSnapshot{}, false, nil
	}
	if err != nil {
		return domain.LeaderboardSnapshot{}, false, fmt.Errorf("get %s snapshot: %w", r, err)
	}
	var snap domain.LeaderboardSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.LeaderboardSnapshot{}, false, fmt.Errorf("decode %s snapshot: %w", r, err)
	}
	return snap, true, nil
}

// PutSnapshot implements app.SnapshotStore.
func (s *SnapshotStore) PutSnapshot(ctx context.Context, snap domain.LeaderboardSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", snap.Range, err)
	}
	return s.client.Set(ctx, s.key(snap.Range), raw, s.retention).Err()
}

func (s *SnapshotStore) key(r domain.Range) string {
	return "leaderboard:snapshot:" + string(r)
}
