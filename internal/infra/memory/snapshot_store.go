package memory

import (
	"context"
	"sync"

	"dilemma-cloud/internal/domain"
)

// SnapshotStore is an in-memory implementation of app.SnapshotStore.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[domain.Range]domain.LeaderboardSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[domain.Range]domain.LeaderboardSnapshot),
	}
}

func (s *SnapshotStore) GetSnapshot(_ context.Context, r domain.Range) (domain.LeaderboardSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[r]
	if !ok {
		return domain.LeaderboardSnapshot{}, false, nil
	}
	snap.Items = append([]domain.LeaderboardItem(nil), snap.Items...)
	return snap, true, nil
}

func (s *SnapshotStore) PutSnapshot(_ context.Context, snap domain.LeaderboardSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Items = append([]domain.LeaderboardItem(nil), snap.Items...)
	s.snapshots[snap.Range] = snap
	return nil
}
