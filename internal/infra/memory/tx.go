package memory

import (
	"context"
	"fmt"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
)

// memTx buffers writes until commit. Reads go straight to the store and
// record the version they observed.
type memTx struct {
	s     *Store
	reads map[string]int64
	ops   []txOp
}

type txOp struct {
	check func() error
	apply func()
}

var _ app.Tx = (*memTx)(nil)

func (t *memTx) Dilemma(_ context.Context, id string) (domain.Dilemma, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	doc, ok := t.s.dilemmas[id]
	if !ok {
		return domain.Dilemma{}, domain.ErrDilemmaNotFound
	}
	if _, seen := t.reads[dilemmaKey(id)]; !seen {
		t.reads[dilemmaKey(id)] = doc.version
	}
	return cloneDilemma(doc.d), nil
}

func (t *memTx) Vote(_ context.Context, dilemmaID, userID string) (domain.Vote, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := voteKeyString(dilemmaID, userID)
	doc, ok := t.s.votes[voteKey{dilemmaID, userID}]
	if !ok {
		t.reads[key] = 0
		return domain.Vote{}, false, nil
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = doc.version
	}
	return cloneVote(doc.v), true, nil
}

func (t *memTx) User(_ context.Context, userID string) (domain.User, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := userKey(userID)
	doc, ok := t.s.users[userID]
	if !ok {
		t.reads[key] = 0
		return domain.User{ID: userID}, false, nil
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = doc.streakVersion
	}
	return doc.u, true, nil
}

func (t *memTx) IncrementBucket(_ context.Context, dilemmaID, bucket string, delta int64) error {
	s := t.s
	t.ops = append(t.ops, txOp{
		check: func() error {
			if _, ok := s.dilemmas[dilemmaID]; !ok {
				return domain.ErrDilemmaNotFound
			}
			return nil
		},
		apply: func() {
			d := &s.dilemmas[dilemmaID].d
			switch bucket {
			case domain.BucketX:
				d.XCount += delta
			case domain.BucketY:
				d.YCount += delta
			default:
				if d.OptionCounts == nil {
					d.OptionCounts = make(map[string]int64)
				}
				d.OptionCounts[bucket] += delta
			}
		},
	})
	return nil
}

func (t *memTx) PutVote(_ context.Context, v domain.Vote) error {
	s := t.s
	v = cloneVote(v)
	t.ops = append(t.ops, txOp{apply: func() {
		key := voteKey{v.DilemmaID, v.UserID}
		doc, ok := s.votes[key]
		if !ok {
			s.votes[key] = &voteDoc{v: v, version: 1}
			return
		}
		doc.v = v
		doc.version++
	}})
	return nil
}

func (t *memTx) PutStreak(_ context.Context, userID string, st domain.Streak) error {
	s := t.s
	t.ops = append(t.ops, txOp{apply: func() {
		doc := s.userLocked(userID)
		doc.u.LastVoteDate = st.LastVoteDate
		doc.u.Streak = st.Current
		doc.u.BestStreak = st.Best
		doc.streakVersion++
	}})
	return nil
}

func (t *memTx) MarkResolved(_ context.Context, dilemmaID string, r domain.Resolution) error {
	s := t.s
	t.ops = append(t.ops, txOp{
		check: func() error {
			doc, ok := s.dilemmas[dilemmaID]
			if !ok {
				return domain.ErrDilemmaNotFound
			}
			if doc.d.Resolved {
				return fmt.Errorf("resolve %s: %w", dilemmaID, domain.ErrDilemmaResolved)
			}
			return nil
		},
		apply: func() {
			doc := s.dilemmas[dilemmaID]
			res := r
			doc.d.Resolved = true
			doc.d.Resolution = &res
			doc.version++
		},
	})
	return nil
}
