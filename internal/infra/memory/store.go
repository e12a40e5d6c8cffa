package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
)

const defaultMaxAttempts = 5

// Store is an in-memory document store with optimistic transactions. Every
// document carries a version; a transaction records the versions it read and
// commits only if none of them moved. Counter increments do not bump the
// dilemma version, so voters on the same dilemma do not conflict with each
// other, while resolving a dilemma does.
type Store struct {
	maxAttempts int

	mu          sync.Mutex
	dilemmas    map[string]*dilemmaDoc
	votes       map[voteKey]*voteDoc
	users       map[string]*userDoc
	experiments map[string]domain.ExperimentReport
	progress    map[string][]domain.ProgressPoint
}

type dilemmaDoc struct {
	d       domain.Dilemma
	version int64
}

type voteDoc struct {
	v       domain.Vote
	version int64
}

// userDoc versions only the streak fields; score increments are atomic.
type userDoc struct {
	u             domain.User
	streakVersion int64
}

type voteKey struct {
	dilemmaID string
	userID    string
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithMaxAttempts sets the transaction retry budget.
func WithMaxAttempts(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		maxAttempts: defaultMaxAttempts,
		dilemmas:    make(map[string]*dilemmaDoc),
		votes:       make(map[voteKey]*voteDoc),
		users:       make(map[string]*userDoc),
		experiments: make(map[string]domain.ExperimentReport),
		progress:    make(map[string][]domain.ProgressPoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ app.Store = (*Store)(nil)

// RunTx implements app.Transactor.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{s: s, reads: make(map[string]int64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		committed, err := s.commitTx(tx)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts", domain.ErrConcurrencyExhausted, s.maxAttempts)
}

func (s *Store) commitTx(tx *memTx) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.versionLocked(key) != seen {
			return false, nil
		}
	}
	for _, op := range tx.ops {
		if op.check != nil {
			if err := op.check(); err != nil {
				return false, err
			}
		}
	}
	for _, op := range tx.ops {
		op.apply()
	}
	return true, nil
}

func (s *Store) versionLocked(key string) int64 {
	switch key[0] {
	case 'd':
		if doc, ok := s.dilemmas[key[2:]]; ok {
			return doc.version
		}
	case 'u':
		if doc, ok := s.users[key[2:]]; ok {
			return doc.streakVersion
		}
	case 'v':
		if doc, ok := s.votes[parseVoteKey(key)]; ok {
			return doc.version
		}
	}
	return 0
}

func dilemmaKey(id string) string { return "d:" + id }
func userKey(id string) string    { return "u:" + id }
func voteKeyString(dilemmaID, userID string) string {
	return "v:" + dilemmaID + "\x00" + userID
}

func parseVoteKey(key string) voteKey {
	body := key[2:]
	for i := 0; i < len(body); i++ {
		if body[i] == 0 {
			return voteKey{dilemmaID: body[:i], userID: body[i+1:]}
		}
	}
	return voteKey{dilemmaID: body}
}

// Commit implements app.Transactor.
func (s *Store) Commit(ctx context.Context, b *app.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range b.Marks {
		doc, ok := s.votes[voteKey{m.DilemmaID, m.UserID}]
		if !ok {
			return fmt.Errorf("vote %s/%s: %w", m.DilemmaID, m.UserID, domain.ErrNotFound)
		}
		if doc.v.Resolved {
			return fmt.Errorf("vote %s/%s: %w", m.DilemmaID, m.UserID, domain.ErrVoteAlreadyMarked)
		}
	}

	for _, m := range b.Marks {
		doc := s.votes[voteKey{m.DilemmaID, m.UserID}]
		correct, points := m.Correct, m.Points
		doc.v.Resolved = true
		doc.v.Correct = &correct
		doc.v.Points = &points
		doc.version++
	}
	for _, p := range b.Points {
		doc := s.userLocked(p.UserID)
		doc.u.Score += p.Delta
		doc.u.WeeklyPoints += p.Delta
		doc.u.SeasonPoints += p.Delta
		doc.u.AllTimePoints += p.Delta
	}
	for _, l := range b.Leagues {
		doc := s.userLocked(l.UserID)
		doc.u.League = l.League
		doc.u.LeagueUpdatedAt = l.At
	}
	for _, a := range b.Seasons {
		doc := s.userLocked(a.UserID)
		doc.u.SeasonPoints = 0
		doc.u.SeasonID = a.SeasonID
		doc.u.SeasonStartedAt = a.StartedAt
	}
	return nil
}

func (s *Store) userLocked(id string) *userDoc {
	doc, ok := s.users[id]
	if !ok {
		doc = &userDoc{u: domain.User{ID: id}}
		s.users[id] = doc
	}
	return doc
}

// CreateDilemma implements app.DilemmaRepository.
func (s *Store) CreateDilemma(_ context.Context, d domain.Dilemma) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dilemmas[d.ID]; ok {
		return fmt.Errorf("dilemma %s exists: %w", d.ID, domain.ErrConflict)
	}
	s.dilemmas[d.ID] = &dilemmaDoc{d: cloneDilemma(d), version: 1}
	return nil
}

// GetDilemma implements app.DilemmaRepository.
func (s *Store) GetDilemma(_ context.Context, id string) (domain.Dilemma, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.dilemmas[id]
	if !ok {
		return domain.Dilemma{}, domain.ErrDilemmaNotFound
	}
	return cloneDilemma(doc.d), nil
}

// MarkSettled implements app.DilemmaRepository.
func (s *Store) MarkSettled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.dilemmas[id]
	if !ok {
		return domain.ErrDilemmaNotFound
	}
	doc.d.Settled = true
	doc.version++
	return nil
}

// ScanVotes implements app.DilemmaRepository.
func (s *Store) ScanVotes(_ context.Context, dilemmaID, afterUserID string, limit int) ([]domain.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Vote, 0)
	for k, doc := range s.votes {
		if k.dilemmaID == dilemmaID && k.userID > afterUserID {
			out = append(out, cloneVote(doc.v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return truncate(out, limit), nil
}

// PutExperiment implements app.DilemmaRepository.
func (s *Store) PutExperiment(_ context.Context, r domain.ExperimentReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[r.DilemmaID] = r
	return nil
}

// Experiment returns a stored experiment report.
func (s *Store) Experiment(dilemmaID string) (domain.ExperimentReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.experiments[dilemmaID]
	return r, ok
}

// ScanResolvedVotes implements app.VoteHistory.
func (s *Store) ScanResolvedVotes(_ context.Context, from, to time.Time, after *app.VoteCursor, limit int) ([]domain.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Vote, 0)
	for _, doc := range s.votes {
		v := doc.v
		if !v.Resolved || v.CastAt.Before(from) || !v.CastAt.Before(to) {
			continue
		}
		if after != nil && !voteAfter(v, *after) {
			continue
		}
		out = append(out, cloneVote(v))
	}
	sort.Slice(out, func(i, j int) bool { return voteLess(out[i], out[j]) })
	return truncate(out, limit), nil
}

func voteLess(a, b domain.Vote) bool {
	if !a.CastAt.Equal(b.CastAt) {
		return a.CastAt.Before(b.CastAt)
	}
	if a.DilemmaID != b.DilemmaID {
		return a.DilemmaID < b.DilemmaID
	}
	return a.UserID < b.UserID
}

func voteAfter(v domain.Vote, c app.VoteCursor) bool {
	return voteLess(domain.Vote{CastAt: c.CastAt, DilemmaID: c.DilemmaID, UserID: c.UserID}, v)
}

// CountUsers implements app.UserRepository.
func (s *Store) CountUsers(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

// ScanUsers implements app.UserRepository.
func (s *Store) ScanUsers(_ context.Context, field domain.RankField, after *domain.RankCursor, limit int) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.users))
	for _, doc := range s.users {
		u := doc.u
		if after != nil {
			v := u.Value(field)
			if v > after.Value || (v == after.Value && u.ID <= after.UserID) {
				continue
			}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := out[i].Value(field), out[j].Value(field)
		if vi != vj {
			return vi > vj
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

// ScanUsersByID implements app.UserRepository.
func (s *Store) ScanUsersByID(_ context.Context, afterID string, limit int) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.users))
	for id, doc := range s.users {
		if id > afterID {
			out = append(out, doc.u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return truncate(out, limit), nil
}

// GetUsers implements app.UserRepository. Unknown ids are omitted.
func (s *Store) GetUsers(_ context.Context, ids []string) (map[string]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if doc, ok := s.users[id]; ok {
			out[id] = doc.u
		}
	}
	return out, nil
}

// UserVotes implements app.UserVoteHistory.
func (s *Store) UserVotes(_ context.Context, userID string, since time.Time, limit int) ([]domain.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Vote, 0)
	for k, doc := range s.votes {
		if k.userID == userID && !doc.v.CastAt.Before(since) {
			out = append(out, cloneVote(doc.v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.After(out[j].CastAt)
		}
		return out[i].DilemmaID > out[j].DilemmaID
	})
	return truncate(out, limit), nil
}

// CountUsersAbove implements app.StandingReader.
func (s *Store) CountUsersAbove(_ context.Context, field domain.RankField, value int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, doc := range s.users {
		if doc.u.Value(field) > value {
			n++
		}
	}
	return n, nil
}

// UsersAbove implements app.StandingReader.
func (s *Store) UsersAbove(_ context.Context, field domain.RankField, value int64, n int) ([]domain.User, error) {
	return s.neighbours(field, n, func(v int64) bool { return v > value }, func(a, b int64) bool { return a < b }), nil
}

// UsersBelow implements app.StandingReader.
func (s *Store) UsersBelow(_ context.Context, field domain.RankField, value int64, n int) ([]domain.User, error) {
	return s.neighbours(field, n, func(v int64) bool { return v < value }, func(a, b int64) bool { return a > b }), nil
}

func (s *Store) neighbours(field domain.RankField, n int, keep func(int64) bool, closer func(a, b int64) bool) []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0)
	for _, doc := range s.users {
		if keep(doc.u.Value(field)) {
			out = append(out, doc.u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := out[i].Value(field), out[j].Value(field)
		if vi != vj {
			return closer(vi, vj)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, n)
}

// PutProgress implements app.ProgressStore.
func (s *Store) PutProgress(_ context.Context, points []domain.ProgressPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		series := s.progress[p.UserID]
		i := sort.Search(len(series), func(i int) bool { return !series[i].At.Before(p.At) })
		if i < len(series) && series[i].At.Equal(p.At) {
			series[i] = p
			continue
		}
		series = append(series, domain.ProgressPoint{})
		copy(series[i+1:], series[i:])
		series[i] = p
		s.progress[p.UserID] = series
	}
	return nil
}

// ListProgress implements app.ProgressStore.
func (s *Store) ListProgress(_ context.Context, userID string, since time.Time, limit int) ([]domain.ProgressPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.progress[userID]
	i := sort.Search(len(series), func(i int) bool { return !series[i].At.Before(since) })
	out := append([]domain.ProgressPoint(nil), series[i:]...)
	return truncate(out, limit), nil
}

// PutUser seeds or replaces a user record.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.userLocked(u.ID)
	doc.u = u
	doc.streakVersion++
}

// User returns a user record.
func (s *Store) User(id string) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.users[id]
	if !ok {
		return domain.User{}, false
	}
	return doc.u, true
}

// Vote returns a vote record.
func (s *Store) Vote(dilemmaID, userID string) (domain.Vote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.votes[voteKey{dilemmaID, userID}]
	if !ok {
		return domain.Vote{}, false
	}
	return cloneVote(doc.v), true
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneDilemma(d domain.Dilemma) domain.Dilemma {
	out := d
	if d.Options != nil {
		out.Options = append([]domain.Option(nil), d.Options...)
	}
	if d.OptionCounts != nil {
		out.OptionCounts = make(map[string]int64, len(d.OptionCounts))
		for k, v := range d.OptionCounts {
			out.OptionCounts[k] = v
		}
	}
	if d.Resolution != nil {
		res := *d.Resolution
		out.Resolution = &res
	}
	return out
}

func cloneVote(v domain.Vote) domain.Vote {
	out := v
	if v.Confidence != nil {
		c := *v.Confidence
		out.Confidence = &c
	}
	if v.Correct != nil {
		c := *v.Correct
		out.Correct = &c
	}
	if v.Points != nil {
		p := *v.Points
		out.Points = &p
	}
	return out
}
