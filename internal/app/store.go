package app

import (
	"context"
	"time"

	"dilemma-cloud/internal/domain"
)

// Transactor runs the atomic units of work the engine needs. Implementations
// live in infra/memory (tests, demos) and infra/postgres.
type Transactor interface {
	// RunTx executes fn against a consistent snapshot and commits its writes
	// only if nothing it read changed in the meantime. On conflict fn is run
	// again; after the retry budget the call fails with
	// domain.ErrConcurrencyExhausted and nothing is committed. Errors returned
	// by fn abort the transaction without a retry.
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Commit applies a batch all-or-nothing.
	Commit(ctx context.Context, b *Batch) error
}

// Tx is the read-then-write view handed to a transaction body.
type Tx interface {
	Dilemma(ctx context.Context, id string) (domain.Dilemma, error)
	Vote(ctx context.Context, dilemmaID, userID string) (domain.Vote, bool, error)
	User(ctx context.Context, userID string) (domain.User, bool, error)

	// IncrementBucket atomically adds delta to a dilemma counter.
	IncrementBucket(ctx context.Context, dilemmaID, bucket string, delta int64) error
	PutVote(ctx context.Context, v domain.Vote) error
	PutStreak(ctx context.Context, userID string, s domain.Streak) error
	// MarkResolved flips the resolved guard. It fails with
	// domain.ErrDilemmaResolved when the dilemma is already resolved.
	MarkResolved(ctx context.Context, dilemmaID string, r domain.Resolution) error
}

// Batch is one all-or-nothing commit of payout or ranking writes.
type Batch struct {
	Marks   []VoteMark
	Points  []PointsDelta
	Leagues []LeagueAssignment
	Seasons []SeasonAssignment
}

// VoteMark settles one vote. Committing a mark for a vote that is already
// resolved fails the whole batch with domain.ErrVoteAlreadyMarked.
type VoteMark struct {
	DilemmaID string
	UserID    string
	Correct   bool
	Points    int
}

// PointsDelta increments score, weeklyPoints, seasonPoints and allTimePoints
// by the same amount. Missing users are created.
type PointsDelta struct {
	UserID string
	Delta  int64
}

// LeagueAssignment overwrites a user's league.
type LeagueAssignment struct {
	UserID string
	League domain.League
	At     time.Time
}

// SeasonAssignment zeroes season points and stamps the new season.
type SeasonAssignment struct {
	UserID    string
	SeasonID  string
	StartedAt time.Time
}

// Len is the number of store operations the batch will issue.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Marks) + len(b.Points) + len(b.Leagues) + len(b.Seasons)
}

// DilemmaRepository stores dilemmas and their votes outside transactions.
type DilemmaRepository interface {
	CreateDilemma(ctx context.Context, d domain.Dilemma) error
	GetDilemma(ctx context.Context, id string) (domain.Dilemma, error)
	MarkSettled(ctx context.Context, id string) error
	// ScanVotes pages over a dilemma's votes ordered by user id.
	ScanVotes(ctx context.Context, dilemmaID, afterUserID string, limit int) ([]domain.Vote, error)
	PutExperiment(ctx context.Context, r domain.ExperimentReport) error
}

// UserRepository pages over the user set.
type UserRepository interface {
	CountUsers(ctx context.Context) (int, error)
	// ScanUsers orders by field descending, then user id ascending, strictly
	// after the cursor when one is given.
	ScanUsers(ctx context.Context, field domain.RankField, after *domain.RankCursor, limit int) ([]domain.User, error)
	// ScanUsersByID orders by user id ascending.
	ScanUsersByID(ctx context.Context, afterID string, limit int) ([]domain.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error)
}

// VoteCursor is the (cast time, dilemma, user) position in a resolved vote scan.
type VoteCursor struct {
	CastAt    time.Time
	DilemmaID string
	UserID    string
}

// VoteHistory scans settled votes across dilemmas.
type VoteHistory interface {
	// ScanResolvedVotes returns resolved votes with from <= CastAt < to in
	// cursor order.
	ScanResolvedVotes(ctx context.Context, from, to time.Time, after *VoteCursor, limit int) ([]domain.Vote, error)
}

// UserVoteHistory reads one user's votes.
type UserVoteHistory interface {
	// UserVotes returns votes cast at or after since, newest first (cast time,
	// then dilemma id, both descending). A limit <= 0 returns every match.
	UserVotes(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Vote, error)
}

// StandingReader answers neighbourhood queries on one ranking field.
type StandingReader interface {
	// CountUsersAbove counts users whose field value is strictly greater.
	CountUsersAbove(ctx context.Context, field domain.RankField, value int64) (int, error)
	// UsersAbove returns up to n users with a greater value, nearest first.
	UsersAbove(ctx context.Context, field domain.RankField, value int64, n int) ([]domain.User, error)
	// UsersBelow returns up to n users with a smaller value, nearest first.
	UsersBelow(ctx context.Context, field domain.RankField, value int64, n int) ([]domain.User, error)
}

// ProgressStore keeps per-user progression snapshots.
type ProgressStore interface {
	// PutProgress writes points all-or-nothing, replacing any with the same
	// user and timestamp.
	PutProgress(ctx context.Context, points []domain.ProgressPoint) error
	// ListProgress returns a user's points taken at or after since, oldest
	// first.
	ListProgress(ctx context.Context, userID string, since time.Time, limit int) ([]domain.ProgressPoint, error)
}

// Store is everything a full deployment wires together.
type Store interface {
	Transactor
	DilemmaRepository
	UserRepository
	VoteHistory
	UserVoteHistory
	StandingReader
	ProgressStore
}

// ConfigSource provides the scoring tables read at resolution time.
type ConfigSource interface {
	ScoringConfig(ctx context.Context) (domain.ScoringConfig, error)
}

// SnapshotStore persists leaderboard snapshots.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, r domain.Range) (domain.LeaderboardSnapshot, bool, error)
	PutSnapshot(ctx context.Context, s domain.LeaderboardSnapshot) error
}

// Limiter is a fixed-window request counter.
type Limiter interface {
	// Allow counts one request for key and reports whether it fits in limit
	// for the current window, and otherwise how long until the window resets.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// ResolutionNotifier is told about completed payouts. Delivery is best-effort.
type ResolutionNotifier interface {
	PublishResolution(ctx context.Context, ev domain.ResolutionEvent) error
}
