package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dilemma-cloud/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHistoryLimit = 90
	maxHistoryLimit     = 200
	windowNeighbours    = 5
	fieldNeighbours     = 3
	historyFetchLimit   = 8
)

// StandingStore is what the per-user reads need.
type StandingStore interface {
	DilemmaRepository
	UserRepository
	VoteHistory
	UserVoteHistory
	StandingReader
	ProgressStore
}

// StandingService answers a single user's questions about their own votes,
// totals and position, and records their progression over time.
type StandingService struct {
	store StandingStore
	opts  options
}

func NewStandingService(store StandingStore, opts ...Option) *StandingService {
	return &StandingService{store: store, opts: buildOptions("standing", opts)}
}

func requireUser(userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", domain.ErrUserRequired
	}
	return id, nil
}

func (s *StandingService) user(ctx context.Context, id string) (domain.User, error) {
	users, err := s.store.GetUsers(ctx, []string{id})
	if err != nil {
		return domain.User{}, fmt.Errorf("load user %s: %w", id, err)
	}
	u, ok := users[id]
	if !ok {
		u.ID = id
	}
	return u, nil
}

// Score returns the user's totals and the positive resolved points of votes
// cast in the last day and week.
func (s *StandingService) Score(ctx context.Context, userID string) (domain.UserScore, error) {
	id, err := requireUser(userID)
	if err != nil {
		return domain.UserScore{}, err
	}
	u, err := s.user(ctx, id)
	if err != nil {
		return domain.UserScore{}, err
	}
	now := s.opts.now()
	dayStart := now.Add(-24 * time.Hour)
	votes, err := s.store.UserVotes(ctx, id, now.Add(-7*24*time.Hour), 0)
	if err != nil {
		return domain.UserScore{}, fmt.Errorf("load votes of %s: %w", id, err)
	}

	out := domain.UserScore{Score: u.Score, Streak: u.Streak, BestStreak: u.BestStreak}
	for _, v := range votes {
		if !v.Resolved || v.Points == nil || *v.Points <= 0 || !v.CastAt.Before(now) {
			continue
		}
		out.WeekPoints += int64(*v.Points)
		if !v.CastAt.Before(dayStart) {
			out.DayPoints += int64(*v.Points)
		}
	}
	return out, nil
}

// Votes lists the user's most recent votes joined with their dilemmas. Votes
// whose dilemma no longer exists are skipped.
func (s *StandingService) Votes(ctx context.Context, userID string, limit int) ([]domain.VoteHistoryItem, error) {
	id, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.UserVotes(ctx, id, time.Time{}, clampLimit(limit, defaultHistoryLimit, maxHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("load votes of %s: %w", id, err)
	}

	var (
		mu       sync.Mutex
		dilemmas = make(map[string]domain.Dilemma, len(votes))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyFetchLimit)
	seen := make(map[string]bool, len(votes))
	for _, v := range votes {
		if seen[v.DilemmaID] {
			continue
		}
		seen[v.DilemmaID] = true
		dilemmaID := v.DilemmaID
		g.Go(func() error {
			d, err := s.store.GetDilemma(gctx, dilemmaID)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load dilemma %s: %w", dilemmaID, err)
			}
			mu.Lock()
			dilemmas[dilemmaID] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]domain.VoteHistoryItem, 0, len(votes))
	for _, v := range votes {
		d, ok := dilemmas[v.DilemmaID]
		if !ok {
			continue
		}
		items = append(items, historyItem(v, d))
	}
	return items, nil
}

func historyItem(v domain.Vote, d domain.Dilemma) domain.VoteHistoryItem {
	item := domain.VoteHistoryItem{
		DilemmaID:  d.ID,
		Title:      d.Title,
		Kind:       domain.KindBinary,
		CastAt:     v.CastAt,
		Confidence: v.Confidence,
		Reason:     v.Reason,
		Resolved:   v.Resolved || d.Resolved,
		VariantTag: v.VariantTag,
	}
	if v.Points != nil {
		item.Points = *v.Points
	}
	if item.Resolved {
		correct := v.Correct != nil && *v.Correct
		item.Correct = &correct
	}

	if d.IsMulti() {
		item.Kind = domain.KindMulti
		item.OptionID = v.Choice.OptionID
		if d.Resolution != nil && d.Resolution.Multi != nil {
			if q, ok := d.Resolution.Multi.Q[v.Choice.OptionID]; ok {
				item.OptionPct = &q
			}
		}
		return item
	}

	item.ChoiceX = v.Choice.X
	var xPct, yPct float64
	if total := d.XCount + d.YCount; total > 0 {
		xPct = float64(d.XCount) / float64(total)
		yPct = float64(d.YCount) / float64(total)
	}
	item.XPct, item.YPct = &xPct, &yPct
	return item
}

// Standing places the user in a range. Day and week rank everyone with
// resolved points in the window, the user included at zero; season and all
// rank by the stored season points and score.
func (s *StandingService) Standing(ctx context.Context, userID, rawRange string) (domain.Standing, error) {
	id, err := requireUser(userID)
	if err != nil {
		return domain.Standing{}, err
	}
	r, err := domain.ParseStandingRange(rawRange)
	if err != nil {
		return domain.Standing{}, err
	}
	switch r {
	case domain.RangeSeason:
		return s.fieldStanding(ctx, id, r, domain.FieldSeasonPoints)
	case domain.RangeAll:
		return s.fieldStanding(ctx, id, r, domain.FieldScore)
	}

	window, _ := r.Window()
	now := s.opts.now()
	totals, err := windowTotals(ctx, s.store, now.Add(-window), now)
	if err != nil {
		return domain.Standing{}, err
	}
	if _, ok := totals[id]; !ok {
		totals[id] = 0
	}
	ranked := rankTotals(totals)
	idx := 0
	for i, row := range ranked {
		if row.uid == id {
			idx = i
			break
		}
	}

	mine := ranked[idx].score
	out := domain.Standing{
		Range:  r,
		Rank:   idx + 1,
		Score:  mine,
		League: leagueForTopShare(idx+1, len(ranked)),
		Near:   []domain.StandingNeighbour{},
	}
	for i := max(0, idx-windowNeighbours); i <= min(len(ranked)-1, idx+windowNeighbours); i++ {
		if i != idx {
			out.Near = append(out.Near, domain.StandingNeighbour{UserID: ranked[i].uid, Score: ranked[i].score})
		}
	}
	if idx > 0 {
		out.ProgressToNext = progressTo(mine, ranked[idx-1].uid, ranked[idx-1].score)
	}
	return out, nil
}

func (s *StandingService) fieldStanding(ctx context.Context, id string, r domain.Range, field domain.RankField) (domain.Standing, error) {
	u, err := s.user(ctx, id)
	if err != nil {
		return domain.Standing{}, err
	}
	mine := u.Value(field)
	higher, err := s.store.CountUsersAbove(ctx, field, mine)
	if err != nil {
		return domain.Standing{}, fmt.Errorf("count users above %d: %w", mine, err)
	}
	total, err := s.store.CountUsers(ctx)
	if err != nil {
		return domain.Standing{}, fmt.Errorf("count users: %w", err)
	}
	above, err := s.store.UsersAbove(ctx, field, mine, fieldNeighbours)
	if err != nil {
		return domain.Standing{}, fmt.Errorf("load users above: %w", err)
	}
	below, err := s.store.UsersBelow(ctx, field, mine, fieldNeighbours)
	if err != nil {
		return domain.Standing{}, fmt.Errorf("load users below: %w", err)
	}

	out := domain.Standing{
		Range:  r,
		Rank:   higher + 1,
		Score:  mine,
		League: leagueForTopShare(higher+1, max(total, higher+1)),
		Near:   make([]domain.StandingNeighbour, 0, len(above)+len(below)),
	}
	// Near reads top to bottom: farthest above first.
	for i := len(above) - 1; i >= 0; i-- {
		out.Near = append(out.Near, domain.StandingNeighbour{UserID: above[i].ID, Score: above[i].Value(field)})
	}
	for _, b := range below {
		out.Near = append(out.Near, domain.StandingNeighbour{UserID: b.ID, Score: b.Value(field)})
	}
	if len(above) > 0 {
		out.ProgressToNext = progressTo(mine, above[0].ID, above[0].Value(field))
	}
	return out, nil
}

func progressTo(mine int64, targetID string, target int64) *domain.StandingProgress {
	return &domain.StandingProgress{
		PointsNeeded: max(1, target-mine+1),
		TargetUserID: targetID,
		TargetScore:  target,
	}
}
