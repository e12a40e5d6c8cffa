package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"dilemma-cloud/internal/domain"
)

const (
	minConfidence = 0.5
	maxConfidence = 0.99
)

// RateLimits bounds vote casts per user and per client address.
type RateLimits struct {
	PerUser int
	PerIP   int
	Window  time.Duration
}

// DefaultRateLimits allows 10 votes per user and 30 per address each minute.
func DefaultRateLimits() RateLimits {
	return RateLimits{PerUser: 10, PerIP: 30, Window: time.Minute}
}

// VoteService is the vote ledger: one vote per user and dilemma, with the
// dilemma counters and the voter's streak maintained in the same transaction.
type VoteService struct {
	tx      Transactor
	limiter Limiter
	limits  RateLimits
	opts    options
}

// NewVoteService builds the ledger. A nil limiter disables rate limiting.
func NewVoteService(tx Transactor, limiter Limiter, limits RateLimits, opts ...Option) *VoteService {
	return &VoteService{tx: tx, limiter: limiter, limits: limits, opts: buildOptions("votes", opts)}
}

// CastVote records or changes a vote. Repeating the stored choice is a no-op.
func (s *VoteService) CastVote(ctx context.Context, req domain.VoteRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.DilemmaID = strings.TrimSpace(req.DilemmaID)
	if req.UserID == "" {
		return domain.ErrUserRequired
	}
	if req.DilemmaID == "" {
		return domain.Invalidf("dilemma id required")
	}
	if err := s.allow(ctx, req); err != nil {
		return err
	}

	confidence, err := clampConfidence(req.Confidence)
	if err != nil {
		return err
	}
	reason := sanitizeReason(req.Reason)
	tag := sanitizeVariantTag(req.VariantTag)

	var (
		kind    domain.Kind
		variant string
		changed bool
	)
	err = s.tx.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		changed = false
		now := s.opts.now()

		d, err := tx.Dilemma(ctx, req.DilemmaID)
		if err != nil {
			return err
		}
		if d.VotingClosed(now) {
			return domain.ErrVotingClosed
		}
		choice, err := choiceFor(d, req)
		if err != nil {
			return err
		}
		kind = d.Kind

		existing, found, err := tx.Vote(ctx, req.DilemmaID, req.UserID)
		if err != nil {
			return err
		}
		if found && existing.Choice == choice {
			return nil
		}

		if found {
			if err := tx.IncrementBucket(ctx, d.ID, existing.Choice.Bucket(), -1); err != nil {
				return err
			}
		}
		if err := tx.IncrementBucket(ctx, d.ID, choice.Bucket(), 1); err != nil {
			return err
		}

		vote := domain.Vote{
			DilemmaID:  d.ID,
			UserID:     req.UserID,
			Choice:     choice,
			Confidence: confidence,
			Reason:     reason,
			VariantTag: tag,
			CastAt:     now,
		}
		if found {
			if existing.VariantTag != "" {
				vote.VariantTag = existing.VariantTag
			}
			if vote.Reason == "" {
				vote.Reason = existing.Reason
			}
			if vote.Confidence == nil {
				vote.Confidence = existing.Confidence
			}
		}
		variant = vote.VariantTag
		if err := tx.PutVote(ctx, vote); err != nil {
			return err
		}

		user, _, err := tx.User(ctx, req.UserID)
		if err != nil {
			return err
		}
		if streak, ok := domain.NextStreak(user, now); ok {
			if err := tx.PutStreak(ctx, req.UserID, streak); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		s.opts.metrics.VoteCast(string(kind), variant, reason != "")
		s.opts.logger.Debug("vote_cast",
			slog.String("dilemma_id", req.DilemmaID),
			slog.String("uid", req.UserID),
			slog.String("variant", variant),
		)
	}
	return nil
}

func (s *VoteService) allow(ctx context.Context, req domain.VoteRequest) error {
	if s.limiter == nil {
		return nil
	}
	window := s.limits.Window
	if window <= 0 {
		window = time.Minute
	}
	if s.limits.PerUser > 0 {
		if err := s.check(ctx, "uid", req.UserID, s.limits.PerUser, window); err != nil {
			return err
		}
	}
	if s.limits.PerIP > 0 && req.ClientIP != "" {
		if err := s.check(ctx, "ip", req.ClientIP, s.limits.PerIP, window); err != nil {
			return err
		}
	}
	return nil
}

func (s *VoteService) check(ctx context.Context, scope, id string, limit int, window time.Duration) error {
	ok, retry, err := s.limiter.Allow(ctx, scope+":"+id, limit, window)
	if err != nil {
		// Fail open when the limiter backend errors.
		s.opts.logger.Warn("rate_limiter_unavailable", slog.String("scope", scope), slog.Any("err", err))
		return nil
	}
	if !ok {
		if retry < time.Second {
			retry = time.Second
		}
		return &domain.RateLimitError{Scope: scope, RetryAfter: retry}
	}
	return nil
}

// choiceFor validates the request against the dilemma kind.
func choiceFor(d domain.Dilemma, req domain.VoteRequest) (domain.Choice, error) {
	optionID := strings.TrimSpace(req.OptionID)
	if d.IsMulti() {
		if optionID == "" {
			return domain.Choice{}, domain.ErrChoiceRequired
		}
		if optionID != domain.OtherOptionID && !d.HasOption(optionID) {
			return domain.Choice{}, fmt.Errorf("%w: %q", domain.ErrUnknownOption, optionID)
		}
		return domain.OptionChoice(optionID), nil
	}
	if optionID != "" {
		return domain.Choice{}, domain.Invalidf("binary dilemma takes choiceX, not optionId")
	}
	if req.ChoiceX == nil {
		return domain.Choice{}, domain.ErrChoiceRequired
	}
	return domain.BinaryChoice(*req.ChoiceX), nil
}

func clampConfidence(c *float64) (*float64, error) {
	if c == nil {
		return nil, nil
	}
	v := *c
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, domain.Invalidf("confidence must be a finite number")
	}
	v = math.Min(maxConfidence, math.Max(minConfidence, v))
	return &v, nil
}
