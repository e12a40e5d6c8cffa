package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/scoring"
)

const (
	defaultBasePoints = 10
	defaultBatchOps   = 450
)

// ResolutionService closes dilemmas and pays out difficulty-adjusted rewards.
//
// Resolution has two phases. The resolved guard and the difficulty record are
// committed in one transaction, so a dilemma can only ever be resolved once.
// The payout then walks the votes in pages; each page marks its votes and
// increments the voters' totals in a single batch commit, and marks are
// conditional on the vote still being unresolved, so an interrupted payout can
// be resumed with Settle without paying any vote twice.
type ResolutionService struct {
	tx       Transactor
	dilemmas DilemmaRepository
	config   ConfigSource
	notifier ResolutionNotifier
	acc      *ScoreAccumulator
	batchOps int
	opts     options
}

// NewResolutionService wires the engine. batchOps is the store's per-commit
// operation limit; each vote costs a mark and an increment. notifier may be nil.
func NewResolutionService(tx Transactor, dilemmas DilemmaRepository, config ConfigSource, notifier ResolutionNotifier, batchOps int, opts ...Option) *ResolutionService {
	if batchOps < 2 {
		batchOps = defaultBatchOps
	}
	return &ResolutionService{
		tx:       tx,
		dilemmas: dilemmas,
		config:   config,
		notifier: notifier,
		acc:      NewScoreAccumulator(),
		batchOps: batchOps,
		opts:     buildOptions("resolution", opts),
	}
}

// Resolve declares the correct answer and settles every vote.
func (s *ResolutionService) Resolve(ctx context.Context, req domain.ResolveRequest) (domain.ResolveResult, error) {
	id := strings.TrimSpace(req.DilemmaID)
	if id == "" {
		return domain.ResolveResult{}, domain.Invalidf("dilemma id required")
	}
	cfg, err := s.scoringConfig(ctx)
	if err != nil {
		return domain.ResolveResult{}, err
	}
	base := defaultBasePoints
	if req.BasePoints != nil {
		base = max(0, *req.BasePoints)
	}

	var resolved domain.Dilemma
	err = s.tx.RunTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Dilemma(ctx, id)
		if err != nil {
			return err
		}
		if d.Resolved {
			return domain.ErrDilemmaResolved
		}
		res, err := s.difficulty(d, req, base, cfg)
		if err != nil {
			return err
		}
		if err := tx.MarkResolved(ctx, d.ID, res); err != nil {
			return err
		}
		d.Resolved = true
		d.Resolution = &res
		resolved = d
		return nil
	})
	if err != nil {
		return domain.ResolveResult{}, err
	}

	s.opts.metrics.Resolved(string(resolved.Kind))
	s.opts.logger.Info("dilemma_resolved",
		slog.String("dilemma_id", resolved.ID),
		slog.String("kind", string(resolved.Kind)),
		slog.String("answer", resolved.Resolution.Answer.Bucket()),
		slog.Int("base_points", resolved.Resolution.BasePoints),
	)
	return s.payout(ctx, resolved)
}

// Settle resumes the payout of a resolved dilemma. Already marked votes are
// skipped; a settled dilemma returns zero updates.
func (s *ResolutionService) Settle(ctx context.Context, dilemmaID string) (domain.ResolveResult, error) {
	d, err := s.dilemmas.GetDilemma(ctx, strings.TrimSpace(dilemmaID))
	if err != nil {
		return domain.ResolveResult{}, err
	}
	if !d.Resolved || d.Resolution == nil {
		return domain.ResolveResult{}, domain.ErrDilemmaNotResolved
	}
	if d.Settled {
		return domain.ResolveResult{}, nil
	}
	return s.payout(ctx, d)
}

func (s *ResolutionService) scoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	cfg := domain.DefaultScoringConfig()
	if s.config != nil {
		loaded, err := s.config.ScoringConfig(ctx)
		if err != nil {
			return cfg, fmt.Errorf("load scoring config: %w", err)
		}
		cfg.Binary = cfg.Binary.Merge(loaded.Binary)
		cfg.Multi = cfg.Multi.Merge(loaded.Multi)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// difficulty validates the answer and fixes the reward parameters from the
// counters read inside the resolving transaction.
func (s *ResolutionService) difficulty(d domain.Dilemma, req domain.ResolveRequest, base int, cfg domain.ScoringConfig) (domain.Resolution, error) {
	res := domain.Resolution{ResolvedAt: s.opts.now()}

	if d.IsMulti() {
		correct := strings.TrimSpace(req.CorrectOptionID)
		if correct == "" {
			return res, domain.ErrAnswerRequired
		}
		if correct == domain.OtherOptionID || !d.HasOption(correct) {
			return res, fmt.Errorf("%w: %q", domain.ErrUnknownOption, correct)
		}
		ids := make([]string, 0, len(d.Options))
		for _, o := range d.Options {
			ids = append(ids, o.ID)
		}
		multi := scoring.Multi(ids, d.OptionCounts, correct, cfg.Multi)
		res.Answer = domain.OptionChoice(correct)
		res.BasePoints = cfg.Multi.Base0
		res.Multi = &multi
		return res, nil
	}

	if req.CorrectX == nil {
		return res, domain.ErrAnswerRequired
	}
	binary := scoring.Binary(d.XCount, d.YCount, *req.CorrectX, cfg.Binary)
	res.Answer = domain.BinaryChoice(*req.CorrectX)
	res.BasePoints = base
	res.Binary = &binary
	return res, nil
}

func (s *ResolutionService) outcome(d domain.Dilemma, v domain.Vote) domain.VoteOutcome {
	res := d.Resolution
	if res.Multi != nil {
		correct := v.Choice.OptionID != "" && v.Choice.OptionID == res.Answer.OptionID
		return scoring.MultiOutcome(*res.Multi, correct, v.VariantTag)
	}
	correct := v.Choice.OptionID == "" && v.Choice.X == res.Answer.X
	return scoring.BinaryOutcome(*res.Binary, res.BasePoints, v.VariantTag, correct)
}

func (s *ResolutionService) payout(ctx context.Context, d domain.Dilemma) (domain.ResolveResult, error) {
	pageSize := s.batchOps / 2
	report := newExperimentReport(d)
	var (
		updated int
		paid    int64
		after   string
	)

	for {
		votes, err := s.dilemmas.ScanVotes(ctx, d.ID, after, pageSize)
		if err != nil {
			return domain.ResolveResult{Updated: updated}, fmt.Errorf("scan votes of %s: %w", d.ID, err)
		}
		if len(votes) == 0 {
			break
		}

		batch := &Batch{}
		var pagePaid int64
		for _, v := range votes {
			after = v.UserID
			out := s.outcome(d, v)
			report.add(out)
			if v.Resolved {
				continue
			}
			batch.Marks = append(batch.Marks, VoteMark{
				DilemmaID: d.ID,
				UserID:    v.UserID,
				Correct:   out.Correct,
				Points:    out.Points,
			})
			s.acc.Stage(batch, v.UserID, out.Points)
			if out.Points > 0 {
				pagePaid += int64(out.Points)
			}
		}

		if len(batch.Marks) > 0 {
			if err := s.tx.Commit(ctx, batch); err != nil {
				s.opts.logger.Error("payout_page_failed",
					slog.String("dilemma_id", d.ID),
					slog.String("after_uid", after),
					slog.Any("err", err),
				)
				return domain.ResolveResult{Updated: updated}, fmt.Errorf("commit payout page of %s: %w", d.ID, err)
			}
			updated += len(batch.Marks)
			paid += pagePaid
		}
		if len(votes) < pageSize {
			break
		}
	}

	if err := s.dilemmas.MarkSettled(ctx, d.ID); err != nil {
		return domain.ResolveResult{Updated: updated}, fmt.Errorf("mark %s settled: %w", d.ID, err)
	}
	s.opts.metrics.PointsPaid(paid)

	if err := s.dilemmas.PutExperiment(ctx, report.finish()); err != nil {
		s.opts.logger.Warn("experiment_report_failed", slog.String("dilemma_id", d.ID), slog.Any("err", err))
	}
	if s.notifier != nil {
		ev := domain.ResolutionEvent{
			DilemmaID:  d.ID,
			Kind:       d.Kind,
			Answer:     d.Resolution.Answer,
			Updated:    updated,
			ResolvedAt: d.Resolution.ResolvedAt,
		}
		if err := s.notifier.PublishResolution(ctx, ev); err != nil {
			s.opts.logger.Warn("resolution_publish_failed", slog.String("dilemma_id", d.ID), slog.Any("err", err))
		}
	}

	s.opts.logger.Info("dilemma_settled",
		slog.String("dilemma_id", d.ID),
		slog.Int("updated", updated),
		slog.Int64("points", paid),
	)
	return domain.ResolveResult{Updated: updated}, nil
}

type experimentReport struct {
	domain.ExperimentReport
}

func newExperimentReport(d domain.Dilemma) *experimentReport {
	return &experimentReport{domain.ExperimentReport{
		DilemmaID:  d.ID,
		Kind:       d.Kind,
		ResolvedAt: d.Resolution.ResolvedAt,
		Answer:     d.Resolution.Answer,
		BasePoints: d.Resolution.BasePoints,
		Results:    map[string]domain.VariantOutcome{},
	}}
}

func (r *experimentReport) add(out domain.VoteOutcome) {
	key := out.VariantTag
	if key == "" {
		key = "none"
	}
	agg := r.Results[key]
	agg.N++
	if out.Correct {
		agg.Correct++
	}
	agg.Points += out.Points
	r.Results[key] = agg
}

func (r *experimentReport) finish() domain.ExperimentReport {
	for k, agg := range r.Results {
		if agg.N > 0 {
			agg.Accuracy = float64(agg.Correct) / float64(agg.N)
		}
		r.Results[k] = agg
	}
	return r.ExperimentReport
}
