package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/infra/memory"
	"dilemma-cloud/internal/logging"
)

// seedBinary casts x votes for X and y votes for Y from users x00.. and y00..
func seedBinary(t *testing.T, h *harness, d domain.Dilemma, x, y int) {
	t.Helper()
	for i := 0; i < x; i++ {
		h.voteX(t, d.ID, fmt.Sprintf("x%02d", i), true)
	}
	for i := 0; i < y; i++ {
		h.voteX(t, d.ID, fmt.Sprintf("y%02d", i), false)
	}
}

func TestResolveBinaryPaysDifficultyAdjustedPoints(t *testing.T) {
	h := newHarness(t)
	d := h.binary(t)
	seedBinary(t, h, d, 4, 1)
	ctx := context.Background()

	res, err := h.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: d.ID, CorrectX: boolPtr(true)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Updated != 5 {
		t.Fatalf("expected 5 updated votes, got %d", res.Updated)
	}

	winner, _ := h.store.User("x00")
	if winner.Score != 14 || winner.WeeklyPoints != 14 || winner.SeasonPoints != 14 || winner.AllTimePoints != 14 {
		t.Fatalf("expected 14 points on every total, got %+v", winner)
	}
	loser, _ := h.store.User("y00")
	if loser.Score != 0 {
		t.Fatalf("expected wrong voter to earn nothing, got %d", loser.Score)
	}
	v, _ := h.store.Vote(d.ID, "y00")
	if !v.Resolved || v.Correct == nil || *v.Correct || v.Points == nil || *v.Points != 0 {
		t.Fatalf("expected wrong vote marked with 0 points, got %+v", v)
	}

	got, _ := h.store.GetDilemma(ctx, d.ID)
	if !got.Resolved || !got.Settled || got.Resolution == nil || got.Resolution.Binary == nil {
		t.Fatalf("expected resolved and settled dilemma with difficulty, got %+v", got)
	}
	if got.Resolution.BasePoints != 10 {
		t.Fatalf("expected default base points 10, got %d", got.Resolution.BasePoints)
	}
}

func TestResolveTwiceIsConflictWithoutExtraPoints(t *testing.T) {
	h := newHarness(t)
	d := h.binary(t)
	seedBinary(t, h, d, 4, 1)
	ctx := context.Background()
	req := domain.ResolveRequest{DilemmaID: d.ID, CorrectX: boolPtr(true)}

	if _, err := h.resolution.Resolve(ctx, req); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, err := h.resolution.Resolve(ctx, req)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	u, _ := h.store.User("x00")
	if u.Score != 14 {
		t.Fatalf("expected points paid once, got %d", u.Score)
	}
	if len(h.notifier.events) != 1 {
		t.Fatalf("expected one resolution event, got %d", len(h.notifier.events))
	}
}

func TestResolveValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: "nope", CorrectX: boolPtr(true)}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	bin := h.binary(t)
	if _, err := h.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: bin.ID}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error without answer, got %v", err)
	}

	multi := h.multi(t, "a", "b", "c")
	for _, answer := range []string{"", "zzz", domain.OtherOptionID} {
		_, err := h.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: multi.ID, CorrectOptionID: answer})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("answer %q: expected validation error, got %v", answer, err)
		}
	}

	got, _ := h.store.GetDilemma(ctx, multi.ID)
	if got.Resolved {
		t.Fatalf("expected failed resolves to leave the dilemma open")
	}
}

func TestResolveBasePointsOverride(t *testing.T) {
	h := newHarness(t)
	d := h.binary(t)
	seedBinary(t, h, d, 4, 1)

	if _, err := h.resolution.Resolve(context.Background(), domain.ResolveRequest{DilemmaID: d.ID, CorrectX: boolPtr(true), BasePoints: intPtr(-5)}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	u, _ := h.store.User("x00")
	if u.Score != 0 {
		t.Fatalf("expected negative base clamped to 0, got %d", u.Score)
	}
}

func TestResolveMultiScenario(t *testing.T) {
	h := newHarness(t)
	d := h.multi(t, "a", "b", "c")
	for opt, n := range map[string]int{"a": 50, "b": 30, "c": 20} {
		for i := 0; i < n; i++ {
			h.voteOption(t, d.ID, fmt.Sprintf("%s%02d", opt, i), opt)
		}
	}
	h.voteOption(t, d.ID, "other00", domain.OtherOptionID)

	res, err := h.resolution.Resolve(context.Background(), domain.ResolveRequest{DilemmaID: d.ID, CorrectOptionID: "a"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Updated != 101 {
		t.Fatalf("expected 101 updated votes, got %d", res.Updated)
	}
	if u, _ := h.store.User("a00"); u.Score != 34 {
		t.Fatalf("expected 34 points for a correct vote, got %d", u.Score)
	}
	if u, _ := h.store.User("b00"); u.Score != 0 {
		t.Fatalf("expected 0 points for a wrong vote, got %d", u.Score)
	}
	if u, _ := h.store.User("other00"); u.Score != 0 {
		t.Fatalf("expected 0 points for the other bucket, got %d", u.Score)
	}
}

func TestResolveWritesExperimentReportAndEvent(t *testing.T) {
	h := newHarness(t)
	d := h.binary(t)
	ctx := context.Background()
	for i, tag := range []string{"A", "A", "B", ""} {
		_ = h.votes.CastVote(ctx, domain.VoteRequest{DilemmaID: d.ID, UserID: fmt.Sprintf("u%d", i), ChoiceX: boolPtr(i != 1), VariantTag: tag})
	}

	if _, err := h.resolution.Resolve(ctx, domain.ResolveRequest{DilemmaID: d.ID, CorrectX: boolPtr(true)}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	report, ok := h.store.Experiment(d.ID)
	if !ok {
		t.Fatalf("expected experiment report")
	}
	// B is not a configured variant and untagged votes use the default, so
	// every vote is scored and reported as A.
	a := report.Results["A"]
	if len(report.Results) != 1 || a.N != 4 || a.Correct != 3 || a.Accuracy != 0.75 {
		t.Fatalf("unexpected experiment results %+v", report.Results)
	}
	if a.Points != 3*14 {
		t.Fatalf("expected 42 points for variant A, got %d", a.Points)
	}

	if len(h.notifier.events) != 1 {
		t.Fatalf("expected one event, got %d", len(h.notifier.events))
	}
	ev := h.notifier.events[0]
	if ev.DilemmaID != d.ID || ev.Updated != 4 || !ev.Answer.X {
		t.Fatalf("unexpected event %+v", ev)
	}
}

type flakyCommitter struct {
	*memory.Store
	failOn int
	calls  int
}

func (f *flakyCommitter) Commit(ctx context.Context, b *app.Batch) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("store unavailable")
	}
	return f.Store.Commit(ctx, b)
}

func resolverWith(h *harness, cfg domain.ScoringConfig) *app.ResolutionService {
	loader := memory.NewStaticConfigLoader(cfg)
	return app.NewResolutionService(h.store, h.store, loader, nil, 450,
		app.WithClock(h.clock), app.WithLogger(logging.Discard()))
}

func TestResolvePartialMultiConfigKeepsDefaults(t *testing.T) {
	h := newHarness(t)
	d := h.multi(t, "a", "b", "c")
	for opt, n := range map[string]int{"a": 50, "b": 30, "c": 20} {
		for i := 0; i < n; i++ {
			h.voteOption(t, d.ID, fmt.Sprintf("%s%02d", opt, i), opt)
		}
	}
	resolver := resolverWith(h, domain.ScoringConfig{Multi: domain.MultiScoring{PenaltyWrong: -5}})

	if _, err := resolver.Resolve(context.Background(), domain.ResolveRequest{DilemmaID: d.ID, CorrectOptionID: "a"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u, _ := h.store.User("a00"); u.Score != 34 {
		t.Fatalf("expected default multi parameters to pay 34, got %d", u.Score)
	}
	if u, _ := h.store.User("b00"); u.Score != -5 {
		t.Fatalf("expected configured penalty of -5, got %d", u.Score)
	}
}

func TestResolveRejectsInvalidScoringConfig(t *testing.T) {
	h := newHarness(t)
	d := h.binary(t)
	seedBinary(t, h, d, 2, 1)
	cfg := domain.DefaultScoringConfig()
	cfg.Binary.Variants["A"] = domain.BinaryWeights{Alpha: -3, Beta: 1}
	ctx := context.Background()

	_, err := resolverWith(h, cfg).Resolve(ctx, domain.ResolveRequest{DilemmaID: d.ID, CorrectX: boolPtr(true)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected invalid config to fail validation, got %v", err)
	}
	got, err := h.store.GetDilemma(ctx, d.ID)
	if err != nil || got.Resolved {
		t.Fatalf("expected dilemma left open, got %+v %v", got, err)
	}
}

func TestSettleResumesInterruptedPayout(t *testing.T) {
	h := newHarness(t)
	d := h.binary(t)
	seedBinary(t, h, d, 4, 2)
	ctx := context.Background()
	cfg := memory.NewStaticConfigLoader(domain.DefaultScoringConfig())
	opts := []app.Option{app.WithClock(h.clock), app.WithLogger(logging.Discard())}

	// Pages of two votes; the second page fails.
	flaky := &flakyCommitter{Store: h.store, failOn: 2}
	broken := app.NewResolutionService(flaky, h.store, cfg, nil, 4, opts...)
	res, err := broken.Resolve(ctx, domain.ResolveRequest{DilemmaID: d.ID, CorrectX: boolPtr(true)})
	if err == nil {
		t.Fatalf("expected payout failure")
	}
	if res.Updated != 2 {
		t.Fatalf("expected first page committed, got %d", res.Updated)
	}
	got, _ := h.store.GetDilemma(ctx, d.ID)
	if !got.Resolved || got.Settled {
		t.Fatalf("expected resolved but unsettled dilemma, got resolved=%v settled=%v", got.Resolved, got.Settled)
	}

	res, err = h.resolution.Settle(ctx, d.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Updated != 4 {
		t.Fatalf("expected remaining 4 votes settled, got %d", res.Updated)
	}
	for i := 0; i < 4; i++ {
		u, _ := h.store.User(fmt.Sprintf("x%02d", i))
		if u.Score <= 0 {
			t.Fatalf("expected x%02d paid, got %d", i, u.Score)
		}
	}
	first, _ := h.store.User("x00")
	if first.Score != 15 {
		t.Fatalf("expected x00 paid exactly once, got %d", first.Score)
	}

	res, err = h.resolution.Settle(ctx, d.ID)
	if err != nil || res.Updated != 0 {
		t.Fatalf("expected settled dilemma to be a no-op, got %+v %v", res, err)
	}
}

func TestSettleOpenDilemmaIsConflict(t *testing.T) {
	h := newHarness(t)
	d := h.binary(t)
	if _, err := h.resolution.Settle(context.Background(), d.ID); !errors.Is(err, domain.ErrDilemmaNotResolved) {
		t.Fatalf("expected not resolved, got %v", err)
	}
}
