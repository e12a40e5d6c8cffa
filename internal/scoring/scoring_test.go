package scoring

import (
	"math"
	"testing"

	"dilemma-cloud/internal/domain"
)

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s: expected %.6f, got %.6f", name, want, got)
	}
}

func TestEntropyBounds(t *testing.T) {
	if h := EntropyBits(0); h != 0 {
		t.Fatalf("expected H(0)=0, got %v", h)
	}
	if h := EntropyBits(1); h != 0 {
		t.Fatalf("expected H(1)=0, got %v", h)
	}
	approx(t, "H(0.5)", EntropyBits(0.5), 1.0, 1e-9)
}

func TestBinaryMajorityCorrect(t *testing.T) {
	d := Binary(80, 20, true, domain.DefaultBinaryScoring())

	approx(t, "pX", d.PX, 0.8, 1e-9)
	approx(t, "H", d.Entropy, 0.7219, 1e-3)
	if d.Underdog != 0 {
		t.Fatalf("expected no underdog bonus, got %v", d.Underdog)
	}
	approx(t, "factor", d.BonusFactors["A"], 1.36095, 1e-3)

	right := BinaryOutcome(d, 10, "A", true)
	if !right.Correct || right.Points != 14 {
		t.Fatalf("expected 14 points for a correct vote, got %+v", right)
	}
	wrong := BinaryOutcome(d, 10, "A", false)
	if wrong.Correct || wrong.Points != 0 {
		t.Fatalf("expected 0 points for a wrong vote, got %+v", wrong)
	}
}

func TestBinaryUnderdogBonus(t *testing.T) {
	d := Binary(80, 20, false, domain.DefaultBinaryScoring())
	approx(t, "underdog", d.Underdog, 0.6, 1e-9)

	out := BinaryOutcome(d, 10, "", true)
	if out.Points != 20 {
		t.Fatalf("expected 20 points for minority-correct vote, got %d", out.Points)
	}
}

func TestBinaryEmptyDilemmaIsEvenSplit(t *testing.T) {
	d := Binary(0, 0, true, domain.DefaultBinaryScoring())
	approx(t, "pX", d.PX, 0.5, 1e-12)
	approx(t, "H", d.Entropy, 1, 1e-9)
}

func TestBinaryUnknownVariantUsesDefault(t *testing.T) {
	cfg := domain.DefaultBinaryScoring().Merge(domain.BinaryScoring{
		Variants: map[string]domain.BinaryWeights{"B": {Alpha: 1, Beta: 1}},
	})
	d := Binary(50, 50, true, cfg)

	b := BinaryOutcome(d, 10, "B", true)
	if b.VariantTag != "B" || b.Points != 20 {
		t.Fatalf("expected variant B with 20 points, got %+v", b)
	}
	unknown := BinaryOutcome(d, 10, "Z", true)
	if unknown.VariantTag != "A" || unknown.Points != 15 {
		t.Fatalf("expected default variant A with 15 points, got %+v", unknown)
	}
}

func TestBinaryZeroWeightsPayBase(t *testing.T) {
	cfg := domain.DefaultBinaryScoring().Merge(domain.BinaryScoring{
		Default:  "flat",
		Variants: map[string]domain.BinaryWeights{"flat": {}},
	})
	d := Binary(80, 20, false, cfg)
	approx(t, "flat factor", d.BonusFactors["flat"], 1, 1e-12)

	out := BinaryOutcome(d, 10, "", true)
	if out.VariantTag != "flat" || out.Points != 10 {
		t.Fatalf("expected base points from the flat default, got %+v", out)
	}
}

func TestEarnedRoundsHalfToEven(t *testing.T) {
	if got := Earned(10, 1.25); got != 12 {
		t.Fatalf("expected 12.5 to round to 12, got %d", got)
	}
	if got := Earned(10, 1.35); got != 14 {
		t.Fatalf("expected 13.5 to round to 14, got %d", got)
	}
	if got := Earned(10, -1); got != 0 {
		t.Fatalf("expected negative reward floored at 0, got %d", got)
	}
}

func TestMultiScenario(t *testing.T) {
	counts := map[string]int64{"a": 50, "b": 30, "c": 20}
	d := Multi([]string{"a", "b", "c"}, counts, "a", domain.DefaultMultiScoring())

	if d.K != 3 {
		t.Fatalf("expected K=3, got %d", d.K)
	}
	approx(t, "q[a]", d.Q["a"], 0.4975, 1e-3)
	approx(t, "q[b]", d.Q["b"], 0.3005, 1e-3)
	approx(t, "q[c]", d.Q["c"], 0.2020, 1e-3)
	approx(t, "Hn", d.EntropyNorm, 0.9391, 2e-3)
	approx(t, "Mn", d.MarginNorm, 0.7044, 1e-3)
	approx(t, "Sn", d.SurprisalNorm, 0.6354, 1e-3)
	approx(t, "BK", d.BK, 15.8496, 1e-3)
	if d.EarnedIfCorrect != 34 {
		t.Fatalf("expected earnedIfCorrect=34, got %d", d.EarnedIfCorrect)
	}
}

func TestMultiIgnoresOtherBucket(t *testing.T) {
	counts := map[string]int64{"a": 50, "b": 30, "c": 20, domain.OtherOptionID: 400}
	withOther := Multi([]string{"a", "b", "c", domain.OtherOptionID}, counts, "a", domain.DefaultMultiScoring())
	without := Multi([]string{"a", "b", "c"}, counts, "a", domain.DefaultMultiScoring())

	if withOther.K != 3 || withOther.EarnedIfCorrect != without.EarnedIfCorrect {
		t.Fatalf("expected other bucket to be ignored, got K=%d earned=%d", withOther.K, withOther.EarnedIfCorrect)
	}
	if _, ok := withOther.Counts[domain.OtherOptionID]; ok {
		t.Fatalf("expected other bucket absent from counts")
	}
}

func TestMultiSurprisalCapped(t *testing.T) {
	p := domain.DefaultMultiScoring()
	p.Alpha0 = 0.01
	counts := map[string]int64{"a": 1000, "b": 1000, "c": 0}
	d := Multi([]string{"a", "b", "c"}, counts, "c", p)
	if d.SurprisalNorm != p.SMax {
		t.Fatalf("expected surprisal capped at %v, got %v", p.SMax, d.SurprisalNorm)
	}
}

func TestMultiPenaltyForWrongVoters(t *testing.T) {
	p := domain.DefaultMultiScoring()
	p.PenaltyWrong = -3
	d := Multi([]string{"a", "b", "c"}, map[string]int64{"a": 1, "b": 1, "c": 1}, "a", p)

	out := MultiOutcome(d, false, "")
	if out.Correct || out.Points != -3 {
		t.Fatalf("expected penalty of -3, got %+v", out)
	}
}
