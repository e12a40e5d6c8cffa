package scoring

import (
	"math"
	"sort"

	"dilemma-cloud/internal/domain"
)

// Multi computes the difficulty record of a multi-option dilemma from the
// per-option counts of the declared options. Counts for undeclared ids,
// including the reserved "other" bucket, are ignored.
func Multi(optionIDs []string, counts map[string]int64, correctID string, p domain.MultiScoring) domain.MultiDifficulty {
	scored := make(map[string]int64, len(optionIDs))
	for _, id := range optionIDs {
		if id == domain.OtherOptionID {
			continue
		}
		scored[id] = counts[id]
	}

	k := len(scored)
	if k < domain.MinMultiOptions {
		k = domain.MinMultiOptions
	}
	kf := float64(k)

	var n int64
	for _, c := range scored {
		n += c
	}
	denom := float64(n) + kf*p.Alpha0

	q := make(map[string]float64, len(scored))
	values := make([]float64, 0, len(scored))
	for id, c := range scored {
		v := (float64(c) + p.Alpha0) / denom
		q[id] = v
		values = append(values, v)
	}
	if len(values) == 0 {
		values = append(values, 1/kf)
	}

	var hBits float64
	for _, v := range values {
		if v > 0 {
			hBits -= v * math.Log2(v)
		}
	}
	hn := hBits / math.Log2(kf)

	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	gap := values[0]
	if len(values) >= 2 {
		gap = values[0] - values[1]
	}
	mn := 1 - gap/(1-1/kf)

	qCorrect, ok := q[correctID]
	if !ok || qCorrect <= 0 {
		qCorrect = 1 / kf
	}
	sn := math.Min(-math.Log(qCorrect)/math.Log(kf), p.SMax)

	bk := baseScale(p, kf)
	factor := 1 + p.Alpha*hn + p.Beta*sn + p.Gamma*mn

	return domain.MultiDifficulty{
		K:               k,
		Counts:          scored,
		Q:               q,
		EntropyBits:     hBits,
		EntropyNorm:     hn,
		MarginNorm:      mn,
		SurprisalNorm:   sn,
		BK:              bk,
		Factor:          factor,
		EarnedIfCorrect: Earned(bk, factor),
		PenaltyWrong:    p.PenaltyWrong,
		Params:          p,
	}
}

// baseScale is the reward scale for K options. "logK" is the only scale in
// use and unknown names fall back to it.
func baseScale(p domain.MultiScoring, k float64) float64 {
	return float64(p.Base0) * math.Log2(k)
}

// MultiOutcome scores one multi vote.
func MultiOutcome(d domain.MultiDifficulty, correct bool, tag string) domain.VoteOutcome {
	if correct {
		return domain.VoteOutcome{Correct: true, Points: d.EarnedIfCorrect, VariantTag: tag}
	}
	return domain.VoteOutcome{Correct: false, Points: d.PenaltyWrong, VariantTag: tag}
}
