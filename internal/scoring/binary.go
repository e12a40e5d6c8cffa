// Package scoring computes difficulty-adjusted rewards from the crowd split
// observed at resolution time.
package scoring

import (
	"math"

	"dilemma-cloud/internal/domain"
)

// EntropyBits is the Shannon entropy of a two-sided split in bits.
func EntropyBits(pX float64) float64 {
	if pX <= 0 || pX >= 1 {
		return 0
	}
	pY := 1 - pX
	return -(pX*math.Log(pX) + pY*math.Log(pY)) / math.Ln2
}

// Underdog rewards a correct side that the crowd favoured less. It is 0 when
// the correct side had at least half of the votes and 1 when it had none.
func Underdog(correctShare float64) float64 {
	return math.Max(0, 0.5-correctShare) / 0.5
}

// Binary computes the difficulty record of a binary dilemma. An empty dilemma
// is treated as an even split.
func Binary(xCount, yCount int64, correctX bool, cfg domain.BinaryScoring) domain.BinaryDifficulty {
	pX := 0.5
	if total := xCount + yCount; total > 0 {
		pX = float64(xCount) / float64(total)
	}
	pY := 1 - pX
	h := EntropyBits(pX)

	share := pY
	if correctX {
		share = pX
	}
	under := Underdog(share)

	factors := make(map[string]float64, len(cfg.Variants))
	for name, w := range cfg.Variants {
		factors[name] = 1 + w.Alpha*h + w.Beta*under
	}
	return domain.BinaryDifficulty{
		PX:             pX,
		PY:             pY,
		Entropy:        h,
		Underdog:       under,
		BonusFactors:   factors,
		DefaultVariant: cfg.Default,
	}
}

// Earned rounds base·factor half-to-even and never goes below zero.
func Earned(base float64, factor float64) int {
	return int(math.Max(0, math.RoundToEven(base*factor)))
}

// BinaryOutcome scores one binary vote. The vote's variant tag selects the
// bonus factor; unknown tags use the default variant.
func BinaryOutcome(d domain.BinaryDifficulty, basePoints int, tag string, correct bool) domain.VoteOutcome {
	variant := d.DefaultVariant
	factor, ok := d.BonusFactors[tag]
	if ok {
		variant = tag
	} else {
		factor = d.BonusFactors[d.DefaultVariant]
	}
	out := domain.VoteOutcome{Correct: correct, VariantTag: variant}
	if correct {
		out.Points = Earned(float64(basePoints), factor)
	}
	return out
}
