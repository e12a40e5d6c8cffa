package domain

import "math"

// BinaryWeights are the entropy and underdog weights of one A/B variant.
type BinaryWeights struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// BinaryScoring is the persisted "scoring" config.
type BinaryScoring struct {
	Default  string                   `json:"default"`
	Variants map[string]BinaryWeights `json:"variants"`
}

// DefaultBinaryScoring returns variant A with alpha 0.5 and beta 1.0.
func DefaultBinaryScoring() BinaryScoring {
	return BinaryScoring{
		Default:  "A",
		Variants: map[string]BinaryWeights{"A": {Alpha: 0.5, Beta: 1.0}},
	}
}

// Merge overlays configured variants on the defaults. Missing default names
// fall back to "A".
func (b BinaryScoring) Merge(override BinaryScoring) BinaryScoring {
	out := BinaryScoring{Default: b.Default, Variants: make(map[string]BinaryWeights, len(b.Variants)+len(override.Variants))}
	for name, w := range b.Variants {
		out.Variants[name] = w
	}
	for name, w := range override.Variants {
		out.Variants[name] = w
	}
	if override.Default != "" {
		out.Default = override.Default
	}
	if out.Default == "" {
		out.Default = "A"
	}
	if _, ok := out.Variants[out.Default]; !ok {
		out.Variants[out.Default] = DefaultBinaryScoring().Variants["A"]
	}
	return out
}

// Validate rejects tables whose default variant is missing or whose weights
// are negative or not finite.
func (b BinaryScoring) Validate() error {
	if _, ok := b.Variants[b.Default]; !ok {
		return Invalidf("scoring: default variant %q not configured", b.Default)
	}
	for name, w := range b.Variants {
		if !nonNegative(w.Alpha) || !nonNegative(w.Beta) {
			return Invalidf("scoring: variant %q weights must be finite and >= 0", name)
		}
	}
	return nil
}

// MultiScoring is the persisted "scoring_multi" config.
type MultiScoring struct {
	Alpha0       float64 `json:"alpha0"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	Gamma        float64 `json:"gamma"`
	SMax         float64 `json:"Smax"`
	Base0        int     `json:"base0"`
	PenaltyWrong int     `json:"penaltyWrong"`
	Scale        string  `json:"scale"`
}

// DefaultMultiScoring returns the documented multi-option defaults.
func DefaultMultiScoring() MultiScoring {
	return MultiScoring{
		Alpha0:       0.5,
		Alpha:        0.4,
		Beta:         0.9,
		Gamma:        0.3,
		SMax:         1.5,
		Base0:        10,
		PenaltyWrong: 0,
		Scale:        "logK",
	}
}

// Merge overlays the non-zero fields of override on m.
func (m MultiScoring) Merge(override MultiScoring) MultiScoring {
	out := m
	setFloat(&out.Alpha0, override.Alpha0)
	setFloat(&out.Alpha, override.Alpha)
	setFloat(&out.Beta, override.Beta)
	setFloat(&out.Gamma, override.Gamma)
	setFloat(&out.SMax, override.SMax)
	if override.Base0 != 0 {
		out.Base0 = override.Base0
	}
	if override.PenaltyWrong != 0 {
		out.PenaltyWrong = override.PenaltyWrong
	}
	if override.Scale != "" {
		out.Scale = override.Scale
	}
	return out
}

// Validate requires a positive smoothing prior and surprisal cap, finite
// non-negative weights and a non-negative base.
func (m MultiScoring) Validate() error {
	switch {
	case !(m.Alpha0 > 0) || math.IsInf(m.Alpha0, 0):
		return Invalidf("scoring_multi: alpha0 must be finite and > 0")
	case !(m.SMax > 0) || math.IsInf(m.SMax, 0):
		return Invalidf("scoring_multi: Smax must be finite and > 0")
	case !nonNegative(m.Alpha) || !nonNegative(m.Beta) || !nonNegative(m.Gamma):
		return Invalidf("scoring_multi: alpha, beta and gamma must be finite and >= 0")
	case m.Base0 < 0:
		return Invalidf("scoring_multi: base0 must be >= 0")
	}
	return nil
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// ScoringConfig bundles both scoring tables.
type ScoringConfig struct {
	Binary BinaryScoring `json:"scoring"`
	Multi  MultiScoring  `json:"scoring_multi"`
}

// DefaultScoringConfig is used when no config has been persisted.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{Binary: DefaultBinaryScoring(), Multi: DefaultMultiScoring()}
}

// Validate checks both tables.
func (c ScoringConfig) Validate() error {
	if err := c.Binary.Validate(); err != nil {
		return err
	}
	return c.Multi.Validate()
}
