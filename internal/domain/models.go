package domain

import "time"

// Kind distinguishes two-sided dilemmas from labelled multi-option ones.
type Kind string

const (
	KindBinary Kind = "binary"
	KindMulti  Kind = "multi"
)

// OtherOptionID is the reserved "other / none" option of multi dilemmas. It has
// its own counter but never takes part in scoring.
const OtherOptionID = "__other"

// Binary counter buckets.
const (
	BucketX = "x"
	BucketY = "y"
)

// MinMultiOptions is the smallest option list that makes a dilemma multi.
const MinMultiOptions = 3

// Option is one labelled answer of a multi dilemma.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Choice is a vote selection or a correct answer: a side for binary dilemmas,
// an option id for multi ones. Choice values are comparable with ==.
type Choice struct {
	X        bool   `json:"choiceX"`
	OptionID string `json:"optionId,omitempty"`
}

// BinaryChoice picks side X (true) or side Y (false).
func BinaryChoice(x bool) Choice {
	return Choice{X: x}
}

// OptionChoice picks a multi option.
func OptionChoice(id string) Choice {
	return Choice{OptionID: id}
}

// Bucket names the dilemma counter the choice increments.
func (c Choice) Bucket() string {
	if c.OptionID != "" {
		return c.OptionID
	}
	if c.X {
		return BucketX
	}
	return BucketY
}

// Dilemma is a single prediction question and its live counters.
type Dilemma struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Kind         Kind             `json:"type"`
	Options      []Option         `json:"options,omitempty"`
	Category     string           `json:"category"`
	XCount       int64            `json:"xCount"`
	YCount       int64            `json:"yCount"`
	OptionCounts map[string]int64 `json:"optionCounts,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	CreatedAt    time.Time        `json:"createdAt"`

	Resolved   bool        `json:"resolved"`
	Settled    bool        `json:"settled"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// IsMulti reports whether votes are cast on option ids.
func (d Dilemma) IsMulti() bool {
	return d.Kind == KindMulti || len(d.Options) >= MinMultiOptions
}

// HasOption reports whether id is one of the declared options.
func (d Dilemma) HasOption(id string) bool {
	for _, o := range d.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// VotingClosed reports whether votes are no longer accepted at now. A zero
// ExpiresAt means the dilemma has no deadline.
func (d Dilemma) VotingClosed(now time.Time) bool {
	if d.Resolved {
		return true
	}
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// Resolution is the audit record written when a dilemma is resolved. Exactly
// one of Binary or Multi is set.
type Resolution struct {
	Answer     Choice            `json:"answer"`
	BasePoints int               `json:"basePoints"`
	ResolvedAt time.Time         `json:"resolvedAt"`
	Binary     *BinaryDifficulty `json:"difficultyMeta,omitempty"`
	Multi      *MultiDifficulty  `json:"difficultyMulti,omitempty"`
}

// BinaryDifficulty captures the crowd split used for binary rewards.
type BinaryDifficulty struct {
	PX             float64            `json:"pX"`
	PY             float64            `json:"pY"`
	Entropy        float64            `json:"entropy"`
	Underdog       float64            `json:"underdog"`
	BonusFactors   map[string]float64 `json:"bonusFactors"`
	DefaultVariant string             `json:"default"`
}

// MultiDifficulty captures the smoothed distribution used for multi rewards.
type MultiDifficulty struct {
	K               int                `json:"K"`
	Counts          map[string]int64   `json:"counts"`
	Q               map[string]float64 `json:"q"`
	EntropyBits     float64            `json:"entropyBits"`
	EntropyNorm     float64            `json:"entropyNorm"`
	MarginNorm      float64            `json:"marginNorm"`
	SurprisalNorm   float64            `json:"surprisalNorm"`
	BK              float64            `json:"BK"`
	Factor          float64            `json:"factor"`
	EarnedIfCorrect int                `json:"earnedIfCorrect"`
	PenaltyWrong    int                `json:"penaltyWrong"`
	Params          MultiScoring       `json:"params"`
}

// Vote is one user's prediction on one dilemma.
type Vote struct {
	DilemmaID  string    `json:"dilemmaId"`
	UserID     string    `json:"uid"`
	Choice     Choice    `json:"choice"`
	Confidence *float64  `json:"confidence,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	VariantTag string    `json:"variant,omitempty"`
	CastAt     time.Time `json:"ts"`

	Resolved bool  `json:"resolved"`
	Correct  *bool `json:"correct,omitempty"`
	Points   *int  `json:"points,omitempty"`
}

// VoteRequest is the input of a vote cast.
type VoteRequest struct {
	DilemmaID  string
	UserID     string
	ChoiceX    *bool
	OptionID   string
	Confidence *float64
	Reason     string
	VariantTag string
	ClientIP   string
}

// VoteOutcome is the post-resolution marking of a single vote.
type VoteOutcome struct {
	Correct    bool
	Points     int
	VariantTag string
}

// ResolveRequest is the input of a resolution.
type ResolveRequest struct {
	DilemmaID       string
	CorrectX        *bool
	CorrectOptionID string
	BasePoints      *int
}

// ResolveResult reports how many votes were marked.
type ResolveResult struct {
	Updated int `json:"updated"`
}

// ExperimentReport aggregates payout outcomes per A/B variant.
type ExperimentReport struct {
	DilemmaID  string                    `json:"dilemmaId"`
	Kind       Kind                      `json:"type"`
	ResolvedAt time.Time                 `json:"resolvedAt"`
	Answer     Choice                    `json:"answer"`
	BasePoints int                       `json:"basePoints"`
	Results    map[string]VariantOutcome `json:"results"`
}

// VariantOutcome is the per-variant slice of an experiment report.
type VariantOutcome struct {
	N        int     `json:"n"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	Points   int     `json:"points"`
}

// ResolutionEvent is published after a dilemma's payout completes.
type ResolutionEvent struct {
	DilemmaID  string    `json:"dilemmaId"`
	Kind       Kind      `json:"type"`
	Answer     Choice    `json:"answer"`
	Updated    int       `json:"updated"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// NewDilemma is the input of dilemma creation.
type NewDilemma struct {
	Title     string
	Options   []Option
	Category  string
	ExpiresIn time.Duration
}

// OptionStat is one row of multi dilemma stats.
type OptionStat struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Count int64   `json:"count"`
	Pct   float64 `json:"pct"`
}

// Stats is the public vote split of a dilemma.
type Stats struct {
	X       int64        `json:"x"`
	Y       int64        `json:"y"`
	PctX    float64      `json:"pctX"`
	PctY    float64      `json:"pctY"`
	Options []OptionStat `json:"options,omitempty"`
}
