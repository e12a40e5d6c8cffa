package app

// ScoreAccumulator turns per-vote rewards into atomic increments of the four
// user totals. It never reads user totals; all arithmetic happens in the store.
type ScoreAccumulator struct{}

func NewScoreAccumulator() *ScoreAccumulator {
	return &ScoreAccumulator{}
}

// Stage adds earned points for userID to b, merging with an increment already
// staged for the same user. Zero rewards are skipped.
func (a *ScoreAccumulator) Stage(b *Batch, userID string, earned int) {
	if earned == 0 || userID == "" {
		return
	}
	for i := range b.Points {
		if b.Points[i].UserID == userID {
			b.Points[i].Delta += int64(earned)
			return
		}
	}
	b.Points = append(b.Points, PointsDelta{UserID: userID, Delta: int64(earned)})
}
