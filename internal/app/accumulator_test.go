package app_test

import (
	"testing"

	"dilemma-cloud/internal/app"
)

func TestStageMergesPerUserAndSkipsZero(t *testing.T) {
	acc := app.NewScoreAccumulator()
	b := &app.Batch{}

	acc.Stage(b, "u1", 14)
	acc.Stage(b, "u2", 0)
	acc.Stage(b, "", 9)
	acc.Stage(b, "u1", 6)
	acc.Stage(b, "u3", -5)

	if len(b.Points) != 2 {
		t.Fatalf("expected two staged users, got %+v", b.Points)
	}
	if b.Points[0] != (app.PointsDelta{UserID: "u1", Delta: 20}) {
		t.Fatalf("expected merged increment for u1, got %+v", b.Points[0])
	}
	if b.Points[1] != (app.PointsDelta{UserID: "u3", Delta: -5}) {
		t.Fatalf("expected penalty staged for u3, got %+v", b.Points[1])
	}
}
