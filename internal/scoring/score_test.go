package scoring

import (
	"math"
	"testing"
)

func TestPriority_Formula(t *testing.T) {
	cases := []struct {
		impact, effort, confidence, want float64
	}{
		{5, 16, 0.8, 20},    // (50)/(2)*0.8
		{9, 4, 0.8, 100},    // 144 clamps to 100
		{0, 8, 1, 0},        // zero impact
		{10, 0.1, 1, 100},   // effort floors at 0.5, then clamps
		{2, 40, 0.5, 2},     // (20)/(5)*0.5
	}
	for _, c := range cases {
		got := Priority(c.impact, c.effort, c.confidence)
		if math.Abs(got-c.want) > 0.01 {
			t.Errorf("Priority(%v, %v, %v) = %v, want %v", c.impact, c.effort, c.confidence, got, c.want)
		}
	}
}

func TestQuadrant(t *testing.T) {
	cases := []struct {
		impact, effort float64
		want           string
	}{
		{8, 4, QuadrantQuickWin},
		{7, 16, QuadrantQuickWin},
		{8, 40, QuadrantStrategicBet},
		{7, 16.5, QuadrantStrategicBet},
		{6, 4, QuadrantNeutral},
		{2, 40, QuadrantOverhead},
		{3, 4, QuadrantNeutral},
	}
	for _, c := range cases {
		if got := Quadrant(c.impact, c.effort); got != c.want {
			t.Errorf("Quadrant(%v, %v) = %s, want %s", c.impact, c.effort, got, c.want)
		}
	}
}

func TestFocusMode(t *testing.T) {
	scores := []StrategicScore{
		{TaskID: "a", Priority: 30, Quadrant: QuadrantNeutral},
		{TaskID: "b", Priority: 80, Quadrant: QuadrantQuickWin},
		{TaskID: "c", Priority: 60, Quadrant: QuadrantStrategicBet},
		{TaskID: "d", Priority: 90, Quadrant: QuadrantOverhead},
		{TaskID: "e", Priority: 95, Quadrant: QuadrantQuickWin},
	}
	got := FocusMode(scores, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got))
	}
	if got[0].TaskID != "e" || got[1].TaskID != "b" {
		t.Errorf("expected [e b] by priority, got [%s %s]", got[0].TaskID, got[1].TaskID)
	}
}

func TestHeuristicEffort(t *testing.T) {
	if hours, ok := HeuristicEffort("Fix login redirect loop"); !ok || hours != 3 {
		t.Errorf("fix should match small bucket, got %v %v", hours, ok)
	}
	if hours, ok := HeuristicEffort("Launch paid plans"); !ok || hours != 40 {
		t.Errorf("launch should match large bucket, got %v %v", hours, ok)
	}
	if _, ok := HeuristicEffort("Something with no known verb family here"); ok {
		t.Error("unknown verb must fall through to the model")
	}
}
