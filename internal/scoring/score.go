// Package scoring derives strategic priority scores for planned tasks and
// retries failed estimations with bounded backoff.
package scoring

import (
	"math"
)

// StrategicScore is the persisted per-task score record.
type StrategicScore struct {
	TaskID            string  `json:"task_id"`
	Impact            float64 `json:"impact"`
	EffortHours       float64 `json:"effort_hours"`
	Confidence        float64 `json:"confidence"`
	Priority          float64 `json:"priority"`
	Reasoning         string  `json:"reasoning,omitempty"`
	Quadrant          string  `json:"quadrant"`
	HasManualOverride bool    `json:"has_manual_override"`
}

// Priority applies the scoring formula. Effort below half an hour is floored
// so the ratio stays bounded; the result clamps to [0,100].
func Priority(impact, effortHours, confidence float64) float64 {
	effort := math.Max(effortHours, 0.5)
	p := (impact * 10) / (effort / 8) * confidence
	return math.Min(math.Max(p, 0), 100)
}

// Quadrant names for the impact/effort split.
const (
	QuadrantQuickWin     = "quick_win"
	QuadrantStrategicBet = "strategic_bet"
	QuadrantNeutral      = "neutral"
	QuadrantOverhead     = "overhead"
)

// Quadrant buckets a score by impact against effort. Impact 7+ with at most
// 16h of effort is a quick win; the same impact above 16h a strategic bet;
// low impact with high effort overhead.
func Quadrant(impact, effortHours float64) string {
	highImpact := impact >= 7
	highEffort := effortHours > 16
	switch {
	case highImpact && !highEffort:
		return QuadrantQuickWin
	case highImpact && highEffort:
		return QuadrantStrategicBet
	case !highImpact && highEffort:
		return QuadrantOverhead
	default:
		return QuadrantNeutral
	}
}

// FocusMode filters a score set down to the tasks worth showing in a
// distraction-free view: quick wins and strategic bets, highest priority
// first, capped at limit.
func FocusMode(scores []StrategicScore, limit int) []StrategicScore {
	var picked []StrategicScore
	for _, s := range scores {
		if s.Quadrant == QuadrantQuickWin || s.Quadrant == QuadrantStrategicBet {
			picked = append(picked, s)
		}
	}
	// Insertion sort keeps the original order stable on ties.
	for i := 1; i < len(picked); i++ {
		for j := i; j > 0 && picked[j].Priority > picked[j-1].Priority; j-- {
			picked[j], picked[j-1] = picked[j-1], picked[j]
		}
	}
	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	return picked
}
