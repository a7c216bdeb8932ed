package reflection

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"planwise/internal/plan"
)

const (
	recencyHalfLifeDays = 14.0
	filterStrength      = 0.5 // weighted avoid/constraint above this removes the task
)

// ActiveReflection pairs a reflection with its interpreted intent for the
// adjuster.
type ActiveReflection struct {
	Reflection Reflection
	Intent     ReflectionIntent
}

// RecencyWeight decays with reflection age: exp(-age_days / 14), clamped.
func RecencyWeight(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	w := math.Exp(-ageDays / recencyHalfLifeDays)
	return clamp01(w)
}

// Adjust re-ranks a baseline plan under the given reflections. Tasks are
// stable-sorted by original rank plus an additive delta; avoid and constraint
// intents can filter a task out entirely. An empty reflection set returns the
// baseline ordering unchanged, so toggling a reflection off and back on
// round-trips bit for bit.
func Adjust(baseline *plan.Plan, taskTexts map[string]string, reflections []ActiveReflection, now time.Time) (*plan.Plan, plan.AdjustmentDiff, plan.AdjustmentMetadata) {
	started := time.Now()
	adjusted := baseline.Clone()
	diff := plan.AdjustmentDiff{}

	type ranked struct {
		taskID       string
		originalRank int
		delta        float64
		filterReason string
	}
	rows := make([]ranked, 0, len(baseline.OrderedTaskIDs))
	for i, id := range baseline.OrderedTaskIDs {
		rows = append(rows, ranked{taskID: id, originalRank: i})
	}

	for ri := range rows {
		text := strings.ToLower(taskTexts[rows[ri].taskID])
		for _, ar := range reflections {
			w := RecencyWeight(ar.Reflection.CreatedAt, now)
			effect := w * ar.Intent.Strength
			matched := keywordMatch(text, ar.Intent.KeywordList())

			switch ar.Intent.Type {
			case IntentFocus:
				if matched {
					rows[ri].delta -= 3 * effect
				}
			case IntentAvoid:
				if matched {
					if effect >= filterStrength {
						rows[ri].filterReason = fmt.Sprintf("matches avoid reflection %q", ar.Reflection.Text)
					} else {
						rows[ri].delta += 4 * effect
					}
				}
			case IntentUrgency:
				if matched {
					rows[ri].delta -= 4 * effect
				}
			case IntentConstraint:
				if matched {
					rows[ri].filterReason = fmt.Sprintf("blocked per reflection %q", ar.Reflection.Text)
				}
			case IntentContext:
				if matched {
					rows[ri].delta -= 1 * effect
				}
			}
		}
	}

	kept := rows[:0]
	for _, r := range rows {
		if r.filterReason != "" {
			diff.Filtered = append(diff.Filtered, plan.FilteredEntry{TaskID: r.taskID, Reason: r.filterReason})
			continue
		}
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(a, b int) bool {
		sa := float64(kept[a].originalRank) + kept[a].delta
		sb := float64(kept[b].originalRank) + kept[b].delta
		if sa != sb {
			return sa < sb
		}
		return kept[a].originalRank < kept[b].originalRank
	})

	newOrder := make([]string, 0, len(kept))
	for newRank, r := range kept {
		newOrder = append(newOrder, r.taskID)
		if newRank != r.originalRank && r.delta != 0 {
			diff.Moved = append(diff.Moved, plan.MovedEntry{
				TaskID: r.taskID,
				From:   r.originalRank,
				To:     newRank,
				Reason: "reflection adjustment",
			})
		}
	}
	adjusted.OrderedTaskIDs = newOrder
	pruneFiltered(adjusted, diff.Filtered)

	meta := plan.AdjustmentMetadata{
		Reflections:   len(reflections),
		TasksMoved:    len(diff.Moved),
		TasksFiltered: len(diff.Filtered),
		DurationMS:    time.Since(started).Milliseconds(),
	}
	adjusted.Diff = &diff
	adjusted.AdjustmentMetadata = &meta
	return adjusted, diff, meta
}

func keywordMatch(taskText string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(taskText, kw) {
			return true
		}
	}
	return false
}

// pruneFiltered drops filtered ids from waves and confidence scores so the
// adjusted document still validates.
func pruneFiltered(p *plan.Plan, filtered []plan.FilteredEntry) {
	if len(filtered) == 0 {
		return
	}
	gone := map[string]bool{}
	for _, f := range filtered {
		gone[f.TaskID] = true
	}
	for wi, w := range p.ExecutionWaves {
		keep := w.TaskIDs[:0]
		for _, id := range w.TaskIDs {
			if !gone[id] {
				keep = append(keep, id)
			}
		}
		p.ExecutionWaves[wi].TaskIDs = keep
	}
	for id := range gone {
		delete(p.ConfidenceScores, id)
	}
	deps := p.Dependencies[:0]
	for _, d := range p.Dependencies {
		if !gone[d.Source] && !gone[d.Target] {
			deps = append(deps, d)
		}
	}
	p.Dependencies = deps
}
