// Package plan defines the prioritized plan document, its validation rules,
// and the normalization of raw LLM output into a typed payload.
package plan

import (
	"fmt"
	"time"

	"planwise/internal/apperr"
)

// RelationshipType labels one dependency edge.
type RelationshipType string

const (
	RelPrerequisite RelationshipType = "prerequisite"
	RelBlocks       RelationshipType = "blocks"
	RelRelated      RelationshipType = "related"
)

// ExecutionWave is one batch of tasks that can proceed together.
type ExecutionWave struct {
	WaveNumber int      `json:"wave_number"`
	TaskIDs    []string `json:"task_ids"`
	Parallel   bool     `json:"parallel"`
	EstHours   float64  `json:"est_hours"`
}

// Dependency is a directed edge between two tasks.
type Dependency struct {
	Source          string           `json:"source"`
	Target          string           `json:"target"`
	Relationship    RelationshipType `json:"relationship"`
	Confidence      float64          `json:"confidence"`
	DetectionMethod string           `json:"detection_method,omitempty"`
}

// Annotation carries per-task notes from generation.
type Annotation struct {
	TaskID string `json:"task_id"`
	Note   string `json:"note"`
}

// RemovedTask records a task the generator dropped from the plan.
type RemovedTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// MovedEntry is one reordering in an adjustment diff.
type MovedEntry struct {
	TaskID string `json:"task_id"`
	From   int    `json:"from"`
	To     int    `json:"to"`
	Reason string `json:"reason"`
}

// FilteredEntry is one task removed by an adjustment.
type FilteredEntry struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// AdjustmentDiff describes how a reflection adjustment changed the plan.
type AdjustmentDiff struct {
	Moved    []MovedEntry    `json:"moved"`
	Filtered []FilteredEntry `json:"filtered"`
}

// AdjustmentMetadata summarizes one adjustment run.
type AdjustmentMetadata struct {
	Reflections   int   `json:"reflections"`
	TasksMoved    int   `json:"tasks_moved"`
	TasksFiltered int   `json:"tasks_filtered"`
	DurationMS    int64 `json:"duration_ms"`
}

// Plan is the wire-stable prioritized plan document.
type Plan struct {
	OrderedTaskIDs     []string            `json:"ordered_task_ids"`
	ExecutionWaves     []ExecutionWave     `json:"execution_waves"`
	Dependencies       []Dependency        `json:"dependencies"`
	ConfidenceScores   map[string]float64  `json:"confidence_scores"`
	TaskAnnotations    []Annotation        `json:"task_annotations,omitempty"`
	RemovedTasks       []RemovedTask       `json:"removed_tasks,omitempty"`
	SynthesisSummary   string              `json:"synthesis_summary,omitempty"`
	Diff               *AdjustmentDiff     `json:"diff,omitempty"`
	AdjustmentMetadata *AdjustmentMetadata `json:"adjustment_metadata,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
}

// Position returns a task's index in the ordering, or -1.
func (p *Plan) Position(taskID string) int {
	for i, id := range p.OrderedTaskIDs {
		if id == taskID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so adjustments never mutate a stored baseline.
func (p *Plan) Clone() *Plan {
	out := *p
	out.OrderedTaskIDs = append([]string(nil), p.OrderedTaskIDs...)
	out.ExecutionWaves = make([]ExecutionWave, len(p.ExecutionWaves))
	for i, w := range p.ExecutionWaves {
		w.TaskIDs = append([]string(nil), w.TaskIDs...)
		out.ExecutionWaves[i] = w
	}
	out.Dependencies = append([]Dependency(nil), p.Dependencies...)
	out.ConfidenceScores = make(map[string]float64, len(p.ConfidenceScores))
	for k, v := range p.ConfidenceScores {
		out.ConfidenceScores[k] = v
	}
	out.TaskAnnotations = append([]Annotation(nil), p.TaskAnnotations...)
	out.RemovedTasks = append([]RemovedTask(nil), p.RemovedTasks...)
	if p.Diff != nil {
		d := AdjustmentDiff{
			Moved:    append([]MovedEntry(nil), p.Diff.Moved...),
			Filtered: append([]FilteredEntry(nil), p.Diff.Filtered...),
		}
		out.Diff = &d
	}
	if p.AdjustmentMetadata != nil {
		m := *p.AdjustmentMetadata
		out.AdjustmentMetadata = &m
	}
	return &out
}

// Validate checks the structural invariants:
// every wave member appears in the ordering, confidence values are in [0,1],
// and wave order respects the dependency topology (no task depends on a task
// placed in a later wave).
func (p *Plan) Validate() error {
	if len(p.OrderedTaskIDs) == 0 {
		return apperr.New(apperr.KindValidation, "plan has no ordered tasks")
	}
	ordered := make(map[string]bool, len(p.OrderedTaskIDs))
	for _, id := range p.OrderedTaskIDs {
		if ordered[id] {
			return apperr.Newf(apperr.KindValidation, "duplicate task id in ordering: %s", id)
		}
		ordered[id] = true
	}

	waveOf := make(map[string]int)
	for _, w := range p.ExecutionWaves {
		for _, id := range w.TaskIDs {
			if !ordered[id] {
				return apperr.Newf(apperr.KindValidation,
					"wave %d references task %s absent from ordered_task_ids", w.WaveNumber, id)
			}
			if prev, seen := waveOf[id]; seen && prev != w.WaveNumber {
				return apperr.Newf(apperr.KindValidation,
					"task %s appears in waves %d and %d", id, prev, w.WaveNumber)
			}
			waveOf[id] = w.WaveNumber
		}
	}

	for id, c := range p.ConfidenceScores {
		if c < 0 || c > 1 {
			return apperr.Newf(apperr.KindValidation,
				"confidence for %s out of range: %f", id, c)
		}
	}

	// A prerequisite edge source must not sit in a later wave than its target.
	for _, d := range p.Dependencies {
		if d.Source == d.Target {
			return apperr.Newf(apperr.KindValidation, "self dependency on %s", d.Source)
		}
		if d.Relationship == RelRelated {
			continue
		}
		sw, sok := waveOf[d.Source]
		tw, tok := waveOf[d.Target]
		if sok && tok && sw > tw {
			return apperr.Newf(apperr.KindValidation,
				"dependency %s -> %s violates wave order (%d -> %d)", d.Source, d.Target, sw, tw)
		}
	}
	return nil
}

// HasCycle runs DFS over the dependency edges restricted to the given id set.
// Returns the cycle path when one exists.
func HasCycle(ids []string, deps []Dependency) (bool, []string) {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	adj := make(map[string][]string)
	for _, d := range deps {
		if d.Relationship == RelRelated {
			continue
		}
		if in[d.Source] && in[d.Target] {
			adj[d.Source] = append(adj[d.Source], d.Target)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))
	var stack []string

	var visit func(string) []string
	visit = func(node string) []string {
		color[node] = gray
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch color[next] {
			case gray:
				// Trim the stack back to where the cycle entered.
				for i, s := range stack {
					if s == next {
						return append(append([]string(nil), stack[i:]...), next)
					}
				}
				return []string{next, node, next}
			case white:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			}
		}
		color[node] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return true, cyc
			}
		}
	}
	return false, nil
}

func (w ExecutionWave) String() string {
	return fmt.Sprintf("wave %d (%d tasks)", w.WaveNumber, len(w.TaskIDs))
}
