// Package engine implements the hybrid prioritization loop: an LLM generator
// proposes a plan, an LLM evaluator critiques it, and the loop iterates until
// the evaluator passes the plan or the iteration budget runs out.
package engine

import (
	"time"

	"planwise/internal/plan"
)

// TaskScore is the generator's per-task judgment.
type TaskScore struct {
	Impact              float64  `json:"impact"`
	Effort              float64  `json:"effort"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	BriefReasoning      string   `json:"brief_reasoning"`
	Dependencies        []string `json:"dependencies,omitempty"`
	ReflectionInfluence string   `json:"reflection_influence,omitempty"`
}

// ExcludedTask is one task the generator left out of the plan.
type ExcludedTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Thoughts is the generator's free-form working notes.
type Thoughts struct {
	Strategy     string `json:"strategy,omitempty"`
	Tradeoffs    string `json:"tradeoffs,omitempty"`
	Alternatives string `json:"alternatives,omitempty"`
}

// PrioritizationResult is the strict-JSON shape the generator must return.
type PrioritizationResult struct {
	IncludedTasks         []string              `json:"included_tasks"`
	ExcludedTasks         []ExcludedTask        `json:"excluded_tasks"`
	OrderedTaskIDs        []string              `json:"ordered_task_ids"`
	PerTaskScores         map[string]TaskScore  `json:"per_task_scores"`
	ExecutionWaves        []plan.ExecutionWave  `json:"execution_waves,omitempty"`
	Confidence            float64               `json:"confidence"`
	Thoughts              Thoughts              `json:"thoughts"`
	CriticalPathReasoning string                `json:"critical_path_reasoning,omitempty"`
	CorrectionsMade       []string              `json:"corrections_made,omitempty"`
	SynthesisSummary      string                `json:"synthesis_summary,omitempty"`
}

// EvaluatorVerdict is the evaluator's judgment of one generated plan.
type EvaluatorVerdict struct {
	Status                string  `json:"status"` // PASS, NEEDS_IMPROVEMENT, FAIL
	OutcomeAlignment      float64 `json:"outcome_alignment"`
	StrategicCoherence    float64 `json:"strategic_coherence"`
	ReflectionIntegration float64 `json:"reflection_integration"`
	Continuity            float64 `json:"continuity"`
	Feedback              string  `json:"feedback"`
}

// ChainEntry is one iteration's trace in the evaluation metadata.
type ChainEntry struct {
	Iteration         int       `json:"iteration"`
	Confidence        float64   `json:"confidence"`
	Corrections       []string  `json:"corrections,omitempty"`
	EvaluatorFeedback string    `json:"evaluator_feedback,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// EvaluationMetadata is the loop trace persisted on the session.
type EvaluationMetadata struct {
	Iterations          int          `json:"iterations"`
	DurationMS          int64        `json:"duration_ms"`
	EvaluationTriggered bool         `json:"evaluation_triggered"`
	ChainOfThought      []ChainEntry `json:"chain_of_thought"`
	Converged           bool         `json:"converged"`
	FinalConfidence     float64      `json:"final_confidence"`
}

// LoopResult is what the loop hands back to the orchestrator.
type LoopResult struct {
	Final    *PrioritizationResult
	Metadata EvaluationMetadata
}
