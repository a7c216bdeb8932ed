package engine

import (
	"fmt"
	"strings"
)

const taskTextPreview = 120

// PromptTask is one candidate task as the generator sees it.
type PromptTask struct {
	TaskID        string
	TaskText      string
	PriorRank     int // -1 when absent
	PriorState    string
	RemovalReason string
	Confidence    float64
}

// PromptInput is everything a generation prompt is rendered from.
type PromptInput struct {
	OutcomeText       string
	ReflectionBullets []string
	Tasks             []PromptTask
	PreviousSummary   string
	Constraints       []string
	EvaluatorFeedback []string
}

// renderGeneratorPrompt assembles the generation prompt. Evaluator feedback
// from earlier iterations is appended so the model can correct course.
func renderGeneratorPrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("You are a strategic prioritization engine. Order the user's tasks to best advance their outcome.\n\n")
	fmt.Fprintf(&b, "OUTCOME: %s\n\n", in.OutcomeText)

	if len(in.ReflectionBullets) > 0 {
		b.WriteString("USER REFLECTIONS (honor these):\n")
		for _, r := range in.ReflectionBullets {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	b.WriteString("TASKS:\n")
	for _, t := range in.Tasks {
		fmt.Fprintf(&b, "- [%s] %s", t.TaskID, truncate(t.TaskText, taskTextPreview))
		if t.PriorRank >= 0 {
			fmt.Fprintf(&b, " (prior rank %d, confidence %.2f)", t.PriorRank, t.Confidence)
		}
		if t.PriorState != "" {
			fmt.Fprintf(&b, " [%s]", t.PriorState)
		}
		if t.RemovalReason != "" {
			fmt.Fprintf(&b, " (previously removed: %s)", t.RemovalReason)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if in.PreviousSummary != "" {
		fmt.Fprintf(&b, "PREVIOUS PLAN SUMMARY:\n%s\n\n", in.PreviousSummary)
	}
	if len(in.Constraints) > 0 {
		b.WriteString("DEPENDENCY CONSTRAINTS:\n")
		for _, c := range in.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	if len(in.EvaluatorFeedback) > 0 {
		b.WriteString("EVALUATOR FEEDBACK FROM PRIOR ATTEMPTS (address every point):\n")
		for _, f := range in.EvaluatorFeedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	b.WriteString(`RULES:
1. Every included task id must come from the TASKS list
2. Score each included task: impact [0,10], effort in hours (>= 0.5), confidence [0,1]
3. brief_reasoning is at most 20 words and must be specific to the task, never a generic phrase
4. Group ordered tasks into execution waves respecting dependencies
5. Exclude tasks that do not advance the outcome, with a reason each

Respond ONLY with valid JSON:
{"included_tasks": ["id"], "excluded_tasks": [{"task_id": "id", "reason": "..."}], "ordered_task_ids": ["id"], "per_task_scores": {"id": {"impact": 7, "effort": 16, "confidence": 0.8, "reasoning": "...", "brief_reasoning": "...", "dependencies": []}}, "execution_waves": [{"wave_number": 1, "task_ids": ["id"], "parallel": false, "est_hours": 16}], "confidence": 0.85, "thoughts": {"strategy": "..."}, "critical_path_reasoning": "...", "corrections_made": [], "synthesis_summary": "..."}`)
	return b.String()
}

func renderEvaluatorPrompt(outcomeText string, reflections []string, result *PrioritizationResult) string {
	var b strings.Builder
	b.WriteString("You are a plan evaluator. Judge this prioritized plan against the outcome.\n\n")
	fmt.Fprintf(&b, "OUTCOME: %s\n\n", outcomeText)
	if len(reflections) > 0 {
		b.WriteString("ACTIVE REFLECTIONS:\n")
		for _, r := range reflections {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "ORDERED TASKS: %s\n", strings.Join(result.OrderedTaskIDs, ", "))
	fmt.Fprintf(&b, "EXCLUDED: %d tasks\n", len(result.ExcludedTasks))
	fmt.Fprintf(&b, "GENERATOR CONFIDENCE: %.2f\n\n", result.Confidence)

	b.WriteString(`Score 0-10 on each axis and give one verdict.

Respond ONLY with valid JSON:
{"status": "PASS", "outcome_alignment": 8, "strategic_coherence": 7, "reflection_integration": 9, "continuity": 8, "feedback": "..."}`)
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
