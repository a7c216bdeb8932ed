package scoring

import (
	"context"
	"fmt"
	"strings"

	"planwise/internal/llm"
)

// effortKeywords maps verb families to rough hour estimates. The heuristic
// answers most tasks without a model call; unknown shapes fall back to the LLM.
var effortKeywords = []struct {
	words []string
	hours float64
}{
	{[]string{"fix", "tweak", "update", "email", "call", "schedule", "rename"}, 3},
	{[]string{"write", "draft", "review", "document", "research", "plan", "interview"}, 8},
	{[]string{"design", "prototype", "set up", "configure", "test"}, 16},
	{[]string{"build", "implement", "integrate", "develop", "refactor", "create"}, 24},
	{[]string{"launch", "migrate", "redesign", "ship", "rewrite"}, 40},
}

// Estimator produces impact and effort estimates for one task.
type Estimator struct {
	chat llm.ChatService
}

func NewEstimator(chat llm.ChatService) *Estimator {
	return &Estimator{chat: chat}
}

type impactResponse struct {
	Impact    float64 `json:"impact"`
	Reasoning string  `json:"reasoning"`
}

// EstimateImpact asks the model how much this task advances the outcome.
func (e *Estimator) EstimateImpact(ctx context.Context, taskText, outcomeText string) (float64, string, error) {
	prompt := fmt.Sprintf(`Rate how much completing this task advances the outcome, 0 (none) to 10 (decisive).

OUTCOME: %s
TASK: %s

Respond ONLY with valid JSON: {"impact": 7.5, "reasoning": "..."}`, outcomeText, taskText)

	var r impactResponse
	if err := e.chat.CompleteJSON(ctx, prompt, &r); err != nil {
		return 0, "", err
	}
	if r.Impact < 0 {
		r.Impact = 0
	}
	if r.Impact > 10 {
		r.Impact = 10
	}
	return r.Impact, r.Reasoning, nil
}

// HeuristicEffort estimates hours from the leading verb and task size.
// The bool reports whether the keyword table matched.
func HeuristicEffort(taskText string) (float64, bool) {
	lower := strings.ToLower(strings.TrimSpace(taskText))
	for _, family := range effortKeywords {
		for _, w := range family.words {
			if strings.HasPrefix(lower, w) {
				hours := family.hours
				// Long task statements tend to hide bigger scope.
				if len(strings.Fields(lower)) > 12 {
					hours *= 1.5
				}
				return hours, true
			}
		}
	}
	return 0, false
}

type effortResponse struct {
	EffortHours float64 `json:"effort_hours"`
}

// EstimateEffort tries the keyword heuristic first and falls back to the LLM.
func (e *Estimator) EstimateEffort(ctx context.Context, taskText string) (float64, error) {
	if hours, ok := HeuristicEffort(taskText); ok {
		return hours, nil
	}
	prompt := fmt.Sprintf(`Estimate the working hours to complete this task. Respond ONLY with valid JSON: {"effort_hours": 16}

TASK: %s`, taskText)

	var r effortResponse
	if err := e.chat.CompleteJSON(ctx, prompt, &r); err != nil {
		return 0, err
	}
	if r.EffortHours < 0.5 {
		r.EffortHours = 0.5
	}
	return r.EffortHours, nil
}
