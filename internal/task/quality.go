package task

import (
	"context"
	"fmt"
	"strings"

	"planwise/internal/llm"
)

// QualityEvaluation is the per-task result of a clarity check.
type QualityEvaluation struct {
	TaskID       string   `json:"task_id,omitempty"`
	TaskText     string   `json:"task_text"`
	ClarityScore float64  `json:"clarity_score"`
	Suggestions  []string `json:"improvement_suggestions,omitempty"`
	Method       string   `json:"method"`
}

// QualitySummary aggregates one evaluation batch.
type QualitySummary struct {
	Evaluated    int     `json:"evaluated"`
	MeanClarity  float64 `json:"mean_clarity"`
	BelowHalf    int     `json:"below_half"`
	UsedFallback bool    `json:"used_fallback"`
}

// QualityEvaluator scores task clarity, preferring the LLM and degrading to
// a deterministic heuristic.
type QualityEvaluator struct {
	chat llm.ChatService
}

func NewQualityEvaluator(chat llm.ChatService) *QualityEvaluator {
	return &QualityEvaluator{chat: chat}
}

var actionVerbs = []string{
	"build", "create", "design", "write", "ship", "launch", "research",
	"plan", "review", "update", "fix", "refactor", "integrate", "test",
	"deploy", "migrate", "document", "measure", "set up", "implement",
}

// heuristicClarity scores a task without a model call: starts with an action
// verb, reasonable length, and carries at least one specific noun-ish token.
func heuristicClarity(text string) QualityEvaluation {
	lower := strings.ToLower(strings.TrimSpace(text))
	eval := QualityEvaluation{TaskText: text, Method: "heuristic"}

	score := 0.3
	for _, v := range actionVerbs {
		if strings.HasPrefix(lower, v) {
			score += 0.35
			break
		}
	}
	words := strings.Fields(lower)
	switch {
	case len(words) >= 3 && len(words) <= 20:
		score += 0.25
	case len(words) > 20:
		eval.Suggestions = append(eval.Suggestions, "split into smaller tasks")
	default:
		eval.Suggestions = append(eval.Suggestions, "add an object: what exactly gets done?")
	}
	if strings.ContainsAny(text, "0123456789") || strings.Contains(lower, "for") || strings.Contains(lower, "with") {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	if score < 0.65 && len(eval.Suggestions) == 0 {
		eval.Suggestions = append(eval.Suggestions, "start with an action verb")
	}
	eval.ClarityScore = score
	return eval
}

type qualityLLMResponse struct {
	Evaluations []struct {
		TaskText     string   `json:"task_text"`
		ClarityScore float64  `json:"clarity_score"`
		Suggestions  []string `json:"improvement_suggestions"`
	} `json:"evaluations"`
}

// Evaluate scores a batch of task texts. forceHeuristic skips the model.
func (q *QualityEvaluator) Evaluate(ctx context.Context, texts []string, forceHeuristic bool) ([]QualityEvaluation, QualitySummary, error) {
	if !forceHeuristic && q.chat != nil {
		evals, err := q.evaluateLLM(ctx, texts)
		if err == nil {
			return evals, summarize(evals, false), nil
		}
		// Model failure degrades to the heuristic; the caller still gets scores.
	}
	evals := make([]QualityEvaluation, 0, len(texts))
	for _, t := range texts {
		evals = append(evals, heuristicClarity(t))
	}
	return evals, summarize(evals, true), nil
}

func (q *QualityEvaluator) evaluateLLM(ctx context.Context, texts []string) ([]QualityEvaluation, error) {
	var b strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	prompt := fmt.Sprintf(`Score each task for clarity: is it a discrete, actionable unit of work?

Tasks:
%s
For each, give clarity_score in [0,1] and up to 2 improvement suggestions.

Respond ONLY with valid JSON:
{"evaluations": [{"task_text": "...", "clarity_score": 0.8, "improvement_suggestions": []}]}`, b.String())

	var parsed qualityLLMResponse
	if err := q.chat.CompleteJSON(ctx, prompt, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Evaluations) != len(texts) {
		return nil, fmt.Errorf("evaluator returned %d scores for %d tasks", len(parsed.Evaluations), len(texts))
	}
	evals := make([]QualityEvaluation, 0, len(texts))
	for i, e := range parsed.Evaluations {
		score := e.ClarityScore
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		evals = append(evals, QualityEvaluation{
			TaskText:     texts[i],
			ClarityScore: score,
			Suggestions:  e.Suggestions,
			Method:       "llm",
		})
	}
	return evals, nil
}

func summarize(evals []QualityEvaluation, fallback bool) QualitySummary {
	s := QualitySummary{Evaluated: len(evals), UsedFallback: fallback}
	if len(evals) == 0 {
		return s
	}
	var sum float64
	for _, e := range evals {
		sum += e.ClarityScore
		if e.ClarityScore < 0.5 {
			s.BelowHalf++
		}
	}
	s.MeanClarity = sum / float64(len(evals))
	return s
}
