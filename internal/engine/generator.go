package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planwise/internal/apperr"
	"planwise/internal/llm"
)

const maxBriefReasoningWords = 20

// genericPhrases are rejected as brief reasoning: they carry no information
// about the specific task.
var genericPhrases = []string{
	"important",
	"critical",
	"high priority",
	"low priority",
	"very important",
	"needs attention",
	"should be done",
	"key task",
	"essential",
	"must do",
}

// validateBriefReasoning enforces the 20-word cap and rejects generic filler.
func validateBriefReasoning(s string) error {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return fmt.Errorf("brief_reasoning is empty")
	}
	if n := len(strings.Fields(trimmed)); n > maxBriefReasoningWords {
		return fmt.Errorf("brief_reasoning is %d words, max %d", n, maxBriefReasoningWords)
	}
	lower := strings.ToLower(trimmed)
	for _, phrase := range genericPhrases {
		if lower == phrase || lower == phrase+"." {
			return fmt.Errorf("brief_reasoning %q is generic", trimmed)
		}
	}
	return nil
}

// validateResult checks the generator output against the schema invariants.
func validateResult(r *PrioritizationResult, knownIDs map[string]bool) error {
	if len(r.OrderedTaskIDs) == 0 {
		return fmt.Errorf("ordered_task_ids is empty")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %f out of [0,1]", r.Confidence)
	}
	seen := map[string]bool{}
	for _, id := range r.OrderedTaskIDs {
		if !knownIDs[id] {
			return fmt.Errorf("ordered task %s not in input set", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate task %s in ordering", id)
		}
		seen[id] = true
	}
	for id, score := range r.PerTaskScores {
		if !seen[id] {
			continue
		}
		if score.Impact < 0 || score.Impact > 10 {
			return fmt.Errorf("impact for %s out of [0,10]: %f", id, score.Impact)
		}
		if score.Effort < 0.5 {
			return fmt.Errorf("effort for %s below 0.5h: %f", id, score.Effort)
		}
		if score.Confidence < 0 || score.Confidence > 1 {
			return fmt.Errorf("score confidence for %s out of [0,1]: %f", id, score.Confidence)
		}
		if err := validateBriefReasoning(score.BriefReasoning); err != nil {
			return fmt.Errorf("task %s: %w", id, err)
		}
	}
	return nil
}

// Generator wraps the planning model with schema validation and one repair
// attempt on invalid output.
type Generator struct {
	chat llm.ChatService
}

func NewGenerator(chat llm.ChatService) *Generator {
	return &Generator{chat: chat}
}

// Generate renders the prompt, calls the model, and validates. Invalid output
// triggers exactly one repair attempt carrying the validation error; a second
// failure fails the iteration.
func (g *Generator) Generate(ctx context.Context, in PromptInput) (*PrioritizationResult, error) {
	knownIDs := make(map[string]bool, len(in.Tasks))
	for _, t := range in.Tasks {
		knownIDs[t.TaskID] = true
	}

	prompt := renderGeneratorPrompt(in)
	result, valErr := g.attempt(ctx, prompt, knownIDs)
	if valErr == nil {
		return result, nil
	}
	if apperr.KindOf(valErr) != apperr.KindInternal || errors.Is(valErr, context.Canceled) {
		// Transport, model, or cancellation failure: repair would hit the
		// same wall.
		return nil, valErr
	}

	repairPrompt := fmt.Sprintf("%s\n\nYOUR PREVIOUS RESPONSE WAS INVALID: %v\nFix the problem and respond again with the full JSON object.",
		prompt, valErr)
	result, valErr = g.attempt(ctx, repairPrompt, knownIDs)
	if valErr != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "generator failed schema validation after repair", valErr)
	}
	return result, nil
}

func (g *Generator) attempt(ctx context.Context, prompt string, knownIDs map[string]bool) (*PrioritizationResult, error) {
	var r PrioritizationResult
	if err := g.chat.CompleteJSON(ctx, prompt, &r); err != nil {
		return nil, err
	}
	if err := validateResult(&r, knownIDs); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "invalid generator output", err)
	}
	return &r, nil
}
