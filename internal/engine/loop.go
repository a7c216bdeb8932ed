package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"planwise/internal/apperr"
	"planwise/internal/llm"
)

const (
	maxIterations      = 3
	earlyExitThreshold = 0.9
	loopWallBudget     = 180 * time.Second
)

// Evaluator wraps the critique model.
type Evaluator struct {
	chat llm.ChatService
}

func NewEvaluator(chat llm.ChatService) *Evaluator {
	return &Evaluator{chat: chat}
}

// Evaluate returns the verdict for one generated plan.
func (e *Evaluator) Evaluate(ctx context.Context, outcomeText string, reflections []string, result *PrioritizationResult) (*EvaluatorVerdict, error) {
	var v EvaluatorVerdict
	if err := e.chat.CompleteJSON(ctx, renderEvaluatorPrompt(outcomeText, reflections, result), &v); err != nil {
		return nil, err
	}
	switch strings.ToUpper(v.Status) {
	case "PASS", "NEEDS_IMPROVEMENT", "FAIL":
		v.Status = strings.ToUpper(v.Status)
	default:
		return nil, apperr.Newf(apperr.KindUpstreamUnavailable, "evaluator returned unknown status %q", v.Status)
	}
	return &v, nil
}

// Loop runs the generate/evaluate cycle.
type Loop struct {
	generator *Generator
	evaluator *Evaluator
	now       func() time.Time
}

func NewLoop(generator *Generator, evaluator *Evaluator) *Loop {
	return &Loop{generator: generator, evaluator: evaluator, now: time.Now}
}

// Run iterates up to three times. After iteration 1 the evaluation is skipped
// entirely when the generator's confidence reaches 0.9; otherwise the verdict
// decides whether to loop with feedback. The whole loop shares a 180s budget.
func (l *Loop) Run(ctx context.Context, in PromptInput) (*LoopResult, error) {
	ctx, cancel := context.WithTimeout(ctx, loopWallBudget)
	defer cancel()

	started := l.now()
	meta := EvaluationMetadata{}
	var last *PrioritizationResult

	for i := 1; i <= maxIterations; i++ {
		result, err := l.generator.Generate(ctx, in)
		if err != nil {
			if last != nil && !cancelled(ctx, err) {
				// Keep the best plan we have rather than failing the session.
				meta.Converged = false
				meta.DurationMS = l.now().Sub(started).Milliseconds()
				return &LoopResult{Final: last, Metadata: meta}, nil
			}
			return nil, err
		}
		last = result
		meta.Iterations = i
		meta.FinalConfidence = result.Confidence

		entry := ChainEntry{
			Iteration:   i,
			Confidence:  result.Confidence,
			Corrections: result.CorrectionsMade,
			Timestamp:   l.now(),
		}

		if i == 1 && result.Confidence >= earlyExitThreshold {
			meta.ChainOfThought = append(meta.ChainOfThought, entry)
			meta.EvaluationTriggered = false
			meta.Converged = true
			meta.DurationMS = l.now().Sub(started).Milliseconds()
			return &LoopResult{Final: result, Metadata: meta}, nil
		}

		verdict, err := l.evaluator.Evaluate(ctx, in.OutcomeText, in.ReflectionBullets, result)
		if err != nil {
			if cancelled(ctx, err) {
				return nil, err
			}
			// An unavailable evaluator should not discard a valid plan.
			meta.ChainOfThought = append(meta.ChainOfThought, entry)
			meta.EvaluationTriggered = true
			meta.Converged = false
			meta.DurationMS = l.now().Sub(started).Milliseconds()
			return &LoopResult{Final: result, Metadata: meta}, nil
		}
		meta.EvaluationTriggered = true
		entry.EvaluatorFeedback = verdict.Feedback
		meta.ChainOfThought = append(meta.ChainOfThought, entry)

		if verdict.Status == "PASS" {
			meta.Converged = true
			meta.DurationMS = l.now().Sub(started).Milliseconds()
			return &LoopResult{Final: result, Metadata: meta}, nil
		}
		if verdict.Feedback != "" {
			in.EvaluatorFeedback = append(in.EvaluatorFeedback, verdict.Feedback)
		}
	}

	meta.Converged = false
	meta.DurationMS = l.now().Sub(started).Milliseconds()
	return &LoopResult{Final: last, Metadata: meta}, nil
}

// cancelled distinguishes a caller-initiated cancellation from the loop's own
// wall budget expiring. Partial results are discarded on cancellation; budget
// expiry keeps the best plan so far.
func cancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}
