package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"planwise/internal/apperr"
)

// scriptedChat replays canned JSON responses in order.
type scriptedChat struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scriptedChat) Complete(ctx context.Context, prompt string) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.replies) {
		return "", fmt.Errorf("no scripted reply for call %d", i)
	}
	return s.replies[i], nil
}

func (s *scriptedChat) CompleteJSON(ctx context.Context, prompt string, target interface{}) error {
	reply, err := s.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(reply), target)
}

func generatorReply(confidence float64) string {
	return fmt.Sprintf(`{
		"included_tasks": ["t1", "t2"],
		"excluded_tasks": [{"task_id": "t3", "reason": "off outcome"}],
		"ordered_task_ids": ["t1", "t2"],
		"per_task_scores": {
			"t1": {"impact": 8, "effort": 16, "confidence": 0.9, "reasoning": "r", "brief_reasoning": "unblocks the beta release for external testers"},
			"t2": {"impact": 5, "effort": 8, "confidence": 0.7, "reasoning": "r", "brief_reasoning": "follows beta feedback before wider rollout"}
		},
		"confidence": %.2f,
		"thoughts": {"strategy": "ship first"}
	}`, confidence)
}

func evaluatorReply(status, feedback string) string {
	return fmt.Sprintf(`{"status": %q, "outcome_alignment": 8, "strategic_coherence": 7, "reflection_integration": 8, "continuity": 7, "feedback": %q}`, status, feedback)
}

func loopInput() PromptInput {
	return PromptInput{
		OutcomeText: "launch the mobile app",
		Tasks: []PromptTask{
			{TaskID: "t1", TaskText: "Ship iOS beta", PriorRank: -1},
			{TaskID: "t2", TaskText: "Collect beta feedback", PriorRank: -1},
			{TaskID: "t3", TaskText: "Update marketing copy", PriorRank: -1},
		},
	}
}

func TestLoop_EarlyExitOnHighConfidence(t *testing.T) {
	chat := &scriptedChat{replies: []string{generatorReply(0.95)}}
	loop := NewLoop(NewGenerator(chat), NewEvaluator(chat))

	res, err := loop.Run(context.Background(), loopInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Metadata.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", res.Metadata.Iterations)
	}
	if res.Metadata.EvaluationTriggered {
		t.Error("evaluation must be skipped at confidence >= 0.9")
	}
	if !res.Metadata.Converged {
		t.Error("early exit counts as converged")
	}
	if len(res.Metadata.ChainOfThought) != 1 {
		t.Errorf("chain of thought should have 1 entry, got %d", len(res.Metadata.ChainOfThought))
	}
	if chat.calls != 1 {
		t.Errorf("expected exactly 1 model call, got %d", chat.calls)
	}
}

func TestLoop_PassStopsIteration(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		generatorReply(0.6),
		evaluatorReply("PASS", "solid ordering"),
	}}
	loop := NewLoop(NewGenerator(chat), NewEvaluator(chat))

	res, err := loop.Run(context.Background(), loopInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Metadata.Iterations != 1 || !res.Metadata.Converged {
		t.Errorf("PASS should converge on iteration 1: %+v", res.Metadata)
	}
	if !res.Metadata.EvaluationTriggered {
		t.Error("evaluation ran and must be recorded")
	}
	if res.Metadata.ChainOfThought[0].EvaluatorFeedback != "solid ordering" {
		t.Errorf("feedback missing from trace: %+v", res.Metadata.ChainOfThought[0])
	}
}

func TestLoop_FeedbackCarriesIntoNextPrompt(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		generatorReply(0.6),
		evaluatorReply("NEEDS_IMPROVEMENT", "move beta work earlier"),
		generatorReply(0.7),
		evaluatorReply("PASS", "better"),
	}}
	loop := NewLoop(NewGenerator(chat), NewEvaluator(chat))

	res, err := loop.Run(context.Background(), loopInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Metadata.Iterations != 2 || !res.Metadata.Converged {
		t.Errorf("expected convergence on iteration 2: %+v", res.Metadata)
	}
	// The third call is the second generation; it must see the feedback.
	secondGenPrompt := chat.prompts[2]
	if !strings.Contains(secondGenPrompt, "move beta work earlier") {
		t.Error("evaluator feedback was not appended to the next generation prompt")
	}
}

func TestLoop_BudgetExhaustionReturnsLastPlan(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		generatorReply(0.6), evaluatorReply("FAIL", "weak"),
		generatorReply(0.6), evaluatorReply("FAIL", "still weak"),
		generatorReply(0.6), evaluatorReply("FAIL", "no"),
	}}
	loop := NewLoop(NewGenerator(chat), NewEvaluator(chat))

	res, err := loop.Run(context.Background(), loopInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Metadata.Iterations != 3 {
		t.Errorf("expected 3 iterations, got %d", res.Metadata.Iterations)
	}
	if res.Metadata.Converged {
		t.Error("exhausted budget must not report convergence")
	}
	if res.Final == nil || len(res.Final.OrderedTaskIDs) != 2 {
		t.Error("last plan must still be returned")
	}
	if len(res.Metadata.ChainOfThought) != 3 {
		t.Errorf("chain of thought bounded to 3, got %d", len(res.Metadata.ChainOfThought))
	}
}

func TestLoop_CancellationDuringGenerationDiscardsPartialPlan(t *testing.T) {
	chat := &scriptedChat{
		replies: []string{
			generatorReply(0.6),
			evaluatorReply("NEEDS_IMPROVEMENT", "tighten the ordering"),
		},
		errs: []error{nil, nil, context.Canceled},
	}
	loop := NewLoop(NewGenerator(chat), NewEvaluator(chat))

	res, err := loop.Run(context.Background(), loopInput())
	if err == nil {
		t.Fatalf("cancelled run must fail, got %+v", res)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error must carry the cancellation: %v", err)
	}
	if chat.calls != 3 {
		t.Errorf("no repair attempt after cancellation, got %d calls", chat.calls)
	}
}

func TestLoop_CancellationDuringEvaluationDiscardsPlan(t *testing.T) {
	chat := &scriptedChat{
		replies: []string{generatorReply(0.6)},
		errs:    []error{nil, context.Canceled},
	}
	loop := NewLoop(NewGenerator(chat), NewEvaluator(chat))

	if _, err := loop.Run(context.Background(), loopInput()); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled evaluation must fail the run, got %v", err)
	}
}

func TestLoop_UpstreamFailureAfterFirstPlanKeepsIt(t *testing.T) {
	chat := &scriptedChat{
		replies: []string{
			generatorReply(0.6),
			evaluatorReply("NEEDS_IMPROVEMENT", "tighten the ordering"),
		},
		errs: []error{nil, nil, apperr.New(apperr.KindUpstreamUnavailable, "model unavailable")},
	}
	loop := NewLoop(NewGenerator(chat), NewEvaluator(chat))

	res, err := loop.Run(context.Background(), loopInput())
	if err != nil {
		t.Fatalf("transient failure after a valid plan must not fail: %v", err)
	}
	if res.Final == nil || res.Metadata.Converged {
		t.Errorf("kept plan must be returned unconverged: %+v", res.Metadata)
	}
}

func TestGenerator_RepairAttemptOnInvalidOutput(t *testing.T) {
	bad := `{"ordered_task_ids": ["t1"], "per_task_scores": {"t1": {"impact": 8, "effort": 16, "confidence": 0.9, "brief_reasoning": "important"}}, "confidence": 0.8}`
	chat := &scriptedChat{replies: []string{bad, generatorReply(0.8)}}
	gen := NewGenerator(chat)

	res, err := gen.Generate(context.Background(), loopInput())
	if err != nil {
		t.Fatalf("repair attempt should recover: %v", err)
	}
	if chat.calls != 2 {
		t.Errorf("expected exactly 2 calls (original + repair), got %d", chat.calls)
	}
	if len(res.OrderedTaskIDs) != 2 {
		t.Errorf("repaired result not used: %v", res.OrderedTaskIDs)
	}
	if !strings.Contains(chat.prompts[1], "PREVIOUS RESPONSE WAS INVALID") {
		t.Error("repair prompt must carry the validation failure")
	}
}

func TestGenerator_SecondFailureFailsIteration(t *testing.T) {
	bad := `{"ordered_task_ids": ["ghost"], "confidence": 0.8}`
	chat := &scriptedChat{replies: []string{bad, bad}}
	if _, err := NewGenerator(chat).Generate(context.Background(), loopInput()); err == nil {
		t.Fatal("two invalid responses must fail the iteration")
	}
}

func TestValidateBriefReasoning(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"unblocks the beta release for external testers", true},
		{"important", false},
		{"High Priority", false},
		{"", false},
		{"one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone", false},
	}
	for _, c := range cases {
		err := validateBriefReasoning(c.in)
		if c.ok && err != nil {
			t.Errorf("%q should pass: %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%q should be rejected", c.in)
		}
	}
}
