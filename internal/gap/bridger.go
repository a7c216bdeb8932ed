package gap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planwise/internal/apperr"
	"planwise/internal/embedding"
	"planwise/internal/llm"
)

const (
	bridgeConfidenceFloor = 0.75
	exampleThreshold      = 0.7
	minExamples           = 2
	bridgeCallTimeout     = 30 * time.Second

	minBridgeHours = 8
	maxBridgeHours = 160
)

// Failure codes for bridging generation.
const (
	CodeAIServiceError         = "AI_SERVICE_ERROR"
	CodeGenerationFailed       = "GENERATION_FAILED"
	CodeTimeout                = "TIMEOUT"
	CodeRequiresManualExamples = "REQUIRES_MANUAL_EXAMPLES"
)

// ExampleSearcher finds prior tasks similar to a gap midpoint.
type ExampleSearcher interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64, userID string) ([]embedding.SearchResult, error)
}

// Bridger generates 1-3 bridging tasks per high-confidence gap.
type Bridger struct {
	chat   llm.ChatService
	search ExampleSearcher
}

func NewBridger(chat llm.ChatService, search ExampleSearcher) *Bridger {
	return &Bridger{chat: chat, search: search}
}

type bridgingResponse struct {
	BridgingTasks []BridgingTask `json:"bridging_tasks"`
}

// Suggest generates bridging tasks for one gap. Gaps below the confidence
// floor are skipped by the caller. Fewer than two semantic-search examples
// degrades to requires_examples instead of failing.
func (b *Bridger) Suggest(ctx context.Context, g Gap, predText, succText, outcomeText, userID string) (*Suggestion, error) {
	s := &Suggestion{
		GapID:         g.ID,
		PredecessorID: g.PredecessorTaskID,
		SuccessorID:   g.SuccessorTaskID,
	}

	examples, err := b.findExamples(ctx, predText, succText, userID)
	if err != nil {
		return nil, err
	}
	if len(examples) < minExamples {
		s.Status = "requires_examples"
		return s, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, bridgeCallTimeout)
	defer cancel()

	var parsed bridgingResponse
	if err := b.chat.CompleteJSON(callCtx, renderBridgePrompt(predText, succText, outcomeText, examples), &parsed); err != nil {
		return nil, classifyBridgeError(err)
	}
	tasks, err := validateBridgingTasks(parsed.BridgingTasks)
	if err != nil {
		return nil, err
	}

	s.Status = "generated"
	s.Tasks = tasks
	return s, nil
}

func (b *Bridger) findExamples(ctx context.Context, predText, succText, userID string) ([]embedding.SearchResult, error) {
	vec, err := b.search.Embed(ctx, predText+" -> "+succText)
	if err != nil {
		return nil, classifyBridgeError(err)
	}
	hits, err := b.search.SemanticSearch(ctx, vec, 5, exampleThreshold, userID)
	if err != nil {
		return nil, classifyBridgeError(err)
	}
	return hits, nil
}

func renderBridgePrompt(predText, succText, outcomeText string, examples []embedding.SearchResult) string {
	var ex strings.Builder
	for _, h := range examples {
		fmt.Fprintf(&ex, "- %s\n", h.TaskText)
	}
	return fmt.Sprintf(`Two adjacent planned tasks have a gap between them: finishing the first does not make the second startable. Propose 1-3 intermediate tasks that bridge it.

OUTCOME: %s
PREDECESSOR: %s
SUCCESSOR: %s

SIMILAR COMPLETED WORK:
%s
RULES:
1. Each bridging task is concrete and startable right after the predecessor
2. estimated_hours between 8 and 160
3. cognition_level is one of: routine, focused, deep

Respond ONLY with valid JSON:
{"bridging_tasks": [{"task_text": "...", "estimated_hours": 24, "cognition_level": "focused", "confidence": 0.8, "reasoning": "..."}]}`,
		outcomeText, predText, succText, ex.String())
}

func validateBridgingTasks(tasks []BridgingTask) ([]BridgingTask, error) {
	if len(tasks) < 1 || len(tasks) > 3 {
		return nil, apperr.WithCode(apperr.KindUpstreamUnavailable, CodeGenerationFailed,
			fmt.Sprintf("expected 1-3 bridging tasks, got %d", len(tasks)))
	}
	for i, t := range tasks {
		if strings.TrimSpace(t.TaskText) == "" {
			return nil, apperr.WithCode(apperr.KindUpstreamUnavailable, CodeGenerationFailed, "bridging task has empty text")
		}
		if t.EstimatedHours < minBridgeHours || t.EstimatedHours > maxBridgeHours {
			return nil, apperr.WithCode(apperr.KindUpstreamUnavailable, CodeGenerationFailed,
				fmt.Sprintf("estimated_hours %.1f outside [%d,%d]", t.EstimatedHours, minBridgeHours, maxBridgeHours))
		}
		if t.Confidence < 0 || t.Confidence > 1 {
			tasks[i].Confidence = clamp01(t.Confidence)
		}
	}
	return tasks, nil
}

func classifyBridgeError(err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindTimeout:
		return apperr.WithCode(apperr.KindTimeout, CodeTimeout, "bridging generation timed out")
	case apperr.KindUpstreamUnavailable, apperr.KindFatalUpstream:
		return apperr.WithCode(apperr.KindUpstreamUnavailable, CodeAIServiceError, err.Error())
	}
	return apperr.WithCode(apperr.KindUpstreamUnavailable, CodeGenerationFailed, err.Error())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
