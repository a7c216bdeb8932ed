package gap

import (
	"context"
	"encoding/json"
	"testing"

	"planwise/internal/apperr"
	"planwise/internal/embedding"
)

type stubChat struct {
	reply string
	err   error
}

func (s *stubChat) Complete(ctx context.Context, prompt string) (string, error) {
	return s.reply, s.err
}

func (s *stubChat) CompleteJSON(ctx context.Context, prompt string, target interface{}) error {
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.reply), target)
}

type stubSearch struct {
	hits []embedding.SearchResult
	err  error
}

func (s *stubSearch) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (s *stubSearch) SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64, userID string) ([]embedding.SearchResult, error) {
	return s.hits, s.err
}

func sampleGap() Gap {
	return Gap{ID: "g1", PredecessorTaskID: "a", SuccessorTaskID: "b", Confidence: 0.8}
}

func twoHits() []embedding.SearchResult {
	return []embedding.SearchResult{
		{TaskID: "p1", TaskText: "Integrated PayPal checkout", Similarity: 0.85},
		{TaskID: "p2", TaskText: "Set up billing webhooks", Similarity: 0.78},
	}
}

func TestSuggest_GeneratesBridgingTasks(t *testing.T) {
	chat := &stubChat{reply: `{"bridging_tasks": [
		{"task_text": "Integrate Stripe sandbox", "estimated_hours": 24, "cognition_level": "focused", "confidence": 0.8, "reasoning": "payment rails before launch"}
	]}`}
	b := NewBridger(chat, &stubSearch{hits: twoHits()})

	s, err := b.Suggest(context.Background(), sampleGap(), "Research payment providers", "Launch paid plans", "launch the mobile app", "u")
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if s.Status != "generated" || len(s.Tasks) != 1 {
		t.Fatalf("expected one generated task, got %+v", s)
	}
	if s.Tasks[0].TaskText != "Integrate Stripe sandbox" {
		t.Errorf("unexpected task: %+v", s.Tasks[0])
	}
}

func TestSuggest_FewExamplesDegradesGracefully(t *testing.T) {
	chat := &stubChat{reply: `{}`}
	b := NewBridger(chat, &stubSearch{hits: twoHits()[:1]})

	s, err := b.Suggest(context.Background(), sampleGap(), "a", "b", "outcome", "u")
	if err != nil {
		t.Fatalf("one example must degrade, not fail: %v", err)
	}
	if s.Status != "requires_examples" || len(s.Tasks) != 0 {
		t.Errorf("expected requires_examples, got %+v", s)
	}
}

func TestSuggest_HoursOutOfRangeIsGenerationFailed(t *testing.T) {
	chat := &stubChat{reply: `{"bridging_tasks": [
		{"task_text": "A reasonable bridging task", "estimated_hours": 4, "confidence": 0.8}
	]}`}
	b := NewBridger(chat, &stubSearch{hits: twoHits()})

	_, err := b.Suggest(context.Background(), sampleGap(), "a", "b", "outcome", "u")
	if apperr.CodeOf(err) != CodeGenerationFailed {
		t.Errorf("expected GENERATION_FAILED, got %v", err)
	}
}

func TestSuggest_TooManyTasksRejected(t *testing.T) {
	chat := &stubChat{reply: `{"bridging_tasks": [
		{"task_text": "one task here", "estimated_hours": 8},
		{"task_text": "two task here", "estimated_hours": 8},
		{"task_text": "three task here", "estimated_hours": 8},
		{"task_text": "four task here", "estimated_hours": 8}
	]}`}
	b := NewBridger(chat, &stubSearch{hits: twoHits()})
	if _, err := b.Suggest(context.Background(), sampleGap(), "a", "b", "o", "u"); apperr.CodeOf(err) != CodeGenerationFailed {
		t.Errorf("more than 3 tasks must fail, got %v", err)
	}
}

func TestSuggest_UpstreamErrorIsAIServiceError(t *testing.T) {
	chat := &stubChat{err: apperr.New(apperr.KindUpstreamUnavailable, "model down")}
	b := NewBridger(chat, &stubSearch{hits: twoHits()})
	if _, err := b.Suggest(context.Background(), sampleGap(), "a", "b", "o", "u"); apperr.CodeOf(err) != CodeAIServiceError {
		t.Errorf("expected AI_SERVICE_ERROR, got %v", err)
	}
}

func TestNormalizedHash_Dedup(t *testing.T) {
	a := NormalizedHash("  Integrate   Stripe sandbox ")
	b := NormalizedHash("integrate stripe SANDBOX")
	c := NormalizedHash("integrate paypal sandbox")
	if a != b {
		t.Error("case and whitespace must not change the hash")
	}
	if a == c {
		t.Error("different texts must hash differently")
	}
}
