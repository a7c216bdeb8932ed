package task

import (
	"context"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"planwise/internal/apperr"
	"planwise/internal/embedding"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	vec := make([]float32, embedding.Dimensions)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 7
	}
	vec[0] = 1
	return vec, nil
}

type fakeVectors struct {
	upserts  []embedding.TaskPoint
	statuses map[string]string
	hits     []embedding.SearchResult
	deleted  []string
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{statuses: map[string]string{}}
}

func (f *fakeVectors) UpsertTask(ctx context.Context, tp *embedding.TaskPoint) error {
	f.upserts = append(f.upserts, *tp)
	return nil
}

func (f *fakeVectors) SetStatus(ctx context.Context, taskID, status string) error {
	f.statuses[taskID] = status
	return nil
}

func (f *fakeVectors) DeleteTasks(ctx context.Context, taskIDs []string) error {
	f.deleted = append(f.deleted, taskIDs...)
	return nil
}

func (f *fakeVectors) SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64, userID string) ([]embedding.SearchResult, error) {
	var out []embedding.SearchResult
	for _, h := range f.hits {
		if h.Similarity >= threshold {
			out = append(out, h)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func setupService(t *testing.T) (*Service, *fakeVectors) {
	t.Helper()
	dbConn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := dbConn.AutoMigrate(&TaskEmbedding{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	vecs := newFakeVectors()
	return NewService(dbConn, &fakeEmbedder{}, vecs), vecs
}

func TestCreate_PersistsBothStores(t *testing.T) {
	svc, vecs := setupService(t)
	created, err := svc.Create(context.Background(), CreateInput{
		UserID:   "user-1",
		TaskText: "  Ship iOS beta to TestFlight  ",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.TaskText != "Ship iOS beta to TestFlight" {
		t.Errorf("text should be trimmed, got %q", created.TaskText)
	}
	if len(vecs.upserts) != 1 {
		t.Fatalf("expected 1 vector upsert, got %d", len(vecs.upserts))
	}
	if vecs.upserts[0].TaskID != created.TaskID {
		t.Error("vector point should carry the task id")
	}
}

func TestCreate_TextBoundaries(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{UserID: "u", TaskText: "too short"}); err == nil {
		t.Error("9-char text must be rejected")
	}
	if _, err := svc.Create(ctx, CreateInput{UserID: "u", TaskText: "ten chars!"}); err != nil {
		t.Errorf("10-char text must be accepted: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{UserID: "u", TaskText: strings.Repeat("a", 501)}); err == nil {
		t.Error("501-char text must be rejected")
	}
}

func TestSetStatus_SyncsVectorStore(t *testing.T) {
	svc, vecs := setupService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateInput{UserID: "u", TaskText: "Research payment providers"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.SetStatus(ctx, created.TaskID, "u", StatusArchived); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if vecs.statuses[created.TaskID] != "archived" {
		t.Errorf("vector payload status not synced: %v", vecs.statuses)
	}
	got, err := svc.Get(ctx, created.TaskID, "u")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusArchived {
		t.Errorf("expected archived, got %s", got.Status)
	}
}

func TestApplyOverride_ValidatesRanges(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateInput{UserID: "u", TaskText: "Refactor legacy auth flow"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := svc.ApplyOverride(ctx, created.TaskID, "u", "sess-1", Override{Impact: 11, EffortHours: 4}); err == nil {
		t.Error("impact > 10 must be rejected")
	}
	if _, err := svc.ApplyOverride(ctx, created.TaskID, "u", "sess-1", Override{Impact: 9, EffortHours: 0.25}); err == nil {
		t.Error("effort < 0.5 must be rejected")
	}

	updated, err := svc.ApplyOverride(ctx, created.TaskID, "u", "sess-1", Override{Impact: 9, EffortHours: 4, Reason: "core launch blocker"})
	if err != nil {
		t.Fatalf("valid override rejected: %v", err)
	}
	o := updated.OverrideOf()
	if o == nil {
		t.Fatal("override should decode")
	}
	if o.Impact != 9 || o.EffortHours != 4 || o.SessionID != "sess-1" {
		t.Errorf("unexpected override: %+v", o)
	}
}

func TestFindDuplicate_UsesThreshold(t *testing.T) {
	svc, vecs := setupService(t)
	vecs.hits = []embedding.SearchResult{{TaskID: "t-1", TaskText: "Ship iOS beta", Similarity: 0.91}}

	hit, err := svc.FindDuplicate(context.Background(), "u", "Ship the iOS beta", 0.88)
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if hit == nil || hit.TaskID != "t-1" {
		t.Errorf("expected duplicate hit, got %+v", hit)
	}

	vecs.hits[0].Similarity = 0.5
	hit, err = svc.FindDuplicate(context.Background(), "u", "Totally unrelated", 0.88)
	if err != nil {
		t.Fatalf("FindDuplicate failed: %v", err)
	}
	if hit != nil {
		t.Errorf("below-threshold neighbor should not count as duplicate")
	}
}

func TestGet_EnforcesOwnership(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, CreateInput{UserID: "u", TaskText: "Update marketing copy site-wide"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = svc.Get(ctx, created.TaskID, "intruder")
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Errorf("expected permission error, got %v", err)
	}
}
