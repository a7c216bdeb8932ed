package session

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"planwise/internal/apperr"
	"planwise/internal/outcome"
	"planwise/internal/plan"
)

type fakeOutcomes struct {
	active bool
}

func (f *fakeOutcomes) Get(ctx context.Context, id, userID string) (*outcome.UserOutcome, error) {
	return &outcome.UserOutcome{ID: id, UserID: userID, IsActive: f.active}, nil
}

func setupController(t *testing.T) *Controller {
	t.Helper()
	dbConn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := dbConn.AutoMigrate(&AgentSession{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewController(dbConn, &fakeOutcomes{active: true}, nil)
}

func TestStartSession_ReplacesPrior(t *testing.T) {
	c := setupController(t)
	ctx := context.Background()

	first, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	second, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("second StartSession failed: %v", err)
	}
	if first == second {
		t.Fatal("replacement must mint a new session id")
	}

	var count int64
	c.db.Model(&AgentSession{}).Where("user_id = ?", "u").Count(&count)
	if count != 1 {
		t.Errorf("expected exactly one live session, got %d", count)
	}
	if _, err := c.GetSession(ctx, first); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("replaced session should be gone, got %v", err)
	}
}

func TestStartSession_RejectsInactiveOutcome(t *testing.T) {
	c := setupController(t)
	c.outcomes = &fakeOutcomes{active: false}
	_, err := c.StartSession(context.Background(), "u", "o")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict for inactive outcome, got %v", err)
	}
}

func TestGetSession_WallTimeFailsafe(t *testing.T) {
	c := setupController(t)
	ctx := context.Background()
	id, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	c.SetNowForTest(func() time.Time { return time.Now().Add(25 * time.Minute) })
	s, err := c.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.Status != StatusFailed {
		t.Errorf("running session past wall time should be failed, got %s", s.Status)
	}
	if s.ExecMeta().ErrorCount < 1 {
		t.Error("failsafe must record an error count")
	}
}

func TestGetSession_SweepsExpired(t *testing.T) {
	c := setupController(t)
	ctx := context.Background()
	id, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	c.SetNowForTest(func() time.Time { return time.Now().Add(31 * 24 * time.Hour) })
	if _, err := c.GetSession(ctx, id); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("session older than 30 days should be swept, got %v", err)
	}
}

func TestMarkCompleted_AndLatestCompleted(t *testing.T) {
	c := setupController(t)
	ctx := context.Background()
	id, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	p := &plan.Plan{
		OrderedTaskIDs:   []string{"t1", "t2"},
		ConfidenceScores: map[string]float64{"t1": 0.9, "t2": 0.8},
		CreatedAt:        time.Now(),
	}
	exec := ExecutionMetadata{StepsTaken: 4, TotalMS: 1200, SuccessRate: 1}
	if err := c.MarkCompleted(ctx, id, p, map[string]int{"iterations": 1}, exec); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	got, err := c.GetLatestCompleted(ctx, "u", "o")
	if err != nil {
		t.Fatalf("GetLatestCompleted failed: %v", err)
	}
	if got.ID != id || got.Status != StatusCompleted {
		t.Errorf("unexpected session: %s %s", got.ID, got.Status)
	}
	payload := got.Plan()
	if !payload.IsParsed() || payload.Parsed.OrderedTaskIDs[0] != "t1" {
		t.Errorf("completed session should carry the plan, got %+v", payload)
	}
	if len(got.BaselinePlan) == 0 {
		t.Error("completion must snapshot the baseline plan")
	}
}

func TestGetSession_NormalizesStringifiedPlan(t *testing.T) {
	c := setupController(t)
	ctx := context.Background()
	id, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// Simulate LLM persistence leaving the plan double-encoded.
	stringified := `"{\"ordered_task_ids\": [\"t1\"], \"confidence_scores\": {\"t1\": 0.9}}"`
	if err := c.db.Model(&AgentSession{}).Where("id = ?", id).
		Update("prioritized_plan", stringified).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	s, err := c.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	payload := s.Plan()
	if !payload.IsParsed() {
		t.Fatalf("stringified plan should normalize, got raw %q", payload.Raw)
	}
	if payload.Parsed.OrderedTaskIDs[0] != "t1" {
		t.Errorf("unexpected ordering: %v", payload.Parsed.OrderedTaskIDs)
	}
}

func TestTransition_DiscardsSupersededWriter(t *testing.T) {
	c := setupController(t)
	ctx := context.Background()
	first, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := c.StartSession(ctx, "u", "o"); err != nil {
		t.Fatalf("replacement StartSession failed: %v", err)
	}

	err = c.MarkCompleted(ctx, first, &plan.Plan{OrderedTaskIDs: []string{"t"}}, nil, ExecutionMetadata{})
	if apperr.CodeOf(err) != "SESSION_CHANGED" {
		t.Errorf("late writer must be rejected with SESSION_CHANGED, got %v", err)
	}
}

func TestMarkFailed_RecordsReason(t *testing.T) {
	c := setupController(t)
	ctx := context.Background()
	id, err := c.StartSession(ctx, "u", "o")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := c.MarkFailed(ctx, id, "cancelled", ExecutionMetadata{StepsTaken: 2}); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	s, err := c.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	meta := s.ExecMeta()
	if s.Status != StatusFailed || meta.FailureReason != "cancelled" || meta.ErrorCount < 1 {
		t.Errorf("failure bookkeeping wrong: status=%s meta=%+v", s.Status, meta)
	}
}
