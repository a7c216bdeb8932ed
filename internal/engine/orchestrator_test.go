package engine

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"planwise/internal/embedding"
	"planwise/internal/outcome"
	"planwise/internal/plan"
	"planwise/internal/session"
	"planwise/internal/task"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}

type nullVectors struct{}

func (nullVectors) UpsertTask(ctx context.Context, tp *embedding.TaskPoint) error { return nil }
func (nullVectors) SetStatus(ctx context.Context, taskID, status string) error    { return nil }
func (nullVectors) SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64, userID string) ([]embedding.SearchResult, error) {
	return nil, nil
}
func (nullVectors) DeleteTasks(ctx context.Context, taskIDs []string) error { return nil }

// fakeSessionWriter records the terminal transition the orchestrator takes.
type fakeSessionWriter struct {
	sess         *session.AgentSession
	completed    bool
	failedReason string
	failedExec   session.ExecutionMetadata
	traces       []session.ReasoningTrace
}

func (f *fakeSessionWriter) GetSession(ctx context.Context, sessionID string) (*session.AgentSession, error) {
	return f.sess, nil
}

func (f *fakeSessionWriter) MarkCompleted(ctx context.Context, sessionID string, p *plan.Plan, evalMeta interface{}, execMeta session.ExecutionMetadata) error {
	f.completed = true
	return nil
}

func (f *fakeSessionWriter) MarkFailed(ctx context.Context, sessionID, reason string, execMeta session.ExecutionMetadata) error {
	f.failedReason = reason
	f.failedExec = execMeta
	return nil
}

func (f *fakeSessionWriter) SaveReasoningTraces(ctx context.Context, traces []session.ReasoningTrace) error {
	f.traces = append(f.traces, traces...)
	return nil
}

func orchestratorHarness(t *testing.T) (*outcome.Service, *task.Service, []string, *fakeSessionWriter) {
	t.Helper()
	dbConn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := dbConn.AutoMigrate(&outcome.UserOutcome{}, &task.TaskEmbedding{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	outcomes := outcome.NewService(dbConn)
	oc, err := outcomes.Activate(ctx, outcome.CreateInput{
		UserID:     "u1",
		Direction:  outcome.DirectionLaunch,
		ObjectText: "the mobile app",
	})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	tasks := task.NewService(dbConn, fixedEmbedder{}, nullVectors{})
	var ids []string
	for _, text := range []string{
		"Ship the iOS beta to external testers",
		"Collect beta feedback from the first cohort",
	} {
		created, err := tasks.Create(ctx, task.CreateInput{UserID: "u1", TaskText: text})
		if err != nil {
			t.Fatalf("Create task: %v", err)
		}
		ids = append(ids, created.TaskID)
	}

	writer := &fakeSessionWriter{sess: &session.AgentSession{
		ID:        "sess1",
		UserID:    "u1",
		OutcomeID: oc.ID,
		Status:    session.StatusRunning,
	}}
	return outcomes, tasks, ids, writer
}

func orchestratorReply(ids []string, confidence float64) string {
	return fmt.Sprintf(`{
		"included_tasks": [%q, %q],
		"excluded_tasks": [],
		"ordered_task_ids": [%q, %q],
		"per_task_scores": {
			%q: {"impact": 8, "effort": 16, "confidence": 0.9, "brief_reasoning": "unblocks the beta release for external testers"},
			%q: {"impact": 5, "effort": 8, "confidence": 0.7, "brief_reasoning": "follows beta feedback before wider rollout"}
		},
		"confidence": %.2f,
		"thoughts": {"strategy": "ship first"}
	}`, ids[0], ids[1], ids[0], ids[1], ids[0], ids[1], confidence)
}

func TestOrchestrator_CancellationMarksSessionFailed(t *testing.T) {
	outcomes, tasks, ids, writer := orchestratorHarness(t)
	chat := &scriptedChat{
		replies: []string{
			orchestratorReply(ids, 0.6),
			evaluatorReply("NEEDS_IMPROVEMENT", "tighten the ordering"),
		},
		errs: []error{nil, nil, context.Canceled},
	}
	o := NewOrchestrator(writer, outcomes, tasks, nil, NewLoop(NewGenerator(chat), NewEvaluator(chat)), nil)

	o.Run(context.Background(), "sess1")

	if writer.completed {
		t.Fatal("cancelled run must not complete the session")
	}
	if writer.failedReason != "cancelled" {
		t.Errorf("failure reason = %q, want cancelled", writer.failedReason)
	}
	if writer.failedExec.ErrorCount < 1 {
		t.Errorf("error_count = %d, want at least 1", writer.failedExec.ErrorCount)
	}
}

func TestOrchestrator_PersistsReasoningTraces(t *testing.T) {
	outcomes, tasks, ids, writer := orchestratorHarness(t)
	chat := &scriptedChat{replies: []string{orchestratorReply(ids, 0.95)}}
	o := NewOrchestrator(writer, outcomes, tasks, nil, NewLoop(NewGenerator(chat), NewEvaluator(chat)), nil)

	o.Run(context.Background(), "sess1")

	if !writer.completed {
		t.Fatal("run should complete")
	}
	if len(writer.traces) != 1 {
		t.Fatalf("expected 1 reasoning trace, got %d", len(writer.traces))
	}
	if writer.traces[0].SessionID != "sess1" || writer.traces[0].Iteration != 1 {
		t.Errorf("trace mislabeled: %+v", writer.traces[0])
	}
	if writer.traces[0].Confidence != 0.95 {
		t.Errorf("trace confidence = %v, want 0.95", writer.traces[0].Confidence)
	}
}
