package progress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"planwise/internal/apperr"
	"planwise/internal/scoring"
	"planwise/internal/session"
)

type scriptedSessions struct {
	mu            sync.Mutex
	statuses      []session.Status
	calls         int
	fail          bool
	failureReason string
}

func (s *scriptedSessions) GetSession(ctx context.Context, sessionID string) (*session.AgentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, apperr.Newf(apperr.KindNotFound, "session not found: %s", sessionID)
	}
	st := s.statuses[len(s.statuses)-1]
	if s.calls < len(s.statuses) {
		st = s.statuses[s.calls]
	}
	s.calls++
	sess := &session.AgentSession{ID: sessionID, UserID: "u1", Status: st}
	if st == session.StatusFailed {
		sess.ExecutionMetadata = datatypes.JSON(`{"error_count": 1, "failure_reason": "` + s.failureReason + `"}`)
	}
	return sess, nil
}

type staticScores struct{ n int }

func (s *staticScores) GetScores(ctx context.Context, sessionID, statusFilter string) (*scoring.ScoresResult, error) {
	scores := map[string]scoring.StrategicScore{}
	for i := 0; i < s.n; i++ {
		scores[string(rune('a'+i))] = scoring.StrategicScore{}
	}
	return &scoring.ScoresResult{Scores: scores}, nil
}

func streamBody(t *testing.T, s *Streamer) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/stream/:id", func(c *gin.Context) {
		s.ServeSSE(c, c.Param("id"))
	})

	req := httptest.NewRequest(http.MethodGet, "/stream/sess1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Body.String()
}

func TestServeSSE_StreamsUntilTerminal(t *testing.T) {
	sessions := &scriptedSessions{statuses: []session.Status{
		session.StatusRunning,
		session.StatusRunning,
		session.StatusCompleted,
	}}
	s := NewStreamer(sessions, &staticScores{n: 2})
	s.SetIntervalForTest(5 * time.Millisecond)

	body := streamBody(t, s)
	for _, event := range []string{"event:session", "event:scores", "event:progress"} {
		if !strings.Contains(body, event) {
			t.Errorf("stream must carry %s frames:\n%s", event, body)
		}
	}
	if !strings.Contains(body, `"progress_pct":100`) {
		t.Errorf("final progress frame must report 100:\n%s", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("final frame must carry the terminal status:\n%s", body)
	}
	if strings.Contains(body, "event:error") {
		t.Errorf("a clean completion must not emit an error frame:\n%s", body)
	}
}

func TestServeSSE_FailedSessionClosesWithError(t *testing.T) {
	sessions := &scriptedSessions{
		statuses:      []session.Status{session.StatusRunning, session.StatusFailed},
		failureReason: "cancelled",
	}
	s := NewStreamer(sessions, &staticScores{})
	s.SetIntervalForTest(5 * time.Millisecond)

	body := streamBody(t, s)
	if !strings.Contains(body, "event:error") {
		t.Fatalf("a failed session must close with an error frame:\n%s", body)
	}
	if !strings.Contains(body, `"message":"cancelled"`) {
		t.Errorf("error frame must carry the failure reason:\n%s", body)
	}
	if strings.Contains(body, `"progress_pct":100`) {
		t.Errorf("a failed session must not report full progress:\n%s", body)
	}
}

func TestServeSSE_ProgressPctGrowsWithPlanAndScores(t *testing.T) {
	base := Snapshot{Status: session.StatusRunning}
	if got := base.progressPct(); got != 10 {
		t.Errorf("bare running session = %d, want 10", got)
	}
	withPlan := Snapshot{Status: session.StatusRunning, HasPlan: true, ScoredTasks: 3}
	if got := withPlan.progressPct(); got != 75 {
		t.Errorf("plan plus 3 scores = %d, want 75", got)
	}
	capped := Snapshot{Status: session.StatusRunning, HasPlan: true, ScoredTasks: 40}
	if got := capped.progressPct(); got != 95 {
		t.Errorf("running session must cap at 95, got %d", got)
	}
	done := Snapshot{Status: session.StatusCompleted}
	if got := done.progressPct(); got != 100 {
		t.Errorf("terminal session = %d, want 100", got)
	}
}

func TestServeSSE_UnchangedFramesDegradeToHeartbeat(t *testing.T) {
	sessions := &scriptedSessions{statuses: []session.Status{
		session.StatusRunning,
		session.StatusRunning,
		session.StatusRunning,
		session.StatusCompleted,
	}}
	s := NewStreamer(sessions, &staticScores{})
	s.SetIntervalForTest(5 * time.Millisecond)

	body := streamBody(t, s)
	if !strings.Contains(body, "event:heartbeat") {
		t.Errorf("repeated identical frames should heartbeat:\n%s", body)
	}
}

func TestServeSSE_FiveFailuresCloseWithError(t *testing.T) {
	sessions := &scriptedSessions{fail: true}
	s := NewStreamer(sessions, &staticScores{})
	s.SetIntervalForTest(5 * time.Millisecond)

	body := streamBody(t, s)
	if got := strings.Count(body, "event:warning"); got != maxReadFailures-1 {
		t.Errorf("expected %d warnings before closing, got %d:\n%s", maxReadFailures-1, got, body)
	}
	if !strings.Contains(body, "event:error") {
		t.Errorf("persistent failures must close with an error frame:\n%s", body)
	}
	if strings.Contains(body, `"progress_pct":100`) {
		t.Errorf("a dead stream must not report full progress:\n%s", body)
	}
}
