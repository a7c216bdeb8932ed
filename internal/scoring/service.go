package scoring

import (
	"context"
	"encoding/json"
	"sync"

	"planwise/internal/apperr"
	"planwise/internal/logging"
	"planwise/internal/outcome"
	"planwise/internal/plan"
	"planwise/internal/session"
	"planwise/internal/task"
)

// SessionStore is the slice of the session controller scoring writes through.
type SessionStore interface {
	IsCurrent(ctx context.Context, sessionID string) bool
	UpdateScores(ctx context.Context, sessionID string, scores interface{}) error
	GetSession(ctx context.Context, sessionID string) (*session.AgentSession, error)
	GetLatestCompleted(ctx context.Context, userID, outcomeID string) (*session.AgentSession, error)
}

// TaskReader fetches task rows for override checks.
type TaskReader interface {
	Get(ctx context.Context, taskID, userID string) (*task.TaskEmbedding, error)
	ApplyOverride(ctx context.Context, taskID, userID, sessionID string, o task.Override) (*task.TaskEmbedding, error)
}

// OutcomeReader supplies the outcome statement for impact prompts.
type OutcomeReader interface {
	GetActive(ctx context.Context, userID string) (*outcome.UserOutcome, error)
}

// Service runs the strategic scoring batch for a completed plan and serves
// score reads. One batch per session; a batch whose session has been replaced
// discards its writes.
type Service struct {
	sessions  SessionStore
	tasks     TaskReader
	outcomes  OutcomeReader
	estimator *Estimator
	queue     *RetryQueue

	mu      sync.Mutex
	batches map[string]map[string]StrategicScore // session id -> task id
}

func NewService(sessions SessionStore, tasks TaskReader, outcomes OutcomeReader, estimator *Estimator, queue *RetryQueue) *Service {
	return &Service{
		sessions:  sessions,
		tasks:     tasks,
		outcomes:  outcomes,
		estimator: estimator,
		queue:     queue,
		batches:   map[string]map[string]StrategicScore{},
	}
}

// Queue exposes the retry queue for diagnostics surfaces.
func (s *Service) Queue() *RetryQueue {
	return s.queue
}

// ScoreSession estimates impact and effort for every ordered task lacking a
// manual override and persists the batch. Estimation failures go to the retry
// queue; an exhausted job leaves its score missing but the plan stays valid.
func (s *Service) ScoreSession(ctx context.Context, sessionID, userID string, p *plan.Plan) {
	outcomeText := ""
	if oc, err := s.outcomes.GetActive(ctx, userID); err == nil {
		outcomeText = oc.AssembledText
	}

	s.mu.Lock()
	s.batches[sessionID] = map[string]StrategicScore{}
	s.mu.Unlock()

	for _, taskID := range p.OrderedTaskIDs {
		confidence := p.ConfidenceScores[taskID]

		t, err := s.tasks.Get(ctx, taskID, userID)
		if err != nil {
			logging.EventError("score_task_missing", err, map[string]interface{}{
				"session_id": sessionID, "task_id": taskID,
			})
			continue
		}

		if o := t.OverrideOf(); o != nil {
			s.record(sessionID, scoreFromOverride(taskID, o, confidence))
			continue
		}

		score, err := s.estimate(ctx, taskID, t.TaskText, outcomeText, confidence)
		if err == nil {
			s.record(sessionID, score)
			continue
		}
		if !apperr.Retriable(err) {
			logging.EventError("score_estimation_failed", err, map[string]interface{}{
				"session_id": sessionID, "task_id": taskID,
			})
			continue
		}

		taskText := t.TaskText
		s.queue.Enqueue(ctx, sessionID, taskID,
			func(ctx context.Context) error {
				retried, err := s.estimate(ctx, taskID, taskText, outcomeText, confidence)
				if err != nil {
					return err
				}
				s.record(sessionID, retried)
				return nil
			},
			func() { s.persist(ctx, sessionID) },
			nil,
		)
	}

	s.persist(ctx, sessionID)
}

func (s *Service) estimate(ctx context.Context, taskID, taskText, outcomeText string, confidence float64) (StrategicScore, error) {
	impact, reasoning, err := s.estimator.EstimateImpact(ctx, taskText, outcomeText)
	if err != nil {
		return StrategicScore{}, err
	}
	effort, err := s.estimator.EstimateEffort(ctx, taskText)
	if err != nil {
		return StrategicScore{}, err
	}
	return StrategicScore{
		TaskID:      taskID,
		Impact:      impact,
		EffortHours: effort,
		Confidence:  confidence,
		Priority:    Priority(impact, effort, confidence),
		Reasoning:   reasoning,
		Quadrant:    Quadrant(impact, effort),
	}, nil
}

func scoreFromOverride(taskID string, o *task.Override, aiConfidence float64) StrategicScore {
	return StrategicScore{
		TaskID:            taskID,
		Impact:            o.Impact,
		EffortHours:       o.EffortHours,
		Confidence:        aiConfidence,
		Priority:          Priority(o.Impact, o.EffortHours, aiConfidence),
		Reasoning:         o.Reason,
		Quadrant:          Quadrant(o.Impact, o.EffortHours),
		HasManualOverride: true,
	}
}

func (s *Service) record(sessionID string, score StrategicScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch, ok := s.batches[sessionID]; ok {
		batch[score.TaskID] = score
	}
}

// persist writes the batch to the session row, discarding when superseded.
func (s *Service) persist(ctx context.Context, sessionID string) {
	if !s.sessions.IsCurrent(ctx, sessionID) {
		logging.Event("score_batch_discarded", map[string]interface{}{"session_id": sessionID})
		return
	}
	s.mu.Lock()
	batch := make(map[string]StrategicScore, len(s.batches[sessionID]))
	for id, sc := range s.batches[sessionID] {
		batch[id] = sc
	}
	s.mu.Unlock()
	if err := s.sessions.UpdateScores(ctx, sessionID, batch); err != nil {
		logging.EventError("score_persist_failed", err, map[string]interface{}{"session_id": sessionID})
	}
}

// ScoresResult is the GetScores response.
type ScoresResult struct {
	Scores      map[string]StrategicScore `json:"scores"`
	RetryStatus map[string]JobStatus      `json:"retry_status"`
	QueueState  Diagnostics               `json:"queue_state"`
}

// GetScores reads the persisted scores plus live retry state. statusFilter
// narrows the retry map ("failed" returns only exhausted jobs).
func (s *Service) GetScores(ctx context.Context, sessionID, statusFilter string) (*ScoresResult, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	scores := map[string]StrategicScore{}
	if len(sess.StrategicScores) > 0 {
		if err := json.Unmarshal(sess.StrategicScores, &scores); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "stored scores are corrupt", err)
		}
	}

	retry := s.queue.GetStatusSnapshot(sessionID)
	if statusFilter != "" {
		filtered := map[string]JobStatus{}
		for id, st := range retry {
			if st.Status == statusFilter {
				filtered[id] = st
			}
		}
		retry = filtered
	}

	return &ScoresResult{
		Scores:      scores,
		RetryStatus: retry,
		QueueState:  s.queue.GetDiagnostics(),
	}, nil
}

// OverrideResult is the ApplyManualOverride response.
type OverrideResult struct {
	Override        task.Override `json:"override"`
	UpdatedPriority float64       `json:"updated_priority"`
	HasOverride     bool          `json:"has_manual_override"`
}

// ApplyManualOverride attaches a correction to a task and recomputes priority
// against the AI confidence of the current session. Conflict when no live
// session exists for the user's outcome.
func (s *Service) ApplyManualOverride(ctx context.Context, userID, taskID string, o task.Override) (*OverrideResult, error) {
	oc, err := s.outcomes.GetActive(ctx, userID)
	if err != nil {
		return nil, apperr.WithCode(apperr.KindConflict, "SESSION_CHANGED", "no active outcome to score against")
	}
	sess, err := s.sessions.GetLatestCompleted(ctx, userID, oc.ID)
	if err != nil {
		return nil, apperr.WithCode(apperr.KindConflict, "SESSION_CHANGED", "no completed session for this outcome")
	}

	t, err := s.tasks.ApplyOverride(ctx, taskID, userID, sess.ID, o)
	if err != nil {
		return nil, err
	}

	confidence := 0.0
	if payload := sess.Plan(); payload.IsParsed() {
		confidence = payload.Parsed.ConfidenceScores[taskID]
	}
	applied := t.OverrideOf()
	if applied == nil {
		return nil, apperr.New(apperr.KindInternal, "override did not persist")
	}

	updated := scoreFromOverride(taskID, applied, confidence)
	s.record(sess.ID, updated)
	s.persist(ctx, sess.ID)

	return &OverrideResult{
		Override:        *applied,
		UpdatedPriority: updated.Priority,
		HasOverride:     true,
	}, nil
}
