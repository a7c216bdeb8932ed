package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"planwise/internal/apperr"
	"planwise/internal/logging"
	"planwise/internal/outcome"
	"planwise/internal/plan"
)

const (
	sessionExpiry = 30 * 24 * time.Hour
	maxWallTime   = 20 * time.Minute
)

// OutcomeReader is the slice of the outcome service the controller needs.
type OutcomeReader interface {
	Get(ctx context.Context, id, userID string) (*outcome.UserOutcome, error)
}

// Runner executes the prioritization pipeline for a freshly created session.
// The controller starts it on its own goroutine with a cancellable context.
type Runner interface {
	Run(ctx context.Context, sessionID string)
}

// Controller owns the session state machine for one (user, outcome) pair at a
// time. Creating a new session replaces the previous one; late writers check
// currency before persisting.
type Controller struct {
	db       *gorm.DB
	outcomes OutcomeReader
	runner   Runner
	now      func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewController(db *gorm.DB, outcomes OutcomeReader, runner Runner) *Controller {
	return &Controller{
		db:       db,
		outcomes: outcomes,
		runner:   runner,
		now:      time.Now,
		cancels:  map[string]context.CancelFunc{},
	}
}

// SetRunner wires the pipeline after construction. The orchestrator needs the
// controller to write through, so the two are tied together at startup.
func (c *Controller) SetRunner(r Runner) {
	c.runner = r
}

// SetNowForTest overrides the clock.
func (c *Controller) SetNowForTest(now func() time.Time) {
	c.now = now
}

// StartSession verifies the outcome, deletes any prior session for the user,
// and inserts a new running session. The pipeline is started asynchronously;
// the new session id returns immediately.
func (c *Controller) StartSession(ctx context.Context, userID, outcomeID string) (string, error) {
	o, err := c.outcomes.Get(ctx, outcomeID, userID)
	if err != nil {
		return "", err
	}
	if !o.IsActive {
		return "", apperr.WithCode(apperr.KindConflict, "OUTCOME_INACTIVE", "outcome is not active")
	}

	s := &AgentSession{
		ID:                uuid.New().String(),
		UserID:            userID,
		OutcomeID:         outcomeID,
		Status:            StatusRunning,
		ExecutionMetadata: mustJSON(ExecutionMetadata{}),
	}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&AgentSession{}).Error; err != nil {
			return err
		}
		return tx.Create(s).Error
	})
	if err != nil {
		return "", err
	}

	// Cancel any pipeline still attached to a replaced session.
	c.mu.Lock()
	for id, cancel := range c.cancels {
		cancel()
		delete(c.cancels, id)
	}
	runCtx, cancel := context.WithTimeout(context.Background(), maxWallTime)
	c.cancels[s.ID] = cancel
	c.mu.Unlock()

	if c.runner != nil {
		go func() {
			defer c.release(s.ID)
			c.runner.Run(runCtx, s.ID)
		}()
	}

	logging.Event("session_started", map[string]interface{}{
		"session_id": s.ID,
		"user_id":    userID,
		"outcome_id": outcomeID,
	})
	return s.ID, nil
}

// Cancel aborts a running session's pipeline. The runner observes the
// cancelled context at its next suspension point and marks the session failed.
func (c *Controller) Cancel(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.cancels[sessionID]
	if ok {
		cancel()
		delete(c.cancels, sessionID)
	}
	return ok
}

func (c *Controller) release(sessionID string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[sessionID]; ok {
		cancel()
		delete(c.cancels, sessionID)
	}
	c.mu.Unlock()
}

// GetSession loads one session, sweeping expired rows and applying the
// wall-time failsafe on the way. The prioritized plan column is re-encoded in
// normalized form when the store returned a stringified blob.
func (c *Controller) GetSession(ctx context.Context, sessionID string) (*AgentSession, error) {
	c.sweepExpired(ctx)

	var s AgentSession
	err := c.db.WithContext(ctx).Where("id = ?", sessionID).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, "session not found: %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	c.applyFailsafe(ctx, &s)
	c.normalizePlanColumns(&s)
	return &s, nil
}

// GetLatestCompleted returns the newest completed session for the pair.
func (c *Controller) GetLatestCompleted(ctx context.Context, userID, outcomeID string) (*AgentSession, error) {
	c.sweepExpired(ctx)

	var s AgentSession
	err := c.db.WithContext(ctx).
		Where("user_id = ? AND outcome_id = ? AND status = ?", userID, outcomeID, StatusCompleted).
		Order("created_at DESC").
		First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.New(apperr.KindNotFound, "no completed session for outcome")
	}
	if err != nil {
		return nil, err
	}
	c.normalizePlanColumns(&s)
	return &s, nil
}

// IsCurrent reports whether sessionID is still the live session for its
// (user, outcome) pair. Late writers from superseded sessions check this and
// discard their writes.
func (c *Controller) IsCurrent(ctx context.Context, sessionID string) bool {
	var s AgentSession
	if err := c.db.WithContext(ctx).Where("id = ?", sessionID).First(&s).Error; err != nil {
		return false
	}
	var latest AgentSession
	err := c.db.WithContext(ctx).
		Where("user_id = ?", s.UserID).
		Order("created_at DESC").
		First(&latest).Error
	return err == nil && latest.ID == sessionID
}

// MarkCompleted persists the plan, its baseline snapshot, and the loop traces,
// then flips the state to completed.
func (c *Controller) MarkCompleted(ctx context.Context, sessionID string, p *plan.Plan, evalMeta interface{}, execMeta ExecutionMetadata) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status":              StatusCompleted,
		"prioritized_plan":    datatypes.JSON(raw),
		"baseline_plan":       datatypes.JSON(raw),
		"evaluation_metadata": mustJSON(evalMeta),
		"execution_metadata":  mustJSON(execMeta),
	}
	return c.transition(ctx, sessionID, updates)
}

// MarkFailed records the failure reason in execution metadata.
func (c *Controller) MarkFailed(ctx context.Context, sessionID, reason string, execMeta ExecutionMetadata) error {
	execMeta.FailureReason = reason
	if execMeta.ErrorCount == 0 {
		execMeta.ErrorCount = 1
	}
	return c.transition(ctx, sessionID, map[string]interface{}{
		"status":             StatusFailed,
		"execution_metadata": mustJSON(execMeta),
	})
}

func (c *Controller) transition(ctx context.Context, sessionID string, updates map[string]interface{}) error {
	if !c.IsCurrent(ctx, sessionID) {
		logging.Event("session_write_discarded", map[string]interface{}{"session_id": sessionID})
		return apperr.WithCode(apperr.KindConflict, "SESSION_CHANGED", "session was replaced")
	}
	res := c.db.WithContext(ctx).Model(&AgentSession{}).
		Where("id = ? AND status = ?", sessionID, StatusRunning).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindConflict, "session %s is not running", sessionID)
	}
	return nil
}

// UpdateScores persists the scoring batch result, discarding if superseded.
func (c *Controller) UpdateScores(ctx context.Context, sessionID string, scores interface{}) error {
	if !c.IsCurrent(ctx, sessionID) {
		return apperr.WithCode(apperr.KindConflict, "SESSION_CHANGED", "session was replaced")
	}
	return c.db.WithContext(ctx).Model(&AgentSession{}).
		Where("id = ?", sessionID).
		Update("strategic_scores", mustJSON(scores)).Error
}

// UpdatePlan replaces a live session's plan document.
func (c *Controller) UpdatePlan(ctx context.Context, sessionID string, p *plan.Plan) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.db.WithContext(ctx).Model(&AgentSession{}).
		Where("id = ?", sessionID).
		Update("prioritized_plan", datatypes.JSON(raw)).Error
}

// UpdateAdjustedPlan stores the reflection-adjusted plan alongside the baseline.
func (c *Controller) UpdateAdjustedPlan(ctx context.Context, sessionID string, p *plan.Plan) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.db.WithContext(ctx).Model(&AgentSession{}).
		Where("id = ?", sessionID).
		Update("adjusted_plan", datatypes.JSON(raw)).Error
}

// SaveReasoningTraces persists the loop's per-iteration trace rows.
func (c *Controller) SaveReasoningTraces(ctx context.Context, traces []ReasoningTrace) error {
	if len(traces) == 0 {
		return nil
	}
	return c.db.WithContext(ctx).Create(&traces).Error
}

// ReasoningTraces returns a session's trace rows in iteration order.
func (c *Controller) ReasoningTraces(ctx context.Context, sessionID string) ([]ReasoningTrace, error) {
	var traces []ReasoningTrace
	err := c.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("iteration ASC").
		Find(&traces).Error
	return traces, err
}

// UpdateResult patches the result attachment (gap analysis, coverage).
func (c *Controller) UpdateResult(ctx context.Context, sessionID string, result interface{}) error {
	return c.db.WithContext(ctx).Model(&AgentSession{}).
		Where("id = ?", sessionID).
		Update("result", mustJSON(result)).Error
}

// sweepExpired opportunistically deletes sessions past the retention window.
func (c *Controller) sweepExpired(ctx context.Context) {
	cutoff := c.now().Add(-sessionExpiry)
	res := c.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&AgentSession{})
	if res.Error == nil && res.RowsAffected > 0 {
		logging.Event("sessions_expired", map[string]interface{}{"count": res.RowsAffected})
	}
}

// applyFailsafe force-fails a running session past the wall-time budget.
func (c *Controller) applyFailsafe(ctx context.Context, s *AgentSession) {
	if s.Status != StatusRunning || c.now().Sub(s.CreatedAt) <= maxWallTime {
		return
	}
	meta := s.ExecMeta()
	meta.FailureReason = "wall time exceeded"
	meta.ErrorCount++
	err := c.db.WithContext(ctx).Model(&AgentSession{}).
		Where("id = ? AND status = ?", s.ID, StatusRunning).
		Updates(map[string]interface{}{
			"status":             StatusFailed,
			"execution_metadata": mustJSON(meta),
		}).Error
	if err == nil {
		s.Status = StatusFailed
		s.ExecutionMetadata = mustJSON(meta)
	}
}

// normalizePlanColumns re-encodes plan columns that arrived stringified.
func (c *Controller) normalizePlanColumns(s *AgentSession) {
	for _, col := range []*datatypes.JSON{&s.PrioritizedPlan, &s.BaselinePlan, &s.AdjustedPlan} {
		if len(*col) == 0 {
			continue
		}
		payload := plan.NormalizePayload(*col)
		if !payload.IsParsed() {
			continue
		}
		if raw, err := json.Marshal(payload.Parsed); err == nil {
			*col = datatypes.JSON(raw)
		}
	}
}
