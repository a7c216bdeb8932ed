package manualtask

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"planwise/internal/apperr"
	"planwise/internal/embedding"
	"planwise/internal/llm"
	"planwise/internal/logging"
	"planwise/internal/outcome"
	"planwise/internal/session"
	"planwise/internal/task"
)

const (
	duplicateThreshold = 0.88
	placementTimeout   = 15 * time.Second
	retentionWindow    = 30 * 24 * time.Hour

	// CodeDuplicateTask rejects a manual add that near-matches an existing
	// task unless the caller forces creation.
	CodeDuplicateTask = "DUPLICATE_TASK"
)

// Tasks is the slice of the task service this package needs.
type Tasks interface {
	Create(ctx context.Context, in task.CreateInput) (*task.TaskEmbedding, error)
	FindDuplicate(ctx context.Context, userID, text string, threshold float64) (*embedding.SearchResult, error)
	TextsFor(ctx context.Context, userID string, taskIDs []string) (map[string]string, error)
}

// OutcomeReader resolves the user's active outcome for placement context.
type OutcomeReader interface {
	GetActive(ctx context.Context, userID string) (*outcome.UserOutcome, error)
}

// SessionReader resolves the latest completed plan the task is placed into.
type SessionReader interface {
	GetLatestCompleted(ctx context.Context, userID, outcomeID string) (*session.AgentSession, error)
}

// Service runs manually added tasks through duplicate detection and a
// single-task placement judgment against the active plan.
type Service struct {
	db       *gorm.DB
	tasks    Tasks
	outcomes OutcomeReader
	sessions SessionReader
	chat     llm.ChatService
	now      func() time.Time
}

func NewService(db *gorm.DB, tasks Tasks, outcomes OutcomeReader, sessions SessionReader, chat llm.ChatService) *Service {
	return &Service{
		db:       db,
		tasks:    tasks,
		outcomes: outcomes,
		sessions: sessions,
		chat:     chat,
		now:      time.Now,
	}
}

// CreateResult is the CreateManualTask response.
type CreateResult struct {
	ManualTask ManualTask          `json:"manual_task"`
	Task       *task.TaskEmbedding `json:"task,omitempty"`
}

// Create adds a manual task. A near-duplicate blocks creation unless
// forceCreate is set; otherwise the task is embedded, recorded as analyzing,
// and handed to the placement judgment. A placement timeout leaves the row
// analyzing for a later retry rather than failing the request.
func (s *Service) Create(ctx context.Context, userID, text string, forceCreate bool) (*CreateResult, error) {
	trimmed, err := task.ValidateText(text)
	if err != nil {
		return nil, err
	}
	active, err := s.outcomes.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	dup, err := s.tasks.FindDuplicate(ctx, userID, trimmed, duplicateThreshold)
	if err != nil {
		return nil, err
	}
	if dup != nil && !forceCreate {
		mt := ManualTask{
			ID:              uuid.New().String(),
			UserID:          userID,
			OutcomeID:       active.ID,
			Status:          StatusConflict,
			DuplicateTaskID: dup.TaskID,
			SimilarityScore: dup.Similarity,
		}
		if err := s.db.WithContext(ctx).Create(&mt).Error; err != nil {
			return nil, err
		}
		e := apperr.WithCode(apperr.KindConflict, CodeDuplicateTask,
			fmt.Sprintf("near-duplicate of existing task %s (similarity %.2f)", dup.TaskID, dup.Similarity))
		e.Fields = map[string]string{
			"duplicate_task_id": dup.TaskID,
			"manual_task_id":    mt.ID,
		}
		return &CreateResult{ManualTask: mt}, e
	}

	created, err := s.tasks.Create(ctx, task.CreateInput{
		UserID:    userID,
		TaskText:  trimmed,
		IsManual:  true,
		CreatedBy: "manual",
	})
	if err != nil {
		return nil, err
	}

	mt := ManualTask{
		ID:        uuid.New().String(),
		TaskID:    created.TaskID,
		UserID:    userID,
		OutcomeID: active.ID,
		Status:    StatusAnalyzing,
	}
	if err := s.db.WithContext(ctx).Create(&mt).Error; err != nil {
		return nil, err
	}

	s.analyze(ctx, &mt, trimmed, active)
	return &CreateResult{ManualTask: mt, Task: created}, nil
}

type placementResponse struct {
	Decision        string `json:"decision"` // include or exclude
	Rank            int    `json:"rank"`
	PlacementReason string `json:"placement_reason"`
	ExclusionReason string `json:"exclusion_reason"`
}

// analyze runs the placement judgment and writes the verdict. Errors leave
// the row analyzing; the verdict is advisory, not load-bearing.
func (s *Service) analyze(ctx context.Context, mt *ManualTask, text string, active *outcome.UserOutcome) {
	started := s.now()

	callCtx, cancel := context.WithTimeout(ctx, placementTimeout)
	defer cancel()

	planTexts, planSize := s.planContext(callCtx, mt.UserID, active.ID)
	prompt := renderPlacementPrompt(active.AssembledText, text, planTexts)

	var parsed placementResponse
	if err := s.chat.CompleteJSON(callCtx, prompt, &parsed); err != nil {
		logging.EventError("manual_task_analysis_failed", err, map[string]interface{}{
			"manual_task_id": mt.ID,
			"user_id":        mt.UserID,
		})
		return
	}

	updates := map[string]interface{}{}
	switch parsed.Decision {
	case "include":
		rank := parsed.Rank
		if rank < 0 {
			rank = 0
		}
		if rank > planSize {
			rank = planSize
		}
		mt.Status = StatusPrioritized
		mt.AgentRank = rank
		mt.PlacementReason = parsed.PlacementReason
		updates["status"] = StatusPrioritized
		updates["agent_rank"] = rank
		updates["placement_reason"] = parsed.PlacementReason
	case "exclude":
		mt.Status = StatusNotRelevant
		mt.ExclusionReason = parsed.ExclusionReason
		updates["status"] = StatusNotRelevant
		updates["exclusion_reason"] = parsed.ExclusionReason
	default:
		logging.Event("manual_task_analysis_failed", map[string]interface{}{
			"manual_task_id": mt.ID,
			"reason":         fmt.Sprintf("unknown decision %q", parsed.Decision),
		})
		return
	}

	if err := s.db.WithContext(ctx).Model(&ManualTask{}).
		Where("id = ?", mt.ID).Updates(updates).Error; err != nil {
		logging.EventError("manual_task_analysis_failed", err, map[string]interface{}{
			"manual_task_id": mt.ID,
		})
		return
	}

	logging.Event("manual_task_analyzed", map[string]interface{}{
		"manual_task_id":       mt.ID,
		"status":               string(mt.Status),
		"rank":                 mt.AgentRank,
		"exclusion_reason":     mt.ExclusionReason,
		"analysis_duration_ms": s.now().Sub(started).Milliseconds(),
	})
}

// planContext resolves the latest completed plan's task texts in order.
func (s *Service) planContext(ctx context.Context, userID, outcomeID string) ([]string, int) {
	sess, err := s.sessions.GetLatestCompleted(ctx, userID, outcomeID)
	if err != nil {
		return nil, 0
	}
	p, err := sess.Plan().MustPlan()
	if err != nil {
		return nil, 0
	}
	texts, err := s.tasks.TextsFor(ctx, userID, p.OrderedTaskIDs)
	if err != nil {
		return nil, len(p.OrderedTaskIDs)
	}
	ordered := make([]string, 0, len(p.OrderedTaskIDs))
	for _, id := range p.OrderedTaskIDs {
		if t, ok := texts[id]; ok {
			ordered = append(ordered, t)
		}
	}
	return ordered, len(p.OrderedTaskIDs)
}

func renderPlacementPrompt(outcomeText, taskText string, planTexts []string) string {
	var b strings.Builder
	b.WriteString("You are placing one newly added task into an existing prioritized plan.\n\n")
	b.WriteString("OUTCOME: " + outcomeText + "\n\n")
	if len(planTexts) > 0 {
		b.WriteString("CURRENT PLAN (best first):\n")
		for i, t := range planTexts {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t)
		}
		b.WriteString("\n")
	}
	b.WriteString("NEW TASK: " + taskText + "\n\n")
	b.WriteString(`Decide whether the new task serves the outcome. rank is the 0-based position it should take in the plan.

Respond ONLY with valid JSON:
{"decision": "include", "rank": 2, "placement_reason": "...", "exclusion_reason": ""}`)
	return b.String()
}

// Get returns one manual task, enforcing ownership.
func (s *Service) Get(ctx context.Context, id, userID string) (*ManualTask, error) {
	var mt ManualTask
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&mt).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, "manual task not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if mt.UserID != userID {
		return nil, apperr.New(apperr.KindPermission, "manual task belongs to another user")
	}
	return &mt, nil
}

// List returns the user's manual tasks, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]ManualTask, error) {
	var out []ManualTask
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// OverrideDiscard puts a not_relevant task back into analysis, with an
// optional justification, and re-runs the judgment.
func (s *Service) OverrideDiscard(ctx context.Context, id, userID, justification string) (*ManualTask, error) {
	mt, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if mt.Status != StatusNotRelevant {
		return nil, apperr.Newf(apperr.KindConflict, "only not_relevant tasks can be overridden, task is %s", mt.Status)
	}
	justification = strings.TrimSpace(justification)

	err = s.db.WithContext(ctx).Model(&ManualTask{}).
		Where("id = ?", mt.ID).
		Updates(map[string]interface{}{
			"status":             StatusAnalyzing,
			"exclusion_reason":   "",
			"user_justification": justification,
		}).Error
	if err != nil {
		return nil, err
	}
	mt.Status = StatusAnalyzing
	mt.ExclusionReason = ""
	mt.UserJustification = justification

	if active, err := s.outcomes.GetActive(ctx, userID); err == nil {
		texts, _ := s.tasks.TextsFor(ctx, userID, []string{mt.TaskID})
		text := texts[mt.TaskID]
		if text != "" {
			if justification != "" {
				// The justification rides along so the second pass can weigh it.
				text += "\nUSER NOTE: " + justification
			}
			s.analyze(ctx, mt, text, active)
		}
	}
	return mt, nil
}

// MarkDone timestamps completion of a prioritized manual task.
func (s *Service) MarkDone(ctx context.Context, id, userID string) (*ManualTask, error) {
	mt, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	done := s.now()
	err = s.db.WithContext(ctx).Model(&ManualTask{}).
		Where("id = ?", mt.ID).Update("marked_done_at", done).Error
	if err != nil {
		return nil, err
	}
	mt.MarkedDoneAt = &done
	return mt, nil
}

// InvalidateForOutcome moves every placement verdict tied to an outcome into
// the discard pile in one statement. Activating a new outcome calls this so
// stale ranks never survive an outcome switch; the rows stay recoverable for
// the retention window.
func (s *Service) InvalidateForOutcome(ctx context.Context, outcomeID, reason string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&ManualTask{}).
		Where("outcome_id = ? AND status IN ?", outcomeID, []Status{StatusPrioritized, StatusNotRelevant}).
		Updates(map[string]interface{}{
			"status":             StatusNotRelevant,
			"agent_rank":         0,
			"placement_reason":   "",
			"invalidated_reason": reason,
			"deleted_at":         s.now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logging.Event("manual_tasks_invalidated", map[string]interface{}{
			"outcome_id": outcomeID,
			"reason":     reason,
			"count":      res.RowsAffected,
		})
	}
	return res.RowsAffected, nil
}

// SweepDeleted hard-removes soft-deleted rows past the retention window.
func (s *Service) SweepDeleted(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-retentionWindow)
	res := s.db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Delete(&ManualTask{})
	return res.RowsAffected, res.Error
}

// Delete soft-deletes a manual task.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	mt, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&ManualTask{}, "id = ?", mt.ID).Error
}
