package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"planwise/internal/apperr"
	"planwise/internal/embedding"
)

const (
	minTaskTextLen = 10
	maxTaskTextLen = 500
)

// EmbedClient is the slice of the embedding service this package needs.
type EmbedClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the slice of the vector store this package needs.
type VectorStore interface {
	UpsertTask(ctx context.Context, tp *embedding.TaskPoint) error
	SetStatus(ctx context.Context, taskID, status string) error
	SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64, userID string) ([]embedding.SearchResult, error)
	DeleteTasks(ctx context.Context, taskIDs []string) error
}

// Service owns task rows and keeps the vector store payload in sync.
type Service struct {
	db       *gorm.DB
	embedder EmbedClient
	vectors  VectorStore
}

func NewService(db *gorm.DB, embedder EmbedClient, vectors VectorStore) *Service {
	return &Service{db: db, embedder: embedder, vectors: vectors}
}

// ValidateText trims and checks the 10-500 char constraint.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minTaskTextLen {
		return "", apperr.Validation("task text too short", map[string]string{
			"task_text": fmt.Sprintf("must be at least %d characters after trimming", minTaskTextLen),
		})
	}
	if len(trimmed) > maxTaskTextLen {
		return "", apperr.Validation("task text too long", map[string]string{
			"task_text": fmt.Sprintf("must be at most %d characters", maxTaskTextLen),
		})
	}
	return trimmed, nil
}

// CreateInput describes one task to embed.
type CreateInput struct {
	UserID     string
	TaskText   string
	DocumentID string
	IsManual   bool
	CreatedBy  string
}

// Create validates, embeds, and persists one task in both stores.
func (s *Service) Create(ctx context.Context, in CreateInput) (*TaskEmbedding, error) {
	text, err := ValidateText(in.TaskText)
	if err != nil {
		return nil, err
	}
	if in.UserID == "" {
		return nil, apperr.Validation("invalid task", map[string]string{"user_id": "required"})
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding task text: %w", err)
	}

	t := &TaskEmbedding{
		TaskID:     uuid.New().String(),
		UserID:     in.UserID,
		TaskText:   text,
		DocumentID: in.DocumentID,
		Status:     StatusPending,
		IsManual:   in.IsManual,
		CreatedBy:  in.CreatedBy,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	err = s.vectors.UpsertTask(ctx, &embedding.TaskPoint{
		TaskID:     t.TaskID,
		TaskText:   t.TaskText,
		DocumentID: t.DocumentID,
		UserID:     t.UserID,
		Status:     string(t.Status),
		IsManual:   t.IsManual,
		CreatedAt:  time.Now(),
		Embedding:  vec,
	})
	if err != nil {
		// Keep the stores consistent: no vector, no row.
		s.db.WithContext(ctx).Unscoped().Delete(t)
		return nil, fmt.Errorf("failed to store task vector: %w", err)
	}
	return t, nil
}

// FindDuplicate checks for an existing near-identical task by vector
// similarity. Returns nil when no neighbor reaches the threshold.
func (s *Service) FindDuplicate(ctx context.Context, userID, text string, threshold float64) (*embedding.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding duplicate probe: %w", err)
	}
	hits, err := s.vectors.SemanticSearch(ctx, vec, 1, threshold, userID)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return &hits[0], nil
}

// Get returns one task row, enforcing ownership.
func (s *Service) Get(ctx context.Context, taskID, userID string) (*TaskEmbedding, error) {
	var t TaskEmbedding
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, "task not found: %s", taskID)
	}
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, apperr.New(apperr.KindPermission, "task belongs to another user")
	}
	return &t, nil
}

// ListActive returns the user's non-archived tasks.
func (s *Service) ListActive(ctx context.Context, userID string) ([]TaskEmbedding, error) {
	var tasks []TaskEmbedding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, StatusArchived).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// TextsFor resolves task ids to their text in one query.
func (s *Service) TextsFor(ctx context.Context, userID string, taskIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	var tasks []TaskEmbedding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id IN ?", userID, taskIDs).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		out[t.TaskID] = t.TaskText
	}
	return out, nil
}

// SetStatus transitions a task's lifecycle state in both stores.
func (s *Service) SetStatus(ctx context.Context, taskID, userID string, status Status) error {
	switch status {
	case StatusPending, StatusCompleted, StatusFailed, StatusArchived:
	default:
		return apperr.Newf(apperr.KindValidation, "unknown task status %q", status)
	}
	t, err := s.Get(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&TaskEmbedding{}).
		Where("task_id = ?", t.TaskID).Update("status", status).Error; err != nil {
		return err
	}
	return s.vectors.SetStatus(ctx, t.TaskID, string(status))
}

// ApplyOverride attaches a manual impact/effort correction to a task.
func (s *Service) ApplyOverride(ctx context.Context, taskID, userID, sessionID string, o Override) (*TaskEmbedding, error) {
	fields := map[string]string{}
	if o.Impact < 0 || o.Impact > 10 {
		fields["impact"] = "must be within [0,10]"
	}
	if o.EffortHours < 0.5 {
		fields["effort"] = "must be at least 0.5 hours"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid override", fields)
	}

	t, err := s.Get(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	o.Timestamp = time.Now()
	o.SessionID = sessionID
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode override: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&TaskEmbedding{}).
		Where("task_id = ?", t.TaskID).
		Update("manual_override", datatypes.JSON(raw)).Error; err != nil {
		return nil, err
	}
	t.ManualOverride = datatypes.JSON(raw)
	return t, nil
}

// HardDelete removes tasks from both stores. Bridging rollback uses this to
// undo partially inserted tasks; there is no tombstone.
func (s *Service) HardDelete(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Unscoped().
		Where("task_id IN ?", taskIDs).
		Delete(&TaskEmbedding{}).Error; err != nil {
		return err
	}
	return s.vectors.DeleteTasks(ctx, taskIDs)
}

// SetQuality persists a clarity evaluation on a task.
func (s *Service) SetQuality(ctx context.Context, taskID string, q QualityMetadata) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode quality metadata: %w", err)
	}
	return s.db.WithContext(ctx).Model(&TaskEmbedding{}).
		Where("task_id = ?", taskID).
		Update("quality", datatypes.JSON(raw)).Error
}
