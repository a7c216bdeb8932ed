package task

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of an embedded task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusArchived  Status = "archived"
)

// TaskEmbedding is the relational record for one embedded task. The vector
// itself lives in the vector store; this row carries the metadata the engine
// filters and mutates. Once embedded, a task is never rewritten in place
// except for status, quality metadata, and manual overrides.
type TaskEmbedding struct {
	TaskID         string         `json:"task_id" gorm:"primaryKey;type:uuid"`
	UserID         string         `json:"user_id" gorm:"index;not null"`
	TaskText       string         `json:"task_text" gorm:"type:text;not null"`
	DocumentID     string         `json:"document_id" gorm:"index"`
	Status         Status         `json:"status" gorm:"type:varchar(16);index;default:'pending'"`
	IsManual       bool           `json:"is_manual"`
	CreatedBy      string         `json:"created_by" gorm:"type:varchar(64)"`
	Quality        datatypes.JSON `json:"quality_metadata" gorm:"type:jsonb"`
	ManualOverride datatypes.JSON `json:"manual_overrides" gorm:"type:jsonb"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

func (TaskEmbedding) TableName() string {
	return "task_embeddings"
}

// Override is a user-supplied correction to the AI impact/effort scores.
// It stays attached across session replacement and is recomputed against the
// new AI confidence.
type Override struct {
	Impact      float64   `json:"impact"`
	EffortHours float64   `json:"effort_hours"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
}

// QualityMetadata holds the clarity evaluation for a task.
type QualityMetadata struct {
	ClarityScore float64  `json:"clarity_score"`
	Suggestions  []string `json:"improvement_suggestions,omitempty"`
	Method       string   `json:"method"` // "llm" or "heuristic"
}

// OverrideOf decodes the stored manual override, if any.
func (t *TaskEmbedding) OverrideOf() *Override {
	if len(t.ManualOverride) == 0 {
		return nil
	}
	var o Override
	if err := json.Unmarshal(t.ManualOverride, &o); err != nil {
		return nil
	}
	if o.Timestamp.IsZero() && o.Impact == 0 && o.EffortHours == 0 {
		return nil
	}
	return &o
}
