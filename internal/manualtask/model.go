package manualtask

import (
	"time"

	"gorm.io/gorm"
)

// Status is the placement state of a manually added task.
type Status string

const (
	// StatusAnalyzing means placement has not finished; a timed-out analysis
	// stays here and is retried on the next read.
	StatusAnalyzing Status = "analyzing"
	// StatusPrioritized means the agent placed the task into the active plan.
	StatusPrioritized Status = "prioritized"
	// StatusNotRelevant means the agent judged the task outside the active
	// outcome. The user can override this back to analyzing.
	StatusNotRelevant Status = "not_relevant"
	// StatusConflict means a near-duplicate of an existing task was found.
	StatusConflict Status = "conflict"
)

// ManualTask tracks one user-added task through duplicate detection and agent
// placement. Soft-deleted rows are swept after 30 days.
type ManualTask struct {
	ID                string         `json:"id" gorm:"primaryKey;type:uuid"`
	TaskID            string         `json:"task_id" gorm:"index"`
	UserID            string         `json:"user_id" gorm:"index;not null"`
	OutcomeID         string         `json:"outcome_id" gorm:"index"`
	Status            Status         `json:"status" gorm:"type:varchar(16);index"`
	AgentRank         int            `json:"agent_rank"`
	PlacementReason   string         `json:"placement_reason,omitempty" gorm:"type:text"`
	ExclusionReason   string         `json:"exclusion_reason,omitempty" gorm:"type:text"`
	UserJustification string         `json:"user_justification,omitempty" gorm:"type:text"`
	DuplicateTaskID   string         `json:"duplicate_task_id,omitempty"`
	SimilarityScore   float64        `json:"similarity_score,omitempty"`
	InvalidatedReason string         `json:"invalidated_reason,omitempty"`
	MarkedDoneAt      *time.Time     `json:"marked_done_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`
}

func (ManualTask) TableName() string {
	return "manual_tasks"
}
