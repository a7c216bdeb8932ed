// Package gap detects discontinuities between adjacent planned tasks and
// generates bridging tasks to fill them.
package gap

import (
	"time"

	"planwise/internal/plan"
)

// TaskRelationship is a persistent dependency edge in the global task graph.
type TaskRelationship struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	SourceTaskID     string    `json:"source_task_id" gorm:"index;not null"`
	TargetTaskID     string    `json:"target_task_id" gorm:"index;not null"`
	RelationshipType string    `json:"relationship_type" gorm:"type:varchar(16)"`
	Confidence       float64   `json:"confidence"`
	CreatedAt        time.Time `json:"created_at"`
}

func (TaskRelationship) TableName() string {
	return "task_relationships"
}

// Indicator names attached to a detected gap.
const (
	IndicatorCosineDistance = "cosine_distance"
	IndicatorActionTypeJump = "action_type_jump"
	IndicatorSkillJump      = "skill_jump"
	IndicatorTimeGap        = "time_gap"
)

// Gap is one detected discontinuity between adjacent tasks.
type Gap struct {
	ID                string             `json:"id"`
	PredecessorTaskID string             `json:"predecessor_task_id"`
	SuccessorTaskID   string             `json:"successor_task_id"`
	Indicators        map[string]float64 `json:"indicators"`
	Confidence        float64            `json:"confidence"`
}

// DetectionMetadata summarizes one detection pass.
type DetectionMetadata struct {
	TotalPairsAnalyzed int   `json:"total_pairs_analyzed"`
	GapsDetected       int   `json:"gaps_detected"`
	AnalysisDurationMS int64 `json:"analysis_duration_ms"`
}

// BridgingTask is one generated filler task.
type BridgingTask struct {
	TaskText       string  `json:"task_text"`
	EstimatedHours float64 `json:"estimated_hours"`
	CognitionLevel string  `json:"cognition_level"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Suggestion binds generated tasks to the gap they bridge.
type Suggestion struct {
	GapID         string         `json:"gap_id"`
	PredecessorID string         `json:"predecessor_task_id"`
	SuccessorID   string         `json:"successor_task_id"`
	Status        string         `json:"status"` // generated, requires_examples
	Tasks         []BridgingTask `json:"tasks"`
}

// Acceptance is one bridging task the user accepted for insertion.
type Acceptance struct {
	Task          BridgingTask `json:"task"`
	PredecessorID string       `json:"predecessor_id"`
	SuccessorID   string       `json:"successor_id"`
}

// AnalysisSession is the gap-analysis attachment stored on the agent session.
type AnalysisSession struct {
	ID                 string            `json:"session_id"`
	AgentSessionID     string            `json:"agent_session_id"`
	PlanSnapshot       []SnapshotTask    `json:"plan_snapshot"`
	DetectedGaps       []Gap             `json:"detected_gaps"`
	GeneratedTasks     []Suggestion      `json:"generated_tasks"`
	UserAcceptances    []Acceptance      `json:"user_acceptances,omitempty"`
	InsertionResult    *InsertionResult  `json:"insertion_result,omitempty"`
	PerformanceMetrics DetectionMetadata `json:"performance_metrics"`
	CreatedAt          time.Time         `json:"created_at"`
}

// SnapshotTask is one plan entry frozen at analysis time.
type SnapshotTask struct {
	TaskID    string   `json:"task_id"`
	TaskText  string   `json:"task_text"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// InsertionResult records the outcome of accepting bridging tasks.
type InsertionResult struct {
	InsertedTaskIDs []string   `json:"inserted_task_ids"`
	UpdatedPlan     *plan.Plan `json:"updated_plan,omitempty"`
}
