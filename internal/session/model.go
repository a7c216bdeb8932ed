package session

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"planwise/internal/plan"
)

// Status is the lifecycle state of a prioritization run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ExecutionMetadata is the terminal accounting block of one run.
type ExecutionMetadata struct {
	StepsTaken    int     `json:"steps_taken"`
	ToolCallCount int     `json:"tool_call_count"`
	ThinkingMS    int64   `json:"thinking_ms"`
	ToolMS        int64   `json:"tool_ms"`
	TotalMS       int64   `json:"total_ms"`
	ErrorCount    int     `json:"error_count"`
	SuccessRate   float64 `json:"success_rate"`
	FailureReason string  `json:"failure_reason,omitempty"`
}

// AgentSession is one prioritization run for a (user, outcome) pair.
// JSON columns hold the plan documents and traces; the plan columns are
// normalized on read because LLM persistence occasionally leaves them
// double-encoded.
type AgentSession struct {
	ID                 string         `json:"id" gorm:"primaryKey;type:uuid"`
	UserID             string         `json:"user_id" gorm:"index;not null"`
	OutcomeID          string         `json:"outcome_id" gorm:"index;not null"`
	Status             Status         `json:"status" gorm:"type:varchar(16);index"`
	PrioritizedPlan    datatypes.JSON `json:"prioritized_plan" gorm:"type:jsonb"`
	BaselinePlan       datatypes.JSON `json:"baseline_plan" gorm:"type:jsonb"`
	AdjustedPlan       datatypes.JSON `json:"adjusted_plan" gorm:"type:jsonb"`
	StrategicScores    datatypes.JSON `json:"strategic_scores" gorm:"type:jsonb"`
	ExcludedTasks      datatypes.JSON `json:"excluded_tasks" gorm:"type:jsonb"`
	EvaluationMetadata datatypes.JSON `json:"evaluation_metadata" gorm:"type:jsonb"`
	ExecutionMetadata  datatypes.JSON `json:"execution_metadata" gorm:"type:jsonb"`
	Result             datatypes.JSON `json:"result" gorm:"type:jsonb"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (AgentSession) TableName() string {
	return "agent_sessions"
}

// ReasoningTrace is one loop iteration's chain-of-thought row, mirrored out
// of the session's evaluation metadata so traces stay queryable per session.
type ReasoningTrace struct {
	ID                uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID         string         `json:"session_id" gorm:"index;not null"`
	Iteration         int            `json:"iteration"`
	Confidence        float64        `json:"confidence"`
	Corrections       datatypes.JSON `json:"corrections" gorm:"type:jsonb"`
	EvaluatorFeedback string         `json:"evaluator_feedback" gorm:"type:text"`
	CreatedAt         time.Time      `json:"created_at"`
}

func (ReasoningTrace) TableName() string {
	return "reasoning_traces"
}

// Plan normalizes the prioritized_plan column into a typed payload.
func (s *AgentSession) Plan() plan.Payload {
	return plan.NormalizePayload(s.PrioritizedPlan)
}

// Baseline normalizes the baseline_plan column.
func (s *AgentSession) Baseline() plan.Payload {
	return plan.NormalizePayload(s.BaselinePlan)
}

// ExecMeta decodes the execution metadata, zero-valued when absent.
func (s *AgentSession) ExecMeta() ExecutionMetadata {
	var m ExecutionMetadata
	if len(s.ExecutionMetadata) > 0 {
		_ = json.Unmarshal(s.ExecutionMetadata, &m)
	}
	return m
}

func mustJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}
