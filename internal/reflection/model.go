// Package reflection turns free-text user notes into structured intents and
// applies them as adjustments over a baseline plan.
package reflection

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Intent types.
const (
	IntentFocus      = "focus"
	IntentAvoid      = "avoid"
	IntentUrgency    = "urgency"
	IntentConstraint = "constraint"
	IntentContext    = "context"
)

// Reflection is one user note.
type Reflection struct {
	ID                        string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID                    string    `json:"user_id" gorm:"index;not null"`
	Text                      string    `json:"text" gorm:"type:text;not null"`
	IsActiveForPrioritization bool      `json:"is_active_for_prioritization" gorm:"default:true"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func (Reflection) TableName() string {
	return "reflections"
}

// ReflectionIntent is the derived classification of one reflection.
type ReflectionIntent struct {
	ID           string         `json:"id" gorm:"primaryKey;type:uuid"`
	ReflectionID string         `json:"reflection_id" gorm:"uniqueIndex;not null"`
	Type         string         `json:"type" gorm:"type:varchar(16)"`
	Subtype      string         `json:"subtype,omitempty" gorm:"type:varchar(32)"`
	Keywords     datatypes.JSON `json:"keywords" gorm:"type:jsonb"`
	Strength     float64        `json:"strength"`
	Duration     string         `json:"duration,omitempty" gorm:"type:varchar(32)"`
	Summary      string         `json:"summary,omitempty" gorm:"type:text"`
	Method       string         `json:"method" gorm:"type:varchar(16)"` // "rules" or "llm"
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (ReflectionIntent) TableName() string {
	return "reflection_intents"
}

// KeywordList decodes the stored keywords.
func (i *ReflectionIntent) KeywordList() []string {
	var out []string
	if len(i.Keywords) > 0 {
		_ = json.Unmarshal(i.Keywords, &out)
	}
	return out
}

// SetKeywords encodes the keyword list.
func (i *ReflectionIntent) SetKeywords(words []string) {
	raw, err := json.Marshal(words)
	if err != nil {
		return
	}
	i.Keywords = datatypes.JSON(raw)
}
