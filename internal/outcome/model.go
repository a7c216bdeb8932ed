package outcome

import (
	"time"

	"gorm.io/gorm"
)

// Direction is the verb of the declared outcome.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionLaunch   Direction = "launch"
	DirectionShip     Direction = "ship"
	DirectionImprove  Direction = "improve"
	DirectionReduce   Direction = "reduce"
)

// UserOutcome is the declarative target prioritization optimizes toward.
// At most one outcome per user is active at a time.
type UserOutcome struct {
	ID                 string         `json:"id" gorm:"primaryKey;type:uuid"`
	UserID             string         `json:"user_id" gorm:"index;not null"`
	Direction          Direction      `json:"direction" gorm:"type:varchar(32);not null"`
	ObjectText         string         `json:"object_text" gorm:"type:text"`
	MetricText         string         `json:"metric_text" gorm:"type:text"`
	Clarifier          string         `json:"clarifier" gorm:"type:text"`
	AssembledText      string         `json:"assembled_text" gorm:"type:text"`
	IsActive           bool           `json:"is_active" gorm:"index"`
	StatePreference    string         `json:"state_preference" gorm:"type:varchar(64)"`
	DailyCapacityHours float64        `json:"daily_capacity_hours"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-" gorm:"index"`
}

func (UserOutcome) TableName() string {
	return "user_outcomes"
}

// UserIntegration stores third-party OAuth tokens, encrypted at rest.
type UserIntegration struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         string    `json:"user_id" gorm:"uniqueIndex:idx_user_provider;not null"`
	Provider       string    `json:"provider" gorm:"uniqueIndex:idx_user_provider;type:varchar(64);not null"`
	EncryptedToken string    `json:"-" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (UserIntegration) TableName() string {
	return "user_integrations"
}
