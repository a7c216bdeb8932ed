package outcome

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"planwise/internal/apperr"
)

const maxComponentLen = 500

// ManualTaskInvalidator breaks the import cycle with the manual task service:
// activating a new outcome sweeps prioritized manual tasks of the old one.
type ManualTaskInvalidator interface {
	InvalidateForOutcome(ctx context.Context, outcomeID, reason string) (int64, error)
}

// Service owns outcome lifecycle.
type Service struct {
	db          *gorm.DB
	invalidator ManualTaskInvalidator
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// SetInvalidator wires the manual-task sweep; optional in tests.
func (s *Service) SetInvalidator(inv ManualTaskInvalidator) {
	s.invalidator = inv
}

// CreateInput carries the user-declared outcome components.
type CreateInput struct {
	UserID             string    `json:"user_id"`
	Direction          Direction `json:"direction"`
	ObjectText         string    `json:"object_text"`
	MetricText         string    `json:"metric_text"`
	Clarifier          string    `json:"clarifier"`
	StatePreference    string    `json:"state_preference"`
	DailyCapacityHours float64   `json:"daily_capacity_hours"`
}

func validateInput(in CreateInput) error {
	fields := map[string]string{}
	if in.UserID == "" {
		fields["user_id"] = "required"
	}
	switch in.Direction {
	case DirectionIncrease, DirectionDecrease, DirectionLaunch, DirectionShip, DirectionImprove, DirectionReduce:
	default:
		fields["direction"] = fmt.Sprintf("unknown direction %q", in.Direction)
	}
	for name, v := range map[string]string{
		"object_text": in.ObjectText,
		"metric_text": in.MetricText,
		"clarifier":   in.Clarifier,
	} {
		if len(v) > maxComponentLen {
			fields[name] = fmt.Sprintf("must be at most %d characters, got %d", maxComponentLen, len(v))
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid outcome", fields)
	}
	return nil
}

// assemble renders the single-sentence outcome statement.
func assemble(in CreateInput) string {
	parts := []string{string(in.Direction), in.ObjectText}
	if in.MetricText != "" {
		parts = append(parts, "measured by", in.MetricText)
	}
	if in.Clarifier != "" {
		parts = append(parts, "("+in.Clarifier+")")
	}
	return strings.Join(parts, " ")
}

// Activate creates a new outcome and makes it the single active one for the
// user. The prior active outcome is deactivated in the same transaction and
// its prioritized manual tasks are swept to the discard pile.
func (s *Service) Activate(ctx context.Context, in CreateInput) (*UserOutcome, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var supersededID string
	o := &UserOutcome{
		ID:                 uuid.New().String(),
		UserID:             in.UserID,
		Direction:          in.Direction,
		ObjectText:         in.ObjectText,
		MetricText:         in.MetricText,
		Clarifier:          in.Clarifier,
		AssembledText:      assemble(in),
		IsActive:           true,
		StatePreference:    in.StatePreference,
		DailyCapacityHours: in.DailyCapacityHours,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior UserOutcome
		res := tx.Where("user_id = ? AND is_active = ?", in.UserID, true).First(&prior)
		if res.Error == nil {
			supersededID = prior.ID
			if err := tx.Model(&UserOutcome{}).Where("id = ?", prior.ID).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("failed to deactivate prior outcome: %w", err)
			}
		}
		if err := tx.Create(o).Error; err != nil {
			return fmt.Errorf("failed to create outcome: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if supersededID != "" && s.invalidator != nil {
		if _, err := s.invalidator.InvalidateForOutcome(ctx, supersededID, "outcome changed"); err != nil {
			// The outcome switch already committed; the sweep is best-effort.
			return o, nil
		}
	}
	return o, nil
}

// GetActive returns the single active outcome for a user, or NotFound.
func (s *Service) GetActive(ctx context.Context, userID string) (*UserOutcome, error) {
	var o UserOutcome
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&o).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, "no active outcome for user %s", userID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Get returns an outcome by id, enforcing ownership.
func (s *Service) Get(ctx context.Context, id, userID string) (*UserOutcome, error) {
	var o UserOutcome
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, "outcome not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, apperr.New(apperr.KindPermission, "outcome belongs to another user")
	}
	return &o, nil
}

// Deactivate tombstones the active outcome without replacing it.
func (s *Service) Deactivate(ctx context.Context, id, userID string) error {
	o, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&UserOutcome{}).
		Where("id = ?", o.ID).Update("is_active", false).Error
}
