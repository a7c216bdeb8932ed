package reflection

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planwise/internal/apperr"
	"planwise/internal/logging"
	"planwise/internal/plan"
	"planwise/internal/session"
)

const (
	minReflectionLen = 3
	maxReflectionLen = 500

	baselineMaxAge  = 7 * 24 * time.Hour
	baselineWarnAge = 24 * time.Hour

	// Prompt rendering only sees recent reflections, capped so a long history
	// cannot crowd out the task corpus.
	bulletWindow = 30 * 24 * time.Hour
	bulletLimit  = 50
)

// SessionStore is the slice of the session controller the adjuster writes
// through.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*session.AgentSession, error)
	GetLatestCompleted(ctx context.Context, userID, outcomeID string) (*session.AgentSession, error)
	UpdateAdjustedPlan(ctx context.Context, sessionID string, p *plan.Plan) error
}

// TaskTextReader resolves task ids to their text for keyword matching.
type TaskTextReader interface {
	TextsFor(ctx context.Context, userID string, taskIDs []string) (map[string]string, error)
}

// Recomputer triggers a debounced re-adjustment after a toggle.
type Recomputer interface {
	Trigger(userID string)
}

// Service owns reflections, their intents, and the adjustment operation.
type Service struct {
	db          *gorm.DB
	interpreter *Interpreter
	sessions    SessionStore
	taskTexts   TaskTextReader
	recomputer  Recomputer
	now         func() time.Time
}

func NewService(db *gorm.DB, interpreter *Interpreter, sessions SessionStore, taskTexts TaskTextReader) *Service {
	return &Service{
		db:          db,
		interpreter: interpreter,
		sessions:    sessions,
		taskTexts:   taskTexts,
		now:         time.Now,
	}
}

// SetRecomputer wires the toggle-triggered recompute; optional in tests.
func (s *Service) SetRecomputer(r Recomputer) {
	s.recomputer = r
}

// CreateResult is the CreateReflection response.
type CreateResult struct {
	Reflection    Reflection          `json:"reflection"`
	Intent        ReflectionIntent    `json:"intent"`
	Effects       plan.AdjustmentDiff `json:"effects"`
	TasksAffected int                 `json:"tasks_affected"`
}

// Create validates and persists a reflection, interprets it, and previews its
// effect against the latest completed plan when one exists.
func (s *Service) Create(ctx context.Context, userID, text string) (*CreateResult, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minReflectionLen || len(trimmed) > maxReflectionLen {
		return nil, apperr.Validation("invalid reflection", map[string]string{
			"text": "must be 3-500 characters after trimming",
		})
	}

	r := Reflection{
		ID:                        uuid.New().String(),
		UserID:                    userID,
		Text:                      trimmed,
		IsActiveForPrioritization: true,
	}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return nil, err
	}

	intent := s.interpreter.Interpret(ctx, r.ID, trimmed)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reflection_id"}},
		UpdateAll: true,
	}).Create(intent).Error; err != nil {
		return nil, err
	}

	res := &CreateResult{Reflection: r, Intent: *intent}
	if effects, affected, ok := s.previewEffects(ctx, userID, ActiveReflection{Reflection: r, Intent: *intent}); ok {
		res.Effects = effects
		res.TasksAffected = affected
	}

	logging.Event("reflection_created", map[string]interface{}{
		"reflection_id": r.ID,
		"user_id":       userID,
		"intent_type":   intent.Type,
		"method":        intent.Method,
	})
	return res, nil
}

func (s *Service) previewEffects(ctx context.Context, userID string, ar ActiveReflection) (plan.AdjustmentDiff, int, bool) {
	var zero plan.AdjustmentDiff
	sess, err := s.latestBaseline(ctx, userID)
	if err != nil {
		return zero, 0, false
	}
	baseline, err := sess.Baseline().MustPlan()
	if err != nil {
		return zero, 0, false
	}
	texts, err := s.taskTexts.TextsFor(ctx, userID, baseline.OrderedTaskIDs)
	if err != nil {
		return zero, 0, false
	}
	_, diff, _ := Adjust(baseline, texts, []ActiveReflection{ar}, s.now())
	return diff, len(diff.Moved) + len(diff.Filtered), true
}

func (s *Service) latestBaseline(ctx context.Context, userID string) (*session.AgentSession, error) {
	var sess session.AgentSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, session.StatusCompleted).
		Order("created_at DESC").
		First(&sess).Error
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Get returns one reflection, enforcing ownership.
func (s *Service) Get(ctx context.Context, reflectionID, userID string) (*Reflection, error) {
	var r Reflection
	err := s.db.WithContext(ctx).Where("id = ?", reflectionID).First(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, "reflection not found: %s", reflectionID)
	}
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, apperr.New(apperr.KindPermission, "reflection belongs to another user")
	}
	return &r, nil
}

// Toggle flips a reflection's active flag and schedules a debounced
// re-adjustment for the user.
func (s *Service) Toggle(ctx context.Context, reflectionID, userID string, isActive bool) (*Reflection, error) {
	r, err := s.Get(ctx, reflectionID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&Reflection{}).
		Where("id = ?", r.ID).
		Update("is_active_for_prioritization", isActive).Error; err != nil {
		return nil, err
	}
	r.IsActiveForPrioritization = isActive

	if s.recomputer != nil {
		s.recomputer.Trigger(userID)
	}
	return r, nil
}

// Delete removes a reflection and its intent.
func (s *Service) Delete(ctx context.Context, reflectionID, userID string) error {
	r, err := s.Get(ctx, reflectionID, userID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reflection_id = ?", r.ID).Delete(&ReflectionIntent{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", r.ID).Delete(&Reflection{}).Error
	})
	if err != nil {
		return err
	}
	logging.Event("reflection_deleted", map[string]interface{}{
		"reflection_id": r.ID,
		"user_id":       userID,
	})
	return nil
}

// List returns the user's reflections, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Reflection, error) {
	var out []Reflection
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ActiveBullets returns the active reflection texts for prompt rendering,
// newest first, scoped to the last 30 days and capped at 50.
func (s *Service) ActiveBullets(ctx context.Context, userID string) ([]string, error) {
	cutoff := s.now().Add(-bulletWindow)
	var reflections []Reflection
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active_for_prioritization = ? AND created_at >= ?", userID, true, cutoff).
		Order("created_at DESC").
		Limit(bulletLimit).
		Find(&reflections).Error
	if err != nil {
		return nil, err
	}
	bullets := make([]string, 0, len(reflections))
	for _, r := range reflections {
		bullets = append(bullets, r.Text)
	}
	return bullets, nil
}

// loadActive resolves reflections with their intents.
func (s *Service) loadActive(ctx context.Context, userID string, ids []string) ([]ActiveReflection, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	} else {
		q = q.Where("is_active_for_prioritization = ?", true)
	}
	var reflections []Reflection
	if err := q.Find(&reflections).Error; err != nil {
		return nil, err
	}

	out := make([]ActiveReflection, 0, len(reflections))
	for _, r := range reflections {
		var intent ReflectionIntent
		err := s.db.WithContext(ctx).Where("reflection_id = ?", r.ID).First(&intent).Error
		if err == gorm.ErrRecordNotFound {
			interpreted := s.interpreter.Interpret(ctx, r.ID, r.Text)
			intent = *interpreted
			_ = s.db.WithContext(ctx).Create(interpreted).Error
		} else if err != nil {
			return nil, err
		}
		out = append(out, ActiveReflection{Reflection: r, Intent: intent})
	}
	return out, nil
}

// AdjustResult is the AdjustPriorities response.
type AdjustResult struct {
	AdjustedPlan *plan.Plan              `json:"adjusted_plan"`
	Diff         plan.AdjustmentDiff     `json:"diff"`
	Metadata     plan.AdjustmentMetadata `json:"adjustment_metadata"`
	BaselineWarn string                  `json:"baseline_warning,omitempty"`
}

// AdjustPriorities recomputes the plan ordering for a session under the given
// active reflections. The baseline must exist and be under 7 days old; a
// baseline older than a day only warns.
func (s *Service) AdjustPriorities(ctx context.Context, sessionID string, activeReflectionIDs []string) (*AdjustResult, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(sess.BaselinePlan) == 0 {
		return nil, apperr.New(apperr.KindConflict, "session has no baseline plan")
	}
	baseline, err := sess.Baseline().MustPlan()
	if err != nil {
		return nil, err
	}

	age := s.now().Sub(sess.CreatedAt)
	if age > baselineMaxAge {
		return nil, apperr.Newf(apperr.KindConflict, "baseline plan is %.0f days old; re-run prioritization", age.Hours()/24)
	}
	warn := ""
	if age > baselineWarnAge {
		warn = "baseline plan is older than 24 hours"
	}

	active, err := s.loadActive(ctx, sess.UserID, activeReflectionIDs)
	if err != nil {
		return nil, err
	}
	texts, err := s.taskTexts.TextsFor(ctx, sess.UserID, baseline.OrderedTaskIDs)
	if err != nil {
		return nil, err
	}

	adjusted, diff, meta := Adjust(baseline, texts, active, s.now())
	if err := s.sessions.UpdateAdjustedPlan(ctx, sessionID, adjusted); err != nil {
		return nil, err
	}

	logging.Event("context_adjustment_completed", map[string]interface{}{
		"session_id":     sessionID,
		"reflections":    meta.Reflections,
		"tasks_moved":    meta.TasksMoved,
		"tasks_filtered": meta.TasksFiltered,
		"duration_ms":    meta.DurationMS,
	})
	return &AdjustResult{AdjustedPlan: adjusted, Diff: diff, Metadata: meta, BaselineWarn: warn}, nil
}
