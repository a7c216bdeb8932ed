package outcome

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planwise/internal/apperr"
	"planwise/internal/secrets"
)

// TokenBox seals and opens provider tokens. Satisfied by secrets.Box.
type TokenBox interface {
	Encrypt(purpose, plaintext string) (string, error)
	Decrypt(purpose, encoded string) (string, error)
}

var _ TokenBox = (*secrets.Box)(nil)

// Integrations stores third-party OAuth tokens encrypted at rest. The
// ciphertext purpose is bound to the provider so a token sealed for one
// provider can never be opened as another's.
type Integrations struct {
	db  *gorm.DB
	box TokenBox
}

func NewIntegrations(db *gorm.DB, box TokenBox) *Integrations {
	return &Integrations{db: db, box: box}
}

func tokenPurpose(provider string) string {
	return "integration-token:" + provider
}

// Save upserts the token for (user, provider), replacing any prior one.
func (i *Integrations) Save(ctx context.Context, userID, provider, token string) (*UserIntegration, error) {
	fields := map[string]string{}
	if provider == "" {
		fields["provider"] = "required"
	}
	if token == "" {
		fields["token"] = "required"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid integration", fields)
	}

	sealed, err := i.box.Encrypt(tokenPurpose(provider), token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}

	row := &UserIntegration{
		ID:             uuid.New().String(),
		UserID:         userID,
		Provider:       provider,
		EncryptedToken: sealed,
	}
	err = i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_token", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save integration: %w", err)
	}
	return row, nil
}

// Token decrypts and returns the stored token for (user, provider).
func (i *Integrations) Token(ctx context.Context, userID, provider string) (string, error) {
	var row UserIntegration
	err := i.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", apperr.Newf(apperr.KindNotFound, "no %s integration for user", provider)
	}
	if err != nil {
		return "", err
	}
	return i.box.Decrypt(tokenPurpose(provider), row.EncryptedToken)
}

// List returns the user's integrations without token material.
func (i *Integrations) List(ctx context.Context, userID string) ([]UserIntegration, error) {
	var rows []UserIntegration
	err := i.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("provider ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for idx := range rows {
		rows[idx].EncryptedToken = ""
	}
	return rows, nil
}

// Delete removes the integration for (user, provider).
func (i *Integrations) Delete(ctx context.Context, userID, provider string) error {
	res := i.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&UserIntegration{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "no %s integration for user", provider)
	}
	return nil
}
