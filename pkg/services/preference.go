package services

import (
	"context"
	"fmt"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

type Preference struct {
	repo     persistence.NotificationRepository
	validate *validator.Validate
}

func NewPreference(repo persistence.NotificationRepository) *Preference {
	return &Preference{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (p *Preference) FetchByUser(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	return p.repo.PreferencesByUser(ctx, userID)
}

// Update upserts the given preferences for the user. Entries are keyed by notification type and
// channel; preferences not listed are left as they are.
func (p *Preference) Update(ctx context.Context, userID string, preferences []models.NotificationPreference) ([]models.NotificationPreference, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	for i := range preferences {
		preferences[i].UserID = userID

		if preferences[i].Frequency == "" {
			preferences[i].Frequency = models.FrequencyImmediate
		}

		err := p.validate.StructCtx(ctx, preferences[i])
		if err != nil {
			return nil, NewValidationError("Update", "invalid_preference", fmt.Sprintf("preference %d: %v", i, err), ErrInvalidRequest)
		}

		if preferences[i].QuietHours.Enabled && (preferences[i].QuietHours.Start == "" || preferences[i].QuietHours.End == "") {
			return nil, NewValidationError("Update", "invalid_preference",
				fmt.Sprintf("preference %d: quiet hours need a start and an end", i), ErrInvalidRequest)
		}
	}

	err := p.repo.SavePreferences(ctx, preferences)
	if err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}

	return p.repo.PreferencesByUser(ctx, userID)
}
