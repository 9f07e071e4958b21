package file

import (
	"context"
	"sort"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// NotificationRepository handles preference, contact and delivery file operations.
// Preferences of one user are stored together in a single document.
type NotificationRepository struct {
	store *store
}

func preferenceKey(p models.NotificationPreference) string {
	return p.NotificationType + "|" + string(p.Channel)
}

func (nr *NotificationRepository) loadPreferences(userID string) ([]models.NotificationPreference, error) {
	var preferences []models.NotificationPreference

	_, err := nr.store.read(preferencesDir, userID, &preferences)
	if err != nil {
		return nil, err
	}

	return preferences, nil
}

func (nr *NotificationRepository) Preferences(_ context.Context, userID, notificationType string) ([]models.NotificationPreference, error) {
	nr.store.mu.RLock()
	defer nr.store.mu.RUnlock()

	all, err := nr.loadPreferences(userID)
	if err != nil {
		return nil, err
	}

	result := make([]models.NotificationPreference, 0)

	for _, preference := range all {
		if preference.NotificationType == notificationType {
			result = append(result, preference)
		}
	}

	return result, nil
}

func (nr *NotificationRepository) PreferencesByUser(_ context.Context, userID string) ([]models.NotificationPreference, error) {
	nr.store.mu.RLock()
	defer nr.store.mu.RUnlock()

	preferences, err := nr.loadPreferences(userID)
	if err != nil {
		return nil, err
	}

	if preferences == nil {
		preferences = make([]models.NotificationPreference, 0)
	}

	return preferences, nil
}

func (nr *NotificationRepository) SavePreferences(_ context.Context, preferences []models.NotificationPreference) error {
	return nr.merge(preferences, true)
}

func (nr *NotificationRepository) EnsureDefaultPreferences(_ context.Context, preferences []models.NotificationPreference) error {
	return nr.merge(preferences, false)
}

func (nr *NotificationRepository) merge(preferences []models.NotificationPreference, overwrite bool) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	byUser := make(map[string][]models.NotificationPreference)
	for _, preference := range preferences {
		byUser[preference.UserID] = append(byUser[preference.UserID], preference)
	}

	for userID, incoming := range byUser {
		existing, err := nr.loadPreferences(userID)
		if err != nil {
			return err
		}

		index := make(map[string]int, len(existing))
		for i, preference := range existing {
			index[preferenceKey(preference)] = i
		}

		for _, preference := range incoming {
			i, found := index[preferenceKey(preference)]

			switch {
			case !found:
				index[preferenceKey(preference)] = len(existing)
				existing = append(existing, preference)
			case overwrite:
				existing[i] = preference
			}
		}

		err = nr.store.write(preferencesDir, userID, existing)
		if err != nil {
			return err
		}
	}

	return nil
}

func (nr *NotificationRepository) Contact(_ context.Context, userID string) (*models.Contact, error) {
	nr.store.mu.RLock()
	defer nr.store.mu.RUnlock()

	var contact models.Contact

	found, err := nr.store.read(contactsDir, userID, &contact)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrContactNotFound
	}

	return &contact, nil
}

func (nr *NotificationRepository) SaveContact(_ context.Context, contact models.Contact) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	return nr.store.write(contactsDir, contact.UserID, contact)
}

func (nr *NotificationRepository) CreateInApp(_ context.Context, notification models.InAppNotification) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	return nr.store.write(inAppDir, notification.ID, notification)
}

func (nr *NotificationRepository) InAppByUser(_ context.Context, userID string) ([]models.InAppNotification, error) {
	nr.store.mu.RLock()
	defer nr.store.mu.RUnlock()

	all, err := readAll[models.InAppNotification](nr.store, inAppDir)
	if err != nil {
		return nil, err
	}

	result := make([]models.InAppNotification, 0)

	for _, notification := range all {
		if notification.UserID == userID {
			result = append(result, notification)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (nr *NotificationRepository) RecordDelivery(_ context.Context, log models.DeliveryLog) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	return nr.store.write(deliveriesDir, log.ID, log)
}

func (nr *NotificationRepository) DeliveriesByUser(_ context.Context, userID string) ([]models.DeliveryLog, error) {
	nr.store.mu.RLock()
	defer nr.store.mu.RUnlock()

	all, err := readAll[models.DeliveryLog](nr.store, deliveriesDir)
	if err != nil {
		return nil, err
	}

	result := make([]models.DeliveryLog, 0)

	for _, log := range all {
		if log.UserID == userID {
			result = append(result, log)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].At.Before(result[j].At)
	})

	return result, nil
}
