package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// NotificationRepository handles preference, contact and delivery database operations.
type NotificationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectPreference = `
	SELECT user_id, notification_type, channel, enabled, frequency, quiet_hours
	FROM notification_preferences
`

func (r *NotificationRepository) Preferences(ctx context.Context, userID, notificationType string) ([]models.NotificationPreference, error) {
	return r.preferences(ctx, selectPreference+" WHERE user_id = $1 AND notification_type = $2 ORDER BY channel", userID, notificationType)
}

func (r *NotificationRepository) PreferencesByUser(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	return r.preferences(ctx, selectPreference+" WHERE user_id = $1 ORDER BY notification_type, channel", userID)
}

func (r *NotificationRepository) preferences(ctx context.Context, query string, args ...any) ([]models.NotificationPreference, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	preferences := make([]models.NotificationPreference, 0)

	for rows.Next() {
		var (
			preference models.NotificationPreference
			quietHours []byte
		)

		err := rows.Scan(
			&preference.UserID,
			&preference.NotificationType,
			&preference.Channel,
			&preference.Enabled,
			&preference.Frequency,
			&quietHours,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}

		err = unmarshalJSON(quietHours, &preference.QuietHours)
		if err != nil {
			return nil, err
		}

		preferences = append(preferences, preference)
	}

	return preferences, rows.Err()
}

func (r *NotificationRepository) SavePreferences(ctx context.Context, preferences []models.NotificationPreference) error {
	return r.upsertPreferences(ctx, preferences, `
		ON CONFLICT (user_id, notification_type, channel) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			frequency = EXCLUDED.frequency,
			quiet_hours = EXCLUDED.quiet_hours
	`)
}

func (r *NotificationRepository) EnsureDefaultPreferences(ctx context.Context, preferences []models.NotificationPreference) error {
	return r.upsertPreferences(ctx, preferences, "ON CONFLICT (user_id, notification_type, channel) DO NOTHING")
}

func (r *NotificationRepository) upsertPreferences(ctx context.Context, preferences []models.NotificationPreference, conflict string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO notification_preferences (user_id, notification_type, channel, enabled, frequency, quiet_hours)
		VALUES ($1, $2, $3, $4, $5, $6)
	` + conflict

	for _, preference := range preferences {
		quietHours, err := marshalJSON(preference.QuietHours)
		if err != nil {
			_ = tx.Rollback()

			return err
		}

		frequency := preference.Frequency
		if frequency == "" {
			frequency = models.FrequencyImmediate
		}

		_, err = tx.ExecContext(ctx, query,
			preference.UserID,
			preference.NotificationType,
			preference.Channel,
			preference.Enabled,
			frequency,
			quietHours,
		)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to save preference: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit preferences: %w", err)
	}

	return nil
}

func (r *NotificationRepository) Contact(ctx context.Context, userID string) (*models.Contact, error) {
	contact := models.Contact{UserID: userID}

	err := r.db.QueryRowContext(ctx, "SELECT email, phone FROM contacts WHERE user_id = $1", userID).
		Scan(&contact.Email, &contact.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrContactNotFound
		}

		return nil, fmt.Errorf("failed to query contact: %w", err)
	}

	return &contact, nil
}

func (r *NotificationRepository) SaveContact(ctx context.Context, contact models.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (user_id, email, phone) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, phone = EXCLUDED.phone
	`, contact.UserID, contact.Email, contact.Phone)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}

	return nil
}

func (r *NotificationRepository) CreateInApp(ctx context.Context, notification models.InAppNotification) error {
	data, err := marshalJSON(notification.Data)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO in_app_notifications (id, user_id, type, title, message, data, priority, read, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::jsonb, '{}'), $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		notification.ID,
		notification.UserID,
		notification.Type,
		notification.Title,
		notification.Message,
		nullJSON(data),
		notification.Priority,
		notification.Read,
		notification.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create in-app notification: %w", err)
	}

	return nil
}

func (r *NotificationRepository) InAppByUser(ctx context.Context, userID string) ([]models.InAppNotification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, data, priority, read, created_at
		FROM in_app_notifications
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query in-app notifications: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	notifications := make([]models.InAppNotification, 0)

	for rows.Next() {
		var (
			notification models.InAppNotification
			data         []byte
		)

		err := rows.Scan(
			&notification.ID,
			&notification.UserID,
			&notification.Type,
			&notification.Title,
			&notification.Message,
			&data,
			&notification.Priority,
			&notification.Read,
			&notification.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan in-app notification: %w", err)
		}

		err = unmarshalJSON(data, &notification.Data)
		if err != nil {
			return nil, err
		}

		notifications = append(notifications, notification)
	}

	return notifications, rows.Err()
}

func (r *NotificationRepository) RecordDelivery(ctx context.Context, log models.DeliveryLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_logs (id, user_id, notification_type, channel, status, error, idempotency_key, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		log.ID,
		log.UserID,
		log.NotificationType,
		log.Channel,
		log.Status,
		log.Error,
		log.IdempotencyKey,
		log.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	return nil
}

func (r *NotificationRepository) DeliveriesByUser(ctx context.Context, userID string) ([]models.DeliveryLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, notification_type, channel, status, error, idempotency_key, at
		FROM delivery_logs
		WHERE user_id = $1
		ORDER BY at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	logs := make([]models.DeliveryLog, 0)

	for rows.Next() {
		var log models.DeliveryLog

		err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.NotificationType,
			&log.Channel,
			&log.Status,
			&log.Error,
			&log.IdempotencyKey,
			&log.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}

		logs = append(logs, log)
	}

	return logs, rows.Err()
}
