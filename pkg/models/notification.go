package models

import (
	"fmt"
	"time"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelInApp || c == ChannelEmail || c == ChannelSMS
}

type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// QuietHours is a daily window, in the user's timezone, during which only in-app delivery happens.
// Start and End are "HH:MM"; Start > End denotes an overnight window.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start,omitempty"    validate:"omitempty,datetime=15:04"`
	End      string `json:"end,omitempty"      validate:"omitempty,datetime=15:04"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// Contains reports whether now falls within [Start, End) in the configured timezone.
func (q QuietHours) Contains(now time.Time) (bool, error) {
	if !q.Enabled {
		return false, nil
	}

	start, err := minuteOfDay(q.Start)
	if err != nil {
		return false, err
	}

	end, err := minuteOfDay(q.End)
	if err != nil {
		return false, err
	}

	loc := time.UTC

	if q.Timezone != "" {
		loc, err = time.LoadLocation(q.Timezone)
		if err != nil {
			return false, fmt.Errorf("invalid quiet hours timezone %q: %w", q.Timezone, err)
		}
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	switch {
	case start == end:
		return false, nil
	case start < end:
		return minute >= start && minute < end, nil
	default:
		return minute >= start || minute < end, nil
	}
}

func minuteOfDay(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid quiet hours time %q: %w", value, err)
	}

	return t.Hour()*60 + t.Minute(), nil
}

// NotificationPreference is keyed by (UserID, NotificationType, Channel).
type NotificationPreference struct {
	UserID           string     `json:"user_id"           validate:"required"`
	NotificationType string     `json:"notification_type" validate:"required"`
	Channel          Channel    `json:"channel"           validate:"required,oneof=in_app email sms"`
	Enabled          bool       `json:"enabled"`
	Frequency        Frequency  `json:"frequency"         validate:"omitempty,oneof=immediate daily weekly"`
	QuietHours       QuietHours `json:"quiet_hours"`
}

// DefaultPreferences returns the lazily created defaults for a (user, type) pair.
func DefaultPreferences(userID, notificationType string) []NotificationPreference {
	return []NotificationPreference{
		{UserID: userID, NotificationType: notificationType, Channel: ChannelInApp, Enabled: true, Frequency: FrequencyImmediate},
		{UserID: userID, NotificationType: notificationType, Channel: ChannelEmail, Enabled: true, Frequency: FrequencyImmediate},
	}
}

// NotificationEvent is the ephemeral request handed to the dispatcher.
type NotificationEvent struct {
	UserID         string         `json:"user_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	Priority       Priority       `json:"priority,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// InAppNotification is the durable record written by the in-app channel.
type InAppNotification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Priority  Priority       `json:"priority"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

type DeliveryStatus string

const (
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusSuppressed DeliveryStatus = "suppressed"
)

// DeliveryLog is one attempt of one event on one channel.
type DeliveryLog struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	NotificationType string         `json:"notification_type"`
	Channel          Channel        `json:"channel"`
	Status           DeliveryStatus `json:"status"`
	Error            string         `json:"error,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
	At               time.Time      `json:"at"`
}

// Contact holds the outbound addresses of a portal user.
type Contact struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}
