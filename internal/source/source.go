package source

import (
	"context"
	"time"

	"payment_verification_gateway/internal/model"
)

// NotificationSource is the poll-only provider of transaction alerts
type NotificationSource interface {
	// ListUnread returns candidate notifications in listing order
	ListUnread(ctx context.Context, query model.NotificationQuery) ([]model.Notification, error)
	// MarkConsumed flags a notification as processed. Repeating it is harmless.
	MarkConsumed(ctx context.Context, id string) error
}

// StartOfDay returns local midnight of the day t falls on
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
