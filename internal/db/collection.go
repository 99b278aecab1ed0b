package db

import (
	"context"

	"github.com/ukydev/fleet-driver/internal/models"
)

// NotificationCollection defines the interface for the local notification
// feed. Entries are scoped per driver and keyed by event ID.
type NotificationCollection interface {
	List(ctx context.Context, driverID string) ([]models.NotificationEvent, error)
	Save(ctx context.Context, driverID string, ev models.NotificationEvent) error
	MarkRead(ctx context.Context, driverID, eventID string) error
	Delete(ctx context.Context, driverID, eventID string) error
}

// NotificationCursor defines the interface for notification cursor operations.
type NotificationCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}
