package models

import (
	"strings"
	"time"
)

// NotificationType enumerates the push events the driver app understands.
type NotificationType string

const (
	NotificationTripAssigned      NotificationType = "trip_assigned"
	NotificationTripStarted       NotificationType = "trip_started"
	NotificationTripCompleted     NotificationType = "trip_completed"
	NotificationBreakdownReported NotificationType = "breakdown_reported"
	NotificationTripStatusChange  NotificationType = "trip_status_change"
	NotificationOther             NotificationType = "other"
)

// ParseNotificationType maps a wire value onto a known type. Case and the
// choice of '-' or '_' as separator are ignored; anything unknown is
// NotificationOther.
func ParseNotificationType(raw string) NotificationType {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	switch t := NotificationType(normalized); t {
	case NotificationTripAssigned, NotificationTripStarted, NotificationTripCompleted,
		NotificationBreakdownReported, NotificationTripStatusChange:
		return t
	default:
		return NotificationOther
	}
}

// TriggersRefresh reports whether events of this type mean the server-side
// shift/trip binding changed.
func (t NotificationType) TriggersRefresh() bool {
	return t == NotificationTripAssigned || t == NotificationTripStatusChange
}

// NotificationPayload carries the navigation hints attached to a push.
type NotificationPayload struct {
	TripID string `bson:"trip_id,omitempty" json:"trip_id,omitempty"`
	Screen string `bson:"screen,omitempty" json:"screen,omitempty"`
}

// NotificationEvent is one entry of the driver's notification feed.
type NotificationEvent struct {
	ID        string              `bson:"event_id" json:"id"`
	Type      NotificationType    `bson:"type" json:"type"`
	Title     string              `bson:"title,omitempty" json:"title,omitempty"`
	Body      string              `bson:"body,omitempty" json:"body,omitempty"`
	Payload   NotificationPayload `bson:"payload" json:"payload"`
	Timestamp time.Time           `bson:"timestamp" json:"timestamp"`
	Read      bool                `bson:"read" json:"read"`
}
