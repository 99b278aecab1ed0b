package models

import (
	"time"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleDriver     Role = "driver"
)

// Claims represents JWT claims carried by a session token
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// Session is the read-only identity context handed to the driver-side
// components. It is never mutated after construction.
type Session struct {
	DriverID  string    `json:"driver_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session token has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// HasPermission checks if a role has permission for a specific action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleDispatcher:
		return action == "view_shifts" || action == "release_shift" ||
			action == "manage_trucks" || action == "manage_geofences"
	case RoleDriver:
		return action == "view_shifts" || action == "activate_shift" ||
			action == "end_shift" || action == "view_notifications"
	default:
		return false
	}
}
