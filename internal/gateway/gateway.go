package gateway

import (
	"context"

	"github.com/ukydev/fleet-driver/internal/models"
)

// ScheduleSet is the result of a schedule fetch. Current is nil when no
// activation window is open right now.
type ScheduleSet struct {
	Schedules  []models.ShiftSchedule `json:"schedules"`
	Current    *models.ShiftSchedule  `json:"current"`
	ServerTime string                 `json:"server_time"`
}

// ShiftGateway is the remote contract for the driver's shift lifecycle.
type ShiftGateway interface {
	// GetShiftSchedules returns the configured windows and the open one, if any.
	GetShiftSchedules(ctx context.Context) (*ScheduleSet, error)
	// GetMyShift returns the driver's active shift, or nil when none exists.
	GetMyShift(ctx context.Context) (*models.ActiveShift, error)
	// ActivateShift asks the backend to open a shift and bind a truck and trips.
	ActivateShift(ctx context.Context) (*models.ActiveShift, error)
	// ReleaseShift ends the given shift.
	ReleaseShift(ctx context.Context, shiftID string) error
}
