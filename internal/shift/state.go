package shift

import (
	"time"

	"github.com/ukydev/fleet-driver/internal/models"
)

// State is a node of the driver shift lifecycle.
type State int

const (
	StateUnknown State = iota
	StateIdle
	StateActivating
	StateActive
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "invalid"
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a read-only copy of the coordinator's state.
type Snapshot struct {
	State       State                  `json:"state"`
	Shift       *models.ActiveShift    `json:"shift"`
	Schedules   []models.ShiftSchedule `json:"schedules"`
	Current     *models.ShiftSchedule  `json:"current_window"`
	ServerTime  string                 `json:"server_time,omitempty"`
	Seq         uint64                 `json:"seq"`
	RefreshedAt time.Time              `json:"refreshed_at"`
}

// ShiftID returns the bound shift identifier, or "" when none.
func (s Snapshot) ShiftID() string {
	if s.Shift == nil {
		return ""
	}
	return s.Shift.ID
}
