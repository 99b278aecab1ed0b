package models

import (
	"errors"
	"fmt"
	"time"
)

// ShiftStatus represents the current status of a shift
type ShiftStatus string

const (
	ShiftStatusActive ShiftStatus = "active"
	ShiftStatusEnded  ShiftStatus = "ended"
)

var ErrInvalidSchedule = errors.New("invalid shift schedule")

// ShiftSchedule is an admin-configured daily window during which shift
// activation is permitted. A window whose end is not after its start wraps
// past midnight.
type ShiftSchedule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StartHour   int    `json:"start_hour"`
	StartMinute int    `json:"start_minute"`
	EndHour     int    `json:"end_hour"`
	EndMinute   int    `json:"end_minute"`
}

func (s ShiftSchedule) startOfWindow() int { return s.StartHour*60 + s.StartMinute }
func (s ShiftSchedule) endOfWindow() int   { return s.EndHour*60 + s.EndMinute }

// Validate checks hour/minute ranges and rejects zero-length windows.
func (s ShiftSchedule) Validate() error {
	if s.StartHour < 0 || s.StartHour > 23 || s.EndHour < 0 || s.EndHour > 23 {
		return fmt.Errorf("%w: hour out of range", ErrInvalidSchedule)
	}
	if s.StartMinute < 0 || s.StartMinute > 59 || s.EndMinute < 0 || s.EndMinute > 59 {
		return fmt.Errorf("%w: minute out of range", ErrInvalidSchedule)
	}
	if s.startOfWindow() == s.endOfWindow() {
		return fmt.Errorf("%w: window %s has zero length", ErrInvalidSchedule, s)
	}
	return nil
}

func (s ShiftSchedule) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", s.StartHour, s.StartMinute, s.EndHour, s.EndMinute)
}

// ActiveShift represents a driver's activated shift together with the truck
// and trips the backend bound to it.
type ActiveShift struct {
	ID        string      `json:"id"`
	DriverID  string      `json:"driver_id"`
	Truck     *TruckRef   `json:"truck,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	Trips     []TripRef   `json:"trips"`
	Status    ShiftStatus `json:"status"`
}

// IsActive returns true if the shift has not ended
func (s *ActiveShift) IsActive() bool {
	return s != nil && s.Status != ShiftStatusEnded
}

// Clone returns a deep copy so snapshots never alias live state.
func (s *ActiveShift) Clone() *ActiveShift {
	if s == nil {
		return nil
	}
	out := *s
	if s.Truck != nil {
		truck := *s.Truck
		out.Truck = &truck
	}
	if s.Trips != nil {
		out.Trips = make([]TripRef, len(s.Trips))
		copy(out.Trips, s.Trips)
	}
	return &out
}

// TripIDs returns the ordered identifiers of the assigned trips.
func (s *ActiveShift) TripIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Trips))
	for _, t := range s.Trips {
		ids = append(ids, t.ID)
	}
	return ids
}
