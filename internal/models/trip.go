package models

// TripStatus is the backend-reported state of an assigned trip.
type TripStatus string

const (
	TripStatusPlanned    TripStatus = "planned"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

// TripRef is a weak reference to a trip assigned to a shift, carrying only
// the display fields returned by the gateway.
type TripRef struct {
	ID          string     `bson:"id" json:"id"`
	Status      TripStatus `bson:"status" json:"status"`
	Origin      string     `bson:"origin,omitempty" json:"origin,omitempty"`
	Destination string     `bson:"destination,omitempty" json:"destination,omitempty"`
}
