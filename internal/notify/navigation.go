package notify

import "github.com/ukydev/fleet-driver/internal/models"

// ScreenTripDetails is used when an event names a trip but no screen.
const ScreenTripDetails = "trip-details"

// Target is where the presentation layer should navigate for an event.
type Target struct {
	Screen string `json:"screen"`
	TripID string `json:"trip_id,omitempty"`
}

// NavigationTarget maps an event payload to a destination. It returns
// false when the payload has neither a screen hint nor a trip ID.
func NavigationTarget(ev models.NotificationEvent) (Target, bool) {
	p := ev.Payload
	switch {
	case p.Screen != "":
		return Target{Screen: p.Screen, TripID: p.TripID}, true
	case p.TripID != "":
		return Target{Screen: ScreenTripDetails, TripID: p.TripID}, true
	default:
		return Target{}, false
	}
}
