package models

// TruckRef is the minimal truck identity bound to an active shift. The
// truck entity itself is owned by the fleet backend.
type TruckRef struct {
	ID          string `bson:"id" json:"id"`
	PlateNumber string `bson:"plate_number" json:"plate_number"`
	Name        string `bson:"name,omitempty" json:"name,omitempty"`
}
