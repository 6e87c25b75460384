package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusOpen      RideStatus = "Open"
	RideStatusMatched   RideStatus = "Matched"
	RideStatusCompleted RideStatus = "Completed"
	RideStatusCancelled RideStatus = "Cancelled"
)

// Valid reports whether s is a known ride status.
func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusOpen, RideStatusMatched, RideStatusCompleted, RideStatusCancelled:
		return true
	}
	return false
}

// GenderPreference restricts who a ride may be shared with.
type GenderPreference string

const (
	GenderAny    GenderPreference = "Any"
	GenderMale   GenderPreference = "Male"
	GenderFemale GenderPreference = "Female"
)

// Valid reports whether p is a known preference.
func (p GenderPreference) Valid() bool {
	switch p {
	case GenderAny, GenderMale, GenderFemale:
		return true
	}
	return false
}

// CompatibleWith reports whether two preferences allow sharing. Any matches
// in either direction.
func (p GenderPreference) CompatibleWith(other GenderPreference) bool {
	return p == other || p == GenderAny || other == GenderAny
}

// Ride represents a point-to-point trip request in the system.
type Ride struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"userId"`
	Source              string           `json:"source"`
	Destination         string           `json:"destination"`
	SourceLocation      Point            `json:"sourceLocation"`
	DestinationLocation Point            `json:"destinationLocation"`
	Datetime            time.Time        `json:"datetime"`
	Route               LineString       `json:"route,omitempty"`
	GenderPreference    GenderPreference `json:"genderPreference"`
	Status              RideStatus       `json:"status"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// HasValidLocations reports whether both endpoints are valid coordinates.
func (r *Ride) HasValidLocations() bool {
	return r.SourceLocation.Valid() && r.DestinationLocation.Valid()
}
