package domain

import (
	"encoding/json"
	"time"
)

// StopRole marks a waypoint as a pickup or a drop.
type StopRole string

const (
	StopPickup StopRole = "pickup"
	StopDrop   StopRole = "drop"
)

// Waypoint is a single stop of a pooled route.
type Waypoint struct {
	UserID   string   `json:"userId"`
	FullName string   `json:"fullName"`
	Avatar   string   `json:"avatar"`
	Role     StopRole `json:"role"`
	Location Point    `json:"location"`
}

// PooledRoute is the computed visiting order of a group plus the routing
// payload returned for it.
type PooledRoute struct {
	Waypoints   []Waypoint      `json:"waypointOrder"`
	Coordinates []Point         `json:"orderedCoordinates"`
	Geometry    json.RawMessage `json:"directions,omitempty"`
	ComputedAt  time.Time       `json:"computedAt"`

	// MembershipVersion is the group membership version the route was computed for.
	MembershipVersion int64 `json:"membershipVersion"`

	// Stale is set when the last recomputation failed and the route no longer
	// reflects the current membership.
	Stale bool `json:"stale"`
}
