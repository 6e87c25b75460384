package routing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"ridepool/internal/domain"
)

// Passenger is one group member with the endpoints of their ride.
type Passenger struct {
	UserID   string
	FullName string
	Avatar   string
	Pickup   *domain.Point
	Drop     *domain.Point
}

// Plan is a precedence-respecting visiting order, before geometry.
type Plan struct {
	Waypoints   []domain.Waypoint
	Coordinates []domain.Point
}

// Sequencer orders pickups and drops along the dominant travel axis and asks
// the oracle for road geometry. It is a heuristic, not a TSP solver.
type Sequencer struct {
	oracle Oracle
	now    func() time.Time
}

// NewSequencer creates a Sequencer backed by oracle.
func NewSequencer(oracle Oracle) *Sequencer {
	return &Sequencer{oracle: oracle, now: time.Now}
}

type stop struct {
	passenger int
	role      domain.StopRole
	loc       domain.Point
}

// axisValue returns the coordinate used for sorting: longitude when useLng.
func axisValue(p domain.Point, useLng bool) float64 {
	if useLng {
		return p.Lng
	}
	return p.Lat
}

// Order computes the visiting order. The same input always yields the same order.
func (s *Sequencer) Order(passengers []Passenger) (Plan, error) {
	stops := make([]stop, 0, 2*len(passengers))
	for i, p := range passengers {
		if p.Pickup == nil || p.Drop == nil || !p.Pickup.Valid() || !p.Drop.Valid() {
			return Plan{}, fmt.Errorf("%w: member %s has no resolvable pickup or drop", domain.ErrValidation, p.UserID)
		}
		stops = append(stops,
			stop{passenger: i, role: domain.StopPickup, loc: *p.Pickup},
			stop{passenger: i, role: domain.StopDrop, loc: *p.Drop},
		)
	}
	if len(stops) == 0 {
		return Plan{}, nil
	}

	useLng := dominantAxisIsLng(stops)
	ascending := dropsAhead(stops, useLng)

	sort.SliceStable(stops, func(i, j int) bool {
		a, b := axisValue(stops[i].loc, useLng), axisValue(stops[j].loc, useLng)
		if ascending {
			return a < b
		}
		return a > b
	})

	return buildPlan(passengers, enforcePrecedence(stops, len(passengers))), nil
}

func dominantAxisIsLng(stops []stop) bool {
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, s := range stops {
		minLat, maxLat = math.Min(minLat, s.loc.Lat), math.Max(maxLat, s.loc.Lat)
		minLng, maxLng = math.Min(minLng, s.loc.Lng), math.Max(maxLng, s.loc.Lng)
	}
	return maxLng-minLng > maxLat-minLat
}

// dropsAhead reports whether drops lie, on average, further along the axis than pickups.
func dropsAhead(stops []stop, useLng bool) bool {
	var pickupSum, dropSum float64
	var pickups, drops int
	for _, s := range stops {
		if s.role == domain.StopPickup {
			pickupSum += axisValue(s.loc, useLng)
			pickups++
		} else {
			dropSum += axisValue(s.loc, useLng)
			drops++
		}
	}
	if pickups == 0 || drops == 0 {
		return true
	}
	return dropSum/float64(drops) > pickupSum/float64(pickups)
}

// enforcePrecedence walks sorted stops so every pickup precedes its drop.
// Drops met before their pickup wait in a pending slot; drops still pending
// at the end are appended in passenger order.
func enforcePrecedence(sorted []stop, passengers int) []stop {
	out := make([]stop, 0, len(sorted))
	pickedUp := make([]bool, passengers)
	pending := make(map[int]stop)

	for _, s := range sorted {
		if s.role == domain.StopPickup {
			out = append(out, s)
			pickedUp[s.passenger] = true
			if d, ok := pending[s.passenger]; ok {
				out = append(out, d)
				delete(pending, s.passenger)
			}
			continue
		}
		if pickedUp[s.passenger] {
			out = append(out, s)
		} else {
			pending[s.passenger] = s
		}
	}

	for i := 0; i < passengers; i++ {
		if d, ok := pending[i]; ok {
			out = append(out, d)
		}
	}
	return out
}

func buildPlan(passengers []Passenger, ordered []stop) Plan {
	plan := Plan{
		Waypoints:   make([]domain.Waypoint, 0, len(ordered)),
		Coordinates: make([]domain.Point, 0, len(ordered)),
	}
	for _, s := range ordered {
		p := passengers[s.passenger]
		plan.Waypoints = append(plan.Waypoints, domain.Waypoint{
			UserID:   p.UserID,
			FullName: p.FullName,
			Avatar:   p.Avatar,
			Role:     s.role,
			Location: s.loc,
		})
		plan.Coordinates = append(plan.Coordinates, s.loc)
	}
	return plan
}

// Resolve asks the oracle for geometry through the plan's coordinates.
func (s *Sequencer) Resolve(ctx context.Context, plan Plan) (domain.PooledRoute, error) {
	route := domain.PooledRoute{
		Waypoints:   plan.Waypoints,
		Coordinates: plan.Coordinates,
		ComputedAt:  s.now(),
	}
	if len(plan.Coordinates) == 0 {
		return route, nil
	}

	payload, err := s.oracle.Directions(ctx, plan.Coordinates)
	if err != nil {
		return domain.PooledRoute{}, err
	}
	route.Geometry = payload
	return route, nil
}

// Route orders the passengers and resolves geometry in one call.
func (s *Sequencer) Route(ctx context.Context, passengers []Passenger) (domain.PooledRoute, error) {
	plan, err := s.Order(passengers)
	if err != nil {
		return domain.PooledRoute{}, err
	}
	return s.Resolve(ctx, plan)
}
