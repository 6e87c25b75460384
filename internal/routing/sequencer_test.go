package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridepool/internal/domain"
)

// fakeOracle records the coordinates it was asked for.
type fakeOracle struct {
	mu      sync.Mutex
	calls   [][]domain.Point
	payload json.RawMessage
	err     error
}

func (f *fakeOracle) Directions(ctx context.Context, coords []domain.Point) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]domain.Point(nil), coords...))
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func pt(lng, lat float64) *domain.Point {
	return &domain.Point{Lng: lng, Lat: lat}
}

func indexOf(plan Plan, userID string, role domain.StopRole) int {
	for i, w := range plan.Waypoints {
		if w.UserID == userID && w.Role == role {
			return i
		}
	}
	return -1
}

func TestOrder_EastboundAlongLongitude(t *testing.T) {
	t.Parallel()

	s := NewSequencer(&fakeOracle{})
	plan, err := s.Order([]Passenger{
		{UserID: "a", Pickup: pt(77.00, 28.00), Drop: pt(77.50, 28.05)},
		{UserID: "b", Pickup: pt(77.10, 28.01), Drop: pt(77.40, 28.04)},
	})
	require.NoError(t, err)

	got := make([]string, 0, len(plan.Waypoints))
	for _, w := range plan.Waypoints {
		got = append(got, fmt.Sprintf("%s:%s", w.UserID, w.Role))
	}
	assert.Equal(t, []string{"a:pickup", "b:pickup", "b:drop", "a:drop"}, got)
	assert.Len(t, plan.Coordinates, 4)
	assert.Equal(t, plan.Waypoints[0].Location, plan.Coordinates[0])
}

func TestOrder_SouthboundAlongLatitude(t *testing.T) {
	t.Parallel()

	s := NewSequencer(&fakeOracle{})
	plan, err := s.Order([]Passenger{
		{UserID: "a", Pickup: pt(77.00, 29.00), Drop: pt(77.01, 28.00)},
		{UserID: "b", Pickup: pt(77.02, 28.80), Drop: pt(77.00, 28.20)},
	})
	require.NoError(t, err)

	assert.Equal(t, "a", plan.Waypoints[0].UserID)
	assert.Equal(t, domain.StopPickup, plan.Waypoints[0].Role)
	assert.Equal(t, "a", plan.Waypoints[3].UserID)
	assert.Equal(t, domain.StopDrop, plan.Waypoints[3].Role)
}

func TestOrder_DefersDropUntilPickup(t *testing.T) {
	t.Parallel()

	// b's drop lies before its pickup along the overall direction of travel.
	s := NewSequencer(&fakeOracle{})
	plan, err := s.Order([]Passenger{
		{UserID: "a", Pickup: pt(77.0, 28.0), Drop: pt(78.0, 28.0)},
		{UserID: "b", Pickup: pt(77.6, 28.0), Drop: pt(77.2, 28.0)},
	})
	require.NoError(t, err)

	pickup := indexOf(plan, "b", domain.StopPickup)
	drop := indexOf(plan, "b", domain.StopDrop)
	assert.Equal(t, pickup+1, drop, "deferred drop is emitted right after its pickup")
}

func TestOrder_PickupAlwaysBeforeDrop(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	s := NewSequencer(&fakeOracle{})

	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(8)
		passengers := make([]Passenger, n)
		for i := range passengers {
			passengers[i] = Passenger{
				UserID: fmt.Sprintf("u%d", i),
				Pickup: pt(77+rng.Float64(), 28+rng.Float64()),
				Drop:   pt(77+rng.Float64(), 28+rng.Float64()),
			}
		}

		plan, err := s.Order(passengers)
		require.NoError(t, err)
		require.Len(t, plan.Waypoints, 2*n)

		for _, p := range passengers {
			pickup := indexOf(plan, p.UserID, domain.StopPickup)
			drop := indexOf(plan, p.UserID, domain.StopDrop)
			require.GreaterOrEqual(t, pickup, 0)
			require.Less(t, pickup, drop, "round %d user %s", round, p.UserID)
		}
	}
}

func TestOrder_Deterministic(t *testing.T) {
	t.Parallel()

	passengers := []Passenger{
		{UserID: "a", Pickup: pt(77.0, 28.0), Drop: pt(77.5, 28.5)},
		{UserID: "b", Pickup: pt(77.0, 28.0), Drop: pt(77.5, 28.5)},
		{UserID: "c", Pickup: pt(77.2, 28.1), Drop: pt(77.3, 28.6)},
	}
	s := NewSequencer(&fakeOracle{})

	first, err := s.Order(passengers)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := s.Order(passengers)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestOrder_MissingCoordinates(t *testing.T) {
	t.Parallel()

	s := NewSequencer(&fakeOracle{})
	_, err := s.Order([]Passenger{
		{UserID: "a", Pickup: pt(77.0, 28.0), Drop: nil},
	})

	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "a")
}

func TestEnforcePrecedence_AppendsOrphanDrops(t *testing.T) {
	t.Parallel()

	// Passenger 1 has no pickup in the sequence at all.
	sorted := []stop{
		{passenger: 1, role: domain.StopDrop, loc: domain.Point{Lng: 1}},
		{passenger: 0, role: domain.StopPickup, loc: domain.Point{Lng: 2}},
		{passenger: 0, role: domain.StopDrop, loc: domain.Point{Lng: 3}},
	}

	out := enforcePrecedence(sorted, 2)

	require.Len(t, out, 3)
	assert.Equal(t, 0, out[0].passenger)
	assert.Equal(t, domain.StopDrop, out[2].role)
	assert.Equal(t, 1, out[2].passenger)
}

func TestRoute_CallsOracleWithOrderedCoordinates(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{payload: json.RawMessage(`{"code":"Ok","routes":[]}`)}
	s := NewSequencer(oracle)

	route, err := s.Route(context.Background(), []Passenger{
		{UserID: "a", FullName: "Asha", Avatar: "a.png", Pickup: pt(77.0, 28.0), Drop: pt(77.5, 28.1)},
	})
	require.NoError(t, err)

	require.Len(t, oracle.calls, 1)
	assert.Equal(t, route.Coordinates, oracle.calls[0])
	assert.JSONEq(t, `{"code":"Ok","routes":[]}`, string(route.Geometry))
	assert.Equal(t, "Asha", route.Waypoints[0].FullName)
	assert.False(t, route.ComputedAt.IsZero())
}

func TestRoute_PropagatesOracleFailure(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{err: fmt.Errorf("%w: boom", domain.ErrExternalService)}
	s := NewSequencer(oracle)

	_, err := s.Route(context.Background(), []Passenger{
		{UserID: "a", Pickup: pt(77.0, 28.0), Drop: pt(77.5, 28.1)},
	})

	assert.True(t, errors.Is(err, domain.ErrExternalService))
}

func TestResolve_EmptyPlanSkipsOracle(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{}
	route, err := NewSequencer(oracle).Resolve(context.Background(), Plan{})

	require.NoError(t, err)
	assert.Empty(t, route.Waypoints)
	assert.Empty(t, oracle.calls)
}
