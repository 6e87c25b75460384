package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridepool/internal/domain"
	"ridepool/internal/geo"
	"ridepool/internal/repository"
	"ridepool/internal/service"
)

func matchIDs(rides []*domain.Ride) []string {
	ids := make([]string, 0, len(rides))
	for _, r := range rides {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestFindMatches_NearbyRideWithinWindow(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.addRide(t, openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime))
	e.addRide(t, openRide("y", "uy", pt(77.02, 28.01), pt(77.52, 28.51), baseTime.Add(10*time.Minute)))

	for _, overlap := range []bool{false, true} {
		matches, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x", CheckOverlap: overlap})
		require.NoError(t, err)
		assert.Equal(t, []string{"y"}, matchIDs(matches), "overlap=%v", overlap)
	}
}

func TestFindMatches_ExcludesIneligibleRides(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	src, dst := pt(77.0, 28.0), pt(77.5, 28.5)
	e.addRide(t, openRide("x", "ux", src, dst, baseTime))

	sameUser := openRide("same-user", "ux", pt(77.01, 28.0), pt(77.51, 28.5), baseTime)
	matched := openRide("matched", "um", pt(77.01, 28.0), pt(77.51, 28.5), baseTime)
	matched.Status = domain.RideStatusMatched
	male := openRide("male-only", "ug", pt(77.01, 28.0), pt(77.51, 28.5), baseTime)
	male.GenderPreference = domain.GenderMale
	late := openRide("late", "ul", pt(77.01, 28.0), pt(77.51, 28.5), baseTime.Add(2*time.Hour))
	farDest := openRide("far-dest", "uf", pt(77.01, 28.0), pt(78.5, 28.5), baseTime)

	for _, r := range []*domain.Ride{sameUser, male, late, farDest} {
		e.addRide(t, r)
	}
	// A stale index entry for a ride that is no longer open.
	e.rides.AddRide(matched)
	require.NoError(t, e.locations.AddRide(context.Background(), matched.ID, matched.SourceLocation.Lat, matched.SourceLocation.Lng))

	x, err := e.rides.GetByID(context.Background(), "x")
	require.NoError(t, err)
	x.GenderPreference = domain.GenderFemale
	e.rides.AddRide(x)

	matches, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x", CheckOverlap: true})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindMatches_GenderAnyMatchesEitherWay(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	x := openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime)
	x.GenderPreference = domain.GenderFemale
	e.addRide(t, x)
	e.addRide(t, openRide("any", "ua", pt(77.01, 28.0), pt(77.51, 28.5), baseTime))
	female := openRide("female", "uf", pt(77.01, 28.01), pt(77.51, 28.51), baseTime)
	female.GenderPreference = domain.GenderFemale
	e.addRide(t, female)

	matches, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"any", "female"}, matchIDs(matches))
}

func TestFindMatches_RadiusScalesWithTripLength(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	src, dst := pt(77.0, 28.0), pt(77.5, 28.5)
	e.addRide(t, openRide("x", "ux", src, dst, baseTime))
	radius := 0.1 * geo.HaversineKm(src.Lat, src.Lng, dst.Lat, dst.Lng)

	// Straight north: one degree of latitude is about 111.2 km.
	inside := radius * 0.8 / 111.2
	outside := radius * 1.2 / 111.2
	e.addRide(t, openRide("inside", "ui", pt(77.0, 28.0+inside), dst, baseTime))
	e.addRide(t, openRide("outside", "uo", pt(77.0, 28.0+outside), dst, baseTime))

	matches, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"inside"}, matchIDs(matches))

	for _, m := range matches {
		d := geo.HaversineKm(src.Lat, src.Lng, m.SourceLocation.Lat, m.SourceLocation.Lng)
		assert.LessOrEqual(t, d, radius)
	}
}

func TestFindMatches_CrossingRoutesHeadingTheSameWay(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.addRide(t, openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime))

	// Both cross x's route far from its endpoints.
	e.addRide(t, openRide("along", "ua", pt(77.1, 28.3), pt(77.45, 28.35), baseTime.Add(15*time.Minute)))
	e.addRide(t, openRide("against", "ub", pt(77.45, 28.35), pt(77.1, 28.3), baseTime))
	e.addRide(t, openRide("along-late", "uc", pt(77.1, 28.3), pt(77.45, 28.35), baseTime.Add(3*time.Hour)))

	withoutOverlap, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.Empty(t, withoutOverlap)
	assert.Zero(t, e.rides.IntersectCallCount)

	withOverlap, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x", CheckOverlap: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"along"}, matchIDs(withOverlap))
}

func TestFindMatches_DeduplicatesAcrossPasses(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.addRide(t, openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime))

	// Nearby endpoints and a route that also crosses x's.
	y := openRide("y", "uy", pt(77.02, 27.99), pt(77.49, 28.52), baseTime)
	y.Route = domain.LineString{y.SourceLocation, pt(77.2, 28.3), y.DestinationLocation}
	e.addRide(t, y)

	matches, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x", CheckOverlap: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, matchIDs(matches))
}

func TestFindMatches_RideWithoutRouteSkipsOverlapPass(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	x := openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime)
	x.Route = nil
	e.addRide(t, x)

	matches, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x", CheckOverlap: true})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Zero(t, e.rides.IntersectCallCount)
}

func TestFindMatches_CachesCandidates(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.addRide(t, openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime))
	e.addRide(t, openRide("y", "uy", pt(77.02, 28.01), pt(77.52, 28.51), baseTime))

	_, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.True(t, e.cache.Has("y"))
}

func TestFindMatches_UnindexedRideFoundInDatabase(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	ctx := context.Background()
	e.addRide(t, openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime))

	e.locations.AddError = errors.New("redis: connection refused")
	y, err := e.rideService.CreateRide(ctx, service.CreateRideRequest{
		UserID:              "uy",
		Source:              "Rajiv Chowk",
		Destination:         "Sector 29",
		SourceLocation:      pt(77.02, 28.01),
		DestinationLocation: pt(77.52, 28.51),
		Datetime:            baseTime.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	e.locations.AddError = nil
	require.False(t, e.locations.Has(y.ID))

	matches, err := e.matchingService.FindMatches(ctx, service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{y.ID}, matchIDs(matches))
	assert.Equal(t, int32(1), e.rides.NearCallCount)
}

func TestFindMatches_IndexOutageFallsBackToDatabase(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.addRide(t, openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime))
	e.addRide(t, openRide("y", "uy", pt(77.02, 28.01), pt(77.52, 28.51), baseTime))
	e.addRide(t, openRide("far", "uf", pt(78.0, 29.0), pt(78.5, 29.5), baseTime))
	e.locations.FindError = errors.New("redis: i/o timeout")

	matches, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, matchIDs(matches))
	assert.True(t, e.cache.Has("y"))
}

func TestFindMatches_RebuiltIndexServesMissedRides(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	ctx := context.Background()
	e.addRide(t, openRide("x", "ux", pt(77.0, 28.0), pt(77.5, 28.5), baseTime))
	e.addRide(t, openRide("y", "uy", pt(77.02, 28.01), pt(77.52, 28.51), baseTime))
	// Stored while the index was unreachable.
	e.rides.AddRide(openRide("z", "uz", pt(77.01, 28.02), pt(77.51, 28.52), baseTime))

	matches, err := e.matchingService.FindMatches(ctx, service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, matchIDs(matches))

	_, err = e.rideService.RebuildIndex(ctx)
	require.NoError(t, err)

	matches, err = e.matchingService.FindMatches(ctx, service.MatchRequest{RideID: "x"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"y", "z"}, matchIDs(matches))
	assert.Zero(t, e.rides.NearCallCount)
}

func TestFindMatches_Errors(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())

	_, err := e.matchingService.FindMatches(context.Background(), service.MatchRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "missing"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	bad := openRide("bad", "ub", pt(200, 28.0), pt(77.5, 28.5), baseTime)
	e.rides.AddRide(bad)
	_, err = e.matchingService.FindMatches(context.Background(), service.MatchRequest{RideID: "bad"})
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}
