package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ridepool/internal/config"
	"ridepool/internal/domain"
	"ridepool/internal/routing"
	"ridepool/internal/service"
)

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func pt(lng, lat float64) domain.Point {
	return domain.Point{Lng: lng, Lat: lat}
}

// openRide builds an Open ride whose stored route is the straight line
// between its endpoints.
func openRide(id, userID string, src, dst domain.Point, at time.Time) *domain.Ride {
	return &domain.Ride{
		ID:                  id,
		UserID:              userID,
		Source:              "src-" + id,
		Destination:         "dst-" + id,
		SourceLocation:      src,
		DestinationLocation: dst,
		Datetime:            at,
		Route:               domain.LineString{src, dst},
		GenderPreference:    domain.GenderAny,
		Status:              domain.RideStatusOpen,
		CreatedAt:           baseTime,
		UpdatedAt:           baseTime,
	}
}

// env bundles the in-memory collaborators of the services.
type env struct {
	rides     *MockRideRepository
	groups    *MockGroupRepository
	users     *MockUserRepository
	locations *MockLocationStore
	locks     *MockLockStore
	cache     *MockRideCache
	publisher *RecordingPublisher
	oracle    *FakeOracle
	scheduler *service.Scheduler

	groupService    *service.GroupService
	rideService     *service.RideService
	matchingService *service.MatchingService
}

func defaultGroupConfig() config.GroupConfig {
	return config.GroupConfig{
		CountdownWindow: time.Minute,
		FinalizeTimeout: time.Second,
		FinalizeRetries: 3,
		LockTTL:         5 * time.Second,
		LockWait:        2 * time.Second,
	}
}

func defaultMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		TimeWindow:       30 * time.Minute,
		RadiusFraction:   0.1,
		BearingThreshold: 45,
	}
}

func newEnv(t *testing.T, groupCfg config.GroupConfig) *env {
	t.Helper()

	e := &env{
		rides:     NewMockRideRepository(),
		users:     NewMockUserRepository(),
		locations: NewMockLocationStore(),
		locks:     NewMockLockStore(),
		cache:     NewMockRideCache(),
		publisher: &RecordingPublisher{},
		oracle:    &FakeOracle{},
		scheduler: service.NewScheduler(),
	}
	e.groups = NewMockGroupRepository(e.rides)
	t.Cleanup(e.scheduler.Stop)

	notifier := service.NewNotificationService(e.publisher, nil)
	e.groupService = service.NewGroupService(service.GroupServiceDeps{
		Groups:    e.groups,
		Rides:     e.rides,
		Users:     e.users,
		Locker:    service.NewRedisGroupLocker(e.locks, groupCfg.LockTTL, groupCfg.LockWait, nil),
		Planner:   routing.NewSequencer(e.oracle),
		Notifier:  notifier,
		Scheduler: e.scheduler,
		Locations: e.locations,
		RideCache: e.cache,
		Config:    groupCfg,
	})
	e.rideService = service.NewRideService(e.rides, e.groups, e.locations, e.cache, e.oracle, nil)
	e.matchingService = service.NewMatchingService(e.locations, e.cache, e.rides, defaultMatchingConfig(), nil)
	return e
}

// addRide stores an open ride and indexes its source.
func (e *env) addRide(t *testing.T, ride *domain.Ride) *domain.Ride {
	t.Helper()
	e.rides.AddRide(ride)
	if ride.Status == domain.RideStatusOpen {
		require.NoError(t, e.locations.AddRide(context.Background(), ride.ID, ride.SourceLocation.Lat, ride.SourceLocation.Lng))
	}
	return ride
}

func (e *env) addUser(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, e.users.Upsert(context.Background(), &domain.User{ID: id, FullName: name, Avatar: id + ".png"}))
}

// riders seeds the admin and two riders, each with one open ride along the
// same corridor.
func (e *env) riders(t *testing.T) {
	t.Helper()
	e.addUser(t, "admin", "Asha")
	e.addUser(t, "u2", "Bilal")
	e.addUser(t, "u3", "Chen")
	e.addRide(t, openRide("r-admin", "admin", pt(77.00, 28.00), pt(77.50, 28.50), baseTime))
	e.addRide(t, openRide("r2", "u2", pt(77.02, 28.01), pt(77.52, 28.51), baseTime.Add(10*time.Minute)))
	e.addRide(t, openRide("r3", "u3", pt(77.05, 28.02), pt(77.45, 28.47), baseTime.Add(5*time.Minute)))
}

// groupWith creates a group administered by "admin" and admits the given
// invitees as members.
func (e *env) groupWith(t *testing.T, members ...service.InviteTarget) *domain.Group {
	t.Helper()
	ctx := context.Background()
	g, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{
		AdminID: "admin",
		RideID:  "r-admin",
		Invites: members,
	})
	require.NoError(t, err)
	for _, m := range members {
		g, err = e.groupService.AcceptInvite(ctx, g.ID, m.UserID)
		require.NoError(t, err)
	}
	return g
}
