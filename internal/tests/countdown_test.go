package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridepool/internal/config"
	"ridepool/internal/domain"
	"ridepool/internal/service"
)

func shortWindow() (cfg config.GroupConfig) {
	cfg = defaultGroupConfig()
	cfg.CountdownWindow = 50 * time.Millisecond
	return cfg
}

// waitForFinalize waits until the scheduled finalize of groupID has
// published ride-started and released the group lease.
func waitForFinalize(t *testing.T, e *env, groupID string) *domain.Group {
	t.Helper()
	require.Eventually(t, func() bool {
		names := e.publisher.Names("group:" + groupID)
		return len(names) > 0 && names[len(names)-1] == service.EventRideStarted && !e.locks.Held(groupID)
	}, 3*time.Second, 10*time.Millisecond)
	return e.groups.Snapshot(groupID)
}

func TestCountdown_FinalizeKeepsReadyMembers(t *testing.T) {
	e := newEnv(t, shortWindow())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})

	_, err := e.groupService.ToggleReady(ctx, g.ID, "u2")
	require.NoError(t, err)

	locked, err := e.groupService.StartCountdown(ctx, g.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.GroupStatusLocked, locked.Status)
	assert.False(t, locked.CountdownEndsAt.IsZero())

	closed := waitForFinalize(t, e, g.ID)

	assert.Equal(t, domain.GroupStatusClosed, closed.Status)
	require.Len(t, closed.Members, 1)
	assert.Contains(t, closed.Members, "u2")
	assert.Equal(t, domain.RideStatusMatched, e.rides.Status("r2"))
	assert.Equal(t, domain.RideStatusOpen, e.rides.Status("r-admin"))
	assert.False(t, e.locations.Has("r2"))
	assert.True(t, e.locations.Has("r-admin"))
	assert.Empty(t, e.groups.ClaimOf("r-admin"))
	assert.NoError(t, closed.CheckInvariants())

	names := e.publisher.Names("group:" + g.ID)
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, []string{service.EventCountdownStarted, service.EventRideStarted}, names[len(names)-2:])

	group, err := e.rideService.GetRideGroup(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, g.ID, group.ID)
}

func TestCountdown_OnlyAdminMayStart(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	g := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})

	_, err := e.groupService.StartCountdown(context.Background(), g.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.Equal(t, domain.GroupStatusOpen, e.groups.Snapshot(g.ID).Status)
	assert.False(t, e.scheduler.Pending(g.ID))
	assert.Zero(t, e.publisher.Count(service.EventCountdownStarted))
}

func TestCountdown_ConcurrentStartsLockOnce(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	g := e.groupWith(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.groupService.StartCountdown(context.Background(), g.ID, "admin")
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, e.publisher.Count(service.EventCountdownStarted))
	assert.True(t, e.scheduler.Pending(g.ID))
}

func TestFinalize_IsIdempotent(t *testing.T) {
	e := newEnv(t, shortWindow())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t)

	_, err := e.groupService.ToggleReady(ctx, g.ID, "admin")
	require.NoError(t, err)
	_, err = e.groupService.StartCountdown(ctx, g.ID, "admin")
	require.NoError(t, err)
	waitForFinalize(t, e, g.ID)
	finalizes := atomic.LoadInt32(&e.groups.FinalizeCallCount)

	require.NoError(t, e.groupService.Finalize(ctx, g.ID))
	require.NoError(t, e.groupService.Finalize(ctx, "no-such-group"))

	assert.Equal(t, finalizes, atomic.LoadInt32(&e.groups.FinalizeCallCount))
	assert.Equal(t, 1, e.publisher.Count(service.EventRideStarted))
}

func TestFinalize_OpenGroupIsUntouched(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	g := e.groupWith(t)

	require.NoError(t, e.groupService.Finalize(context.Background(), g.ID))
	assert.Equal(t, domain.GroupStatusOpen, e.groups.Snapshot(g.ID).Status)
}

func TestFinalize_RetriesTransientFailures(t *testing.T) {
	e := newEnv(t, shortWindow())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})
	e.groups.FinalizeError = errors.New("connection reset")
	e.groups.FailFinalize = 2

	_, err := e.groupService.ToggleReady(ctx, g.ID, "u2")
	require.NoError(t, err)
	_, err = e.groupService.StartCountdown(ctx, g.ID, "admin")
	require.NoError(t, err)

	waitForFinalize(t, e, g.ID)
	assert.Equal(t, domain.GroupStatusClosed, e.groups.Snapshot(g.ID).Status)
	assert.Equal(t, domain.RideStatusMatched, e.rides.Status("r2"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&e.groups.FinalizeCallCount))
}

func TestFinalize_GivesUpAfterRetries(t *testing.T) {
	cfg := defaultGroupConfig()
	cfg.FinalizeRetries = 2
	e := newEnv(t, cfg)
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t)
	e.groups.FinalizeError = errors.New("connection reset")
	e.groups.FailFinalize = 100

	_, err := e.groupService.StartCountdown(ctx, g.ID, "admin")
	require.NoError(t, err)

	err = e.groupService.Finalize(ctx, g.ID)
	assert.Error(t, err)
	assert.Equal(t, domain.GroupStatusLocked, e.groups.Snapshot(g.ID).Status)
	assert.Equal(t, domain.RideStatusOpen, e.rides.Status("r-admin"))
}

func TestDeleteGroup_CancelsPendingFinalize(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})

	_, err := e.groupService.StartCountdown(ctx, g.ID, "admin")
	require.NoError(t, err)
	require.True(t, e.scheduler.Pending(g.ID))

	err = e.groupService.DeleteGroup(ctx, g.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, e.groupService.DeleteGroup(ctx, g.ID, "admin"))
	assert.False(t, e.scheduler.Pending(g.ID))
	assert.Nil(t, e.groups.Snapshot(g.ID))
	assert.Empty(t, e.groups.ClaimOf("r2"))
	assert.Equal(t, 1, e.publisher.Count(service.EventGroupDeleted))
}

func TestResumeCountdowns_FinalizesOverdueGroups(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)

	g := domain.NewGroup("g-overdue", "Overdue", "admin", "r-admin", baseTime)
	g.Members["admin"] = domain.Member{UserID: "admin", RideID: "r-admin", IsReady: true, JoinedAt: baseTime}
	g.Status = domain.GroupStatusLocked
	g.CountdownEndsAt = time.Now().Add(-time.Minute)
	require.NoError(t, e.groups.Create(context.Background(), g))

	resumed, err := e.groupService.ResumeCountdowns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	closed := waitForFinalize(t, e, g.ID)
	assert.Contains(t, closed.Members, "admin")
	assert.Equal(t, domain.RideStatusMatched, e.rides.Status("r-admin"))
}
