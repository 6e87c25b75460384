package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridepool/internal/domain"
	"ridepool/internal/service"
)

func TestCreateGroup_AdminIsOnlyMember(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)

	g := e.groupWith(t)

	assert.Equal(t, "Asha's Group", g.Name)
	assert.Equal(t, domain.GroupStatusOpen, g.Status)
	require.Len(t, g.Members, 1)
	assert.Equal(t, "r-admin", g.Members["admin"].RideID)
	assert.Equal(t, g.ID, e.groups.ClaimOf("r-admin"))
	assert.NoError(t, g.CheckInvariants())
}

func TestCreateGroup_InvitesAreNotified(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)

	g, err := e.groupService.CreateGroup(context.Background(), service.CreateGroupRequest{
		AdminID: "admin",
		RideID:  "r-admin",
		Name:    "Morning run",
		Invites: []service.InviteTarget{{UserID: "u2", RideID: "r2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Morning run", g.Name)
	assert.Contains(t, g.Invites, "u2")
	assert.Equal(t, []string{service.EventGroupInvited, service.EventGroupInvite}, e.publisher.Names("user:u2"))

	for _, ev := range e.publisher.Events() {
		if ev.Room != "user:u2" {
			continue
		}
		payload, ok := ev.Payload.(service.InvitePayload)
		require.True(t, ok)
		assert.Equal(t, "Asha", payload.Admin.FullName)
		assert.Equal(t, "r2", payload.Ride.ID)
	}
}

func TestCreateGroup_RejectsForeignOrClaimedRide(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()

	_, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{AdminID: "admin", RideID: "r2"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	e.groupWith(t)
	_, err = e.groupService.CreateGroup(ctx, service.CreateGroupRequest{AdminID: "admin", RideID: "r-admin"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRequestToJoin_WithPendingInviteAccepts(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()

	g, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{
		AdminID: "admin",
		RideID:  "r-admin",
		Invites: []service.InviteTarget{{UserID: "u2", RideID: "r2"}},
	})
	require.NoError(t, err)

	g, err = e.groupService.RequestToJoin(ctx, g.ID, "u2", "r2")
	require.NoError(t, err)

	assert.Contains(t, g.Members, "u2")
	assert.Equal(t, "r2", g.Members["u2"].RideID)
	assert.Empty(t, g.Invites)
	assert.Empty(t, g.Requests)
	assert.Zero(t, e.publisher.Count(service.EventJoinRequested))
	assert.NoError(t, g.CheckInvariants())
}

func TestRequestToJoin_NotifiesAdminAndAwaitsDecision(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t)

	g, err := e.groupService.RequestToJoin(ctx, g.ID, "u3", "r3")
	require.NoError(t, err)
	assert.Contains(t, g.Requests, "u3")
	assert.Equal(t, []string{service.EventJoinRequested}, e.publisher.Names("user:admin"))

	_, err = e.groupService.RequestToJoin(ctx, g.ID, "u3", "r3")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = e.groupService.AcceptRequest(ctx, g.ID, "u2", "u3")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	g, err = e.groupService.AcceptRequest(ctx, g.ID, "admin", "u3")
	require.NoError(t, err)
	assert.Contains(t, g.Members, "u3")
	assert.Empty(t, g.Requests)
	assert.Equal(t, g.ID, e.groups.ClaimOf("r3"))
}

func TestAcceptRequest_RideClosedSinceRequest(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t)

	_, err := e.groupService.RequestToJoin(ctx, g.ID, "u3", "r3")
	require.NoError(t, err)
	require.NoError(t, e.rides.UpdateStatus(ctx, []string{"r3"}, domain.RideStatusCancelled))

	_, err = e.groupService.AcceptRequest(ctx, g.ID, "admin", "u3")
	assert.ErrorIs(t, err, service.ErrRideNotOpen)

	stored := e.groups.Snapshot(g.ID)
	assert.Contains(t, stored.Requests, "u3")
	assert.NotContains(t, stored.Members, "u3")
	assert.Empty(t, e.groups.ClaimOf("r3"))

	_, err = e.groupService.AcceptRequest(ctx, g.ID, "admin", "u2")
	assert.ErrorIs(t, err, domain.ErrNoRequest)
}

func TestMembershipLimit(t *testing.T) {
	cfg := defaultGroupConfig()
	cfg.MaxMembers = 2
	e := newEnv(t, cfg)
	e.riders(t)
	ctx := context.Background()

	g, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{
		AdminID: "admin",
		RideID:  "r-admin",
		Invites: []service.InviteTarget{{UserID: "u2", RideID: "r2"}, {UserID: "u3", RideID: "r3"}},
	})
	require.NoError(t, err)

	_, err = e.groupService.AcceptInvite(ctx, g.ID, "u2")
	require.NoError(t, err)

	_, err = e.groupService.AcceptInvite(ctx, g.ID, "u3")
	assert.ErrorIs(t, err, domain.ErrGroupFull)
	_, err = e.groupService.RequestToJoin(ctx, g.ID, "u3", "r3")
	assert.ErrorIs(t, err, domain.ErrGroupFull)

	stored := e.groups.Snapshot(g.ID)
	assert.Len(t, stored.Members, 2)
	assert.Contains(t, stored.Invites, "u3")
	assert.Empty(t, e.groups.ClaimOf("r3"))

	// A freed seat can be taken again.
	_, err = e.groupService.Leave(ctx, g.ID, "u2")
	require.NoError(t, err)
	g, err = e.groupService.AcceptInvite(ctx, g.ID, "u3")
	require.NoError(t, err)
	assert.Contains(t, g.Members, "u3")
}

func TestMembershipLimit_AcceptRequest(t *testing.T) {
	cfg := defaultGroupConfig()
	cfg.MaxMembers = 2
	e := newEnv(t, cfg)
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})

	_, err := e.groupService.RequestToJoin(ctx, g.ID, "u3", "r3")
	require.NoError(t, err)
	_, err = e.groupService.AcceptRequest(ctx, g.ID, "admin", "u3")
	assert.ErrorIs(t, err, domain.ErrGroupFull)
	assert.Contains(t, e.groups.Snapshot(g.ID).Requests, "u3")
}

func TestRejectRequestAndInvite(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t)

	_, err := e.groupService.RequestToJoin(ctx, g.ID, "u3", "r3")
	require.NoError(t, err)
	g, err = e.groupService.RejectRequest(ctx, g.ID, "admin", "u3")
	require.NoError(t, err)
	assert.Empty(t, g.Requests)

	_, err = e.groupService.Invite(ctx, g.ID, "admin", "u2", "r2")
	require.NoError(t, err)
	g, err = e.groupService.RejectInvite(ctx, g.ID, "u2")
	require.NoError(t, err)
	assert.Empty(t, g.Invites)

	_, err = e.groupService.AcceptInvite(ctx, g.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestInvite_Conflicts(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})

	_, err := e.groupService.Invite(ctx, g.ID, "admin", "u2", "r2")
	assert.ErrorIs(t, err, domain.ErrConflict, "already a member")

	_, err = e.groupService.Invite(ctx, g.ID, "u2", "u3", "r3")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "only the admin invites")

	_, err = e.groupService.Invite(ctx, g.ID, "admin", "u3", "r2")
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "ride belongs to someone else")
}

func TestRideCannotJoinTwoActiveGroups(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	e.addRide(t, openRide("r-admin2", "admin2", pt(77.01, 28.0), pt(77.5, 28.49), baseTime))
	ctx := context.Background()

	first := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})
	second, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{AdminID: "admin2", RideID: "r-admin2"})
	require.NoError(t, err)

	_, err = e.groupService.Invite(ctx, second.ID, "admin2", "u2", "r2")
	assert.ErrorIs(t, err, service.ErrRideInAnotherGroup)

	_, err = e.groupService.RequestToJoin(ctx, second.ID, "u2", "r2")
	assert.ErrorIs(t, err, domain.ErrConflict)

	assert.Equal(t, first.ID, e.groups.ClaimOf("r2"))
}

func TestMembershipChanges_ReleaseClaims(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t,
		service.InviteTarget{UserID: "u2", RideID: "r2"},
		service.InviteTarget{UserID: "u3", RideID: "r3"},
	)

	g, err := e.groupService.Leave(ctx, g.ID, "u2")
	require.NoError(t, err)
	assert.NotContains(t, g.Members, "u2")
	assert.Empty(t, e.groups.ClaimOf("r2"))

	_, err = e.groupService.RemoveMember(ctx, g.ID, "u3", "admin")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	g, err = e.groupService.RemoveMember(ctx, g.ID, "admin", "u3")
	require.NoError(t, err)
	assert.NotContains(t, g.Members, "u3")

	_, err = e.groupService.RemoveMember(ctx, g.ID, "admin", "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = e.groupService.Leave(ctx, g.ID, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestToggleReady_BroadcastsRoster(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g := e.groupWith(t, service.InviteTarget{UserID: "u2", RideID: "r2"})

	g, err := e.groupService.ToggleReady(ctx, g.ID, "u2")
	require.NoError(t, err)
	assert.True(t, g.Members["u2"].IsReady)

	var roster service.RosterPayload
	for _, ev := range e.publisher.Events() {
		if ev.Event == service.EventReadyStatusUpdated {
			roster = ev.Payload.(service.RosterPayload)
		}
	}
	require.Len(t, roster.Members, 2)
	assert.Equal(t, "admin", roster.Members[0].UserID)
	assert.False(t, roster.Members[0].IsReady)
	assert.Equal(t, "Bilal", roster.Members[1].FullName)
	assert.True(t, roster.Members[1].IsReady)

	g, err = e.groupService.ToggleReady(ctx, g.ID, "u2")
	require.NoError(t, err)
	assert.False(t, g.Members["u2"].IsReady)

	_, err = e.groupService.ToggleReady(ctx, g.ID, "u3")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMembershipIsFrozenOnceLocked(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{
		AdminID: "admin",
		RideID:  "r-admin",
		Invites: []service.InviteTarget{{UserID: "u2", RideID: "r2"}},
	})
	require.NoError(t, err)

	_, err = e.groupService.StartCountdown(ctx, g.ID, "admin")
	require.NoError(t, err)

	_, err = e.groupService.AcceptInvite(ctx, g.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrGroupNotOpen)
	_, err = e.groupService.RequestToJoin(ctx, g.ID, "u3", "r3")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// Readiness can still change during the commit window.
	_, err = e.groupService.ToggleReady(ctx, g.ID, "admin")
	assert.NoError(t, err)
}

func TestCanSubscribe(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{
		AdminID: "admin",
		RideID:  "r-admin",
		Invites: []service.InviteTarget{{UserID: "u2", RideID: "r2"}},
	})
	require.NoError(t, err)

	assert.NoError(t, e.groupService.CanSubscribe(ctx, g.ID, "admin"))
	assert.NoError(t, e.groupService.CanSubscribe(ctx, g.ID, "u2"))
	assert.ErrorIs(t, e.groupService.CanSubscribe(ctx, g.ID, "u3"), domain.ErrUnauthorized)
}

func TestListInvitesAndGroups(t *testing.T) {
	e := newEnv(t, defaultGroupConfig())
	e.riders(t)
	ctx := context.Background()
	g, err := e.groupService.CreateGroup(ctx, service.CreateGroupRequest{
		AdminID: "admin",
		RideID:  "r-admin",
		Invites: []service.InviteTarget{{UserID: "u2", RideID: "r2"}},
	})
	require.NoError(t, err)

	invites, err := e.groupService.ListInvites(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, g.ID, invites[0].ID)

	groups, err := e.groupService.ListGroups(ctx, "admin")
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	details, err := e.groupService.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, details.Members, 1)
	assert.Equal(t, "Asha", details.Members[0].FullName)
}
