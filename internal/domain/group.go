package domain

import (
	"fmt"
	"sort"
	"time"
)

// GroupStatus represents the lifecycle state of a group.
// Transitions are monotonic: open -> locked -> closed.
type GroupStatus string

const (
	GroupStatusOpen   GroupStatus = "open"
	GroupStatusLocked GroupStatus = "locked"
	GroupStatusClosed GroupStatus = "closed"
)

// Active reports whether the group still holds its members' rides.
func (s GroupStatus) Active() bool {
	return s == GroupStatusOpen || s == GroupStatusLocked
}

// Role is the single relation a user has with a group.
type Role string

const (
	RoleNone      Role = ""
	RoleInvitee   Role = "invitee"
	RoleRequester Role = "requester"
	RoleMember    Role = "member"
)

// Invite is a pending invitation of a user with one of their rides.
type Invite struct {
	UserID    string    `json:"userId"`
	RideID    string    `json:"rideId"`
	InvitedAt time.Time `json:"invitedAt"`
}

// JoinRequest is a pending request of a user to join with one of their rides.
type JoinRequest struct {
	UserID      string    `json:"userId"`
	RideID      string    `json:"rideId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Member is a confirmed participant of a group.
type Member struct {
	UserID   string    `json:"userId"`
	RideID   string    `json:"rideId"`
	IsReady  bool      `json:"isReady"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Group is the aggregate coordinating a shared ride. Invites, requests and
// members are keyed by user ID and a user holds at most one of those roles.
type Group struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	AdminID         string                 `json:"adminId"`
	Status          GroupStatus            `json:"status"`
	Invites         map[string]Invite      `json:"invites"`
	Requests        map[string]JoinRequest `json:"requests"`
	Members         map[string]Member      `json:"members"`
	Route           PooledRoute            `json:"route"`
	CountdownEndsAt time.Time              `json:"countdownEndsAt,omitempty"`

	// MembershipVersion increases on every change to Members.
	MembershipVersion int64 `json:"membershipVersion"`

	// Version is the optimistic concurrency token maintained by the repository.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewGroup creates an open group whose admin is the only member.
func NewGroup(id, name, adminID, adminRideID string, now time.Time) *Group {
	return &Group{
		ID:       id,
		Name:     name,
		AdminID:  adminID,
		Status:   GroupStatusOpen,
		Invites:  make(map[string]Invite),
		Requests: make(map[string]JoinRequest),
		Members: map[string]Member{
			adminID: {UserID: adminID, RideID: adminRideID, JoinedAt: now},
		},
		MembershipVersion: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// RoleOf returns the relation of userID with the group.
func (g *Group) RoleOf(userID string) Role {
	if _, ok := g.Members[userID]; ok {
		return RoleMember
	}
	if _, ok := g.Invites[userID]; ok {
		return RoleInvitee
	}
	if _, ok := g.Requests[userID]; ok {
		return RoleRequester
	}
	return RoleNone
}

// RequireAdmin fails with ErrNotAdmin unless userID is the admin.
func (g *Group) RequireAdmin(userID string) error {
	if g.AdminID != userID {
		return ErrNotAdmin
	}
	return nil
}

func (g *Group) requireOpen() error {
	if g.Status != GroupStatusOpen {
		return ErrGroupNotOpen
	}
	return nil
}

func conflictFor(role Role) error {
	switch role {
	case RoleMember:
		return ErrAlreadyMember
	case RoleInvitee:
		return ErrAlreadyInvited
	case RoleRequester:
		return ErrAlreadyRequested
	}
	return nil
}

func (g *Group) addMember(userID, rideID string, now time.Time) Member {
	m := Member{UserID: userID, RideID: rideID, JoinedAt: now}
	g.Members[userID] = m
	g.MembershipVersion++
	g.UpdatedAt = now
	return m
}

func (g *Group) dropMember(userID string, now time.Time) {
	delete(g.Members, userID)
	g.MembershipVersion++
	g.UpdatedAt = now
}

// Invite records an invitation for userID with rideID.
func (g *Group) Invite(userID, rideID string, now time.Time) error {
	if err := g.requireOpen(); err != nil {
		return err
	}
	if err := conflictFor(g.RoleOf(userID)); err != nil {
		return err
	}
	g.Invites[userID] = Invite{UserID: userID, RideID: rideID, InvitedAt: now}
	g.UpdatedAt = now
	return nil
}

// PendingInvite returns the invite held by userID, if any.
func (g *Group) PendingInvite(userID string) (Invite, bool) {
	inv, ok := g.Invites[userID]
	return inv, ok
}

// AcceptInvite moves the user's invite into the member set.
func (g *Group) AcceptInvite(userID string, now time.Time) (Member, error) {
	inv, ok := g.Invites[userID]
	if !ok {
		return Member{}, ErrNoInvite
	}
	if err := g.requireOpen(); err != nil {
		return Member{}, err
	}
	delete(g.Invites, userID)
	return g.addMember(userID, inv.RideID, now), nil
}

// RejectInvite drops the user's invite.
func (g *Group) RejectInvite(userID string, now time.Time) error {
	if _, ok := g.Invites[userID]; !ok {
		return ErrNoInvite
	}
	delete(g.Invites, userID)
	g.UpdatedAt = now
	return nil
}

// RequestToJoin records a join request. A user holding a pending invite is
// treated as accepting that invite instead; accepted reports that case.
func (g *Group) RequestToJoin(userID, rideID string, now time.Time) (accepted bool, err error) {
	if g.Status == GroupStatusClosed {
		return false, ErrGroupNotOpen
	}
	if _, ok := g.Invites[userID]; ok {
		if _, err := g.AcceptInvite(userID, now); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := conflictFor(g.RoleOf(userID)); err != nil {
		return false, err
	}
	if err := g.requireOpen(); err != nil {
		return false, err
	}
	g.Requests[userID] = JoinRequest{UserID: userID, RideID: rideID, RequestedAt: now}
	g.UpdatedAt = now
	return false, nil
}

// PendingRequest returns the join request held by userID, if any.
func (g *Group) PendingRequest(userID string) (JoinRequest, bool) {
	req, ok := g.Requests[userID]
	return req, ok
}

// AcceptRequest moves the user's join request into the member set.
func (g *Group) AcceptRequest(userID string, now time.Time) (Member, error) {
	req, ok := g.Requests[userID]
	if !ok {
		return Member{}, ErrNoRequest
	}
	if err := g.requireOpen(); err != nil {
		return Member{}, err
	}
	delete(g.Requests, userID)
	return g.addMember(userID, req.RideID, now), nil
}

// RejectRequest drops the user's join request.
func (g *Group) RejectRequest(userID string, now time.Time) error {
	if _, ok := g.Requests[userID]; !ok {
		return ErrNoRequest
	}
	delete(g.Requests, userID)
	g.UpdatedAt = now
	return nil
}

// RemoveMember removes a non-admin member.
func (g *Group) RemoveMember(userID string, now time.Time) error {
	if userID == g.AdminID {
		return ErrCannotRemoveAdmin
	}
	if _, ok := g.Members[userID]; !ok {
		return ErrNotMember
	}
	if err := g.requireOpen(); err != nil {
		return err
	}
	g.dropMember(userID, now)
	return nil
}

// Leave removes the calling member from the group.
func (g *Group) Leave(userID string, now time.Time) error {
	if _, ok := g.Members[userID]; !ok {
		return ErrNotMember
	}
	if userID == g.AdminID {
		return ErrAdminCannotLeave
	}
	if err := g.requireOpen(); err != nil {
		return err
	}
	g.dropMember(userID, now)
	return nil
}

// ToggleReady flips the member's readiness and returns the new value.
func (g *Group) ToggleReady(userID string, now time.Time) (bool, error) {
	if g.Status == GroupStatusClosed {
		return false, ErrGroupClosed
	}
	m, ok := g.Members[userID]
	if !ok {
		return false, ErrNotMember
	}
	m.IsReady = !m.IsReady
	g.Members[userID] = m
	g.UpdatedAt = now
	return m.IsReady, nil
}

// StartCountdown locks the group and returns the commit deadline.
func (g *Group) StartCountdown(now time.Time, window time.Duration) (time.Time, error) {
	if g.Status != GroupStatusOpen {
		return time.Time{}, ErrCountdownUnavailable
	}
	g.Status = GroupStatusLocked
	g.CountdownEndsAt = now.Add(window)
	g.UpdatedAt = now
	return g.CountdownEndsAt, nil
}

// Finalize closes a locked group keeping only ready members. It returns the
// retained members, or ok=false when the group is not locked.
func (g *Group) Finalize(now time.Time) (kept []Member, ok bool) {
	if g.Status != GroupStatusLocked {
		return nil, false
	}
	for userID, m := range g.Members {
		if !m.IsReady {
			delete(g.Members, userID)
		}
	}
	g.Status = GroupStatusClosed
	g.MembershipVersion++
	g.UpdatedAt = now
	return g.SortedMembers(), true
}

// SortedMembers returns members ordered by join time, then user ID.
func (g *Group) SortedMembers() []Member {
	out := make([]Member, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// RideIDs returns the rides of the current members in member order.
func (g *Group) RideIDs() []string {
	members := g.SortedMembers()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.RideID)
	}
	return ids
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	c := *g
	c.Invites = make(map[string]Invite, len(g.Invites))
	for k, v := range g.Invites {
		c.Invites[k] = v
	}
	c.Requests = make(map[string]JoinRequest, len(g.Requests))
	for k, v := range g.Requests {
		c.Requests[k] = v
	}
	c.Members = make(map[string]Member, len(g.Members))
	for k, v := range g.Members {
		c.Members[k] = v
	}
	c.Route.Waypoints = append([]Waypoint(nil), g.Route.Waypoints...)
	c.Route.Coordinates = append([]Point(nil), g.Route.Coordinates...)
	c.Route.Geometry = append([]byte(nil), g.Route.Geometry...)
	return &c
}

// CheckInvariants verifies the structural invariants of the aggregate.
func (g *Group) CheckInvariants() error {
	seen := make(map[string]Role)
	mark := func(userID string, role Role) error {
		if prev, ok := seen[userID]; ok {
			return fmt.Errorf("user %s is both %s and %s", userID, prev, role)
		}
		seen[userID] = role
		return nil
	}
	for id := range g.Members {
		if err := mark(id, RoleMember); err != nil {
			return err
		}
	}
	for id := range g.Invites {
		if err := mark(id, RoleInvitee); err != nil {
			return err
		}
	}
	for id := range g.Requests {
		if err := mark(id, RoleRequester); err != nil {
			return err
		}
	}
	if g.Status.Active() {
		if _, ok := g.Members[g.AdminID]; !ok {
			return fmt.Errorf("admin %s missing from members", g.AdminID)
		}
	}
	if g.Status == GroupStatusClosed {
		for id, m := range g.Members {
			if !m.IsReady {
				return fmt.Errorf("closed group keeps non-ready member %s", id)
			}
		}
	}
	return nil
}
