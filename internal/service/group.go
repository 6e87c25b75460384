package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridepool/internal/config"
	"ridepool/internal/domain"
	"ridepool/internal/observability"
	"ridepool/internal/redis"
	"ridepool/internal/repository"
	"ridepool/internal/routing"
)

const (
	// maxUpdateAttempts bounds CAS retries while the lease is held. A conflict
	// under the lease only happens when a previous holder outlived its TTL.
	maxUpdateAttempts = 3
	finalizeBackoff   = 200 * time.Millisecond
)

// RoutePlanner orders a group's stops and resolves their geometry.
type RoutePlanner interface {
	Order(passengers []routing.Passenger) (routing.Plan, error)
	Resolve(ctx context.Context, plan routing.Plan) (domain.PooledRoute, error)
}

var _ RoutePlanner = (*routing.Sequencer)(nil)

// GroupServiceDeps holds the collaborators of GroupService.
type GroupServiceDeps struct {
	Groups    repository.GroupRepository
	Rides     repository.RideRepository
	Users     repository.UserRepository
	Locker    GroupLocker
	Planner   RoutePlanner
	Notifier  *NotificationService
	Scheduler *Scheduler
	Locations redis.LocationStoreInterface
	RideCache redis.RideCacheInterface // Optional
	Config    config.GroupConfig
	Logger    *slog.Logger
}

// GroupService coordinates the lifecycle of ride groups: invitations, join
// requests, membership, readiness and the timed commit.
//
// Every read-modify-write runs under the group lease and persists with a
// version compare-and-swap. Events are published before the lease is
// released so subscribers see them in commit order.
type GroupService struct {
	groups    repository.GroupRepository
	rides     repository.RideRepository
	users     repository.UserRepository
	locker    GroupLocker
	planner   RoutePlanner
	notifier  *NotificationService
	scheduler *Scheduler
	locations redis.LocationStoreInterface
	rideCache redis.RideCacheInterface
	cfg       config.GroupConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewGroupService creates a new GroupService.
func NewGroupService(deps GroupServiceDeps) *GroupService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = NewScheduler()
	}
	return &GroupService{
		groups:    deps.Groups,
		rides:     deps.Rides,
		users:     deps.Users,
		locker:    deps.Locker,
		planner:   deps.Planner,
		notifier:  deps.Notifier,
		scheduler: scheduler,
		locations: deps.Locations,
		rideCache: deps.RideCache,
		cfg:       deps.Config,
		logger:    logger,
		now:       time.Now,
	}
}

// effect is a side effect run after a successful write, still under the lease.
type effect func(ctx context.Context)

// mutate applies fn to the current state of the group and persists the result.
func (s *GroupService) mutate(ctx context.Context, groupID string, fn func(g *domain.Group) ([]effect, error)) (*domain.Group, error) {
	if groupID == "" {
		return nil, ErrInvalidGroupID
	}
	unlock, err := s.locker.Lock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		g, err := s.groups.GetByID(ctx, groupID)
		if err != nil {
			return nil, err
		}
		effects, err := fn(g)
		if err != nil {
			return nil, err
		}

		err = s.groups.Update(ctx, g)
		switch {
		case err == nil:
			for _, e := range effects {
				e(ctx)
			}
			return g, nil
		case errors.Is(err, repository.ErrVersionConflict):
			s.logger.Warn("group version conflict under lease", "group_id", groupID, "attempt", attempt)
		case errors.Is(err, repository.ErrRideClaimed):
			return nil, ErrRideInAnotherGroup
		default:
			return nil, err
		}
	}
	return nil, ErrGroupBusy
}

// changeMembership runs a membership mutation and, when members changed,
// recomputes the pooled route.
func (s *GroupService) changeMembership(ctx context.Context, groupID string, fn func(g *domain.Group) ([]effect, error)) (*domain.Group, error) {
	var before int64
	g, err := s.mutate(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		before = g.MembershipVersion
		return fn(g)
	})
	if err != nil {
		return nil, err
	}
	if g.MembershipVersion == before {
		return g, nil
	}
	return s.refreshAfterChange(ctx, g), nil
}

// refreshAfterChange recomputes the route of g. The membership change stays
// committed whatever happens to the route.
func (s *GroupService) refreshAfterChange(ctx context.Context, g *domain.Group) *domain.Group {
	updated, err := s.recomputeRoute(ctx, g.ID)
	if err != nil {
		s.logger.Warn("pooled route recomputation failed", "group_id", g.ID, "error", err)
	}
	if updated != nil {
		return updated
	}
	return g
}

// claimableRide checks that rideID belongs to userID, is open and is not
// held by an active group other than groupID.
func (s *GroupService) claimableRide(ctx context.Context, userID, rideID, groupID string) (*domain.Ride, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.UserID != userID {
		return nil, ErrRideNotOwned
	}
	if ride.Status != domain.RideStatusOpen {
		return nil, ErrRideNotOpen
	}
	active, err := s.groups.FindActiveByRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	for _, id := range active {
		if id != groupID {
			return nil, ErrRideInAnotherGroup
		}
	}
	return ride, nil
}

// checkCapacity fails once the group holds more members than allowed.
func (s *GroupService) checkCapacity(g *domain.Group) error {
	if s.cfg.MaxMembers > 0 && len(g.Members) > s.cfg.MaxMembers {
		return domain.ErrGroupFull
	}
	return nil
}

// InviteTarget names a user and the ride they would bring.
type InviteTarget struct {
	UserID string
	RideID string
}

// CreateGroupRequest contains the parameters for creating a group.
type CreateGroupRequest struct {
	AdminID string
	RideID  string
	Name    string // Optional: defaults to "<admin name>'s Group"
	Invites []InviteTarget
}

// CreateGroup creates an open group with the admin as its only member and
// invites the listed users.
func (s *GroupService) CreateGroup(ctx context.Context, req CreateGroupRequest) (*domain.Group, error) {
	if _, err := s.claimableRide(ctx, req.AdminID, req.RideID, ""); err != nil {
		return nil, err
	}

	admin := s.userSummary(ctx, req.AdminID)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultGroupName(admin)
	}

	now := s.now()
	g := domain.NewGroup(uuid.New().String(), name, req.AdminID, req.RideID, now)
	invited := make([]*domain.Ride, 0, len(req.Invites))
	for _, t := range req.Invites {
		if err := g.Invite(t.UserID, t.RideID, now); err != nil {
			return nil, err
		}
		ride, err := s.claimableRide(ctx, t.UserID, t.RideID, "")
		if err != nil {
			return nil, err
		}
		invited = append(invited, ride)
	}

	if err := s.groups.Create(ctx, g); err != nil {
		if errors.Is(err, repository.ErrRideClaimed) {
			return nil, ErrRideInAnotherGroup
		}
		return nil, err
	}
	s.logger.Info("group created", "group_id", g.ID, "admin_id", g.AdminID, "invites", len(invited))

	for _, ride := range invited {
		s.notifier.NotifyInvited(ctx, ride.UserID, InvitePayload{
			GroupID:   g.ID,
			GroupName: g.Name,
			Admin:     admin,
			Ride:      ride,
		})
	}
	return s.refreshAfterChange(ctx, g), nil
}

func defaultGroupName(admin UserSummary) string {
	if admin.FullName == "" {
		return "Ride Group"
	}
	return admin.FullName + "'s Group"
}

// Invite lets the admin invite userID with one of their rides.
func (s *GroupService) Invite(ctx context.Context, groupID, actorID, userID, rideID string) (*domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		if err := g.RequireAdmin(actorID); err != nil {
			return nil, err
		}
		if err := g.Invite(userID, rideID, s.now()); err != nil {
			return nil, err
		}
		ride, err := s.claimableRide(ctx, userID, rideID, g.ID)
		if err != nil {
			return nil, err
		}

		payload := InvitePayload{
			GroupID:   g.ID,
			GroupName: g.Name,
			Admin:     s.userSummary(ctx, g.AdminID),
			Ride:      ride,
		}
		return []effect{func(ctx context.Context) {
			s.notifier.NotifyInvited(ctx, userID, payload)
		}}, nil
	})
}

// AcceptInvite makes the invited user a member with the invited ride.
func (s *GroupService) AcceptInvite(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return s.changeMembership(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		member, err := g.AcceptInvite(userID, s.now())
		if err != nil {
			return nil, err
		}
		if err := s.checkCapacity(g); err != nil {
			return nil, err
		}
		if _, err := s.claimableRide(ctx, userID, member.RideID, g.ID); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// RejectInvite drops the user's invite.
func (s *GroupService) RejectInvite(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		return nil, g.RejectInvite(userID, s.now())
	})
}

// RequestToJoin asks the admin to admit userID with rideID. A user who
// already holds an invite is admitted with the invited ride instead.
func (s *GroupService) RequestToJoin(ctx context.Context, groupID, userID, rideID string) (*domain.Group, error) {
	return s.changeMembership(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		invite, hadInvite := g.PendingInvite(userID)
		accepted, err := g.RequestToJoin(userID, rideID, s.now())
		if err != nil {
			return nil, err
		}
		if accepted && hadInvite {
			if err := s.checkCapacity(g); err != nil {
				return nil, err
			}
			_, err := s.claimableRide(ctx, userID, invite.RideID, g.ID)
			return nil, err
		}

		ride, err := s.claimableRide(ctx, userID, rideID, g.ID)
		if err != nil {
			return nil, err
		}
		payload := JoinRequestPayload{GroupID: g.ID, User: s.userSummary(ctx, userID), Ride: ride}
		adminID := g.AdminID
		return []effect{func(ctx context.Context) {
			s.notifier.NotifyJoinRequested(ctx, adminID, payload)
		}}, nil
	})
}

// AcceptRequest lets the admin admit a requesting user.
func (s *GroupService) AcceptRequest(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error) {
	return s.changeMembership(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		if err := g.RequireAdmin(actorID); err != nil {
			return nil, err
		}
		req, ok := g.PendingRequest(userID)
		if !ok {
			return nil, domain.ErrNoRequest
		}
		// The requested ride may have been claimed or closed since the request.
		if _, err := s.claimableRide(ctx, userID, req.RideID, g.ID); err != nil {
			return nil, err
		}
		if _, err := g.AcceptRequest(userID, s.now()); err != nil {
			return nil, err
		}
		return nil, s.checkCapacity(g)
	})
}

// RejectRequest lets the admin decline a join request.
func (s *GroupService) RejectRequest(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		if err := g.RequireAdmin(actorID); err != nil {
			return nil, err
		}
		return nil, g.RejectRequest(userID, s.now())
	})
}

// RemoveMember lets the admin remove a non-admin member.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error) {
	return s.changeMembership(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		if err := g.RequireAdmin(actorID); err != nil {
			return nil, err
		}
		return nil, g.RemoveMember(userID, s.now())
	})
}

// Leave removes the calling member from the group.
func (s *GroupService) Leave(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return s.changeMembership(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		return nil, g.Leave(userID, s.now())
	})
}

// ToggleReady flips the caller's readiness and broadcasts the roster.
func (s *GroupService) ToggleReady(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		if _, err := g.ToggleReady(userID, s.now()); err != nil {
			return nil, err
		}
		payload := s.roster(ctx, g.ID, g.SortedMembers())
		return []effect{func(ctx context.Context) {
			s.notifier.NotifyReadyStatus(ctx, payload)
		}}, nil
	})
}

// StartCountdown locks the group and schedules its finalize at the deadline.
// Only the admin may start it, and only once.
func (s *GroupService) StartCountdown(ctx context.Context, groupID, actorID string) (*domain.Group, error) {
	return s.mutate(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		if err := g.RequireAdmin(actorID); err != nil {
			return nil, err
		}
		endsAt, err := g.StartCountdown(s.now(), s.cfg.CountdownWindow)
		if err != nil {
			return nil, err
		}

		id := g.ID
		return []effect{func(ctx context.Context) {
			observability.CountdownsStartedTotal.Inc()
			s.logger.Info("group countdown started", "group_id", id, "ends_at", endsAt)
			s.notifier.NotifyCountdownStarted(ctx, CountdownPayload{GroupID: id, EndTime: endsAt})
			s.scheduleFinalize(id, endsAt)
		}}, nil
	})
}

func (s *GroupService) scheduleFinalize(groupID string, at time.Time) {
	s.scheduler.Schedule(groupID, at, func() {
		if err := s.Finalize(context.Background(), groupID); err != nil {
			s.logger.Error("group finalize gave up", "group_id", groupID, "error", err)
		}
	})
}

// Finalize closes a locked group, keeping only ready members and marking
// their rides matched. It is a no-op for groups that are not locked or no
// longer exist, so repeated runs are harmless.
func (s *GroupService) Finalize(ctx context.Context, groupID string) error {
	attempts := s.cfg.FinalizeRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
retry:
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, err := s.finalizeAttempt(ctx, groupID)
		if err == nil {
			observability.FinalizeTotal.WithLabelValues(outcome).Inc()
			return nil
		}

		lastErr = err
		s.logger.Warn("group finalize attempt failed", "group_id", groupID, "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(time.Duration(attempt) * finalizeBackoff):
		}
	}

	observability.FinalizeTotal.WithLabelValues("failed").Inc()
	return fmt.Errorf("finalize group %s: %w", groupID, lastErr)
}

// finalizeAttempt bounds a single finalize run by the configured timeout.
func (s *GroupService) finalizeAttempt(ctx context.Context, groupID string) (string, error) {
	if s.cfg.FinalizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FinalizeTimeout)
		defer cancel()
	}
	return s.finalizeOnce(ctx, groupID)
}

func (s *GroupService) finalizeOnce(ctx context.Context, groupID string) (string, error) {
	unlock, err := s.locker.Lock(ctx, groupID)
	if err != nil {
		return "", err
	}
	defer unlock()

	g, err := s.groups.GetByID(ctx, groupID)
	if errors.Is(err, repository.ErrNotFound) {
		return "noop", nil
	}
	if err != nil {
		return "", err
	}

	allRides := g.RideIDs()
	kept, ok := g.Finalize(s.now())
	if !ok {
		return "noop", nil
	}
	keptRides := make([]string, 0, len(kept))
	for _, m := range kept {
		keptRides = append(keptRides, m.RideID)
	}

	if err := s.groups.Finalize(ctx, g, keptRides); err != nil {
		return "", err
	}

	if err := s.locations.RemoveRides(ctx, keptRides...); err != nil {
		s.logger.Warn("failed to drop matched rides from geo index", "group_id", groupID, "error", err)
	}
	if s.rideCache != nil {
		_ = s.rideCache.InvalidateRides(ctx, allRides...)
	}

	s.logger.Info("group finalized", "group_id", groupID, "kept", len(kept), "dropped", len(allRides)-len(kept))
	s.notifier.NotifyRideStarted(ctx, s.roster(ctx, g.ID, kept))
	return "closed", nil
}

// DeleteGroup lets the admin delete the group and cancels a pending finalize.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID, actorID string) error {
	if groupID == "" {
		return ErrInvalidGroupID
	}
	unlock, err := s.locker.Lock(ctx, groupID)
	if err != nil {
		return err
	}
	defer unlock()

	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if err := g.RequireAdmin(actorID); err != nil {
		return err
	}
	if err := s.groups.Delete(ctx, groupID); err != nil {
		return err
	}
	s.scheduler.Cancel(groupID)
	s.notifier.NotifyGroupDeleted(ctx, groupID)
	return nil
}

// GroupDetails is a group with its member profiles.
type GroupDetails struct {
	Group   *domain.Group `json:"group"`
	Members []RosterEntry `json:"members"`
}

// GetGroup returns a group and its roster.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*GroupDetails, error) {
	if groupID == "" {
		return nil, ErrInvalidGroupID
	}
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupDetails{Group: g, Members: s.roster(ctx, g.ID, g.SortedMembers()).Members}, nil
}

// ListGroups returns the groups userID administers or belongs to.
func (s *GroupService) ListGroups(ctx context.Context, userID string) ([]*domain.Group, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.groups.ListByUser(ctx, userID)
}

// ListInvites returns open groups that invited userID.
func (s *GroupService) ListInvites(ctx context.Context, userID string) ([]*domain.Group, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.groups.ListInvitesForUser(ctx, userID)
}

// CanSubscribe reports whether userID may follow the group's events.
func (s *GroupService) CanSubscribe(ctx context.Context, groupID, userID string) error {
	if groupID == "" {
		return ErrInvalidGroupID
	}
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if g.AdminID != userID && g.RoleOf(userID) == domain.RoleNone {
		return ErrNotParticipant
	}
	return nil
}

// ResumeCountdowns reschedules finalize for groups left locked by a previous
// process. Deadlines already passed fire immediately.
func (s *GroupService) ResumeCountdowns(ctx context.Context) (int, error) {
	locked, err := s.groups.ListByStatus(ctx, domain.GroupStatusLocked)
	if err != nil {
		return 0, err
	}
	for _, g := range locked {
		at := g.CountdownEndsAt
		if at.IsZero() {
			at = s.now()
		}
		s.scheduleFinalize(g.ID, at)
	}
	if len(locked) > 0 {
		s.logger.Info("resumed group countdowns", "count", len(locked))
	}
	return len(locked), nil
}

// userSummary returns the public profile of userID, or just the ID when the
// profile is unavailable.
func (s *GroupService) userSummary(ctx context.Context, userID string) UserSummary {
	summary := UserSummary{UserID: userID}
	if s.users == nil {
		return summary
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		}
		return summary
	}
	summary.FullName, summary.Avatar = u.FullName, u.Avatar
	return summary
}

func (s *GroupService) profiles(ctx context.Context, userIDs []string) map[string]*domain.User {
	if s.users == nil || len(userIDs) == 0 {
		return nil
	}
	users, err := s.users.GetByIDs(ctx, userIDs)
	if err != nil {
		s.logger.Warn("profile lookup failed", "users", len(userIDs), "error", err)
		return nil
	}
	return users
}

// roster annotates members with their profiles.
func (s *GroupService) roster(ctx context.Context, groupID string, members []domain.Member) RosterPayload {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	users := s.profiles(ctx, ids)

	entries := make([]RosterEntry, 0, len(members))
	for _, m := range members {
		e := RosterEntry{UserID: m.UserID, RideID: m.RideID, IsReady: m.IsReady}
		if u, ok := users[m.UserID]; ok {
			e.FullName, e.Avatar = u.FullName, u.Avatar
		}
		entries = append(entries, e)
	}
	return RosterPayload{GroupID: groupID, Members: entries}
}
