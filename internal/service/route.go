package service

import (
	"context"
	"errors"

	"ridepool/internal/domain"
	"ridepool/internal/observability"
	"ridepool/internal/routing"
)

// errRouteSuperseded aborts a route write whose membership snapshot is outdated.
var errRouteSuperseded = errors.New("route superseded by a newer membership")

// routeJob is a visiting order computed under the lease for one membership version.
type routeJob struct {
	plan    routing.Plan
	version int64
	// err is set when the members could not be sequenced.
	err error
}

// recomputeRoute rebuilds the pooled route of an open group. Sequencing runs
// under the lease; the routing provider is called without it, and the result
// is only stored if membership did not change meanwhile. On provider failure
// the stored route is flagged stale and the error returned alongside the group.
func (s *GroupService) recomputeRoute(ctx context.Context, groupID string) (*domain.Group, error) {
	job, err := s.planRoute(ctx, groupID)
	if errors.Is(err, errRouteSuperseded) {
		observability.RouteRecomputeTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}
	if err != nil {
		observability.RouteRecomputeTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	failure := job.err
	var route domain.PooledRoute
	if failure == nil {
		route, failure = s.planner.Resolve(ctx, job.plan)
	}

	g, err := s.mutate(ctx, groupID, func(g *domain.Group) ([]effect, error) {
		if g.Status != domain.GroupStatusOpen || g.MembershipVersion != job.version {
			return nil, errRouteSuperseded
		}
		if failure != nil {
			g.Route.Stale = true
			return nil, nil
		}
		route.MembershipVersion = job.version
		g.Route = route
		payload := RoutePayload{GroupID: g.ID, Route: route}
		return []effect{func(ctx context.Context) {
			s.notifier.NotifyRouteUpdated(ctx, payload)
		}}, nil
	})

	switch {
	case errors.Is(err, errRouteSuperseded):
		observability.RouteRecomputeTotal.WithLabelValues("discarded").Inc()
		s.logger.Debug("discarded route for outdated membership", "group_id", groupID, "membership_version", job.version)
		return nil, nil
	case err != nil:
		observability.RouteRecomputeTotal.WithLabelValues("error").Inc()
		return nil, err
	case failure != nil:
		observability.RouteRecomputeTotal.WithLabelValues("stale").Inc()
		return g, failure
	}
	observability.RouteRecomputeTotal.WithLabelValues("ok").Inc()
	return g, nil
}

// planRoute snapshots the members of an open group and orders their stops.
func (s *GroupService) planRoute(ctx context.Context, groupID string) (routeJob, error) {
	unlock, err := s.locker.Lock(ctx, groupID)
	if err != nil {
		return routeJob{}, err
	}
	defer unlock()

	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return routeJob{}, err
	}
	if g.Status != domain.GroupStatusOpen {
		return routeJob{}, errRouteSuperseded
	}

	passengers, err := s.passengers(ctx, g)
	if err != nil {
		return routeJob{}, err
	}
	plan, err := s.planner.Order(passengers)
	return routeJob{plan: plan, version: g.MembershipVersion, err: err}, nil
}

// passengers resolves the ride endpoints and profile of every member, in
// join order. Members whose ride is gone get no endpoints.
func (s *GroupService) passengers(ctx context.Context, g *domain.Group) ([]routing.Passenger, error) {
	members := g.SortedMembers()
	rideIDs := make([]string, len(members))
	userIDs := make([]string, len(members))
	for i, m := range members {
		rideIDs[i] = m.RideID
		userIDs[i] = m.UserID
	}

	rides, err := s.rides.GetByIDs(ctx, rideIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Ride, len(rides))
	for _, r := range rides {
		byID[r.ID] = r
	}
	users := s.profiles(ctx, userIDs)

	out := make([]routing.Passenger, 0, len(members))
	for _, m := range members {
		p := routing.Passenger{UserID: m.UserID}
		if r, ok := byID[m.RideID]; ok {
			pickup, drop := r.SourceLocation, r.DestinationLocation
			p.Pickup, p.Drop = &pickup, &drop
		}
		if u, ok := users[m.UserID]; ok {
			p.FullName, p.Avatar = u.FullName, u.Avatar
		}
		out = append(out, p)
	}
	return out, nil
}

// RefreshRoute recomputes the route on request of a member, typically after
// an earlier provider failure left it stale.
func (s *GroupService) RefreshRoute(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	if groupID == "" {
		return nil, ErrInvalidGroupID
	}
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, ok := g.Members[userID]; !ok {
		return nil, ErrNotParticipant
	}
	if g.Status != domain.GroupStatusOpen {
		return nil, domain.ErrGroupNotOpen
	}

	updated, err := s.recomputeRoute(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return s.groups.GetByID(ctx, groupID)
	}
	return updated, nil
}
