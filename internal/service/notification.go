package service

import (
	"context"
	"log/slog"
	"time"

	"ridepool/internal/domain"
	"ridepool/internal/realtime"
)

// Event names delivered over the realtime channel.
const (
	EventGroupInvited       = "group-invited"
	EventGroupInvite        = "group-invite"
	EventJoinRequested      = "group-join-requested"
	EventReadyStatusUpdated = "group-ready-status-updated"
	EventRouteUpdated       = "group-route-updated"
	EventCountdownStarted   = "countdown-started"
	EventRideStarted        = "ride-started"
	EventGroupDeleted       = "group-deleted"
)

// UserSummary is the public identity of a user inside event payloads.
type UserSummary struct {
	UserID   string `json:"user"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

// RosterEntry is one member as shown to the group.
type RosterEntry struct {
	UserID   string `json:"user"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
	RideID   string `json:"rideId"`
	IsReady  bool   `json:"isReady"`
}

// InvitePayload tells a user they were invited to a group.
type InvitePayload struct {
	GroupID   string       `json:"groupId"`
	GroupName string       `json:"groupName"`
	Admin     UserSummary  `json:"admin"`
	Ride      *domain.Ride `json:"ride"`
}

// JoinRequestPayload tells the admin somebody asked to join.
type JoinRequestPayload struct {
	GroupID string       `json:"groupId"`
	User    UserSummary  `json:"user"`
	Ride    *domain.Ride `json:"ride"`
}

// RosterPayload carries the group roster.
type RosterPayload struct {
	GroupID string        `json:"groupId"`
	Members []RosterEntry `json:"members"`
}

// CountdownPayload announces the commit deadline.
type CountdownPayload struct {
	GroupID string    `json:"groupId"`
	EndTime time.Time `json:"endTime"`
}

// RoutePayload carries a recomputed pooled route.
type RoutePayload struct {
	GroupID string             `json:"groupId"`
	Route   domain.PooledRoute `json:"route"`
}

// GroupPayload identifies a group.
type GroupPayload struct {
	GroupID string `json:"groupId"`
}

// NotificationService delivers group events. Delivery failures are logged and
// never fail the operation that caused them.
type NotificationService struct {
	publisher realtime.Publisher
	logger    *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher realtime.Publisher, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{publisher: publisher, logger: logger}
}

// NotifyInvited sends both invite event names to the invited user.
func (s *NotificationService) NotifyInvited(ctx context.Context, userID string, payload InvitePayload) {
	s.toUser(ctx, userID, EventGroupInvited, payload)
	s.toUser(ctx, userID, EventGroupInvite, payload)
}

// NotifyJoinRequested tells the admin about a new join request.
func (s *NotificationService) NotifyJoinRequested(ctx context.Context, adminID string, payload JoinRequestPayload) {
	s.toUser(ctx, adminID, EventJoinRequested, payload)
}

// NotifyReadyStatus broadcasts the updated roster.
func (s *NotificationService) NotifyReadyStatus(ctx context.Context, payload RosterPayload) {
	s.toGroup(ctx, payload.GroupID, EventReadyStatusUpdated, payload)
}

// NotifyRouteUpdated broadcasts a freshly persisted route.
func (s *NotificationService) NotifyRouteUpdated(ctx context.Context, payload RoutePayload) {
	s.toGroup(ctx, payload.GroupID, EventRouteUpdated, payload)
}

// NotifyCountdownStarted broadcasts the commit deadline.
func (s *NotificationService) NotifyCountdownStarted(ctx context.Context, payload CountdownPayload) {
	s.toGroup(ctx, payload.GroupID, EventCountdownStarted, payload)
}

// NotifyRideStarted broadcasts the final roster.
func (s *NotificationService) NotifyRideStarted(ctx context.Context, payload RosterPayload) {
	s.toGroup(ctx, payload.GroupID, EventRideStarted, payload)
}

// NotifyGroupDeleted tells subscribers the group is gone.
func (s *NotificationService) NotifyGroupDeleted(ctx context.Context, groupID string) {
	s.toGroup(ctx, groupID, EventGroupDeleted, GroupPayload{GroupID: groupID})
}

func (s *NotificationService) toUser(ctx context.Context, userID, event string, payload any) {
	if s == nil || s.publisher == nil {
		return
	}
	if err := s.publisher.PublishToUser(ctx, userID, event, payload); err != nil {
		s.logger.Warn("event delivery failed", "event", event, "user_id", userID, "error", err)
	}
}

func (s *NotificationService) toGroup(ctx context.Context, groupID, event string, payload any) {
	if s == nil || s.publisher == nil {
		return
	}
	if err := s.publisher.PublishToGroup(ctx, groupID, event, payload); err != nil {
		s.logger.Warn("event delivery failed", "event", event, "group_id", groupID, "error", err)
	}
}
