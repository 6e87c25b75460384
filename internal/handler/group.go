package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridepool/internal/domain"
	"ridepool/internal/service"
)

// GroupHandler handles HTTP requests for ride groups.
type GroupHandler struct {
	groupService *service.GroupService
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(groupService *service.GroupService) *GroupHandler {
	return &GroupHandler{groupService: groupService}
}

// InviteRequest names a user and the ride they are invited with.
type InviteRequest struct {
	UserID string `json:"userId"`
	RideID string `json:"rideId"`
}

// CreateGroupRequest is the HTTP request body for creating a group.
type CreateGroupRequest struct {
	Name    string          `json:"name,omitempty"`
	RideID  string          `json:"rideId"`
	Invites []InviteRequest `json:"invites,omitempty"`
}

// JoinRequest is the HTTP request body for asking to join a group.
type JoinRequest struct {
	RideID string `json:"rideId"`
}

// groupResult writes the group returned by a coordinator operation.
func groupResult(c *gin.Context, code int, g *domain.Group, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, code, g)
}

func groupList(c *gin.Context, groups []*domain.Group, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	if groups == nil {
		groups = []*domain.Group{}
	}
	respondJSON(c, http.StatusOK, groups)
}

// CreateGroup handles POST /v1/groups
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	invites := make([]service.InviteTarget, 0, len(req.Invites))
	for _, inv := range req.Invites {
		invites = append(invites, service.InviteTarget{UserID: inv.UserID, RideID: inv.RideID})
	}

	g, err := h.groupService.CreateGroup(c.Request.Context(), service.CreateGroupRequest{
		AdminID: currentUser(c),
		RideID:  req.RideID,
		Name:    req.Name,
		Invites: invites,
	})
	groupResult(c, http.StatusCreated, g, err)
}

// ListGroups handles GET /v1/groups
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groupService.ListGroups(c.Request.Context(), currentUser(c))
	groupList(c, groups, err)
}

// ListInvites handles GET /v1/groups/invites
func (h *GroupHandler) ListInvites(c *gin.Context) {
	groups, err := h.groupService.ListInvites(c.Request.Context(), currentUser(c))
	groupList(c, groups, err)
}

// GetGroup handles GET /v1/groups/:id
func (h *GroupHandler) GetGroup(c *gin.Context) {
	details, err := h.groupService.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, details)
}

// DeleteGroup handles DELETE /v1/groups/:id
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	if err := h.groupService.DeleteGroup(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Invite handles POST /v1/groups/:id/invites
func (h *GroupHandler) Invite(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	g, err := h.groupService.Invite(c.Request.Context(), c.Param("id"), currentUser(c), req.UserID, req.RideID)
	groupResult(c, http.StatusOK, g, err)
}

// AcceptInvite handles POST /v1/groups/:id/invites/accept
func (h *GroupHandler) AcceptInvite(c *gin.Context) {
	g, err := h.groupService.AcceptInvite(c.Request.Context(), c.Param("id"), currentUser(c))
	groupResult(c, http.StatusOK, g, err)
}

// RejectInvite handles POST /v1/groups/:id/invites/reject
func (h *GroupHandler) RejectInvite(c *gin.Context) {
	g, err := h.groupService.RejectInvite(c.Request.Context(), c.Param("id"), currentUser(c))
	groupResult(c, http.StatusOK, g, err)
}

// RequestToJoin handles POST /v1/groups/:id/requests
func (h *GroupHandler) RequestToJoin(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	g, err := h.groupService.RequestToJoin(c.Request.Context(), c.Param("id"), currentUser(c), req.RideID)
	groupResult(c, http.StatusOK, g, err)
}

// AcceptRequest handles POST /v1/groups/:id/requests/:userId/accept
func (h *GroupHandler) AcceptRequest(c *gin.Context) {
	g, err := h.groupService.AcceptRequest(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userId"))
	groupResult(c, http.StatusOK, g, err)
}

// RejectRequest handles POST /v1/groups/:id/requests/:userId/reject
func (h *GroupHandler) RejectRequest(c *gin.Context) {
	g, err := h.groupService.RejectRequest(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userId"))
	groupResult(c, http.StatusOK, g, err)
}

// RemoveMember handles DELETE /v1/groups/:id/members/:userId
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	g, err := h.groupService.RemoveMember(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("userId"))
	groupResult(c, http.StatusOK, g, err)
}

// Leave handles POST /v1/groups/:id/leave
func (h *GroupHandler) Leave(c *gin.Context) {
	g, err := h.groupService.Leave(c.Request.Context(), c.Param("id"), currentUser(c))
	groupResult(c, http.StatusOK, g, err)
}

// ToggleReady handles POST /v1/groups/:id/ready
func (h *GroupHandler) ToggleReady(c *gin.Context) {
	g, err := h.groupService.ToggleReady(c.Request.Context(), c.Param("id"), currentUser(c))
	groupResult(c, http.StatusOK, g, err)
}

// StartCountdown handles POST /v1/groups/:id/start
func (h *GroupHandler) StartCountdown(c *gin.Context) {
	g, err := h.groupService.StartCountdown(c.Request.Context(), c.Param("id"), currentUser(c))
	groupResult(c, http.StatusAccepted, g, err)
}

// RefreshRoute handles POST /v1/groups/:id/route/refresh
func (h *GroupHandler) RefreshRoute(c *gin.Context) {
	g, err := h.groupService.RefreshRoute(c.Request.Context(), c.Param("id"), currentUser(c))
	groupResult(c, http.StatusOK, g, err)
}
