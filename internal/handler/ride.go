package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridepool/internal/domain"
	"ridepool/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService     *service.RideService
	matchingService service.MatchingServiceInterface
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService, matchingService service.MatchingServiceInterface) *RideHandler {
	return &RideHandler{
		rideService:     rideService,
		matchingService: matchingService,
	}
}

// CreateRideRequest is the HTTP request body for creating a ride.
// Locations are [lng, lat] pairs.
type CreateRideRequest struct {
	Source              string        `json:"source"`
	Destination         string        `json:"destination"`
	SourceLocation      *domain.Point `json:"sourceLocation"`
	DestinationLocation *domain.Point `json:"destinationLocation"`
	Datetime            time.Time     `json:"datetime"`
	GenderPreference    string        `json:"genderPreference,omitempty"`
}

// UpdateRideTimeRequest is the HTTP request body for rescheduling a ride.
type UpdateRideTimeRequest struct {
	Datetime time.Time `json:"datetime"`
}

// UpdateRideStatusRequest is the HTTP request body for changing a ride's status.
type UpdateRideStatusRequest struct {
	Status string `json:"status"`
}

// MatchesResponse is the HTTP response for a match query.
type MatchesResponse struct {
	RideID  string         `json:"rideId"`
	Count   int            `json:"count"`
	Matches []*domain.Ride `json:"matches"`
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.SourceLocation == nil {
		respondError(c, service.ErrInvalidSourceLocation)
		return
	}
	if req.DestinationLocation == nil {
		respondError(c, service.ErrInvalidDestinationLocation)
		return
	}

	ride, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		UserID:              currentUser(c),
		Source:              req.Source,
		Destination:         req.Destination,
		SourceLocation:      *req.SourceLocation,
		DestinationLocation: *req.DestinationLocation,
		Datetime:            req.Datetime,
		GenderPreference:    domain.GenderPreference(req.GenderPreference),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, ride)
}

// ListRides handles GET /v1/rides
func (h *RideHandler) ListRides(c *gin.Context) {
	rides, err := h.rideService.ListRides(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if rides == nil {
		rides = []*domain.Ride{}
	}
	respondJSON(c, http.StatusOK, rides)
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ride)
}

// UpdateRideTime handles PATCH /v1/rides/:id/time
func (h *RideHandler) UpdateRideTime(c *gin.Context) {
	var req UpdateRideTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ride, err := h.rideService.UpdateRideTime(c.Request.Context(), currentUser(c), c.Param("id"), req.Datetime)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ride)
}

// UpdateRideStatus handles PATCH /v1/rides/:id/status
func (h *RideHandler) UpdateRideStatus(c *gin.Context) {
	var req UpdateRideStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ride, err := h.rideService.UpdateRideStatus(c.Request.Context(), currentUser(c), c.Param("id"), domain.RideStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, ride)
}

// DeleteRide handles DELETE /v1/rides/:id
func (h *RideHandler) DeleteRide(c *gin.Context) {
	if err := h.rideService.DeleteRide(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FindMatches handles GET /v1/rides/:id/matches?checkOverlap=bool
// The overlap pass is on unless checkOverlap=false.
func (h *RideHandler) FindMatches(c *gin.Context) {
	checkOverlap := true
	if raw := c.Query("checkOverlap"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "checkOverlap must be a boolean")
			return
		}
		checkOverlap = v
	}

	rideID := c.Param("id")
	matches, err := h.matchingService.FindMatches(c.Request.Context(), service.MatchRequest{
		RideID:       rideID,
		CheckOverlap: checkOverlap,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if matches == nil {
		matches = []*domain.Ride{}
	}

	respondJSON(c, http.StatusOK, MatchesResponse{RideID: rideID, Count: len(matches), Matches: matches})
}

// GetRideGroup handles GET /v1/rides/:id/group
func (h *RideHandler) GetRideGroup(c *gin.Context) {
	group, err := h.rideService.GetRideGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, group)
}
