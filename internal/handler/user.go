package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridepool/internal/domain"
	"ridepool/internal/repository"
	"ridepool/internal/service"
)

// UserHandler handles HTTP requests for user profiles.
type UserHandler struct {
	userRepo repository.UserRepository
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userRepo repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// ProfileRequest is the HTTP request body for saving a profile.
type ProfileRequest struct {
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar,omitempty"`
}

// UpsertProfile handles POST /v1/users/me
func (h *UserHandler) UpsertProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.FullName)
	if name == "" {
		respondError(c, service.ErrInvalidFullName)
		return
	}

	user := &domain.User{
		ID:       currentUser(c),
		FullName: name,
		Avatar:   strings.TrimSpace(req.Avatar),
	}
	if err := h.userRepo.Upsert(c.Request.Context(), user); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// GetProfile handles GET /v1/users/:id
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, err := h.userRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
