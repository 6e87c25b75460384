package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridepool/internal/handler"
	"ridepool/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler   *handler.RideHandler
	GroupHandler  *handler.GroupHandler
	UserHandler   *handler.UserHandler
	SocketHandler *handler.SocketHandler
	Responses     middleware.ResponseStore
	NewRelicApp   *newrelic.Application
	Logger        *slog.Logger
	UserHeader    string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.Metrics())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.Identity(deps.UserHeader))
	v1.Use(middleware.Idempotency(deps.Responses, deps.Logger))
	{
		v1.GET("/ws", deps.SocketHandler.Serve)

		// User routes.
		users := v1.Group("/users")
		{
			users.POST("/me", deps.UserHandler.UpsertProfile)
			users.GET("/:id", deps.UserHandler.GetProfile)
		}

		// Ride routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("", deps.RideHandler.ListRides)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.PATCH("/:id/time", deps.RideHandler.UpdateRideTime)
			rides.PATCH("/:id/status", deps.RideHandler.UpdateRideStatus)
			rides.DELETE("/:id", deps.RideHandler.DeleteRide)
			rides.GET("/:id/matches", deps.RideHandler.FindMatches)
			rides.GET("/:id/group", deps.RideHandler.GetRideGroup)
		}

		// Group routes.
		groups := v1.Group("/groups")
		{
			groups.POST("", deps.GroupHandler.CreateGroup)
			groups.GET("", deps.GroupHandler.ListGroups)
			groups.GET("/invites", deps.GroupHandler.ListInvites)
			groups.GET("/:id", deps.GroupHandler.GetGroup)
			groups.DELETE("/:id", deps.GroupHandler.DeleteGroup)
			groups.POST("/:id/invites", deps.GroupHandler.Invite)
			groups.POST("/:id/invites/accept", deps.GroupHandler.AcceptInvite)
			groups.POST("/:id/invites/reject", deps.GroupHandler.RejectInvite)
			groups.POST("/:id/requests", deps.GroupHandler.RequestToJoin)
			groups.POST("/:id/requests/:userId/accept", deps.GroupHandler.AcceptRequest)
			groups.POST("/:id/requests/:userId/reject", deps.GroupHandler.RejectRequest)
			groups.DELETE("/:id/members/:userId", deps.GroupHandler.RemoveMember)
			groups.POST("/:id/leave", deps.GroupHandler.Leave)
			groups.POST("/:id/ready", deps.GroupHandler.ToggleReady)
			groups.POST("/:id/start", deps.GroupHandler.StartCountdown)
			groups.POST("/:id/route/refresh", deps.GroupHandler.RefreshRoute)
		}
	}

	return router
}
