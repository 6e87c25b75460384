package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridepool/internal/config"
	"ridepool/internal/domain"
	"ridepool/internal/realtime"
	"ridepool/internal/service"
)

// Inbound socket commands.
const (
	CommandJoinGroup   = "join-group"
	CommandLeaveGroup  = "leave-group"
	CommandToggleReady = "toggle-ready-status"
	CommandStartRide   = "start-ride"
)

// groupCommand is the data of every group-scoped socket command.
type groupCommand struct {
	GroupID string `json:"groupId"`
}

// groupCoordinator is the part of the group service reachable over the socket.
type groupCoordinator interface {
	CanSubscribe(ctx context.Context, groupID, userID string) error
	ToggleReady(ctx context.Context, groupID, userID string) (*domain.Group, error)
	StartCountdown(ctx context.Context, groupID, actorID string) (*domain.Group, error)
}

var _ groupCoordinator = (*service.GroupService)(nil)

// SocketHandler upgrades connections to websockets and dispatches commands.
type SocketHandler struct {
	hub      *realtime.Hub
	groups   groupCoordinator
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewSocketHandler creates a new SocketHandler.
func NewSocketHandler(hub *realtime.Hub, groups *service.GroupService, cfg config.WebSocketConfig, logger *slog.Logger) *SocketHandler {
	return newSocketHandler(hub, groups, cfg, logger)
}

func newSocketHandler(hub *realtime.Hub, groups groupCoordinator, cfg config.WebSocketConfig, logger *slog.Logger) *SocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketHandler{
		hub:    hub,
		groups: groups,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy belongs to the gateway in front of the service.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve handles GET /v1/ws
func (h *SocketHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := realtime.NewClient(h.hub, conn, currentUser(c), h.cfg)
	// Run blocks until the connection closes.
	client.Run(c.Request.Context(), h)
}

// HandleCommand implements realtime.CommandHandler. Failures are reported to
// the sending connection only.
func (h *SocketHandler) HandleCommand(ctx context.Context, c *realtime.Client, cmd realtime.Envelope) {
	var body groupCommand
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, &body); err != nil {
			c.SendError("malformed command data")
			return
		}
	}
	if body.GroupID == "" {
		c.SendError(service.ErrInvalidGroupID.Error())
		return
	}

	var err error
	switch cmd.Event {
	case CommandJoinGroup:
		if err = h.groups.CanSubscribe(ctx, body.GroupID, c.UserID); err == nil {
			h.hub.JoinGroup(c, body.GroupID)
		}
	case CommandLeaveGroup:
		h.hub.LeaveGroup(c, body.GroupID)
	case CommandToggleReady:
		_, err = h.groups.ToggleReady(ctx, body.GroupID, c.UserID)
	case CommandStartRide:
		_, err = h.groups.StartCountdown(ctx, body.GroupID, c.UserID)
	default:
		err = errors.New("unknown command " + cmd.Event)
	}

	if err != nil {
		h.logger.Debug("socket command failed", "command", cmd.Event, "user_id", c.UserID, "group_id", body.GroupID, "error", err)
		c.SendError(err.Error())
	}
}
