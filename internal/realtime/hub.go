// Package realtime delivers group and user events to connected clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"ridepool/internal/observability"
)

// Envelope is the wire format of every socket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Publisher fans events out to a user's connections or a group's subscribers.
type Publisher interface {
	PublishToUser(ctx context.Context, userID, event string, payload any) error
	PublishToGroup(ctx context.Context, groupID, event string, payload any) error
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Hub tracks connected clients in per-user and per-group rooms.
//
// Messages are queued on each client's buffered channel while holding the
// hub lock, so events published in sequence for a room reach every member of
// that room in the same sequence.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]map[*Client]struct{}
	groups map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		users:  make(map[string]map[*Client]struct{}),
		groups: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

func addTo(rooms map[string]map[*Client]struct{}, key string, c *Client) {
	room, ok := rooms[key]
	if !ok {
		room = make(map[*Client]struct{})
		rooms[key] = room
	}
	room[c] = struct{}{}
}

func removeFrom(rooms map[string]map[*Client]struct{}, key string, c *Client) {
	room, ok := rooms[key]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(rooms, key)
	}
}

// Register adds the client to its user room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addTo(h.users, c.UserID, c)
	observability.WSConnections.Inc()
}

// Unregister removes the client from every room and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	removeFrom(h.users, c.UserID, c)
	for groupID := range c.groups {
		removeFrom(h.groups, groupID, c)
	}
	c.groups = nil
	close(c.send)
	observability.WSConnections.Dec()
}

// JoinGroup subscribes the client to a group room.
func (h *Hub) JoinGroup(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	addTo(h.groups, groupID, c)
	c.groups[groupID] = struct{}{}
}

// LeaveGroup unsubscribes the client from a group room.
func (h *Hub) LeaveGroup(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeFrom(h.groups, groupID, c)
	delete(c.groups, groupID)
}

// GroupSubscribers returns the number of clients subscribed to a group.
func (h *Hub) GroupSubscribers(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}

// PublishToUser sends an event to every connection of a user.
func (h *Hub) PublishToUser(ctx context.Context, userID, event string, payload any) error {
	return h.publish(h.users, userID, event, payload)
}

// PublishToGroup sends an event to every subscriber of a group.
func (h *Hub) PublishToGroup(ctx context.Context, groupID, event string, payload any) error {
	return h.publish(h.groups, groupID, event, payload)
}

func (h *Hub) publish(rooms map[string]map[*Client]struct{}, key, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}

	var slow []*Client
	h.mu.RLock()
	for c := range rooms[key] {
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	observability.EventsPublishedTotal.WithLabelValues(event).Inc()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "user_id", c.UserID)
		h.Unregister(c)
		c.closeConn()
	}
	if len(slow) > 0 {
		return errors.New("some subscribers were dropped")
	}
	return nil
}

// sendTo queues a message for one client only.
func (h *Hub) sendTo(c *Client, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	ok := c.enqueue(msg)
	h.mu.RUnlock()
	if !ok {
		return errors.New("client queue unavailable")
	}
	return nil
}
