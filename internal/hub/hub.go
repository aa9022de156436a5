package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Client struct {
	ID     string
	Send   chan []byte
	groups map[string]bool
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: id, Send: make(chan []byte, buffer), groups: make(map[string]bool)}
}

// Hub tracks which connected clients belong to which notification group.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client
	logger  *zap.Logger
}

type Command struct {
	Action string `json:"action"`
	Group  string `json:"group"`
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for group := range client.groups {
		h.removeLocked(client, group)
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Join(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[client.ID] = client
	client.groups[group] = true
}

func (h *Hub) Leave(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, group)
}

func (h *Hub) removeLocked(client *Client, group string) {
	delete(client.groups, group)
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, client.ID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Publish hands payload to every member of group. Slow clients lose the
// message rather than stall the publisher.
func (h *Hub) Publish(ctx context.Context, group string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.groups[group] {
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop message for client", zap.String("client_id", client.ID), zap.String("group", group))
		}
	}
	return nil
}

func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func ParseCommand(data []byte) (Command, bool) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, false
	}
	if cmd.Action != "join" && cmd.Action != "leave" {
		return Command{}, false
	}
	if !ValidGroup(cmd.Group) {
		return Command{}, false
	}
	return cmd, true
}

// ValidGroup accepts department_{id}, user_{id} and queue_{id}.
func ValidGroup(group string) bool {
	for _, prefix := range []string{"department_", "user_", "queue_"} {
		if strings.HasPrefix(group, prefix) && len(group) > len(prefix) {
			return true
		}
	}
	return false
}
