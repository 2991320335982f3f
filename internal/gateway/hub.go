package gateway

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/internal/relay"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
	"github.com/mindcare-platform/chat-relay/pkg/metrics"
)

// Bridge forwards broadcast frames to other relay instances. Optional; a
// single-instance deployment runs without one.
type Bridge interface {
	Publish(group string, data []byte) error
}

// Hub tracks live connections and their group memberships and implements the
// engine's Gateway. All delivery is best-effort within a connection's
// lifetime; a stalled connection drops frames instead of blocking the hub.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	groups map[string]map[string]*Conn

	bridge Bridge
	logger *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		groups: make(map[string]map[string]*Conn),
		logger: log,
	}
}

// SetBridge attaches a cross-instance fanout bridge. Must be called before
// the hub starts accepting connections.
func (h *Hub) SetBridge(b Bridge) {
	h.bridge = b
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
}

// Unregister removes a connection from the hub and every group, and closes
// its send channel so the write pump exits.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.ID()]; !ok {
		return
	}
	delete(h.conns, c.ID())
	for group, members := range h.groups {
		delete(members, c.ID())
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	close(c.send)
}

// JoinGroup subscribes a connection to a group. The staff broadcast group is
// role-gated here so no caller can route an alert to a non-staff socket.
func (h *Hub) JoinGroup(rc relay.Conn, group string) error {
	c, err := h.resolve(rc)
	if err != nil {
		return err
	}
	if group == relay.StaffBroadcastGroup && !c.Role().IsStaff() {
		return errors.New("staff broadcast group requires a staff role")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Conn)
		h.groups[group] = members
	}
	members[c.ID()] = c
	return nil
}

// LeaveGroup removes a connection from a group.
func (h *Hub) LeaveGroup(rc relay.Conn, group string) {
	c, err := h.resolve(rc)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, c.ID())
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// CloseGroup drops a group and all memberships in it. Connections stay alive;
// only the routing entry goes away.
func (h *Hub) CloseGroup(group string) {
	h.mu.Lock()
	delete(h.groups, group)
	h.mu.Unlock()
}

// Broadcast delivers an event to every local member of a group and, when a
// bridge is attached, to the group's members on other instances.
func (h *Hub) Broadcast(group string, event model.EventType, payload any) {
	data, err := h.encode(event, payload)
	if err != nil {
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(string(event)).Inc()

	h.DeliverLocal(group, data)

	if h.bridge != nil {
		if err := h.bridge.Publish(group, data); err != nil {
			h.logger.Warn("bridge publish failed",
				zap.String("group", group),
				zap.Error(err),
			)
		}
	}
}

// SendTo delivers an event to a single connection. Unregistered connections
// are skipped; their send channel is already closed.
func (h *Hub) SendTo(rc relay.Conn, event model.EventType, payload any) {
	c, err := h.resolve(rc)
	if err != nil {
		return
	}
	data, err := h.encode(event, payload)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.conns[c.ID()]; !ok {
		return
	}
	h.deliver(c, data)
}

// DeliverLocal fans a pre-encoded frame out to the group's local members.
// Also the entry point for frames arriving over the bridge. Delivery happens
// under the read lock: Unregister closes send channels under the write lock,
// so a member reachable here cannot be concurrently closed.
func (h *Hub) DeliverLocal(group string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.groups[group] {
		h.deliver(c, data)
	}
}

// GroupSize returns the number of local members in a group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) deliver(c *Conn, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping frame for stalled connection",
			zap.String("connection_id", c.ID()),
		)
	}
}

func (h *Hub) encode(event model.EventType, payload any) ([]byte, error) {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event",
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope",
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return nil, err
	}
	return data, nil
}

func (h *Hub) resolve(rc relay.Conn) (*Conn, error) {
	c, ok := rc.(*Conn)
	if !ok {
		return nil, errors.New("connection does not belong to this hub")
	}
	return c, nil
}
