// Package relay implements the counseling session relay engine: the
// per-connection protocol state machine, event routing, permission checks,
// and fan-out of transcript updates to session and staff broadcast groups.
package relay

import (
	"context"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/internal/store"
)

// StaffBroadcastGroup receives escalation alerts. Membership is role-gated
// by the gateway.
const StaffBroadcastGroup = "staff:broadcast"

// SessionGroup returns the broadcast group for a session's participants.
func SessionGroup(sessionID string) string {
	return "session:" + sessionID
}

// Conn is the engine's view of one client connection. Implementations must be
// safe for concurrent use; the engine reads identity on every event.
type Conn interface {
	ID() string
	UserID() string
	DisplayName() string
	Role() model.Role

	// SessionID returns the session this connection is joined to, or "".
	SessionID() string
	BindSession(sessionID string)
}

// Gateway is the publish/subscribe surface the engine drives. Deliveries are
// best-effort within a live connection's lifetime; transcript durability is
// the session store's job.
type Gateway interface {
	JoinGroup(c Conn, group string) error
	LeaveGroup(c Conn, group string)
	CloseGroup(group string)
	Broadcast(group string, event model.EventType, payload any)
	SendTo(c Conn, event model.EventType, payload any)
}

// Store is the engine's view of the session store client.
type Store interface {
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	Create(ctx context.Context, req store.CreateSessionRequest) (*model.Session, error)
	AppendMessage(ctx context.Context, sessionID string, msg model.Message) error
	Escalate(ctx context.Context, sessionID string, req store.EscalateRequest) (*model.Session, error)
	AssignStaff(ctx context.Context, sessionID, staffID string) (*model.Session, error)
	Close(ctx context.Context, sessionID string, req store.CloseRequest) error
	NotifyEscalation(ctx context.Context, req store.NotificationRequest)
}
