// Package gateway owns the websocket edge: connection lifecycle, group
// routing, and fan-out of relay events to live sockets.
package gateway

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mindcare-platform/chat-relay/internal/model"
)

// sendBufferSize is the per-connection outbound queue. A connection that
// cannot drain this many frames is considered stalled and loses deliveries
// rather than stalling the broadcaster.
const sendBufferSize = 64

// Conn is one live websocket client. Identity fields are fixed at upgrade
// time; only the session binding changes afterwards.
type Conn struct {
	id          string
	userID      string
	displayName string
	role        model.Role

	mu        sync.RWMutex
	sessionID string

	send    chan []byte
	limiter *rate.Limiter
}

// NewConn creates a connection with its identity and inbound rate budget.
func NewConn(userID, displayName string, role model.Role, messagesPerMin, burst int) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		userID:      userID,
		displayName: displayName,
		role:        role,
		send:        make(chan []byte, sendBufferSize),
		limiter:     rate.NewLimiter(rate.Limit(float64(messagesPerMin)/60.0), burst),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user id, or "" for anonymous connections.
func (c *Conn) UserID() string { return c.userID }

// DisplayName returns the name shown to other session participants.
func (c *Conn) DisplayName() string { return c.displayName }

// Role returns the connection's role.
func (c *Conn) Role() model.Role { return c.role }

// SessionID returns the bound session, or "".
func (c *Conn) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// BindSession records which session this connection belongs to.
func (c *Conn) BindSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

// Allow reports whether the connection's inbound rate budget permits another
// event right now.
func (c *Conn) Allow() bool {
	return c.limiter.Allow()
}
