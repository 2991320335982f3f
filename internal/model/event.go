package model

import (
	"encoding/json"
	"time"
)

// EventType identifies a relay protocol event.
type EventType string

// Inbound events (client -> relay).
const (
	EventJoinSession       EventType = "join_session"
	EventSendMessage       EventType = "send_message"
	EventRequestEscalation EventType = "request_escalation"
	EventStaffJoinSession  EventType = "staff_join_session"
	EventCloseSession      EventType = "close_session"
)

// Outbound events (relay -> client).
const (
	EventSessionJoined       EventType = "session_joined"
	EventMessageReceived     EventType = "message_received"
	EventTypingStart         EventType = "typing_start"
	EventTypingStop          EventType = "typing_stop"
	EventEscalationSuggested EventType = "escalation_suggested"
	EventEscalationRequested EventType = "escalation_requested"
	EventEscalationAlert     EventType = "escalation_alert"
	EventStaffJoined         EventType = "staff_joined"
	EventSessionClosed       EventType = "session_closed"
	EventUserDisconnected    EventType = "user_disconnected"
	EventError               EventType = "error"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Ts      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an outbound envelope with the payload marshaled in.
func NewEnvelope(t EventType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{Type: t, Ts: time.Now().UTC(), Payload: raw}, nil
}

// JoinSessionPayload is the payload of a join_session event.
type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Consent   bool   `json:"consent"`
}

// SendMessagePayload is the payload of a send_message event. Client-supplied
// metadata is accepted on the wire but never copied onto the stored message.
type SendMessagePayload struct {
	SessionID string         `json:"sessionId"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RequestEscalationPayload is the payload of a request_escalation event.
type RequestEscalationPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// StaffJoinPayload is the payload of a staff_join_session event.
type StaffJoinPayload struct {
	SessionID string `json:"sessionId"`
}

// CloseSessionPayload is the payload of a close_session event.
type CloseSessionPayload struct {
	SessionID string `json:"sessionId"`
	Rating    *int   `json:"rating,omitempty"`
	Feedback  string `json:"feedback,omitempty"`
}

// SessionJoinedPayload acknowledges a join with the transcript so far.
type SessionJoinedPayload struct {
	SessionID   string      `json:"sessionId"`
	Messages    []Message   `json:"messages"`
	SessionType SessionType `json:"sessionType"`
	Status      SessionStatus `json:"status"`
}

// EscalationSuggestedPayload is the advisory event attached to a bot turn.
type EscalationSuggestedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// EscalationRequestedPayload acknowledges an explicit escalation request.
type EscalationRequestedPayload struct {
	SessionID string `json:"sessionId"`
	TicketID  string `json:"ticketId"`
	Message   string `json:"message"`
}

// EscalationAlertPayload notifies the staff broadcast group.
type EscalationAlertPayload struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Reason    string    `json:"reason"`
	Priority  string    `json:"priority"`
	TicketID  string    `json:"ticketId"`
	Timestamp time.Time `json:"timestamp"`
}

// StaffJoinedPayload notifies the session group that a staff member claimed it.
type StaffJoinedPayload struct {
	StaffName string `json:"staffName"`
	Message   string `json:"message"`
}

// SessionClosedPayload notifies the session group of closure.
type SessionClosedPayload struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Rating    *int      `json:"rating,omitempty"`
	Feedback  string    `json:"feedback,omitempty"`
}

// UserDisconnectedPayload notifies the session group of a dropped connection.
type UserDisconnectedPayload struct {
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is delivered only to the originating connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried on error events.
const (
	ErrCodeAuthenticationFailed = "authentication_failed"
	ErrCodePermissionDenied     = "permission_denied"
	ErrCodeNotFound             = "not_found"
	ErrCodeValidation           = "validation_error"
	ErrCodeUpstreamUnavailable  = "upstream_unavailable"
	ErrCodeRateLimited          = "rate_limited"
)
