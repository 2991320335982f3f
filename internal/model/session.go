// Package model defines data structures for the counseling relay.
package model

import (
	"time"
)

// SessionType identifies which kind of counterparty is currently active.
type SessionType string

const (
	SessionTypeChatbot       SessionType = "chatbot"
	SessionTypeHumanHandover SessionType = "human_handover"
)

// SessionStatus is the lifecycle state of a counseling session.
type SessionStatus string

const (
	StatusOpen      SessionStatus = "open"
	StatusEscalated SessionStatus = "escalated"
	StatusClosed    SessionStatus = "closed"
)

// Session represents one counseling conversation. The session store is the
// system of record; the relay never caches these across events.
type Session struct {
	ID                 string        `json:"session_id"`
	UserID             string        `json:"user_id,omitempty"`
	Type               SessionType   `json:"session_type"`
	Status             SessionStatus `json:"status"`
	AssignedStaffID    string        `json:"assigned_staff_id,omitempty"`
	AssignedStaffName  string        `json:"assigned_staff_name,omitempty"`
	EscalationReason   string        `json:"escalation_reason,omitempty"`
	EscalationTicketID string        `json:"escalation_ticket_id,omitempty"`
	Messages           []Message     `json:"messages,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	ConsentGivenAt     *time.Time    `json:"consent_given_at,omitempty"`
	EscalatedAt        *time.Time    `json:"escalated_at,omitempty"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	Rating             *int          `json:"rating,omitempty"`
	Feedback           string        `json:"feedback,omitempty"`
}

// IsClosed reports whether the session has reached its terminal state.
func (s *Session) IsClosed() bool {
	return s.Status == StatusClosed
}

// AccessibleBy reports whether the given identity may read this session's
// transcript: the owning user, any staff role, or the assigned staff member.
func (s *Session) AccessibleBy(userID string, role Role) bool {
	if role.IsStaff() {
		return true
	}
	if userID == "" {
		return false
	}
	return s.UserID == userID || s.AssignedStaffID == userID
}
