package model

import (
	"time"
)

// Sender identifies who produced a transcript message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderStaff  Sender = "staff"
	SenderSystem Sender = "system"
)

// Message is one turn in a session transcript. Metadata is attached by the
// responder client or the escalation policy, never by the end user.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Sender    Sender         `json:"sender"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
