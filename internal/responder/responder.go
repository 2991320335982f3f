// Package responder provides clients for the external AI reply dependency.
package responder

import (
	"context"
	"math/rand"

	"github.com/mindcare-platform/chat-relay/internal/model"
)

// Reply is the normalized responder output. Heterogeneous upstream shapes are
// converted into this struct at the boundary and never propagate past it.
type Reply struct {
	Text                string
	Confidence          float64
	Intent              string
	EscalationSuggested bool
	EscalationReason    string
	Metadata            map[string]any
}

// Request carries one user turn plus recent transcript context.
type Request struct {
	Message   string
	SessionID string
	UserID    string
	History   []model.Message
}

// Client is the interface for responder providers.
type Client interface {
	// Reply returns the responder's turn for a user message. Implementations
	// should absorb transport failures into Fallback where possible; the
	// engine treats any returned error as a fallback condition regardless.
	Reply(ctx context.Context, req *Request) (*Reply, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// Defaults applied when a provider response omits fields.
const (
	defaultConfidence = 0.8
	defaultIntent     = "general_support"
	fallbackIntent    = "fallback_support"
)

// fallbackConfidence is the confidence attached to every canned reply.
const fallbackConfidence = 0.6

var fallbackReplies = []string{
	"I hear you. It takes courage to reach out, and I want you to know that your feelings are valid.",
	"Thank you for sharing with me. I'm here to support you through this.",
	"It sounds like you're going through a difficult time. You don't have to face this alone.",
	"I can sense that you're struggling right now. Would you like to talk about what's been weighing on your mind?",
	"Your wellbeing matters, and I'm glad you're taking this step to seek support.",
}

// Fallback returns one of a fixed set of supportive replies, used whenever
// the responder is unavailable. The user never sees a raw error.
func Fallback() *Reply {
	return &Reply{
		Text:       fallbackReplies[rand.Intn(len(fallbackReplies))],
		Confidence: fallbackConfidence,
		Intent:     fallbackIntent,
		Metadata:   map[string]any{"fallback": true},
	}
}

// historyTail returns up to n of the most recent transcript messages.
func historyTail(history []model.Message, n int) []model.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
