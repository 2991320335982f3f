// Package policy decides when a session should be handed to a human.
// All functions are pure; the policy is advisory and never blocks delivery.
package policy

import (
	"strings"
)

// Priority routes staff notifications.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Escalation reasons attached to suggestions.
const (
	ReasonKeywordMatch  = "keyword match"
	ReasonLowConfidence = "low confidence"
)

// ConfidenceThreshold is the responder confidence below which a handoff is
// suggested even without a keyword match.
const ConfidenceThreshold = 0.6

// crisisPhrases are matched case-insensitively as substrings of message text.
var crisisPhrases = []string{
	"suicide", "kill myself", "end it all", "not worth living",
	"self-harm", "cut myself", "hurt myself",
	"emergency", "crisis", "urgent help needed",
}

// highPriorityKeywords mark a free-text escalation reason as high priority.
var highPriorityKeywords = []string{"suicide", "crisis", "emergency", "urgent"}

// Suggestion is the outcome of evaluating a message.
type Suggestion struct {
	Suggested bool
	Reason    string
	Priority  Priority
}

// Evaluate decides whether the given message text and responder confidence
// warrant suggesting a human handoff. Keyword matches win over confidence.
func Evaluate(text string, confidence float64) Suggestion {
	lower := strings.ToLower(text)
	for _, phrase := range crisisPhrases {
		if strings.Contains(lower, phrase) {
			return Suggestion{Suggested: true, Reason: ReasonKeywordMatch, Priority: PriorityHigh}
		}
	}

	if confidence < ConfidenceThreshold {
		return Suggestion{Suggested: true, Reason: ReasonLowConfidence, Priority: PriorityNormal}
	}

	return Suggestion{}
}

// PriorityFor classifies a free-text escalation reason for staff routing.
func PriorityFor(reason string) Priority {
	lower := strings.ToLower(reason)
	for _, kw := range highPriorityKeywords {
		if strings.Contains(lower, kw) {
			return PriorityHigh
		}
	}
	return PriorityNormal
}
