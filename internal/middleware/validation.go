package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxMessageLength   = 8192
	maxSessionIDLength = 128
)

// ValidateMessageText checks a chat message body.
func ValidateMessageText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errors.New("message cannot be empty")
	}
	if len(trimmed) > maxMessageLength {
		return errors.New("message is too long")
	}
	if !utf8.ValidString(trimmed) {
		return errors.New("message is not valid UTF-8")
	}
	return nil
}

// ValidateSessionID checks a session identifier from a URL or payload.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if len(id) > maxSessionIDLength {
		return errors.New("session id is too long")
	}
	return nil
}
