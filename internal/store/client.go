// Package store provides the HTTP client for the counseling-session store,
// the system of record for sessions and transcripts.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
	"github.com/mindcare-platform/chat-relay/pkg/metrics"
)

// ErrNotFound is returned when the store no longer has the session.
var ErrNotFound = errors.New("session not found")

// Client talks to the session store's counseling-session endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a session store client.
func New(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log,
	}
}

// CreateSessionRequest is the payload for creating a session.
type CreateSessionRequest struct {
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id,omitempty"`
	Type           model.SessionType `json:"session_type"`
	ConsentGivenAt time.Time         `json:"consent_given_at"`
}

// EscalateRequest is the payload for escalating a session.
type EscalateRequest struct {
	Reason      string `json:"reason"`
	EscalatedBy string `json:"escalated_by,omitempty"`
	TicketID    string `json:"ticket_id"`
}

// CloseRequest is the payload for closing a session.
type CloseRequest struct {
	ClosedBy string    `json:"closed_by,omitempty"`
	Rating   *int      `json:"rating,omitempty"`
	Feedback string    `json:"feedback,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	EndedAt  time.Time `json:"ended_at"`
}

// NotificationRequest is the payload for a staff escalation notification.
type NotificationRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Reason    string `json:"reason"`
	TicketID  string `json:"ticket_id"`
	Priority  string `json:"priority"`
}

// Get fetches a session. Absence is a normal outcome and returns (nil, nil).
func (c *Client) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	var sess model.Session
	err := c.do(ctx, "get", http.MethodGet, "/counseling/sessions/"+url.PathEscape(sessionID), nil, &sess)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Create creates a new session record.
func (c *Client) Create(ctx context.Context, req CreateSessionRequest) (*model.Session, error) {
	var sess model.Session
	if err := c.do(ctx, "create", http.MethodPost, "/counseling/sessions", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// AppendMessage appends one message to the session transcript. Returns
// ErrNotFound if the session vanished between get and append; callers must
// surface that, not silently drop the message.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, msg model.Message) error {
	body := map[string]model.Message{"message": msg}
	return c.do(ctx, "append_message", http.MethodPost, "/counseling/sessions/"+url.PathEscape(sessionID)+"/messages", body, nil)
}

// Escalate flips the session to escalated and records the reason and ticket.
func (c *Client) Escalate(ctx context.Context, sessionID string, req EscalateRequest) (*model.Session, error) {
	var sess model.Session
	if err := c.do(ctx, "escalate", http.MethodPut, "/counseling/sessions/"+url.PathEscape(sessionID)+"/escalate", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// AssignStaff records the staff member who claimed the session.
func (c *Client) AssignStaff(ctx context.Context, sessionID, staffID string) (*model.Session, error) {
	body := map[string]string{"staff_id": staffID}
	var sess model.Session
	if err := c.do(ctx, "assign", http.MethodPut, "/counseling/sessions/"+url.PathEscape(sessionID)+"/assign", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Close records the session's terminal state.
func (c *Client) Close(ctx context.Context, sessionID string, req CloseRequest) error {
	return c.do(ctx, "close", http.MethodPut, "/counseling/sessions/"+url.PathEscape(sessionID)+"/close", req, nil)
}

// ActiveSessions lists open or escalated sessions visible to a staff member.
func (c *Client) ActiveSessions(ctx context.Context, staffID string) ([]model.Session, error) {
	var sessions []model.Session
	path := "/counseling/sessions?status=active&staff_id=" + url.QueryEscape(staffID)
	if err := c.do(ctx, "list_active", http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// NotifyEscalation creates a staff notification. This is best-effort: failures
// are logged and swallowed so they never block the escalation itself.
func (c *Client) NotifyEscalation(ctx context.Context, req NotificationRequest) {
	if err := c.do(ctx, "notify_escalation", http.MethodPost, "/escalations/notifications", req, nil); err != nil {
		c.logger.Warn("failed to create escalation notification",
			zap.String("session_id", req.SessionID),
			zap.String("ticket_id", req.TicketID),
			zap.Error(err),
		)
	}
}

// Health probes the store's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, method, path, body, out)

	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	metrics.RecordStoreRequest(operation, status, time.Since(start).Seconds())

	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("store returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode store response: %w", err)
		}
	}
	return nil
}
