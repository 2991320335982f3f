package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
	"github.com/mindcare-platform/chat-relay/pkg/metrics"
)

// WebhookClient calls an external AI-response webhook. Timeouts, transport
// failures, and malformed responses all degrade to Fallback with a nil error.
type WebhookClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewWebhookClient creates a webhook responder. An empty URL is allowed and
// yields fallback replies unconditionally.
func NewWebhookClient(url, apiKey string, timeout time.Duration, log *logger.Logger) *WebhookClient {
	return &WebhookClient{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log,
	}
}

// Name returns the provider name.
func (c *WebhookClient) Name() string {
	return "webhook"
}

type webhookPayload struct {
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
	Context   webhookContext `json:"context"`
}

type webhookContext struct {
	Platform       string          `json:"platform"`
	Type           string          `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	MessageHistory []model.Message `json:"messageHistory,omitempty"`
}

// webhookResponse covers the structured shape; `reply`, `message` and
// `response` are alternative field names for the text, first present wins.
type webhookResponse struct {
	Reply               string         `json:"reply"`
	Message             string         `json:"message"`
	Response            string         `json:"response"`
	Confidence          *float64       `json:"confidence"`
	Intent              string         `json:"intent"`
	EscalationSuggested bool           `json:"escalationSuggested"`
	EscalationReason    string         `json:"escalationReason"`
	WorkflowID          string         `json:"workflowId"`
	Metadata            map[string]any `json:"metadata"`
}

// Reply posts the user turn to the webhook and normalizes the response.
func (c *WebhookClient) Reply(ctx context.Context, req *Request) (*Reply, error) {
	if c.url == "" {
		metrics.ResponderFallbacksTotal.Inc()
		return Fallback(), nil
	}

	start := time.Now()
	reply, err := c.call(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordResponderRequest(c.Name(), status, time.Since(start).Seconds())

	if err != nil {
		c.logger.Warn("responder webhook degraded, serving fallback",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		metrics.ResponderFallbacksTotal.Inc()
		return Fallback(), nil
	}
	return reply, nil
}

func (c *WebhookClient) call(ctx context.Context, req *Request) (*Reply, error) {
	payload := webhookPayload{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Context: webhookContext{
			Platform:       "mindcare",
			Type:           "mental_health_support",
			Timestamp:      time.Now().UTC(),
			MessageHistory: historyTail(req.History, 5),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	return normalize(data)
}

// normalize converts the two supported response shapes into a Reply.
func normalize(data []byte) (*Reply, error) {
	// Bare string shape.
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return &Reply{
			Text:       text,
			Confidence: 0.7,
			Intent:     defaultIntent,
		}, nil
	}

	var obj webhookResponse
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("unrecognized webhook response shape: %w", err)
	}

	reply := &Reply{
		Text:                obj.Reply,
		Confidence:          defaultConfidence,
		Intent:              obj.Intent,
		EscalationSuggested: obj.EscalationSuggested,
		EscalationReason:    obj.EscalationReason,
		Metadata:            obj.Metadata,
	}
	if reply.Text == "" {
		reply.Text = obj.Message
	}
	if reply.Text == "" {
		reply.Text = obj.Response
	}
	if reply.Text == "" {
		reply.Text = "I understand. Can you tell me more?"
	}
	if obj.Confidence != nil {
		reply.Confidence = *obj.Confidence
	}
	if reply.Intent == "" {
		reply.Intent = defaultIntent
	}
	if obj.WorkflowID != "" {
		if reply.Metadata == nil {
			reply.Metadata = make(map[string]any)
		}
		reply.Metadata["workflowId"] = obj.WorkflowID
	}
	return reply, nil
}
