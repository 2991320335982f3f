package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
)

func webhookServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *WebhookClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewWebhookClient(srv.URL, "test-key", 2*time.Second, logger.NewNop())
}

func TestWebhookBareStringResponse(t *testing.T) {
	_, client := webhookServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode("You are not alone in this.")
	})

	reply, err := client.Reply(context.Background(), &Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "You are not alone in this.", reply.Text)
	assert.Equal(t, 0.7, reply.Confidence)
	assert.Equal(t, "general_support", reply.Intent)
}

func TestWebhookObjectResponseFieldPrecedence(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{
			name: "reply wins over message and response",
			body: map[string]any{"reply": "a", "message": "b", "response": "c"},
			want: "a",
		},
		{
			name: "message wins over response",
			body: map[string]any{"message": "b", "response": "c"},
			want: "b",
		},
		{
			name: "response used last",
			body: map[string]any{"response": "c"},
			want: "c",
		},
		{
			name: "empty object gets default text",
			body: map[string]any{},
			want: "I understand. Can you tell me more?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := webhookServer(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.body)
			})

			reply, err := client.Reply(context.Background(), &Request{Message: "hi", SessionID: "s1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Text)
			assert.Equal(t, defaultConfidence, reply.Confidence)
		})
	}
}

func TestWebhookObjectResponseFullShape(t *testing.T) {
	_, client := webhookServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"reply":               "please talk to someone",
			"confidence":          0.4,
			"intent":              "crisis_support",
			"escalationSuggested": true,
			"escalationReason":    "distress detected",
			"workflowId":          "wf-7",
		})
	})

	reply, err := client.Reply(context.Background(), &Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 0.4, reply.Confidence)
	assert.Equal(t, "crisis_support", reply.Intent)
	assert.True(t, reply.EscalationSuggested)
	assert.Equal(t, "distress detected", reply.EscalationReason)
	assert.Equal(t, "wf-7", reply.Metadata["workflowId"])
}

func TestWebhookSendsContextAndAuth(t *testing.T) {
	var got webhookPayload
	var auth string
	_, client := webhookServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode("ok")
	})

	history := make([]model.Message, 8)
	for i := range history {
		history[i] = model.Message{ID: "m", Text: "x"}
	}
	_, err := client.Reply(context.Background(), &Request{
		Message:   "how do I cope",
		SessionID: "s1",
		UserID:    "u1",
		History:   history,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "how do I cope", got.Message)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "mindcare", got.Context.Platform)
	assert.Equal(t, "mental_health_support", got.Context.Type)
	assert.Len(t, got.Context.MessageHistory, 5)
}

func TestWebhookErrorServesFallback(t *testing.T) {
	_, client := webhookServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	reply, err := client.Reply(context.Background(), &Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)
	assert.Equal(t, fallbackConfidence, reply.Confidence)
	assert.Equal(t, fallbackIntent, reply.Intent)
	assert.Equal(t, true, reply.Metadata["fallback"])
}

func TestWebhookTimeoutServesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode("too late")
	}))
	t.Cleanup(srv.Close)
	client := NewWebhookClient(srv.URL, "", 50*time.Millisecond, logger.NewNop())

	reply, err := client.Reply(context.Background(), &Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, true, reply.Metadata["fallback"])
}

func TestWebhookEmptyURLAlwaysFallback(t *testing.T) {
	client := NewWebhookClient("", "", time.Second, logger.NewNop())

	reply, err := client.Reply(context.Background(), &Request{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.Contains(t, fallbackReplies, reply.Text)
	assert.Equal(t, fallbackConfidence, reply.Confidence)
}

func TestHistoryTail(t *testing.T) {
	history := []model.Message{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	assert.Len(t, historyTail(history, 5), 3)
	tail := historyTail(history, 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "2", tail[0].ID)
	assert.Equal(t, "3", tail[1].ID)
}
