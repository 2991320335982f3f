package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindcare-platform/chat-relay/internal/model"
)

func TestOpenAIRequestShape(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: got.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: "I'm here with you.",
				},
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 7},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	client := &OpenAIClient{client: openai.NewClientWithConfig(cfg)}

	reply, err := client.Reply(context.Background(), &Request{
		Message:   "I feel overwhelmed",
		SessionID: "s1",
		History:   []model.Message{{Sender: model.SenderBot, Text: "How are you today?"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[1].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[2].Role)
	assert.Equal(t, "I feel overwhelmed", got.Messages[2].Content)

	assert.Equal(t, "I'm here with you.", reply.Text)
	assert.Equal(t, defaultConfidence, reply.Confidence)
	assert.Equal(t, 12, reply.Metadata["tokens_in"])
	assert.Equal(t, 7, reply.Metadata["tokens_out"])
}

func TestOpenAIEmptyCompletionIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	client := &OpenAIClient{client: openai.NewClientWithConfig(cfg)}

	_, err := client.Reply(context.Background(), &Request{Message: "hi"})
	assert.Error(t, err)
}
