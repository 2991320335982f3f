package responder

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/pkg/metrics"
)

const supportSystemPrompt = "You are a supportive, empathetic mental-health " +
	"companion. Listen, validate feelings, and gently encourage the user to " +
	"seek professional help when appropriate. Never give medical diagnoses."

// OpenAIClient is a direct OpenAI-backed responder for deployments without a
// webhook pipeline.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI responder.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Reply generates a supportive response from the chat model.
func (c *OpenAIClient) Reply(ctx context.Context, req *Request) (*Reply, error) {
	start := time.Now()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: supportSystemPrompt},
	}
	for _, msg := range historyTail(req.History, 10) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(msg.Sender),
			Content: msg.Text,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     "gpt-4o",
		Messages:  messages,
		MaxTokens: 1024,
	})
	if err != nil {
		metrics.RecordResponderRequest(c.Name(), "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordResponderRequest(c.Name(), "success", time.Since(start).Seconds())

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	if content == "" {
		return nil, errors.New("empty completion")
	}

	return &Reply{
		Text:       content,
		Confidence: defaultConfidence,
		Intent:     defaultIntent,
		Metadata: map[string]any{
			"model":      resp.Model,
			"tokens_in":  resp.Usage.PromptTokens,
			"tokens_out": resp.Usage.CompletionTokens,
		},
	}, nil
}

// chatRole maps transcript senders onto chat-completion roles. Staff turns are
// presented as user turns so the model treats them as part of the conversation.
func chatRole(s model.Sender) string {
	switch s {
	case model.SenderBot:
		return openai.ChatMessageRoleAssistant
	case model.SenderSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
