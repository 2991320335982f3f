package responder

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/pkg/metrics"
)

// AnthropicClient is a direct Anthropic-backed responder for deployments
// without a webhook pipeline.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic responder.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Reply generates a supportive response from the messages API.
func (c *AnthropicClient) Reply(ctx context.Context, req *Request) (*Reply, error) {
	start := time.Now()

	var messages []anthropic.MessageParam
	for _, msg := range historyTail(req.History, 10) {
		messages = append(messages, messageParam(anthropicRole(msg.Sender), msg.Text))
	}
	messages = append(messages, messageParam(anthropic.MessageParamRoleUser, req.Message))

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F("claude-3-5-sonnet-20241022"),
		MaxTokens: anthropic.F(int64(1024)),
		Messages:  anthropic.F(messages),
	})
	if err != nil {
		metrics.RecordResponderRequest(c.Name(), "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordResponderRequest(c.Name(), "success", time.Since(start).Seconds())

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
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
			"tokens_in":  resp.Usage.InputTokens,
			"tokens_out": resp.Usage.OutputTokens,
		},
	}, nil
}

func messageParam(role anthropic.MessageParamRole, text string) anthropic.MessageParam {
	return anthropic.MessageParam{
		Role: anthropic.F(role),
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(text),
			},
		}),
	}
}

func anthropicRole(s model.Sender) anthropic.MessageParamRole {
	if s == model.SenderBot {
		return anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParamRoleUser
}
