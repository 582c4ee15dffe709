// Package openai is the chat-completion client used by the reply router.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/onnwee/chatqueue/backend/dispatch"
)

// Chat roles accepted in a history.
const (
	RoleSystem    = gopenai.ChatMessageRoleSystem
	RoleUser      = gopenai.ChatMessageRoleUser
	RoleAssistant = gopenai.ChatMessageRoleAssistant
)

// ChatMessage is one history entry.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrNoChoices is returned when the API answers with an empty choice list.
var ErrNoChoices = errors.New("no response choices returned")

// Client wraps go-openai for a single model.
type Client struct {
	api   *gopenai.Client
	model string
	log   *slog.Logger
}

// New builds a Client. An empty baseURL uses the public OpenAI endpoint.
func New(apiKey, baseURL, model string) *Client {
	cfg := gopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:   gopenai.NewClientWithConfig(cfg),
		model: model,
		log:   slog.Default().With(slog.String("component", "openai")),
	}
}

// Complete sends msgs and returns the first choice's content. Failures are
// reported as *dispatch.ClientError for client "ai".
func (c *Client) Complete(ctx context.Context, msgs []ChatMessage) (string, error) {
	req := gopenai.ChatCompletionRequest{Model: c.model, Messages: make([]gopenai.ChatCompletionMessage, 0, len(msgs))}
	for _, m := range msgs {
		req.Messages = append(req.Messages, gopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", dispatch.Client("ai", fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", dispatch.Client("ai", ErrNoChoices)
	}
	c.log.Debug("completion received",
		slog.String("model", c.model),
		slog.Int("messages", len(msgs)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}
