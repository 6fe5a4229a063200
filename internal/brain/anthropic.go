package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// systemPrompt shapes replies for a public game chat. The backend does not
// know the partner's name and is told to address them as "gast"; the routine
// substitutes the real name before posting.
const systemPrompt = `You are a friendly player chatting inside the public chat of an online game.
You are talking to one other player whose name you do not know; address them as "gast" when you need to.
Reply with a single short chat line, casual tone, no markdown, no quotes around your answer.
Never reveal that you are a bot or an AI.`

// AnthropicClient implements Client on the Anthropic API.
type AnthropicClient struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a backend client with the given API key and model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: 256,
	}
}

// CreateSession opens a new conversation with empty history.
func (c *AnthropicClient) CreateSession(ctx context.Context) (Session, error) {
	if c.model == "" {
		return nil, fmt.Errorf("no model configured")
	}
	return &anthropicSession{client: c}, nil
}

// anthropicSession accumulates the message history for one partner.
type anthropicSession struct {
	client  *AnthropicClient
	history []anthropic.MessageParam
	closed  bool
}

// Ask sends text to the backend and appends both sides to the history.
func (s *anthropicSession) Ask(ctx context.Context, text string) (string, error) {
	if s.closed {
		return "", fmt.Errorf("session is closed")
	}

	messages := append(s.history, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))

	msg, err := s.client.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.client.model,
		MaxTokens: s.client.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var reply string
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply = block.Text
			break
		}
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("no text content in API response")
	}

	s.history = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	return reply, nil
}

// Close drops the history. Safe to call more than once.
func (s *anthropicSession) Close() error {
	s.closed = true
	s.history = nil
	return nil
}
