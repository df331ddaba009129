package gpt

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are the ordering assistant of a restaurant chat. Answer questions about the menu " +
	"and help the customer build their order in one or two short sentences. Never ask for card details " +
	"and never confirm payments; the ordering system handles checkout and payment on its own."

// Client is the natural-language fallback for messages no workflow claimed.
type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

// NewClientWithConfig is used to point the client at a compatible endpoint.
func NewClientWithConfig(cfg openai.ClientConfig) *Client {
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.GPT4oMini,
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// Reply answers a single customer message.
func (c *Client) Reply(ctx context.Context, sessionID, text string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		MaxTokens:   300,
		Temperature: 0.4,
		User:        sessionID,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from GPT API")
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("empty response from GPT API")
	}
	return answer, nil
}
