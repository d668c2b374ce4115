// Package ai speaks the chat-completions protocol of OpenAI-compatible
// servers, which covers both the hosted API and local inference gateways.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds connection details for the completion endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client issues chat completion requests and returns the raw assistant
// content; parsing and validation stay with the caller.
type Client struct {
	httpClient     *http.Client
	config         Config
	logger         zerolog.Logger
	completionsURL string
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config:         cfg,
		logger:         logger.With().Str("component", "ai_client").Logger(),
		completionsURL: base + "/chat/completions",
	}
}

// Complete sends one system+user exchange and returns the assistant reply.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.config.APIKey == "" {
		return "", fmt.Errorf("completion api key not configured")
	}

	payload := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.7,
		MaxTokens:      3000,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode completion payload: %w", err)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("completion returned no content")
	}

	c.logger.Debug().
		Str("model", c.config.Model).
		Dur("elapsed", time.Since(started)).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Msg("completion finished")

	return chatResp.Choices[0].Message.Content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
