// Package narrative is a client for OpenAI-compatible chat-completion
// endpoints used to draft report narratives.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUpstream marks failures of the remote generation service: transport
// errors, non-2xx responses and responses without any completion.
var ErrUpstream = errors.New("narrative upstream failure")

// Request is a single generation call.
type Request struct {
	SystemPrompt string
	Prompt       string
	Temperature  float64
	MaxTokens    int
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RetryCount int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client calls the chat-completions endpoint.
type Client struct {
	http  *resty.Client
	model string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: client, model: cfg.Model}
}

// Generate sends req and returns the text of the first completion choice.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var out chatResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: response contained no choices", ErrUpstream)
	}
	return out.Choices[0].Message.Content, nil
}
