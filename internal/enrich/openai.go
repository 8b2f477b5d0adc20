package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ddalti/internal/config"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
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

// OpenAIClient calls the chat completions endpoint.
type OpenAIClient struct {
	http   *resty.Client
	model  string
	logger *zerolog.Logger

	attempts   uint
	retryDelay time.Duration
}

func NewOpenAIClient(cfg config.EnrichConfig, logger *zerolog.Logger) *OpenAIClient {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &OpenAIClient{
		http:       client,
		model:      cfg.Model,
		logger:     logger,
		attempts:   3,
		retryDelay: time.Second,
	}
}

func (c *OpenAIClient) Close() error {
	return c.http.Close()
}

// Complete sends a single user message and returns the trimmed reply.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	var reply string

	err := retry.Do(
		func() error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetBody(chatRequest{
					Model:       c.model,
					Messages:    []chatMessage{{Role: "user", Content: prompt}},
					Temperature: temperature,
				}).
				Post("/chat/completions")
			if err != nil {
				return fmt.Errorf("chat completion request: %w", err)
			}
			if resp.IsError() {
				msg := resp.String()
				var apiErr apiError
				if json.Unmarshal(resp.Bytes(), &apiErr) == nil && apiErr.Error.Message != "" {
					msg = apiErr.Error.Message
				}
				err := fmt.Errorf("chat completion: HTTP %d: %s", resp.StatusCode(), msg)
				if resp.StatusCode() != http.StatusTooManyRequests && resp.StatusCode() < http.StatusInternalServerError {
					return retry.Unrecoverable(err)
				}
				return err
			}
			var out chatResponse
			if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode chat completion: %w", err))
			}
			if len(out.Choices) == 0 {
				return retry.Unrecoverable(errors.New("chat completion returned no choices"))
			}
			reply = strings.TrimSpace(out.Choices[0].Message.Content)
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(20*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Msg("retrying chat completion")
		}),
	)
	if err != nil {
		return "", err
	}
	return reply, nil
}
