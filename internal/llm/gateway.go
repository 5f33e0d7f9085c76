// Package llm generates replies through the OpenAI chat completion API and
// reports the token usage of every call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/limmweb/vk-messager/internal/backoff"
	"github.com/limmweb/vk-messager/pkg/models"
)

const (
	// DefaultModel is the completion model used when none is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxOutputTokens bounds the generated reply length.
	DefaultMaxOutputTokens = 150

	// maxAttempts bounds retries for one completion call. After the final
	// attempt the failure is fatal for that single event only.
	maxAttempts = 3
)

// Config holds configuration for the completion gateway.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// Model is the completion model. Defaults to DefaultModel.
	Model string

	// MaxOutputTokens bounds the reply. Defaults to DefaultMaxOutputTokens.
	MaxOutputTokens int

	// Pricing is the per-model price table. Defaults to DefaultPricing.
	Pricing map[string]Price

	// Backoff is the retry curve between attempts.
	Backoff backoff.Policy

	// Sleeper is the wait implementation for retries.
	Sleeper backoff.Sleeper

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("llm: api key is required")
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.Pricing == nil {
		c.Pricing = DefaultPricing()
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.DefaultPolicy()
	}
	if c.Sleeper == nil {
		c.Sleeper = backoff.RealSleeper()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// completionClient is the slice of the OpenAI SDK the gateway consumes.
// Narrowed to an interface so tests can fake the upstream service.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Gateway produces one reply per assembled prompt, with bounded retry for
// transient upstream failures.
type Gateway struct {
	config Config
	client completionClient
	logger *slog.Logger
}

// NewGateway creates a gateway from the configuration.
func NewGateway(config Config) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Gateway{
		config: config,
		client: openai.NewClient(config.APIKey),
		logger: config.Logger.With("component", "llm"),
	}, nil
}

// Complete generates a reply for the prompt turns. Rate-limit and server
// errors are retried up to three attempts with exponential backoff; request
// errors are surfaced immediately. The returned usage carries the provider's
// token counts plus the estimated cost.
func (g *Gateway) Complete(ctx context.Context, turns []models.Turn) (string, models.Usage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	request := openai.ChatCompletionRequest{
		Model:     g.config.Model,
		Messages:  messages,
		MaxTokens: g.config.MaxOutputTokens,
	}

	response, err := backoff.Retry(ctx, g.config.Backoff, maxAttempts, g.config.Sleeper,
		func(attempt int) (openai.ChatCompletionResponse, error) {
			response, err := g.client.CreateChatCompletion(ctx, request)
			if err != nil {
				if !retryable(err) {
					return response, backoff.MarkPermanent(err)
				}
				g.logger.Warn("completion attempt failed", "attempt", attempt, "error", err)
			}
			return response, err
		})
	if err != nil {
		return "", models.Usage{}, fmt.Errorf("llm: completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", models.Usage{}, errors.New("llm: completion returned no choices")
	}

	usage := models.Usage{
		InputTokens:  int64(response.Usage.PromptTokens),
		OutputTokens: int64(response.Usage.CompletionTokens),
		TotalTokens:  int64(response.Usage.TotalTokens),
	}
	usage.Cost = Cost(g.config.Pricing, g.config.Model, usage)

	return response.Choices[0].Message.Content, usage, nil
}

// retryable classifies an upstream failure: rate limiting and server faults
// are transient, anything else in the API error space is a request defect.
// Errors outside the API error space are network-level and retried.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}
