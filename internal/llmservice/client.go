package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"evidence-rag/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Generator is the subset of llms.Model the pipeline needs.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Client wraps a Generator with a shared rate limit and a per-call timeout.
type Client struct {
	llm     Generator
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit caps calls per second; rps <= 0 disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithModelName(name string) Option {
	return func(c *Client) { c.model = name }
}

func NewClient(llm Generator, opts ...Option) *Client {
	c := &Client{llm: llm}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewChatClient builds the text completion client from config.
func NewChatClient(llmConfig *config.LLMConfig) (*Client, error) {
	return newOpenAIClient(llmConfig, llmConfig.ChatModel)
}

// NewVisionClient builds the image+text client from config.
func NewVisionClient(llmConfig *config.LLMConfig) (*Client, error) {
	return newOpenAIClient(llmConfig, llmConfig.VisionModel)
}

func newOpenAIClient(llmConfig *config.LLMConfig, model string) (*Client, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", model).Msg("Creating llm client")
	timeout := time.Duration(llmConfig.TimeoutSecs) * time.Second
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(model),
		openai.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm %s: %w", model, err)
	}
	return NewClient(llm,
		WithModelName(model),
		WithTimeout(timeout),
		WithRateLimit(llmConfig.RequestsPerSecond),
	), nil
}

// Model is the model name used for token counting.
func (c *Client) Model() string { return c.model }

// GenerateContent waits for the limiter and issues one call under the
// client timeout.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	log.Debug().Str("model", c.model).Dur("took", time.Since(start)).Msg("Generated content")
	return resp, nil
}

// Text returns the first choice's content.
func Text(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
