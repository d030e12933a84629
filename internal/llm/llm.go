// Package llm wraps the completion providers used by the analysis pipeline
// behind a single client with rate limiting and call metrics. The analyzer
// and report steps both go through Complete.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalworks/propensity/internal/metrics"
)

// Config selects and tunes the completion provider.
type Config struct {
	Provider      string  `yaml:"provider" mapstructure:"provider"`
	Model         string  `yaml:"model" mapstructure:"model"`
	APIKey        string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	Temperature   float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// provider is one concrete completion backend.
type provider interface {
	name() string
	complete(ctx context.Context, prompt string) (string, int, error)
}

// Client is the completion entry point handed to the analysis engine.
type Client struct {
	provider provider
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New builds a client for the configured provider.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var p provider
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		p = newOpenAIProvider(cfg)
	case "anthropic":
		p = newAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}

	return &Client{provider: p, limiter: limiter, logger: logger}, nil
}

// Complete produces a completion for the prompt, honoring the configured
// rate limit. Blocks until a limiter slot frees up or ctx is done.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("completion rate limit wait: %w", err)
		}
	}

	start := time.Now()
	text, tokens, err := c.provider.complete(ctx, prompt)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordLLMCall(c.provider.name(), "error", elapsed.Seconds(), 0)
		return "", err
	}
	metrics.RecordLLMCall(c.provider.name(), "ok", elapsed.Seconds(), tokens)

	c.logger.Debug("completion finished",
		zap.String("provider", c.provider.name()),
		zap.Duration("duration", elapsed),
		zap.Int("tokens", tokens),
		zap.Int("response_chars", len(text)))
	return text, nil
}
