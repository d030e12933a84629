// Package research runs the web-grounded research tasks: a search client
// gathers recent sources for the queried company and a completion call
// synthesizes them into the requested analysis.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/circuitbreaker"
	"github.com/signalworks/propensity/internal/metrics"
	"github.com/signalworks/propensity/internal/tracing"
)

const defaultSearchURL = "https://api.tavily.com/search"

// SearchConfig tunes the Tavily search client.
type SearchConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	MaxResults  int           `yaml:"max_results" mapstructure:"max_results"`
	SearchDepth string        `yaml:"search_depth" mapstructure:"search_depth"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SearchResult is one source returned by the search API.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchClient is a minimal Tavily HTTP client. Requests go through the
// shared HTTP circuit breaker so a flapping search API fails fast.
type SearchClient struct {
	cfg  SearchConfig
	http *circuitbreaker.HTTPWrapper
	base string
	log  *zap.Logger
}

func NewSearchClient(cfg SearchConfig, logger *zap.Logger) *SearchClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "basic"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	wrapped := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "tavily", "research-agent", logger)
	return &SearchClient{
		cfg:  cfg,
		http: wrapped,
		base: cfg.BaseURL,
		log:  logger,
	}
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// Search runs one query against the search API.
func (c *SearchClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	start := time.Now()
	results, err := c.search(ctx, query)
	if err != nil {
		metrics.RecordSearchRequest("error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordSearchRequest("ok", time.Since(start).Seconds())
	return results, nil
}

func (c *SearchClient) search(ctx context.Context, query string) ([]SearchResult, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.base)
	defer span.End()

	buf, _ := json.Marshal(searchRequest{
		APIKey:      c.cfg.APIKey,
		Query:       query,
		SearchDepth: c.cfg.SearchDepth,
		MaxResults:  c.cfg.MaxResults,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	c.log.Debug("search completed",
		zap.String("query", query),
		zap.Int("results", len(sr.Results)))
	return sr.Results, nil
}
