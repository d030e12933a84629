package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CompletionClient synthesizes the gathered sources into the analysis text.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Agent answers research prompts by searching the web for the query and
// asking the completion model to synthesize the findings.
type Agent struct {
	search     *SearchClient
	completion CompletionClient
	logger     *zap.Logger
}

func NewAgent(search *SearchClient, completion CompletionClient, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{search: search, completion: completion, logger: logger}
}

// Run executes one research task. The prompt carries the role, date, and
// task instructions; query is the raw user query used as the search term.
func (a *Agent) Run(ctx context.Context, prompt, query string) (string, error) {
	results, err := a.search.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("web search failed: %w", err)
	}

	text, err := a.completion.Complete(ctx, augmentPrompt(prompt, results))
	if err != nil {
		return "", fmt.Errorf("research synthesis failed: %w", err)
	}
	return text, nil
}

// augmentPrompt appends the search results to the research prompt. With no
// results the model is told so rather than left to guess silently.
func augmentPrompt(prompt string, results []SearchResult) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nWeb search findings:\n")
	if len(results) == 0 {
		b.WriteString("\nNo relevant sources were found. State explicitly that current data is unavailable.\n")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Content)
	}
	return b.String()
}
