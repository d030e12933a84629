package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

func newOpenAIProvider(cfg Config) *openAIProvider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &openAIProvider{
		client:      &client,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (p *openAIProvider) name() string { return "openai" }

func (p *openAIProvider) complete(ctx context.Context, prompt string) (string, int, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:               p.model,
		Temperature:         openai.Float(p.temperature),
		MaxCompletionTokens: openai.Int(p.maxTokens),
	})
	if err != nil {
		return "", 0, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, int(resp.Usage.TotalTokens), nil
}
