package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

type openAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// openAIProvider talks to any OpenAI compatible endpoint.
type openAIProvider struct {
	name   string
	apiKey string
	client *openai.Client
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, dependencyError(p.name, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

func (p *openAIProvider) Describe(ctx context.Context, model string, image []byte, mimeType string, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return "", dependencyError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", dependencyError(p.name, fmt.Errorf("response has no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func newOpenAICompatible(name, defaultBaseURL string, args interface{}) (*openAIProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = baseURL
	return &openAIProvider{
		name:   name,
		apiKey: apiKey,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

func init() {
	RegisterEmbed("openai", func(args interface{}) (IEmbedProvider, error) {
		return newOpenAICompatible("openai", defaultOpenAIBaseURL, args)
	})
	RegisterVision("openai", func(args interface{}) (IVisionProvider, error) {
		return newOpenAICompatible("openai", defaultOpenAIBaseURL, args)
	})
	RegisterEmbed("openrouter", func(args interface{}) (IEmbedProvider, error) {
		return newOpenAICompatible("openrouter", defaultOpenRouterBaseURL, args)
	})
	RegisterVision("openrouter", func(args interface{}) (IVisionProvider, error) {
		return newOpenAICompatible("openrouter", defaultOpenRouterBaseURL, args)
	})
}
