package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

var (
	ErrUnavailable    = fmt.Errorf("ai provider unavailable: %w", appErr.ErrDependency)
	ErrEmptyEmbedding = fmt.Errorf("empty embedding: %w", appErr.ErrDependency)
)

const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

// IVisionProvider turns raw image bytes into a textual description.
type IVisionProvider interface {
	Name() string
	Describe(ctx context.Context, model string, image []byte, mimeType string, prompt string) (string, error)
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type embedder struct {
	provider IEmbedProvider
	model    string
}

func NewEmbedder(p IEmbedProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.provider.Name() + ":" + e.model
}

type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)

type VisionProviderFactory func(args interface{}) (IVisionProvider, error)

var (
	embedRegistry  = map[string]EmbedProviderFactory{}
	visionRegistry = map[string]VisionProviderFactory{}
)

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	embedRegistry[key] = factory
}

func RegisterVision(name string, factory VisionProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	visionRegistry[key] = factory
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai.embed_provider is required")
	}
	factory := embedRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embed provider: %s", name)
	}
	return factory(args)
}

func NewVisionProvider(name string, args interface{}) (IVisionProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := visionRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported vision provider: %s", name)
	}
	return factory(args)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}

// dependencyError tags provider failures so callers can tell them apart from bad input.
func dependencyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, appErr.ErrDependency) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", provider, appErr.ErrDependency, err)
}
