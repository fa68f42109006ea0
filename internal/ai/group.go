package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var errDimensionMismatch = errors.New("embedding dimension mismatch")

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// chainEmbedder asks each configured provider in turn. A vector whose length
// differs from the collection dimension is treated as a provider failure so
// a misconfigured fallback never writes unusable points.
type chainEmbedder struct {
	dimension int
	items     []EmbedderEntry
}

// NewGroupEmbedder chains the non nil entries. A dimension of zero disables
// the length check.
func NewGroupEmbedder(dimension int, items []EmbedderEntry) IEmbedder {
	live := make([]EmbedderEntry, 0, len(items))
	for _, item := range items {
		if item.Embedder != nil {
			live = append(live, item)
		}
	}
	if len(live) == 0 {
		return nil
	}
	if len(live) == 1 && dimension <= 0 {
		return live[0].Embedder
	}
	return &chainEmbedder{dimension: dimension, items: live}
}

func (g *chainEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	var lastErr error
	for _, item := range g.items {
		vec, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil && g.dimension > 0 && len(vec) != g.dimension {
			err = fmt.Errorf("%w: got %d want %d", errDimensionMismatch, len(vec), g.dimension)
		}
		if err == nil {
			return vec, nil
		}
		lastErr = err
		logger.Warn("embedding provider failed, trying next",
			zap.String("provider", item.Name),
			zap.String("model", item.Embedder.ModelName()),
			zap.Error(err))
	}
	if errors.Is(lastErr, errDimensionMismatch) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
	}
	return nil, lastErr
}

// ModelName is the primary model; cache keys follow whichever model is
// expected to answer.
func (g *chainEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		names = append(names, item.Embedder.ModelName())
	}
	return strings.Join(names, ">")
}
