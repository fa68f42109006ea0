package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

const imagePrompt = `Describe the content of this image in a detailed yet concise paragraph suitable for semantic search. Include recognizable objects (people, animals, nature, buildings, symbols), their spatial relationships and interactions, the overall scene and context, colors and artistic style, and the emotional tone. Avoid lists or formatting and write fluent natural language as a human would describe the image for retrieval or comparison.`

const maxImageBytes = 10 << 20

type ManagerConfig struct {
	VisionModel   string
	Timeout       int
	MaxInputChars int
	HTTPClient    *http.Client
}

// Manager is the embedding capability consumed by the pipeline: text to
// vector and image URL to description.
type Manager struct {
	embedder IEmbedder
	vision   IVisionProvider
	cfg      ManagerConfig
	client   *http.Client
}

func NewManager(embedder IEmbedder, vision IVisionProvider, cfg ManagerConfig) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Manager{
		embedder: embedder,
		vision:   vision,
		cfg:      cfg,
		client:   client,
	}
}

func (m *Manager) EmbedText(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.embedder == nil {
		return nil, ErrUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embed empty text: %w", appErr.ErrInvalid)
	}
	if max := m.cfg.MaxInputChars; max > 0 && len([]rune(text)) > max {
		text = string([]rune(text)[:max])
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	vec, err := m.embedder.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vec, nil
}

func (m *Manager) DescribeImage(ctx context.Context, url string) (string, error) {
	if m.vision == nil {
		return "", ErrUnavailable
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	data, mimeType, err := m.fetchImage(ctx, url)
	if err != nil {
		return "", err
	}
	desc, err := m.vision.Describe(ctx, m.cfg.VisionModel, data, mimeType, imagePrompt)
	if err != nil {
		return "", err
	}
	if desc == "" {
		return "", fmt.Errorf("empty image description: %w", appErr.ErrDependency)
	}
	return desc, nil
}

func (m *Manager) EmbeddingModelName() string {
	if m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", appErr.ErrInvalid)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image %s: %w: %v", url, appErr.ErrDependency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("fetch image %s: %s: %w", url, resp.Status, appErr.ErrDependency)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("unsupported content type %q: %w", contentType, appErr.ErrInvalid)
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read image %s: %w: %v", url, appErr.ErrDependency, err)
	}
	return data, contentType, nil
}
