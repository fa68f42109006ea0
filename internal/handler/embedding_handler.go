package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/thehao1505/backend-capstone/internal/pkg/errcode"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
	"github.com/thehao1505/backend-capstone/internal/pkg/response"
)

type Embedder interface {
	EnqueuePostForEmbedding(ctx context.Context, postID string) error
	EnqueueUserForEmbedding(ctx context.Context, userID string) error
	EmbedText(ctx context.Context, text string) ([]float32, error)
	DescribeImage(ctx context.Context, url string) (string, error)
}

type EmbeddingHandler struct {
	embedder      Embedder
	maxInputChars int
}

func NewEmbeddingHandler(embedder Embedder, maxInputChars int) *EmbeddingHandler {
	return &EmbeddingHandler{embedder: embedder, maxInputChars: maxInputChars}
}

type embedTextRequest struct {
	Text string `json:"text"`
}

type imageAnalysisRequest struct {
	ImageURL string `json:"image_url"`
}

func (h *EmbeddingHandler) EnqueuePost(c *gin.Context) {
	postID := c.Param("id")
	if err := h.embedder.EnqueuePostForEmbedding(c.Request.Context(), postID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"post_id": postID, "enqueued": true})
}

func (h *EmbeddingHandler) EnqueueUser(c *gin.Context) {
	userID := c.Param("id")
	if err := h.embedder.EnqueueUserForEmbedding(c.Request.Context(), userID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "enqueued": true})
}

func (h *EmbeddingHandler) EmbedText(c *gin.Context) {
	var req embedTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" || (h.maxInputChars > 0 && len([]rune(text)) > h.maxInputChars) {
		handleError(c, appErr.ErrInvalid)
		return
	}
	vec, err := h.embedder.EmbedText(c.Request.Context(), text)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"embedding": vec, "dimension": len(vec)})
}

func (h *EmbeddingHandler) AnalyzeImage(c *gin.Context) {
	var req imageAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	desc, err := h.embedder.DescribeImage(c.Request.Context(), req.ImageURL)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"description": desc})
}
