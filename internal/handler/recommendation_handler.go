package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/thehao1505/backend-capstone/internal/model"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
	"github.com/thehao1505/backend-capstone/internal/pkg/response"
)

type Recommender interface {
	GetFeed(ctx context.Context, userID string, page, limit int) (*model.RecommendationPage, error)
	GetFollowing(ctx context.Context, userID string, page, limit int) (*model.RecommendationPage, error)
	GetSimilarPosts(ctx context.Context, postID string, page, limit int) (*model.RecommendationPage, error)
	Search(ctx context.Context, text string, page, limit int) ([]model.SearchHit, error)
	GetMetrics(ctx context.Context) (map[string]int64, error)
}

type RecommendationHandler struct {
	recommender Recommender
}

func NewRecommendationHandler(recommender Recommender) *RecommendationHandler {
	return &RecommendationHandler{recommender: recommender}
}

func (h *RecommendationHandler) ForYourPage(c *gin.Context) {
	page, limit, err := parsePaging(c)
	if err != nil {
		handleError(c, err)
		return
	}
	result, err := h.recommender.GetFeed(c.Request.Context(), getUserID(c), page, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *RecommendationHandler) Following(c *gin.Context) {
	page, limit, err := parsePaging(c)
	if err != nil {
		handleError(c, err)
		return
	}
	result, err := h.recommender.GetFollowing(c.Request.Context(), getUserID(c), page, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *RecommendationHandler) Similar(c *gin.Context) {
	page, limit, err := parsePaging(c)
	if err != nil {
		handleError(c, err)
		return
	}
	result, err := h.recommender.GetSimilarPosts(c.Request.Context(), c.Param("postId"), page, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *RecommendationHandler) Search(c *gin.Context) {
	page, limit, err := parsePaging(c)
	if err != nil {
		handleError(c, err)
		return
	}
	text := c.Query("text")
	if text == "" {
		handleError(c, appErr.ErrInvalid)
		return
	}
	hits, err := h.recommender.Search(c.Request.Context(), text, page, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": hits})
}

func (h *RecommendationHandler) Metrics(c *gin.Context) {
	snapshot, err := h.recommender.GetMetrics(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, snapshot)
}
