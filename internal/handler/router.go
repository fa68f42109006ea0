package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thehao1505/backend-capstone/internal/middleware"
)

type RouterDeps struct {
	Recommendations *RecommendationHandler
	Embeddings      *EmbeddingHandler
	// Prometheus exposition, served without auth.
	Metrics         http.Handler
	JWTSecret       []byte
	RateLimitWindow time.Duration
	RateLimitBurst  int
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	if deps.Metrics != nil {
		api.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	rec := authGroup.Group("/recommendations")
	rec.GET("/for-your-page", deps.Recommendations.ForYourPage)
	rec.GET("/following", deps.Recommendations.Following)
	rec.GET("/similar/:postId", deps.Recommendations.Similar)
	rec.GET("/metrics", deps.Recommendations.Metrics)
	rec.GET("/search", deps.Recommendations.Search)

	emb := authGroup.Group("/embedding")
	emb.Use(middleware.RateLimit(deps.RateLimitWindow, deps.RateLimitBurst))
	emb.POST("/posts/:id", deps.Embeddings.EnqueuePost)
	emb.POST("/users/:id", deps.Embeddings.EnqueueUser)
	emb.POST("/text", deps.Embeddings.EmbedText)
	emb.POST("/image-analysis", deps.Embeddings.AnalyzeImage)
}
