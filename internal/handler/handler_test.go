package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/thehao1505/backend-capstone/internal/ai"
	"github.com/thehao1505/backend-capstone/internal/middleware"
	"github.com/thehao1505/backend-capstone/internal/model"
	"github.com/thehao1505/backend-capstone/internal/pkg/errcode"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
	"github.com/thehao1505/backend-capstone/internal/pkg/jwt"
)

var testSecret = []byte("test-secret")

type fakeRecommender struct {
	feedUser  string
	feedPage  int
	feedLimit int
	err       error
}

func (f *fakeRecommender) GetFeed(ctx context.Context, userID string, page, limit int) (*model.RecommendationPage, error) {
	f.feedUser, f.feedPage, f.feedLimit = userID, page, limit
	if f.err != nil {
		return nil, f.err
	}
	return model.NewRecommendationPage([]model.Post{{ID: "p1", Author: "a"}}, 1, max(page, 1), max(limit, 10)), nil
}

func (f *fakeRecommender) GetFollowing(ctx context.Context, userID string, page, limit int) (*model.RecommendationPage, error) {
	return model.NewRecommendationPage(nil, 0, 1, 10), f.err
}

func (f *fakeRecommender) GetSimilarPosts(ctx context.Context, postID string, page, limit int) (*model.RecommendationPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return model.NewRecommendationPage([]model.Post{{ID: postID + "-like"}}, 1, 1, 10), nil
}

func (f *fakeRecommender) Search(ctx context.Context, text string, page, limit int) ([]model.SearchHit, error) {
	return []model.SearchHit{{ID: "p9", Score: 0.5}}, f.err
}

func (f *fakeRecommender) GetMetrics(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"cache_hits": 4}, nil
}

type fakeEmbedder struct {
	enqueued []string
}

func (f *fakeEmbedder) EnqueuePostForEmbedding(ctx context.Context, postID string) error {
	f.enqueued = append(f.enqueued, "post:"+postID)
	return nil
}

func (f *fakeEmbedder) EnqueueUserForEmbedding(ctx context.Context, userID string) error {
	f.enqueued = append(f.enqueued, "user:"+userID)
	return nil
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) DescribeImage(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", appErr.ErrInvalid
	}
	return "a cat", nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, rec Recommender, emb Embedder) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deps := RouterDeps{
		Recommendations: NewRecommendationHandler(rec),
		Embeddings:      NewEmbeddingHandler(emb, 20),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# HELP feedrec\n"))
		}),
		JWTSecret: testSecret,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		token, err := jwt.GenerateToken("viewer-1", "viewer", testSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return env
}

func TestForYourPage(t *testing.T) {
	rec := &fakeRecommender{}
	h := setupRouter(t, rec, &fakeEmbedder{})

	env := do(t, h, http.MethodGet, "/api/v1/recommendations/for-your-page?page=2&limit=5", "", true)
	require.Equal(t, 0, env.Code)
	assert.Equal(t, "viewer-1", rec.feedUser)
	assert.Equal(t, 2, rec.feedPage)
	assert.Equal(t, 5, rec.feedLimit)
	var page model.RecommendationPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, "p1", page.Items[0].ID)

	env = do(t, h, http.MethodGet, "/api/v1/recommendations/for-your-page", "", false)
	assert.Equal(t, errcode.ErrUnauthorized, env.Code)

	env = do(t, h, http.MethodGet, "/api/v1/recommendations/for-your-page?limit=abc", "", true)
	assert.Equal(t, errcode.ErrInvalid, env.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("x: %w", appErr.ErrNotFound), errcode.ErrNotFound},
		{fmt.Errorf("%w: search: %w", appErr.ErrRetrieval, appErr.ErrDependency), errcode.ErrRetrieval},
		{fmt.Errorf("embed: %w", appErr.ErrDependency), errcode.ErrDependency},
		{ai.ErrUnavailable, errcode.ErrAIUnavailable},
		{appErr.ErrInvalid, errcode.ErrInvalid},
		{fmt.Errorf("boom"), errcode.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := setupRouter(t, &fakeRecommender{err: tt.err}, &fakeEmbedder{})
			env := do(t, h, http.MethodGet, "/api/v1/recommendations/similar/p1", "", true)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestSimilarSearchAndMetrics(t *testing.T) {
	h := setupRouter(t, &fakeRecommender{}, &fakeEmbedder{})

	env := do(t, h, http.MethodGet, "/api/v1/recommendations/similar/p1", "", true)
	require.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), "p1-like")

	env = do(t, h, http.MethodGet, "/api/v1/recommendations/search?text=cats", "", true)
	require.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), "p9")

	env = do(t, h, http.MethodGet, "/api/v1/recommendations/search", "", true)
	assert.Equal(t, errcode.ErrInvalid, env.Code)

	env = do(t, h, http.MethodGet, "/api/v1/recommendations/metrics", "", true)
	require.Equal(t, 0, env.Code)
	assert.JSONEq(t, `{"cache_hits":4}`, string(env.Data))

	env = do(t, h, http.MethodGet, "/api/v1/recommendations/following", "", true)
	assert.Equal(t, 0, env.Code)
}

func TestEmbeddingRoutes(t *testing.T) {
	emb := &fakeEmbedder{}
	h := setupRouter(t, &fakeRecommender{}, emb)

	env := do(t, h, http.MethodPost, "/api/v1/embedding/posts/p7", "", true)
	require.Equal(t, 0, env.Code)
	env = do(t, h, http.MethodPost, "/api/v1/embedding/users/u7", "", true)
	require.Equal(t, 0, env.Code)
	assert.Equal(t, []string{"post:p7", "user:u7"}, emb.enqueued)

	env = do(t, h, http.MethodPost, "/api/v1/embedding/text", `{"text":"hello"}`, true)
	require.Equal(t, 0, env.Code)
	assert.JSONEq(t, `{"embedding":[0.1,0.2],"dimension":2}`, string(env.Data))

	env = do(t, h, http.MethodPost, "/api/v1/embedding/text", `{"text":"this text is far longer than twenty runes"}`, true)
	assert.Equal(t, errcode.ErrInvalid, env.Code)

	env = do(t, h, http.MethodPost, "/api/v1/embedding/image-analysis", `{"image_url":"http://img/cat.png"}`, true)
	require.Equal(t, 0, env.Code)
	assert.Contains(t, string(env.Data), "a cat")

	env = do(t, h, http.MethodPost, "/api/v1/embedding/image-analysis", `{}`, true)
	assert.Equal(t, errcode.ErrInvalid, env.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	h := setupRouter(t, &fakeRecommender{}, &fakeEmbedder{})
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "feedrec")
}
