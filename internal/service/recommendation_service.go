package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/thehao1505/backend-capstone/internal/ai"
	"github.com/thehao1505/backend-capstone/internal/cache"
	"github.com/thehao1505/backend-capstone/internal/metrics"
	"github.com/thehao1505/backend-capstone/internal/model"
	"github.com/thehao1505/backend-capstone/internal/pkg/ctxutil"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
	"github.com/thehao1505/backend-capstone/internal/vectorstore"
)

const (
	SourceCache        = "cache"
	SourcePersonalized = "personalized"
	SourceNewUser      = "new_user"
	SourceFallback     = "fallback"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	likedSampleSize = 5
	defaultPageTTL  = 30 * time.Minute
)

type RecommendationConfig struct {
	PostCollection string
	PageTTL        time.Duration
}

// RecommendationService builds feeds from followed authors, similarity to
// recently liked posts, recency and author diversity. Any failure of the
// personalized path degrades to the popular-posts feed.
type RecommendationService struct {
	posts    PostStore
	users    UserStore
	comments CommentStore
	ai       EmbeddingCapability
	vectors  vectorstore.Gateway
	cache    cache.Store
	metrics  *metrics.Recorder
	cfg      RecommendationConfig
	rng      Random
	now      func() time.Time

	// collapses concurrent misses of one page key within this process
	inflight singleflight.Group
}

type RecommendationOption func(*RecommendationService)

func WithRandom(rng Random) RecommendationOption {
	return func(s *RecommendationService) {
		s.rng = rng
	}
}

func WithClock(now func() time.Time) RecommendationOption {
	return func(s *RecommendationService) {
		s.now = now
	}
}

func NewRecommendationService(posts PostStore, users UserStore, comments CommentStore, capability EmbeddingCapability,
	vectors vectorstore.Gateway, store cache.Store, recorder *metrics.Recorder, cfg RecommendationConfig,
	opts ...RecommendationOption) *RecommendationService {
	if cfg.PageTTL <= 0 {
		cfg.PageTTL = defaultPageTTL
	}
	s := &RecommendationService{
		posts:    posts,
		users:    users,
		comments: comments,
		ai:       capability,
		vectors:  vectors,
		cache:    store,
		metrics:  recorder,
		cfg:      cfg,
		rng:      globalRandom{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizePage applies the default page and limit to zero values and
// rejects anything outside 1 <= limit <= MaxLimit or page < 1.
func NormalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 {
		return 0, 0, fmt.Errorf("page %d: %w", page, appErr.ErrInvalid)
	}
	if limit < 1 || limit > MaxLimit {
		return 0, 0, fmt.Errorf("limit %d: %w", limit, appErr.ErrInvalid)
	}
	return page, limit, nil
}

func pageCacheKey(userID string, page, limit int) string {
	return fmt.Sprintf("recommendations:%s:%d:%d", userID, page, limit)
}

// GetFeed returns one page of the viewer's feed. Only a failure of the
// popular-posts fallback itself is returned as an error.
func (s *RecommendationService) GetFeed(ctx context.Context, userID string, page, limit int) (*model.RecommendationPage, error) {
	page, limit, err := NormalizePage(page, limit)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", appErr.ErrInvalid)
	}
	key := pageCacheKey(userID, page, limit)
	if cached, ok := s.readCache(ctx, key); ok {
		s.metrics.Incr(ctx, metrics.CacheHits, 1)
		s.metrics.RecordPage(ctx, cached.Items, SourceCache)
		return cached, nil
	}
	s.metrics.Incr(ctx, metrics.CacheMisses, 1)

	// The shared computation must outlive any single caller: a follower
	// with a live context would otherwise inherit the leader's cancellation.
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		shared, release := ctxutil.Detach(ctx)
		defer release()
		return s.computeFeed(shared, userID, page, limit, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.RecommendationPage), nil
	}
}

func (s *RecommendationService) computeFeed(ctx context.Context, userID string, page, limit int, key string) (*model.RecommendationPage, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.Int("page", page), zap.Int("limit", limit))
	start := s.now()
	result, source, err := s.personalizedOrNewUser(ctx, userID, page, limit)
	if err != nil {
		logger.Error("personalized feed failed, using fallback", zap.Error(err))
		s.metrics.Incr(ctx, metrics.Errors, 1)
		result, err = s.newUserFeed(ctx, page, limit)
		if err != nil {
			logger.Error("fallback feed failed", zap.Error(err))
			return nil, fmt.Errorf("fallback feed: %w", err)
		}
		source = SourceFallback
	}
	s.writeCache(ctx, key, result)
	s.metrics.ObserveDuration(ctx, s.now().Sub(start))
	s.metrics.RecordPage(ctx, result.Items, source)
	logger.Debug("feed computed", zap.String("source", source), zap.Int("items", len(result.Items)))
	return result, nil
}

func (s *RecommendationService) personalizedOrNewUser(ctx context.Context, userID string, page, limit int) (*model.RecommendationPage, string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	liked, err := s.posts.CountLikedByUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("count liked posts: %w", err)
	}
	commented, err := s.comments.CountByAuthor(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("count comments: %w", err)
	}
	if liked == 0 && commented == 0 && len(user.Followings) == 0 {
		result, err := s.newUserFeed(ctx, page, limit)
		if err != nil {
			return nil, "", err
		}
		return result, SourceNewUser, nil
	}
	result, err := s.personalizedFeed(ctx, user, page, limit)
	if err != nil {
		return nil, "", err
	}
	return result, SourcePersonalized, nil
}

func (s *RecommendationService) personalizedFeed(ctx context.Context, user *model.User, page, limit int) (*model.RecommendationPage, error) {
	offset := (page - 1) * limit
	var (
		followed      []model.Post
		followedTotal int
		liked         []model.Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		followed, err = s.posts.ListByAuthors(gctx, user.Followings, offset, limit)
		if err != nil {
			return fmt.Errorf("list followed posts: %w", err)
		}
		followedTotal, err = s.posts.CountByAuthors(gctx, user.Followings)
		if err != nil {
			return fmt.Errorf("count followed posts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		liked, err = s.posts.ListRecentLiked(gctx, user.ID, likedSampleSize)
		if err != nil {
			return fmt.Errorf("list liked posts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(liked) == 0 {
		items := SelectDiverse(followed, limit, s.rng)
		return model.NewRecommendationPage(items, followedTotal, page, limit), nil
	}

	texts := make([]string, 0, len(liked))
	likedIDs := make([]string, 0, len(liked))
	for _, p := range liked {
		likedIDs = append(likedIDs, p.ID)
		if text := ai.PlainText(p.Content); text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		items := SelectDiverse(followed, limit, s.rng)
		return model.NewRecommendationPage(items, followedTotal, page, limit), nil
	}
	vec, err := s.ai.EmbedText(ctx, strings.Join(texts, " "), ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed liked content: %w", err)
	}
	hits, err := s.vectors.Search(ctx, s.cfg.PostCollection, vec, vectorstore.SearchOptions{
		Limit:  limit,
		Offset: offset,
		Filter: &vectorstore.Filter{
			MustNot: []vectorstore.Condition{
				{Key: "postId", Values: likedIDs},
				{Key: "author", Values: []string{user.ID}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search similar posts: %w", err)
	}
	ids := hitPostIDs(hits, nil)
	posts, err := s.posts.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load similar posts: %w", err)
	}
	ranked := RankByRecency(posts, s.now())
	items := SelectDiverse(candidatesToPosts(ranked), limit, s.rng)
	return model.NewRecommendationPage(items, len(ids), page, limit), nil
}

// newUserFeed serves popular posts in random order.
func (s *RecommendationService) newUserFeed(ctx context.Context, page, limit int) (*model.RecommendationPage, error) {
	total, err := s.posts.CountVisible(ctx)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	popular, err := s.posts.ListPopular(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list popular posts: %w", err)
	}
	shufflePosts(popular, s.rng)
	return model.NewRecommendationPage(popular, total, page, limit), nil
}

// GetSimilarPosts finds posts close to postID, never including it.
func (s *RecommendationService) GetSimilarPosts(ctx context.Context, postID string, page, limit int) (*model.RecommendationPage, error) {
	page, limit, err := NormalizePage(page, limit)
	if err != nil {
		return nil, err
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.IsDeleted {
		return nil, fmt.Errorf("post %s: %w", postID, appErr.ErrNotFound)
	}
	text := ai.PlainText(post.Content)
	if text == "" {
		return nil, fmt.Errorf("post %s has no text to compare: %w", postID, appErr.ErrRetrieval)
	}
	vec, err := s.ai.EmbedText(ctx, text, ai.TaskRetrievalDocument)
	if err != nil {
		return nil, fmt.Errorf("%w: embed post: %w", appErr.ErrRetrieval, err)
	}
	hits, err := s.vectors.Search(ctx, s.cfg.PostCollection, vec, vectorstore.SearchOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
		Filter: &vectorstore.Filter{
			MustNot: []vectorstore.Condition{{Key: "postId", Values: []string{postID}}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", appErr.ErrRetrieval, err)
	}
	ids := hitPostIDs(hits, map[string]struct{}{postID: {}})
	found, err := s.posts.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load similar posts: %w", err)
	}
	byID := make(map[string]model.Post, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	items := make([]model.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			items = append(items, p)
		}
	}
	return model.NewRecommendationPage(items, len(ids), page, limit), nil
}

// GetFollowing is the followed-authors feed alone, diversified and uncached.
func (s *RecommendationService) GetFollowing(ctx context.Context, userID string, page, limit int) (*model.RecommendationPage, error) {
	page, limit, err := NormalizePage(page, limit)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.ListByAuthors(ctx, user.Followings, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list followed posts: %w", err)
	}
	total, err := s.posts.CountByAuthors(ctx, user.Followings)
	if err != nil {
		return nil, fmt.Errorf("count followed posts: %w", err)
	}
	return model.NewRecommendationPage(SelectDiverse(posts, limit, s.rng), total, page, limit), nil
}

// Search runs a free text similarity query over the post collection.
func (s *RecommendationService) Search(ctx context.Context, text string, page, limit int) ([]model.SearchHit, error) {
	page, limit, err := NormalizePage(page, limit)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("search text is required: %w", appErr.ErrInvalid)
	}
	vec, err := s.ai.EmbedText(ctx, text, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectors.Search(ctx, s.cfg.PostCollection, vec, vectorstore.SearchOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", appErr.ErrRetrieval, err)
	}
	out := make([]model.SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.SearchHit{ID: h.ID, Score: h.Score, Payload: h.Payload})
	}
	return out, nil
}

func (s *RecommendationService) GetMetrics(ctx context.Context) (map[string]int64, error) {
	return s.metrics.Snapshot(ctx)
}

func (s *RecommendationService) readCache(ctx context.Context, key string) (*model.RecommendationPage, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logutil.GetLogger(ctx).Warn("read page cache failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result model.RecommendationPage
	if err := json.Unmarshal(raw, &result); err != nil {
		logutil.GetLogger(ctx).Warn("drop undecodable cached page", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (s *RecommendationService) writeCache(ctx context.Context, key string, result *model.RecommendationPage) {
	raw, err := json.Marshal(result)
	if err != nil {
		logutil.GetLogger(ctx).Warn("encode page for cache failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cfg.PageTTL); err != nil {
		logutil.GetLogger(ctx).Warn("write page cache failed", zap.String("key", key), zap.Error(err))
	}
}

// hitPostIDs maps vector hits to distinct post ids in hit order. Image
// vectors resolve through their postId payload.
func hitPostIDs(hits []vectorstore.ScoredRecord, exclude map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		id := h.ID
		if v, ok := h.Payload["postId"].(string); ok && v != "" {
			id = v
		}
		if _, skip := exclude[id]; skip {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
