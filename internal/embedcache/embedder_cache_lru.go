package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/thehao1505/backend-capstone/internal/ai"
	"github.com/thehao1505/backend-capstone/internal/pkg/ctxutil"
)

// WrapLRU memoizes vectors in process. Concurrent requests for the same
// text share one provider call, so a burst of identical liked-post bundles
// from repeated feed requests costs a single embedding.
func WrapLRU(e ai.IEmbedder, size int, ttl time.Duration, stats *Stats) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
		stats: stats,
	}
}

type lruEmbedder struct {
	next     ai.IEmbedder
	cache    *expirable.LRU[string, []float32]
	inflight singleflight.Group
	stats    *Stats
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := newCacheKey(l.next.ModelName(), taskType, text).String()
	if cached, ok := l.cache.Get(key); ok {
		l.stats.observe("lru", true)
		logutil.GetLogger(ctx).Debug("embedding cache hit", zap.String("layer", "lru"), zap.String("task_type", taskType))
		return cloneVector(cached), nil
	}
	l.stats.observe("lru", false)
	ch := l.inflight.DoChan(key, func() (interface{}, error) {
		shared, release := ctxutil.Detach(ctx)
		defer release()
		res, err := l.next.Embed(shared, text, taskType)
		if err != nil {
			return nil, err
		}
		if len(res) > 0 {
			l.cache.Add(key, cloneVector(res))
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneVector(res.Val.([]float32)), nil
	}
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}
