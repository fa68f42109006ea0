package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/ai"
	"github.com/thehao1505/backend-capstone/internal/model"
)

type Repo interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.CachedVector) error
}

// WrapDB persists vectors keyed by content hash. Store failures degrade to
// a provider call and are never surfaced to the caller.
func WrapDB(e ai.IEmbedder, repo Repo, stats *Stats) ai.IEmbedder {
	if e == nil || repo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: repo, stats: stats, now: time.Now}
}

type dbEmbedder struct {
	next  ai.IEmbedder
	repo  Repo
	stats *Stats
	now   func() time.Time
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	key := newCacheKey(d.next.ModelName(), taskType, text)
	values, ok, err := d.repo.Get(ctx, key.model, key.taskType, key.hash)
	if err != nil {
		logger.Warn("read embedding cache failed", zap.Error(err))
	}
	if ok && len(values) > 0 {
		d.stats.observe("db", true)
		logger.Debug("embedding cache hit", zap.String("layer", "db"), zap.String("task_type", taskType))
		return values, nil
	}
	d.stats.observe("db", false)
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil || len(res) == 0 {
		return res, err
	}
	if err := d.repo.Save(ctx, &model.CachedVector{
		Model:       key.model,
		TaskType:    key.taskType,
		ContentHash: key.hash,
		Vector:      res,
		Ctime:       d.now().Unix(),
	}); err != nil {
		logger.Warn("write embedding cache failed", zap.Error(err))
	}
	return res, nil
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}
