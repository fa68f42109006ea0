package job

import "context"

type GarbageCollector interface {
	RunGC() error
}

// CacheGCJob reclaims value log space of the on-disk cache store.
type CacheGCJob struct {
	store GarbageCollector
}

func NewCacheGCJob(store GarbageCollector) *CacheGCJob {
	return &CacheGCJob{store: store}
}

func (j *CacheGCJob) Name() string {
	return "cache_gc"
}

func (j *CacheGCJob) Run(ctx context.Context) error {
	if j.store == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.store.RunGC()
}
