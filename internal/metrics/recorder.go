package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/cache"
	"github.com/thehao1505/backend-capstone/internal/model"
)

const Prefix = "recommendation:metrics:"

const (
	CacheHits            = "cache_hits"
	CacheMisses          = "cache_misses"
	Errors               = "errors"
	ProcessingTime       = "processing_time"
	TotalRecommendations = "total_recommendations"
	UniqueAuthors        = "unique_authors"
	RecentPosts          = "recent_posts"
	EmbeddingCompleted   = "embedding_completed"
	EmbeddingFailed      = "embedding_failed"
	EmbeddingExhausted   = "embedding_exhausted"
)

const recentWindow = 24 * time.Hour

func SourceKey(source string) string {
	return "source:" + source
}

// Recorder keeps operational counters in the cache store, each with a
// sliding TTL refreshed on every increment, and mirrors every increment to
// a Prometheus counter for scraping.
type Recorder struct {
	store    cache.Store
	ttl      time.Duration
	registry *prometheus.Registry
	counters *prometheus.CounterVec
	now      func() time.Time
}

type Option func(*Recorder)

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *Recorder) {
		r.registry = registry
	}
}

func NewRecorder(store cache.Store, ttl time.Duration, opts ...Option) *Recorder {
	r := &Recorder{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	r.counters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedrec",
			Subsystem: "recommendation",
			Name:      "events_total",
			Help:      "Recommendation and embedding pipeline counters",
		},
		[]string{"name"},
	)
	r.registry.MustRegister(r.counters)
	return r
}

// Incr adds delta to the named counter. Failures are logged and swallowed
// so metrics never break the calling path.
func (r *Recorder) Incr(ctx context.Context, name string, delta int64) {
	if delta < 0 {
		return
	}
	if delta > 0 {
		r.counters.WithLabelValues(name).Add(float64(delta))
	}
	if _, err := r.store.Incr(ctx, Prefix+name, delta, r.ttl); err != nil {
		logutil.GetLogger(ctx).Warn("track metric failed", zap.String("metric", name), zap.Error(err))
	}
}

// RecordPage tracks the per call counters of a served recommendation page.
func (r *Recorder) RecordPage(ctx context.Context, items []model.Post, source string) {
	r.Incr(ctx, TotalRecommendations, 1)
	r.Incr(ctx, SourceKey(source), 1)

	authors := make(map[string]struct{}, len(items))
	recent := 0
	cutoff := r.now().Add(-recentWindow).Unix()
	for _, item := range items {
		authors[item.Author] = struct{}{}
		if item.Ctime >= cutoff {
			recent++
		}
	}
	r.Incr(ctx, UniqueAuthors, int64(len(authors)))
	r.Incr(ctx, RecentPosts, int64(recent))
}

func (r *Recorder) ObserveDuration(ctx context.Context, elapsed time.Duration) {
	r.Incr(ctx, ProcessingTime, elapsed.Milliseconds())
}

// Snapshot reads every live counter, keyed by name without the prefix.
func (r *Recorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	keys, err := r.store.Scan(ctx, Prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		value, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			logutil.GetLogger(ctx).Warn("skip malformed metric", zap.String("key", key), zap.Error(err))
			continue
		}
		out[strings.TrimPrefix(key, Prefix)] = value
	}
	return out, nil
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
