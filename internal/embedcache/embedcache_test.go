package embedcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehao1505/backend-capstone/internal/model"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return "counting" }

type memRepo struct {
	items   map[string][]float32
	readErr error
}

func (m *memRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	v, ok := m.items[modelName+"|"+taskType+"|"+contentHash]
	return v, ok, nil
}

func (m *memRepo) Save(ctx context.Context, item *model.CachedVector) error {
	m.items[item.Model+"|"+item.TaskType+"|"+item.ContentHash] = item.Vector
	return nil
}

func TestWrapLRUCachesByTextAndTask(t *testing.T) {
	next := &countingEmbedder{}
	reg := prometheus.NewRegistry()
	e := WrapLRU(next, 16, time.Minute, NewStats(reg))

	first, err := e.Embed(context.Background(), "hello", "A")
	require.NoError(t, err)
	first[0] = 99

	second, err := e.Embed(context.Background(), "hello", "A")
	require.NoError(t, err)
	require.Equal(t, float32(5), second[0])
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(context.Background(), "hello", "B")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
	require.Equal(t, "counting", e.ModelName())

	require.Equal(t, 2, testutil.CollectAndCount(reg))
}

func TestWrapLRUDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLRU(next, 0, time.Minute, nil))
}

func TestWrapDB(t *testing.T) {
	next := &countingEmbedder{}
	repo := &memRepo{items: map[string][]float32{}}
	e := WrapDB(next, repo, nil)

	_, err := e.Embed(context.Background(), "abc", "A")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "abc", "A")
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
	require.Len(t, repo.items, 1)
}

func TestWrapDBReadErrorFallsThrough(t *testing.T) {
	next := &countingEmbedder{}
	repo := &memRepo{items: map[string][]float32{}, readErr: errors.New("db down")}
	e := WrapDB(next, repo, nil)
	vec, err := e.Embed(context.Background(), "abc", "A")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, vec)
}

type slowEmbedder struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *slowEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	s.calls.Add(1)
	<-s.release
	return []float32{1, 2}, nil
}

func (s *slowEmbedder) ModelName() string { return "slow" }

func TestWrapLRUCoalescesConcurrentMisses(t *testing.T) {
	next := &slowEmbedder{release: make(chan struct{})}
	e := WrapLRU(next, 16, time.Minute, nil)

	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec, err := e.Embed(context.Background(), "same text", "A")
			assert.NoError(t, err)
			results[i] = vec
		}(i)
	}
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	require.LessOrEqual(t, next.calls.Load(), int32(2))
	for _, vec := range results {
		require.Equal(t, []float32{1, 2}, vec)
	}
}

func TestStatsCountsDBLayer(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := NewStats(reg)
	e := WrapDB(&countingEmbedder{}, &memRepo{items: map[string][]float32{}}, stats)
	for i := 0; i < 3; i++ {
		_, err := e.Embed(context.Background(), "abc", "A")
		require.NoError(t, err)
	}
	require.Equal(t, float64(1), testutil.ToFloat64(stats.lookups.WithLabelValues("db", "miss")))
	require.Equal(t, float64(2), testutil.ToFloat64(stats.lookups.WithLabelValues("db", "hit")))
}

// gatedEmbedder blocks until released and fails when its context ends first.
type gatedEmbedder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return []float32{4, 2}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedEmbedder) ModelName() string { return "gated" }

func TestWrapLRUFollowerSurvivesLeaderCancel(t *testing.T) {
	next := &gatedEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	e := WrapLRU(next, 16, time.Minute, nil)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.Embed(leaderCtx, "liked posts", "A")
		leaderErr <- err
	}()
	<-next.entered

	followerVec := make(chan []float32, 1)
	followerErr := make(chan error, 1)
	go func() {
		vec, err := e.Embed(context.Background(), "liked posts", "A")
		followerVec <- vec
		followerErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(next.release)

	require.NoError(t, <-followerErr)
	require.Equal(t, []float32{4, 2}, <-followerVec)

	cached, err := e.Embed(context.Background(), "liked posts", "A")
	require.NoError(t, err)
	require.Equal(t, []float32{4, 2}, cached)
}
