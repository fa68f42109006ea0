package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thehao1505/backend-capstone/internal/cache"
	"github.com/thehao1505/backend-capstone/internal/metrics"
	"github.com/thehao1505/backend-capstone/internal/model"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
	"github.com/thehao1505/backend-capstone/internal/vectorstore"
)

type fakePostStore struct {
	mu       sync.Mutex
	posts    map[string]*model.Post
	likes    map[string][]string
	countErr error
}

func newFakePostStore(posts ...model.Post) *fakePostStore {
	s := &fakePostStore{posts: make(map[string]*model.Post), likes: make(map[string][]string)}
	for i := range posts {
		p := posts[i]
		s.posts[p.ID] = &p
	}
	return s
}

func (s *fakePostStore) put(p model.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = &p
}

// like records likes oldest first.
func (s *fakePostStore) like(userID string, postIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likes[userID] = append(s.likes[userID], postIDs...)
}

func (s *fakePostStore) get(id string) model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.posts[id]
}

func (s *fakePostStore) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePostStore) MarkEmbedded(ctx context.Context, postID string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return appErr.ErrNotFound
	}
	p.IsEmbedded = true
	p.LastEmbeddedAt = at
	return nil
}

func (s *fakePostStore) visibleLocked(keep func(p *model.Post) bool) []model.Post {
	out := make([]model.Post, 0)
	for _, p := range s.posts {
		if p.IsHidden || p.IsDeleted || !keep(p) {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func page(posts []model.Post, offset, limit int) []model.Post {
	if offset >= len(posts) {
		return []model.Post{}
	}
	end := min(offset+limit, len(posts))
	return posts[offset:end]
}

func (s *fakePostStore) byAuthorsLocked(authors []string) []model.Post {
	set := make(map[string]bool, len(authors))
	for _, a := range authors {
		set[a] = true
	}
	posts := s.visibleLocked(func(p *model.Post) bool { return set[p.Author] })
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].Ctime == posts[j].Ctime {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].Ctime > posts[j].Ctime
	})
	return posts
}

func (s *fakePostStore) ListByAuthors(ctx context.Context, authors []string, offset, limit int) ([]model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.byAuthorsLocked(authors), offset, limit), nil
}

func (s *fakePostStore) CountByAuthors(ctx context.Context, authors []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byAuthorsLocked(authors)), nil
}

func (s *fakePostStore) ListPopular(ctx context.Context, offset, limit int) ([]model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := s.visibleLocked(func(p *model.Post) bool { return true })
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].LikeCount == posts[j].LikeCount {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].LikeCount > posts[j].LikeCount
	})
	return page(posts, offset, limit), nil
}

func (s *fakePostStore) CountVisible(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.visibleLocked(func(p *model.Post) bool { return true })), nil
}

func (s *fakePostStore) ListByIDs(ctx context.Context, ids []string) ([]model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return s.visibleLocked(func(p *model.Post) bool { return set[p.ID] }), nil
}

func (s *fakePostStore) ListRecentLiked(ctx context.Context, userID string, limit int) ([]model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	liked := s.likes[userID]
	out := make([]model.Post, 0)
	for i := len(liked) - 1; i >= 0 && len(out) < limit; i-- {
		p, ok := s.posts[liked[i]]
		if !ok || p.IsHidden || p.IsDeleted {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakePostStore) CountLikedByUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.likes[userID]), nil
}

func (s *fakePostStore) ListUnembedded(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for id, p := range s.posts {
		if !p.IsEmbedded && !p.IsDeleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids[:min(limit, len(ids))], nil
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
	err   error
}

func newFakeUserStore(users ...model.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*model.User)}
	for i := range users {
		u := users[i]
		s.users[u.ID] = &u
	}
	return s
}

func (s *fakeUserStore) get(id string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *fakeUserStore) GetByID(ctx context.Context, userID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) MarkEmbedded(ctx context.Context, userID string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return appErr.ErrNotFound
	}
	u.IsEmbedded = true
	u.LastEmbeddedAt = at
	return nil
}

func (s *fakeUserStore) ListUnembedded(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for id, u := range s.users {
		if !u.IsEmbedded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids[:min(limit, len(ids))], nil
}

type fakeCommentStore struct {
	counts map[string]int
}

func (s *fakeCommentStore) CountByAuthor(ctx context.Context, userID string) (int, error) {
	return s.counts[userID], nil
}

// stubAI returns a fixed vector per text, a default vector otherwise.
type stubAI struct {
	mu          sync.Mutex
	vectors     map[string][]float32
	err         error
	describeErr error
	embedCalls  int
	texts       []string
}

func (a *stubAI) EmbedText(ctx context.Context, text string, taskType string) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.embedCalls++
	a.texts = append(a.texts, text)
	if a.err != nil {
		return nil, a.err
	}
	if v, ok := a.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 1, 1}, nil
}

func (a *stubAI) DescribeImage(ctx context.Context, url string) (string, error) {
	if a.describeErr != nil {
		return "", a.describeErr
	}
	return "a picture at " + url, nil
}

func (a *stubAI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.embedCalls
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []model.EmbeddingJob
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, job model.EmbeddingJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *fakePublisher) published() []model.EmbeddingJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.EmbeddingJob(nil), p.jobs...)
}

type fixture struct {
	posts    *fakePostStore
	users    *fakeUserStore
	comments *fakeCommentStore
	ai       *stubAI
	vectors  *vectorstore.MemoryStore
	cache    *cache.BadgerStore
	metrics  *metrics.Recorder
	queue    *fakePublisher
	now      time.Time
	embed    *EmbeddingService
	rec      *RecommendationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := cache.Open(cache.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		posts:    newFakePostStore(),
		users:    newFakeUserStore(),
		comments: &fakeCommentStore{counts: map[string]int{}},
		ai:       &stubAI{vectors: map[string][]float32{}},
		vectors:  vectorstore.NewMemoryStore(),
		cache:    store,
		queue:    &fakePublisher{},
		now:      time.Unix(1_700_000_000, 0),
	}
	clock := func() time.Time { return f.now }
	f.metrics = metrics.NewRecorder(store, 24*time.Hour, metrics.WithClock(clock))
	cols := Collections{Posts: "posts", Users: "users", Dimension: 3, Metric: vectorstore.MetricCosine}
	f.embed = NewEmbeddingService(f.posts, f.users, f.ai, f.vectors, f.queue, f.metrics, cols)
	f.embed.now = clock
	require.NoError(t, f.embed.EnsureCollections(ctx))
	f.rec = NewRecommendationService(f.posts, f.users, f.comments, f.ai, f.vectors, store, f.metrics,
		RecommendationConfig{PostCollection: "posts"},
		WithRandom(rand.New(rand.NewPCG(1, 2))),
		WithClock(clock),
	)
	return f
}

func (f *fixture) snapshot(t *testing.T) map[string]int64 {
	t.Helper()
	snap, err := f.metrics.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func (f *fixture) indexPost(t *testing.T, p model.Post, vec []float32) {
	t.Helper()
	require.NoError(t, f.vectors.Upsert(context.Background(), "posts", vectorstore.Record{
		ID:      p.ID,
		Vector:  vec,
		Payload: map[string]interface{}{"postId": p.ID, "author": p.Author},
	}))
}

func seqPosts(n int, author string, likes func(i int) int, ctime int64) []model.Post {
	out := make([]model.Post, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Post{
			ID:        fmt.Sprintf("%s-%02d", author, i),
			Author:    author,
			Content:   fmt.Sprintf("post %d by %s", i, author),
			LikeCount: likes(i),
			Ctime:     ctime - int64(i)*60,
		})
	}
	return out
}
