package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureCollection(context.Background(), "posts", 3, MetricCosine))
	return store
}

func TestMemoryStoreEnsureCollectionIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.EnsureCollection(ctx, "posts", 3, MetricCosine))

	err := store.EnsureCollection(ctx, "posts", 4, MetricCosine)
	require.ErrorIs(t, err, appErr.ErrInvalid)

	err = store.EnsureCollection(ctx, "other", 3, "dot")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestMemoryStoreUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := Record{ID: "p1", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{"postId": "p1", "content": "first"}}
	require.NoError(t, store.Upsert(ctx, "posts", rec))
	rec.Payload = map[string]interface{}{"postId": "p1", "content": "second"}
	require.NoError(t, store.Upsert(ctx, "posts", rec))

	assert.Equal(t, 1, store.Len("posts"))
	hits, err := store.Search(ctx, "posts", []float32{1, 0, 0}, SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second", hits[0].Payload["content"])
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestMemoryStoreUpsertDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(context.Background(), "posts", Record{ID: "p1", Vector: []float32{1, 0}})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	assert.Equal(t, 0, store.Len("posts"))
}

func TestMemoryStoreMissingCollection(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Search(context.Background(), "nope", []float32{1}, SearchOptions{Limit: 1})
	require.ErrorIs(t, err, appErr.ErrDependency)
}

func TestMemoryStoreSearchOrderFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	records := []Record{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{"postId": "a", "author": "u1"}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]interface{}{"postId": "b", "author": "u2"}},
		{ID: "c", Vector: []float32{0.5, 0.5, 0}, Payload: map[string]interface{}{"postId": "c", "author": "u2"}},
		{ID: "c#img-0", Vector: []float32{0, 1, 0}, Payload: map[string]interface{}{"postId": "c", "author": "u2"}},
		{ID: "d", Vector: []float32{0, 0, 1}, Payload: map[string]interface{}{"postId": "d", "author": "u3"}},
	}
	for _, rec := range records {
		require.NoError(t, store.Upsert(ctx, "posts", rec))
	}

	tests := []struct {
		name string
		opts SearchOptions
		want []string
	}{
		{
			name: "ordered by similarity",
			opts: SearchOptions{Limit: 3},
			want: []string{"a", "b", "c"},
		},
		{
			name: "offset skips best hits",
			opts: SearchOptions{Limit: 2, Offset: 1},
			want: []string{"b", "c"},
		},
		{
			name: "offset past end",
			opts: SearchOptions{Limit: 2, Offset: 10},
			want: []string{},
		},
		{
			name: "must not payload value",
			opts: SearchOptions{Limit: 10, Filter: &Filter{MustNot: []Condition{{Key: "postId", Values: []string{"a", "c"}}}}},
			want: []string{"b", "d"},
		},
		{
			name: "must author",
			opts: SearchOptions{Limit: 10, Filter: &Filter{Must: []Condition{{Key: "author", Values: []string{"u2"}}}}},
			want: []string{"b", "c", "c#img-0"},
		},
		{
			name: "must not id",
			opts: SearchOptions{Limit: 10, Filter: &Filter{MustNot: []Condition{{Key: KeyID, Values: []string{"a", "b", "c"}}}}},
			want: []string{"c#img-0", "d"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := store.Search(ctx, "posts", []float32{1, 0, 0}, tt.opts)
			require.NoError(t, err)
			ids := make([]string, 0, len(hits))
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryStoreSearchValidation(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Search(context.Background(), "posts", nil, SearchOptions{Limit: 1})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = store.Search(context.Background(), "posts", []float32{1, 0, 0}, SearchOptions{Limit: 0})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = store.Search(context.Background(), "posts", []float32{1, 0}, SearchOptions{Limit: 1})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Upsert(ctx, "posts", Record{ID: "a", Vector: []float32{1, 0, 0}}))
	require.NoError(t, store.Delete(ctx, "posts", "a"))
	require.NoError(t, store.Delete(ctx, "posts", "a"))
	assert.Equal(t, 0, store.Len("posts"))
}

func TestBuildSearchQueryPlaceholders(t *testing.T) {
	query, args := buildSearchQuery("posts", []float32{1, 0}, SearchOptions{
		Limit:  5,
		Offset: 10,
		Filter: &Filter{
			Must:    []Condition{{Key: "author", Values: []string{"u1"}}},
			MustNot: []Condition{{Key: KeyID, Values: []string{"p1"}}},
		},
	})
	assert.Contains(t, query, "(COALESCE(payload->>$3, '') = ANY($4))")
	assert.Contains(t, query, "AND NOT (id = ANY($5))")
	assert.Contains(t, query, "LIMIT $6 OFFSET $7")
	require.Len(t, args, 7)
	assert.Equal(t, 5, args[5])
	assert.Equal(t, 10, args[6])
}
