package vectorstore

import (
	"context"
	"fmt"
	"math"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

const MetricCosine = "cosine"

// KeyID addresses the record id itself in a filter condition instead of a
// payload field.
const KeyID = "id"

type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

type ScoredRecord struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// Condition matches when the payload value under Key equals any of Values.
type Condition struct {
	Key    string
	Values []string
}

type Filter struct {
	Must    []Condition
	MustNot []Condition
}

type SearchOptions struct {
	Limit  int
	Offset int
	Filter *Filter
}

// Gateway is the vector index used by the embedding pipeline and the
// recommendation orchestrator. Implementations do not cache or retry.
type Gateway interface {
	EnsureCollection(ctx context.Context, name string, dimension int, metric string) error
	Upsert(ctx context.Context, collection string, rec Record) error
	Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]ScoredRecord, error)
	Delete(ctx context.Context, collection string, id string) error
}

func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0)
}

func (f *Filter) match(id string, payload map[string]interface{}) bool {
	if f == nil {
		return true
	}
	for _, cond := range f.Must {
		if !cond.match(id, payload) {
			return false
		}
	}
	for _, cond := range f.MustNot {
		if cond.match(id, payload) {
			return false
		}
	}
	return true
}

func (c Condition) match(id string, payload map[string]interface{}) bool {
	var value string
	if c.Key == KeyID {
		value = id
	} else {
		raw, ok := payload[c.Key]
		if !ok || raw == nil {
			return false
		}
		value = fmt.Sprint(raw)
	}
	for _, v := range c.Values {
		if v == value {
			return true
		}
	}
	return false
}

func validateSearch(vector []float32, opts SearchOptions) error {
	if len(vector) == 0 {
		return fmt.Errorf("search with empty vector: %w", appErr.ErrInvalid)
	}
	if opts.Limit <= 0 || opts.Offset < 0 {
		return fmt.Errorf("search limit %d offset %d: %w", opts.Limit, opts.Offset, appErr.ErrInvalid)
	}
	return nil
}

func checkDimension(collection string, want, got int) error {
	if want != got {
		return fmt.Errorf("collection %s expects dimension %d, got %d: %w", collection, want, got, appErr.ErrInvalid)
	}
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
