package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

type memCollection struct {
	dimension int
	records   map[string]Record
}

// MemoryStore keeps every collection in process memory and scores by brute
// force. Used for tests and single node development setups.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dimension int, metric string) error {
	if metric != MetricCosine {
		return fmt.Errorf("unsupported metric %q: %w", metric, appErr.ErrInvalid)
	}
	if dimension <= 0 {
		return fmt.Errorf("collection %s dimension %d: %w", name, dimension, appErr.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		if err := checkDimension(name, col.dimension, dimension); err != nil {
			return err
		}
		logutil.GetLogger(ctx).Info("vector collection already exists", zap.String("collection", name))
		return nil
	}
	s.collections[name] = &memCollection{dimension: dimension, records: make(map[string]Record)}
	logutil.GetLogger(ctx).Info("vector collection created", zap.String("collection", name), zap.Int("dimension", dimension))
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, collection string, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("upsert without id: %w", appErr.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.collectionLocked(collection)
	if err != nil {
		return err
	}
	if err := checkDimension(collection, col.dimension, len(rec.Vector)); err != nil {
		return err
	}
	payload := make(map[string]interface{}, len(rec.Payload))
	for k, v := range rec.Payload {
		payload[k] = v
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	col.records[rec.ID] = Record{ID: rec.ID, Vector: vec, Payload: payload}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]ScoredRecord, error) {
	if err := validateSearch(vector, opts); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(collection, col.dimension, len(vector)); err != nil {
		return nil, err
	}
	scored := make([]ScoredRecord, 0, len(col.records))
	for _, rec := range col.records {
		if !opts.Filter.match(rec.ID, rec.Payload) {
			continue
		}
		scored = append(scored, ScoredRecord{
			ID:      rec.ID,
			Score:   cosineSimilarity(vector, rec.Vector),
			Payload: rec.Payload,
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].ID < scored[j].ID
		}
		return scored[i].Score > scored[j].Score
	})
	if opts.Offset >= len(scored) {
		return []ScoredRecord{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(scored) {
		end = len(scored)
	}
	return scored[opts.Offset:end], nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.collectionLocked(collection)
	if err != nil {
		return err
	}
	delete(col.records, id)
	return nil
}

// Len reports how many records a collection holds.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[collection]
	if !ok {
		return 0
	}
	return len(col.records)
}

func (s *MemoryStore) collectionLocked(name string) (*memCollection, error) {
	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("vector collection %s missing: %w", name, appErr.ErrDependency)
	}
	return col, nil
}
