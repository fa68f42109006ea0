package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

// PGStore keeps vectors in Postgres through the pgvector extension.
// Similarity is 1 minus the cosine distance operator <=>.
type PGStore struct {
	db *sql.DB

	mu   sync.RWMutex
	dims map[string]int
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, dims: make(map[string]int)}
}

func (s *PGStore) EnsureCollection(ctx context.Context, name string, dimension int, metric string) error {
	if metric != MetricCosine {
		return fmt.Errorf("unsupported metric %q: %w", metric, appErr.ErrInvalid)
	}
	if dimension <= 0 {
		return fmt.Errorf("collection %s dimension %d: %w", name, dimension, appErr.ErrInvalid)
	}
	const insert = `
		INSERT INTO vector_collections (name, dimension, metric, ctime)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, insert, name, dimension, metric, time.Now().Unix())
	if err != nil {
		return wrapErr("ensure collection", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapErr("ensure collection", err)
	}
	if affected > 0 {
		s.remember(name, dimension)
		logutil.GetLogger(ctx).Info("vector collection created", zap.String("collection", name), zap.Int("dimension", dimension))
		return nil
	}
	existing, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	if err := checkDimension(name, existing, dimension); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("vector collection already exists", zap.String("collection", name))
	return nil
}

func (s *PGStore) Upsert(ctx context.Context, collection string, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("upsert without id: %w", appErr.ErrInvalid)
	}
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}
	if err := checkDimension(collection, dim, len(rec.Vector)); err != nil {
		return err
	}
	payload := rec.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	const query = `
		INSERT INTO vector_records (collection, id, embedding, payload, mtime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			mtime = EXCLUDED.mtime
	`
	_, err = s.db.ExecContext(ctx, query, collection, rec.ID, pgvector.NewVector(rec.Vector), blob, time.Now().Unix())
	if err != nil {
		return wrapErr("upsert", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]ScoredRecord, error) {
	if err := validateSearch(vector, opts); err != nil {
		return nil, err
	}
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(collection, dim, len(vector)); err != nil {
		return nil, err
	}
	query, args := buildSearchQuery(collection, vector, opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("search", err)
	}
	defer func() { _ = rows.Close() }()
	results := make([]ScoredRecord, 0, opts.Limit)
	for rows.Next() {
		var item ScoredRecord
		var blob []byte
		if err := rows.Scan(&item.ID, &blob, &item.Score); err != nil {
			return nil, wrapErr("scan search row", err)
		}
		if len(blob) > 0 {
			if err := json.Unmarshal(blob, &item.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", item.ID, err)
			}
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("search", err)
	}
	return results, nil
}

func (s *PGStore) Delete(ctx context.Context, collection string, id string) error {
	const query = `DELETE FROM vector_records WHERE collection = $1 AND id = $2`
	if _, err := s.db.ExecContext(ctx, query, collection, id); err != nil {
		return wrapErr("delete", err)
	}
	return nil
}

func buildSearchQuery(collection string, vector []float32, opts SearchOptions) (string, []interface{}) {
	args := []interface{}{pgvector.NewVector(vector), collection}
	var sb strings.Builder
	sb.WriteString(`SELECT id, payload, 1 - (embedding <=> $1) AS score FROM vector_records WHERE collection = $2`)
	if !opts.Filter.IsEmpty() {
		for _, cond := range opts.Filter.Must {
			clause, next := conditionClause(cond, args)
			args = next
			sb.WriteString(" AND ")
			sb.WriteString(clause)
		}
		for _, cond := range opts.Filter.MustNot {
			clause, next := conditionClause(cond, args)
			args = next
			sb.WriteString(" AND NOT ")
			sb.WriteString(clause)
		}
	}
	args = append(args, opts.Limit, opts.Offset)
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1 LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return sb.String(), args
}

func conditionClause(cond Condition, args []interface{}) (string, []interface{}) {
	if cond.Key == KeyID {
		args = append(args, pq.Array(cond.Values))
		return fmt.Sprintf("(id = ANY($%d))", len(args)), args
	}
	args = append(args, cond.Key, pq.Array(cond.Values))
	return fmt.Sprintf("(COALESCE(payload->>$%d, '') = ANY($%d))", len(args)-1, len(args)), args
}

func (s *PGStore) dimension(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	dim, ok := s.dims[collection]
	s.mu.RUnlock()
	if ok {
		return dim, nil
	}
	const query = `SELECT dimension FROM vector_collections WHERE name = $1`
	if err := s.db.QueryRowContext(ctx, query, collection).Scan(&dim); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("vector collection %s missing: %w", collection, appErr.ErrDependency)
		}
		return 0, wrapErr("load collection", err)
	}
	s.remember(collection, dim)
	return dim, nil
}

func (s *PGStore) remember(collection string, dim int) {
	s.mu.Lock()
	s.dims[collection] = dim
	s.mu.Unlock()
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("vector store %s: %w", op, err)
	}
	return fmt.Errorf("vector store %s: %w: %v", op, appErr.ErrDependency, err)
}
