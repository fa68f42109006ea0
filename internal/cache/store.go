package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

// Store is a key/value store with per-key TTL. Operations on different
// keys are independent; there is no multi-key atomicity.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr adds delta to an integer counter and refreshes its TTL.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Scan(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

const maxIncrRetries = 64

type Options struct {
	Dir      string
	InMemory bool
}

type BadgerStore struct {
	db *badger.DB
}

func Open(opts Options) (*BadgerStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("cache dir is required")
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithLogger(newZapLogger())
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr("get", key, err)
	}
	return value, true, nil
}

func (s *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return wrapErr("set", key, err)
	}
	return nil
}

func (s *BadgerStore) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var next int64
	for attempt := 0; attempt < maxIncrRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			current := int64(0)
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				raw, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				current, err = strconv.ParseInt(string(raw), 10, 64)
				if err != nil {
					return fmt.Errorf("counter %s holds non integer value: %w", key, appErr.ErrInvalid)
				}
			}
			next = current + delta
			return txn.SetEntry(newEntry(key, []byte(strconv.FormatInt(next, 10)), ttl))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			if appErr.IsInvalid(err) {
				return 0, err
			}
			return 0, wrapErr("incr", key, err)
		}
		return next, nil
	}
	logutil.GetLogger(ctx).Warn("counter increment kept conflicting", zap.String("key", key))
	return 0, wrapErr("incr", key, badger.ErrConflict)
}

func (s *BadgerStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("scan", prefix, err)
	}
	return keys, nil
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return wrapErr("delete", key, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC reclaims value log space. Called periodically for on-disk stores.
func (s *BadgerStore) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	entry := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return entry
}

func wrapErr(op, key string, err error) error {
	return fmt.Errorf("cache %s %s: %w: %v", op, key, appErr.ErrDependency, err)
}
