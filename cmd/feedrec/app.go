package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/ai"
	"github.com/thehao1505/backend-capstone/internal/cache"
	"github.com/thehao1505/backend-capstone/internal/config"
	"github.com/thehao1505/backend-capstone/internal/db"
	"github.com/thehao1505/backend-capstone/internal/embedcache"
	"github.com/thehao1505/backend-capstone/internal/metrics"
	"github.com/thehao1505/backend-capstone/internal/queue"
	"github.com/thehao1505/backend-capstone/internal/repo"
	"github.com/thehao1505/backend-capstone/internal/service"
	"github.com/thehao1505/backend-capstone/internal/vectorstore"
)

// app holds every long lived dependency shared by the commands.
type app struct {
	cfg            *config.Config
	db             *sql.DB
	store          *cache.BadgerStore
	queue          *queue.Queue
	posts          *repo.PostRepo
	users          *repo.UserRepo
	comments       *repo.CommentRepo
	embeddingCache *repo.EmbeddingCacheRepo
	ai             *ai.Manager
	metrics        *metrics.Recorder
	embedding      *service.EmbeddingService
	recommendation *service.RecommendationService
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(ctx)
	a := &app{cfg: cfg}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.db = conn
	if err := db.ApplyMigrations(conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a.posts = repo.NewPostRepo(conn)
	a.users = repo.NewUserRepo(conn)
	a.comments = repo.NewCommentRepo(conn)
	a.embeddingCache = repo.NewEmbeddingCacheRepo(conn)

	store, err := cache.Open(cache.Options{Dir: cfg.Cache.Dir, InMemory: cfg.Cache.InMemory})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	a.store = store
	a.metrics = metrics.NewRecorder(store, time.Duration(cfg.Cache.MetricTTLSeconds)*time.Second)

	manager, err := buildAIManager(cfg.AI, cfg.Vector.Dimension, a.embeddingCache, embedcache.NewStats(a.metrics.Registry()))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ai = manager
	logger.Info("embedding model ready", zap.String("model", manager.EmbeddingModelName()))

	q, err := queue.New(queue.Config{
		Type:            cfg.Queue.Type,
		NatsURL:         cfg.Queue.NatsURL,
		Topic:           cfg.Queue.Topic,
		PoisonTopic:     cfg.Queue.PoisonTopic,
		MaxAttempts:     cfg.Queue.MaxAttempts,
		InitialInterval: time.Duration(cfg.Queue.InitialIntervalMs) * time.Millisecond,
	}, queue.NewLoggerAdapter(logger))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init queue: %w", err)
	}
	a.queue = q

	var vectors vectorstore.Gateway = vectorstore.NewPGStore(conn)
	if cfg.Vector.Backend == "memory" {
		logger.Warn("vector backend is in memory, vectors are lost on restart")
		vectors = vectorstore.NewMemoryStore()
	}
	a.embedding = service.NewEmbeddingService(a.posts, a.users, manager, vectors, q, a.metrics, service.Collections{
		Posts:     cfg.Vector.PostCollection,
		Users:     cfg.Vector.UserCollection,
		Dimension: cfg.Vector.Dimension,
		Metric:    cfg.Vector.Metric,
	})
	a.posts.SetPersistHook(a.embedding.OnEntityPersisted)
	a.users.SetPersistHook(a.embedding.OnEntityPersisted)
	if err := a.embedding.EnsureCollections(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.recommendation = service.NewRecommendationService(a.posts, a.users, a.comments, manager, vectors, store, a.metrics,
		service.RecommendationConfig{
			PostCollection: cfg.Vector.PostCollection,
			PageTTL:        time.Duration(cfg.Cache.PageTTLSeconds) * time.Second,
		})
	return a, nil
}

func buildAIManager(cfg config.AIConfig, dimension int, cacheRepo *repo.EmbeddingCacheRepo, stats *embedcache.Stats) (*ai.Manager, error) {
	providerArgs := cfg.Data
	if providerArgs == nil {
		providerArgs = cfg
	}
	embedProvider, err := ai.NewEmbedProvider(cfg.EmbedProvider, providerArgs)
	if err != nil {
		return nil, fmt.Errorf("init embed provider: %w", err)
	}
	vision, err := ai.NewVisionProvider(cfg.Provider, providerArgs)
	if err != nil {
		return nil, fmt.Errorf("init vision provider: %w", err)
	}
	entries := []ai.EmbedderEntry{{
		Name:     cfg.EmbedProvider,
		Embedder: ai.NewEmbedder(embedProvider, cfg.EmbedModel),
	}}
	if cfg.FallbackEmbedProvider != "" {
		fallbackArgs := cfg.FallbackData
		if fallbackArgs == nil {
			fallbackArgs = providerArgs
		}
		fallback, err := ai.NewEmbedProvider(cfg.FallbackEmbedProvider, fallbackArgs)
		if err != nil {
			return nil, fmt.Errorf("init fallback embed provider: %w", err)
		}
		entries = append(entries, ai.EmbedderEntry{
			Name:     cfg.FallbackEmbedProvider,
			Embedder: ai.NewEmbedder(fallback, cfg.FallbackEmbedModel),
		})
	}
	embedder := ai.NewGroupEmbedder(dimension, entries)
	if cfg.DBCache {
		embedder = embedcache.WrapDB(embedder, cacheRepo, stats)
	}
	if cfg.LRUSize > 0 {
		embedder = embedcache.WrapLRU(embedder, cfg.LRUSize, time.Duration(cfg.LRUTTLSeconds)*time.Second, stats)
	}
	return ai.NewManager(embedder, vision, ai.ManagerConfig{
		VisionModel:   cfg.VisionModel,
		Timeout:       cfg.Timeout,
		MaxInputChars: cfg.MaxInputChars,
	}), nil
}

// startWorker runs the embedding consumer and waits until it subscribed, so
// jobs published afterwards are not dropped by the in-process queue.
func (a *app) startWorker(ctx context.Context) (<-chan error, error) {
	done := make(chan error, 1)
	go func() {
		done <- a.queue.Run(ctx, a.embedding, a.embedding.OnJobExhausted)
	}()
	select {
	case <-a.queue.Running():
		return done, nil
	case err := <-done:
		return nil, fmt.Errorf("embedding worker stopped: %w", err)
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("embedding worker did not start in time")
	}
}

func (a *app) Close() {
	logger := logutil.GetLogger(context.Background())
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			logger.Error("close queue failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("close cache store failed", zap.Error(err))
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
