package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/config"
	"github.com/thehao1505/backend-capstone/internal/handler"
	"github.com/thehao1505/backend-capstone/internal/job"
	"github.com/thehao1505/backend-capstone/internal/middleware"
	"github.com/thehao1505/backend-capstone/internal/model"
	"github.com/thehao1505/backend-capstone/internal/pkg/jwt"
	"github.com/thehao1505/backend-capstone/internal/schedule"
)

const (
	embeddingRateWindow = time.Second
	embeddingRateBurst  = 5
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "feedrec",
		Short: "feed recommendation and embedding service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "serve the HTTP api, embedding worker and maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	var resyncLimit int
	var resyncPause time.Duration
	resyncCmd := &cobra.Command{
		Use:   "resync",
		Short: "embed every post and user still marked unembedded, synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runResync(cmd.Context(), cfg, resyncLimit, resyncPause)
		},
	}
	resyncCmd.Flags().IntVar(&resyncLimit, "limit", 1000, "max posts and max users to process")
	resyncCmd.Flags().DurationVar(&resyncPause, "pause", 200*time.Millisecond, "pause between entities to stay under provider rate limits")

	var importPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "load users, posts, follows and likes from a JSON dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, importPath)
		},
	}
	importCmd.Flags().StringVar(&importPath, "file", "", "path to the JSON dump")

	var tokenUser, tokenName string
	var tokenTTL time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token for a viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			token, err := jwt.GenerateToken(tokenUser, tokenName, []byte(cfg.JWTSecret), tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "viewer user id")
	tokenCmd.Flags().StringVar(&tokenName, "username", "", "viewer username")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(runCmd, resyncCmd, importCmd, tokenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func runServer(parent context.Context, cfg *config.Config) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	workerDone, err := a.startWorker(ctx)
	if err != nil {
		return err
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewEmbeddingReconcileJob(a.embedding, cfg.Reconcile.BatchSize), cfg.Reconcile.Spec); err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	if cfg.AI.DBCache {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.embeddingCache, cfg.AI.DBCacheDays), cfg.AI.CleanupSpec); err != nil {
			return fmt.Errorf("schedule embedding cache cleanup: %w", err)
		}
	}
	if !cfg.Cache.InMemory {
		if err := scheduler.AddJob(job.NewCacheGCJob(a.store), cfg.Cache.GCSpec); err != nil {
			return fmt.Errorf("schedule cache gc: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()
	// catch up on whatever was left unembedded by the previous process
	go func() {
		if err := scheduler.Trigger(ctx, "embedding_reconcile"); err != nil {
			logutil.GetLogger(ctx).Warn("initial reconcile failed", zap.Error(err))
		}
	}()

	deps := handler.RouterDeps{
		Recommendations: handler.NewRecommendationHandler(a.recommendation),
		Embeddings:      handler.NewEmbeddingHandler(a.embedding, cfg.AI.MaxInputChars),
		Metrics:         a.metrics.Handler(),
		JWTSecret:       []byte(cfg.JWTSecret),
		RateLimitWindow: embeddingRateWindow,
		RateLimitBurst:  embeddingRateBurst,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-workerDone:
		if err != nil {
			logutil.GetLogger(context.Background()).Error("embedding worker stopped", zap.Error(err))
		}
	}
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

// runResync embeds unembedded entities inline, without the queue, so one
// failing entity is reported and skipped rather than retried.
func runResync(ctx context.Context, cfg *config.Config, limit int, pause time.Duration) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := logutil.GetLogger(ctx)

	postIDs, err := a.posts.ListUnembedded(ctx, limit)
	if err != nil {
		return err
	}
	userIDs, err := a.users.ListUnembedded(ctx, limit)
	if err != nil {
		return err
	}
	jobs := make([]model.EmbeddingJob, 0, len(postIDs)+len(userIDs))
	for _, id := range postIDs {
		jobs = append(jobs, model.EmbeddingJob{Kind: model.EntityKindPost, EntityID: id, EnqueuedAt: time.Now().Unix()})
	}
	for _, id := range userIDs {
		jobs = append(jobs, model.EmbeddingJob{Kind: model.EntityKindUser, EntityID: id, EnqueuedAt: time.Now().Unix()})
	}

	synced, failed := 0, 0
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.embedding.ProcessJob(ctx, j); err != nil {
			failed++
			logger.Error("resync entity failed", zap.String("kind", string(j.Kind)), zap.String("entity_id", j.EntityID), zap.Error(err))
		} else {
			synced++
		}
		if pause > 0 && i < len(jobs)-1 {
			time.Sleep(pause)
		}
	}
	logger.Info("resync done", zap.Int("synced", synced), zap.Int("failed", failed))
	return nil
}
