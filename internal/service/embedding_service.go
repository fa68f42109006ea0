package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/ai"
	"github.com/thehao1505/backend-capstone/internal/metrics"
	"github.com/thehao1505/backend-capstone/internal/model"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
	"github.com/thehao1505/backend-capstone/internal/queue"
	"github.com/thehao1505/backend-capstone/internal/vectorstore"
)

type Collections struct {
	Posts     string
	Users     string
	Dimension int
	Metric    string
}

// ImageVectorID names the vector of the n-th image of a post. Every vector
// of a post carries postId in its payload so hits resolve to the post.
func ImageVectorID(postID string, n int) string {
	return fmt.Sprintf("%s#img-%d", postID, n)
}

// EmbeddingService keeps the vector index in sync with posts and users.
// Jobs are delivered at least once, so every step is an idempotent upsert.
type EmbeddingService struct {
	posts   PostStore
	users   UserStore
	ai      EmbeddingCapability
	vectors vectorstore.Gateway
	queue   JobPublisher
	metrics *metrics.Recorder
	cols    Collections
	now     func() time.Time
}

func NewEmbeddingService(posts PostStore, users UserStore, capability EmbeddingCapability, vectors vectorstore.Gateway,
	publisher JobPublisher, recorder *metrics.Recorder, cols Collections) *EmbeddingService {
	return &EmbeddingService{
		posts:   posts,
		users:   users,
		ai:      capability,
		vectors: vectors,
		queue:   publisher,
		metrics: recorder,
		cols:    cols,
		now:     time.Now,
	}
}

// EnsureCollections creates the post and user collections if missing.
func (s *EmbeddingService) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{s.cols.Posts, s.cols.Users} {
		if err := s.vectors.EnsureCollection(ctx, name, s.cols.Dimension, s.cols.Metric); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
	}
	return nil
}

func (s *EmbeddingService) EnqueuePostForEmbedding(ctx context.Context, postID string) error {
	return s.enqueue(ctx, model.EntityKindPost, postID)
}

func (s *EmbeddingService) EnqueueUserForEmbedding(ctx context.Context, userID string) error {
	return s.enqueue(ctx, model.EntityKindUser, userID)
}

func (s *EmbeddingService) enqueue(ctx context.Context, kind model.EntityKind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("enqueue %s without id: %w", kind, appErr.ErrInvalid)
	}
	job := model.EmbeddingJob{Kind: kind, EntityID: id, EnqueuedAt: s.now().Unix()}
	if err := s.queue.Publish(ctx, job); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("enqueued for embedding", zap.String("kind", string(kind)), zap.String("entity_id", id))
	return nil
}

// OnEntityPersisted is the post-commit hook of the entity store. Posts with
// content or images and users are enqueued; everything else is ignored.
// Enqueue failures are logged only, the reconciliation sweep catches them.
func (s *EmbeddingService) OnEntityPersisted(ctx context.Context, entity interface{}) {
	var err error
	switch v := entity.(type) {
	case *model.Post:
		if v == nil || !v.Embeddable() || v.IsDeleted {
			return
		}
		err = s.EnqueuePostForEmbedding(ctx, v.ID)
	case *model.User:
		if v == nil {
			return
		}
		err = s.EnqueueUserForEmbedding(ctx, v.ID)
	default:
		return
	}
	if err != nil {
		logutil.GetLogger(ctx).Error("enqueue after persist failed", zap.Error(err))
	}
}

// ProcessJob embeds one entity. A missing entity fails permanently; any
// other error is returned for the queue to retry.
func (s *EmbeddingService) ProcessJob(ctx context.Context, job model.EmbeddingJob) error {
	var err error
	switch job.Kind {
	case model.EntityKindPost:
		err = s.processPost(ctx, job.EntityID)
	case model.EntityKindUser:
		err = s.processUser(ctx, job.EntityID)
	default:
		err = queue.Permanent(fmt.Errorf("job kind %q: %w", job.Kind, appErr.ErrInvalid))
	}
	switch {
	case err == nil:
		s.metrics.Incr(ctx, metrics.EmbeddingCompleted, 1)
	case appErr.IsNotFound(err) || queue.IsPermanent(err):
		s.metrics.Incr(ctx, metrics.EmbeddingFailed, 1)
		if !queue.IsPermanent(err) {
			err = queue.Permanent(err)
		}
	}
	return err
}

// OnJobExhausted records a job that failed every attempt. The entity keeps
// its unembedded flag so the next sweep re-enqueues it.
func (s *EmbeddingService) OnJobExhausted(ctx context.Context, job model.EmbeddingJob, reason string) {
	s.metrics.Incr(ctx, metrics.EmbeddingExhausted, 1)
	logutil.GetLogger(ctx).Warn("embedding job exhausted",
		zap.String("kind", string(job.Kind)),
		zap.String("entity_id", job.EntityID),
		zap.String("reason", reason),
	)
}

func (s *EmbeddingService) processPost(ctx context.Context, postID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("post_id", postID))
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("load post %s: %w", postID, err)
	}
	if post.IsDeleted {
		return fmt.Errorf("post %s deleted: %w", postID, appErr.ErrNotFound)
	}
	base := map[string]interface{}{
		"postId":    post.ID,
		"author":    post.Author,
		"createdAt": post.Ctime,
	}
	if text := ai.PlainText(post.Content); text != "" {
		vec, err := s.ai.EmbedText(ctx, text, ai.TaskRetrievalDocument)
		if err != nil {
			logger.Error("embed post content failed", zap.Error(err))
			return err
		}
		payload := clonePayload(base)
		payload["content"] = post.Content
		payload["renderedText"] = text
		if err := s.vectors.Upsert(ctx, s.cols.Posts, vectorstore.Record{ID: post.ID, Vector: vec, Payload: payload}); err != nil {
			logger.Error("upsert post vector failed", zap.Error(err))
			return err
		}
	}
	for i, url := range post.Images {
		if strings.TrimSpace(url) == "" {
			continue
		}
		desc, err := s.ai.DescribeImage(ctx, url)
		if err != nil {
			logger.Error("describe image failed", zap.String("image", url), zap.Error(err))
			return err
		}
		vec, err := s.ai.EmbedText(ctx, desc, ai.TaskRetrievalDocument)
		if err != nil {
			logger.Error("embed image description failed", zap.String("image", url), zap.Error(err))
			return err
		}
		payload := clonePayload(base)
		payload["imageUrl"] = url
		payload["imageIndex"] = i
		payload["description"] = desc
		if err := s.vectors.Upsert(ctx, s.cols.Posts, vectorstore.Record{ID: ImageVectorID(post.ID, i), Vector: vec, Payload: payload}); err != nil {
			logger.Error("upsert image vector failed", zap.Error(err))
			return err
		}
	}
	if err := s.posts.MarkEmbedded(ctx, post.ID, s.now().Unix()); err != nil {
		return fmt.Errorf("mark post %s embedded: %w", postID, err)
	}
	logger.Info("post embedded", zap.Int("images", len(post.Images)))
	return nil
}

func (s *EmbeddingService) processUser(ctx context.Context, userID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID))
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	if text := user.ProfileText(); user.Embeddable() && text != "" {
		vec, err := s.ai.EmbedText(ctx, text, ai.TaskRetrievalDocument)
		if err != nil {
			logger.Error("embed user profile failed", zap.Error(err))
			return err
		}
		payload := map[string]interface{}{
			"userId":  user.ID,
			"content": text,
		}
		if err := s.vectors.Upsert(ctx, s.cols.Users, vectorstore.Record{ID: user.ID, Vector: vec, Payload: payload}); err != nil {
			logger.Error("upsert user vector failed", zap.Error(err))
			return err
		}
	}
	if err := s.users.MarkEmbedded(ctx, user.ID, s.now().Unix()); err != nil {
		return fmt.Errorf("mark user %s embedded: %w", userID, err)
	}
	logger.Info("user embedded")
	return nil
}

// ReconcileUnembedded enqueues up to limit posts and up to limit users that
// are still unembedded. It returns how many jobs were published.
func (s *EmbeddingService) ReconcileUnembedded(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("reconcile limit %d: %w", limit, appErr.ErrInvalid)
	}
	postIDs, err := s.posts.ListUnembedded(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unembedded posts: %w", err)
	}
	userIDs, err := s.users.ListUnembedded(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unembedded users: %w", err)
	}
	enqueued := 0
	for _, id := range postIDs {
		if err := s.EnqueuePostForEmbedding(ctx, id); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	for _, id := range userIDs {
		if err := s.EnqueueUserForEmbedding(ctx, id); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		logutil.GetLogger(ctx).Info("reconciled unembedded entities", zap.Int("posts", len(postIDs)), zap.Int("users", len(userIDs)))
	}
	return enqueued, nil
}

// EmbedText exposes the document embedding of arbitrary text.
func (s *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return s.ai.EmbedText(ctx, text, ai.TaskRetrievalDocument)
}

func (s *EmbeddingService) DescribeImage(ctx context.Context, url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("image url is required: %w", appErr.ErrInvalid)
	}
	return s.ai.DescribeImage(ctx, url)
}

func clonePayload(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src)+4)
	for k, v := range src {
		out[k] = v
	}
	return out
}
