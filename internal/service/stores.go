package service

import (
	"context"

	"github.com/thehao1505/backend-capstone/internal/model"
)

// PostStore is the read side of posts plus the embedded flag update.
// List methods only return posts that are neither hidden nor deleted.
type PostStore interface {
	GetByID(ctx context.Context, postID string) (*model.Post, error)
	MarkEmbedded(ctx context.Context, postID string, at int64) error
	ListByAuthors(ctx context.Context, authors []string, offset, limit int) ([]model.Post, error)
	CountByAuthors(ctx context.Context, authors []string) (int, error)
	ListPopular(ctx context.Context, offset, limit int) ([]model.Post, error)
	CountVisible(ctx context.Context) (int, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.Post, error)
	ListRecentLiked(ctx context.Context, userID string, limit int) ([]model.Post, error)
	CountLikedByUser(ctx context.Context, userID string) (int, error)
	ListUnembedded(ctx context.Context, limit int) ([]string, error)
}

type UserStore interface {
	GetByID(ctx context.Context, userID string) (*model.User, error)
	MarkEmbedded(ctx context.Context, userID string, at int64) error
	ListUnembedded(ctx context.Context, limit int) ([]string, error)
}

type CommentStore interface {
	CountByAuthor(ctx context.Context, userID string) (int, error)
}

// EmbeddingCapability turns text into vectors and images into text.
type EmbeddingCapability interface {
	EmbedText(ctx context.Context, text string, taskType string) ([]float32, error)
	DescribeImage(ctx context.Context, url string) (string, error)
}

type JobPublisher interface {
	Publish(ctx context.Context, job model.EmbeddingJob) error
}
