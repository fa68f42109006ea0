package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/thehao1505/backend-capstone/internal/pkg/dbutil"
)

type CommentRepo struct {
	db *sql.DB
}

func NewCommentRepo(db *sql.DB) *CommentRepo {
	return &CommentRepo{db: db}
}

func (r *CommentRepo) Create(ctx context.Context, id, postID, author, content string, at int64) error {
	data := map[string]interface{}{
		"id":      id,
		"post_id": postID,
		"author":  author,
		"content": content,
		"ctime":   at,
	}
	sqlStr, args, err := builder.BuildInsert("comments", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return dbutil.MapError(err)
	}
	return nil
}

func (r *CommentRepo) CountByAuthor(ctx context.Context, userID string) (int, error) {
	sqlStr, args, err := builder.BuildSelect("comments", map[string]interface{}{"author": userID}, []string{"COUNT(1)"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var total int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
