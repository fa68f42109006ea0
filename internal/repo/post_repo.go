package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/goccy/go-json"

	"github.com/thehao1505/backend-capstone/internal/model"
	"github.com/thehao1505/backend-capstone/internal/pkg/dbutil"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

var postColumns = []string{"id", "author", "content", "images", "like_count", "is_hidden", "is_deleted", "is_embedded", "last_embedded_at", "ctime", "mtime"}

// PersistHook runs after an entity insert commits.
type PersistHook func(ctx context.Context, entity interface{})

type PostRepo struct {
	db     *sql.DB
	onSave PersistHook
}

func NewPostRepo(db *sql.DB) *PostRepo {
	return &PostRepo{db: db}
}

func (r *PostRepo) SetPersistHook(hook PersistHook) {
	r.onSave = hook
}

func (r *PostRepo) Create(ctx context.Context, post *model.Post) error {
	images, err := json.Marshal(nonNilStrings(post.Images))
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":               post.ID,
		"author":           post.Author,
		"content":          post.Content,
		"images":           string(images),
		"like_count":       post.LikeCount,
		"is_hidden":        post.IsHidden,
		"is_deleted":       post.IsDeleted,
		"is_embedded":      post.IsEmbedded,
		"last_embedded_at": post.LastEmbeddedAt,
		"ctime":            post.Ctime,
		"mtime":            post.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("posts", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	if r.onSave != nil {
		r.onSave(ctx, post)
	}
	return nil
}

// GetByID returns the post regardless of its hidden or deleted state.
func (r *PostRepo) GetByID(ctx context.Context, postID string) (*model.Post, error) {
	posts, err := r.selectPosts(ctx, map[string]interface{}{"id": postID})
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &posts[0], nil
}

func (r *PostRepo) MarkEmbedded(ctx context.Context, postID string, at int64) error {
	sqlStr, args, err := builder.BuildUpdate("posts", map[string]interface{}{"id": postID}, map[string]interface{}{
		"is_embedded":      true,
		"last_embedded_at": at,
	})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// ListByAuthors pages visible posts of the given authors, newest first.
func (r *PostRepo) ListByAuthors(ctx context.Context, authors []string, offset, limit int) ([]model.Post, error) {
	if len(authors) == 0 {
		return []model.Post{}, nil
	}
	where := visibleWhere()
	where["author in"] = toInterfaces(authors)
	where["_orderby"] = "ctime desc, id asc"
	where["_limit"] = []uint{uint(offset), uint(limit)}
	return r.selectPosts(ctx, where)
}

func (r *PostRepo) CountByAuthors(ctx context.Context, authors []string) (int, error) {
	if len(authors) == 0 {
		return 0, nil
	}
	where := visibleWhere()
	where["author in"] = toInterfaces(authors)
	return r.count(ctx, where)
}

// ListPopular pages visible posts ordered by like count.
func (r *PostRepo) ListPopular(ctx context.Context, offset, limit int) ([]model.Post, error) {
	where := visibleWhere()
	where["_orderby"] = "like_count desc, ctime desc, id asc"
	where["_limit"] = []uint{uint(offset), uint(limit)}
	return r.selectPosts(ctx, where)
}

func (r *PostRepo) CountVisible(ctx context.Context) (int, error) {
	return r.count(ctx, visibleWhere())
}

// ListByIDs loads the visible posts among ids. Order is unspecified.
func (r *PostRepo) ListByIDs(ctx context.Context, ids []string) ([]model.Post, error) {
	if len(ids) == 0 {
		return []model.Post{}, nil
	}
	where := visibleWhere()
	where["id in"] = toInterfaces(ids)
	return r.selectPosts(ctx, where)
}

// ListRecentLiked returns the visible posts the user liked most recently.
func (r *PostRepo) ListRecentLiked(ctx context.Context, userID string, limit int) ([]model.Post, error) {
	query := "SELECT p." + strings.Join(postColumns, ", p.") + ` FROM post_likes l
		JOIN posts p ON p.id = l.post_id
		WHERE l.user_id = ? AND p.is_hidden = ? AND p.is_deleted = ?
		ORDER BY l.ctime DESC
		LIMIT ?`
	sqlStr, args := dbutil.Finalize(query, []interface{}{userID, false, false, limit})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPosts(rows)
}

func (r *PostRepo) CountLikedByUser(ctx context.Context, userID string) (int, error) {
	sqlStr, args, err := builder.BuildSelect("post_likes", map[string]interface{}{"user_id": userID}, []string{"COUNT(1)"})
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

func (r *PostRepo) Like(ctx context.Context, postID, userID string, at int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	sqlStr, args := dbutil.Finalize("INSERT INTO post_likes (post_id, user_id, ctime) VALUES (?, ?, ?) ON CONFLICT DO NOTHING", []interface{}{postID, userID, at})
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		sqlStr, args = dbutil.Finalize("UPDATE posts SET like_count = like_count + 1 WHERE id = ?", []interface{}{postID})
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListUnembedded returns ids of live posts that still need vectors.
func (r *PostRepo) ListUnembedded(ctx context.Context, limit int) ([]string, error) {
	where := map[string]interface{}{
		"is_embedded": false,
		"is_deleted":  false,
		"_orderby":    "ctime asc",
		"_limit":      []uint{0, uint(limit)},
	}
	return selectIDs(ctx, r.db, "posts", where)
}

func (r *PostRepo) selectPosts(ctx context.Context, where map[string]interface{}) ([]model.Post, error) {
	sqlStr, args, err := builder.BuildSelect("posts", where, postColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanPosts(rows)
}

func (r *PostRepo) count(ctx context.Context, where map[string]interface{}) (int, error) {
	sqlStr, args, err := builder.BuildSelect("posts", where, []string{"COUNT(1)"})
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

func scanPosts(rows *sql.Rows) ([]model.Post, error) {
	posts := make([]model.Post, 0)
	for rows.Next() {
		var post model.Post
		var images []byte
		if err := rows.Scan(&post.ID, &post.Author, &post.Content, &images, &post.LikeCount, &post.IsHidden,
			&post.IsDeleted, &post.IsEmbedded, &post.LastEmbeddedAt, &post.Ctime, &post.Mtime); err != nil {
			return nil, err
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &post.Images); err != nil {
				return nil, err
			}
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func visibleWhere() map[string]interface{} {
	return map[string]interface{}{
		"is_hidden":  false,
		"is_deleted": false,
	}
}

func selectIDs(ctx context.Context, db *sql.DB, table string, where map[string]interface{}) ([]string, error) {
	sqlStr, args, err := builder.BuildSelect(table, where, []string{"id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
