package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/thehao1505/backend-capstone/internal/model"
	"github.com/thehao1505/backend-capstone/internal/pkg/dbutil"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

var userColumns = []string{"id", "username", "first_name", "last_name", "short_description", "is_embedded", "last_embedded_at", "ctime", "mtime"}

type UserRepo struct {
	db     *sql.DB
	onSave PersistHook
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) SetPersistHook(hook PersistHook) {
	r.onSave = hook
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	data := map[string]interface{}{
		"id":                user.ID,
		"username":          user.Username,
		"first_name":        user.FirstName,
		"last_name":         user.LastName,
		"short_description": user.ShortDescription,
		"is_embedded":       user.IsEmbedded,
		"last_embedded_at":  user.LastEmbeddedAt,
		"ctime":             user.Ctime,
		"mtime":             user.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("users", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	if r.onSave != nil {
		r.onSave(ctx, user)
	}
	return nil
}

// GetByID loads a live user together with the ids it follows.
func (r *UserRepo) GetByID(ctx context.Context, userID string) (*model.User, error) {
	where := map[string]interface{}{"id": userID, "is_deleted": false}
	sqlStr, args, err := builder.BuildSelect("users", where, userColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	var user model.User
	if err := rows.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.ShortDescription,
		&user.IsEmbedded, &user.LastEmbeddedAt, &user.Ctime, &user.Mtime); err != nil {
		return nil, err
	}
	_ = rows.Close()
	followings, err := r.ListFollowings(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Followings = followings
	return &user, nil
}

func (r *UserRepo) ListFollowings(ctx context.Context, userID string) ([]string, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"_orderby": "ctime asc",
	}
	sqlStr, args, err := builder.BuildSelect("user_followings", where, []string{"following_id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
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

func (r *UserRepo) Follow(ctx context.Context, userID, followingID string, at int64) error {
	sqlStr, args := dbutil.Finalize("INSERT INTO user_followings (user_id, following_id, ctime) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		[]interface{}{userID, followingID, at})
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *UserRepo) MarkEmbedded(ctx context.Context, userID string, at int64) error {
	sqlStr, args, err := builder.BuildUpdate("users", map[string]interface{}{"id": userID}, map[string]interface{}{
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

func (r *UserRepo) ListUnembedded(ctx context.Context, limit int) ([]string, error) {
	where := map[string]interface{}{
		"is_embedded": false,
		"is_deleted":  false,
		"_orderby":    "ctime asc",
		"_limit":      []uint{0, uint(limit)},
	}
	return selectIDs(ctx, r.db, "users", where)
}
