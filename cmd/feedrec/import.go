package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/thehao1505/backend-capstone/internal/config"
	"github.com/thehao1505/backend-capstone/internal/model"
	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

type importDump struct {
	Users   []model.User    `json:"users"`
	Posts   []model.Post    `json:"posts"`
	Follows []importFollow  `json:"follows"`
	Likes   []importLike    `json:"likes"`
	Comment []importComment `json:"comments"`
}

type importFollow struct {
	UserID      string `json:"user_id"`
	FollowingID string `json:"following_id"`
}

type importLike struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id"`
}

type importComment struct {
	ID      string `json:"id"`
	PostID  string `json:"post_id"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

func readDump(path string) (*importDump, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	var dump importDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, fmt.Errorf("decode dump: %w", err)
	}
	return &dump, nil
}

// runImport inserts a dump. Every inserted post and user goes through the
// persist hook, so the running worker embeds it; rows that already exist
// are skipped.
func runImport(ctx context.Context, cfg *config.Config, path string) error {
	if path == "" {
		return fmt.Errorf("--file is required")
	}
	dump, err := readDump(path)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.startWorker(ctx); err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx)
	now := time.Now().Unix()

	users, skipped := 0, 0
	for i := range dump.Users {
		u := &dump.Users[i]
		stamp(&u.Ctime, &u.Mtime, now)
		if err := a.users.Create(ctx, u); err != nil {
			if appErr.IsConflict(err) {
				skipped++
				continue
			}
			return fmt.Errorf("import user %s: %w", u.ID, err)
		}
		users++
	}
	posts := 0
	for i := range dump.Posts {
		p := &dump.Posts[i]
		stamp(&p.Ctime, &p.Mtime, now)
		if err := a.posts.Create(ctx, p); err != nil {
			if appErr.IsConflict(err) {
				skipped++
				continue
			}
			return fmt.Errorf("import post %s: %w", p.ID, err)
		}
		posts++
	}
	for _, f := range dump.Follows {
		if err := a.users.Follow(ctx, f.UserID, f.FollowingID, now); err != nil {
			return fmt.Errorf("import follow %s -> %s: %w", f.UserID, f.FollowingID, err)
		}
	}
	for _, l := range dump.Likes {
		if err := a.posts.Like(ctx, l.PostID, l.UserID, now); err != nil {
			return fmt.Errorf("import like %s -> %s: %w", l.UserID, l.PostID, err)
		}
	}
	for _, c := range dump.Comment {
		if err := a.comments.Create(ctx, c.ID, c.PostID, c.Author, c.Content, now); err != nil && !appErr.IsConflict(err) {
			return fmt.Errorf("import comment %s: %w", c.ID, err)
		}
	}
	logger.Info("import done",
		zap.Int("users", users),
		zap.Int("posts", posts),
		zap.Int("follows", len(dump.Follows)),
		zap.Int("likes", len(dump.Likes)),
		zap.Int("skipped", skipped),
	)
	waitDrain(ctx, a, users+posts)
	return nil
}

// waitDrain gives the in-process worker time to embed what was just
// enqueued; leftovers are picked up by the reconcile sweep of the server.
func waitDrain(ctx context.Context, a *app, expected int) {
	if expected == 0 {
		return
	}
	deadline := time.After(2 * time.Minute)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		pendingPosts, err := a.posts.ListUnembedded(ctx, 1)
		if err == nil && len(pendingPosts) == 0 {
			pendingUsers, err := a.users.ListUnembedded(ctx, 1)
			if err == nil && len(pendingUsers) == 0 {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logutil.GetLogger(ctx).Warn("import finished with entities still pending embedding")
			return
		case <-ticker.C:
		}
	}
}

func stamp(ctime, mtime *int64, now int64) {
	if *ctime == 0 {
		*ctime = now
	}
	if *mtime == 0 {
		*mtime = *ctime
	}
}
