package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"users": [{"id": "u1", "username": "ann"}],
		"posts": [{"id": "p1", "author": "u1", "content": "hello", "images": ["http://img/1.png"]}],
		"follows": [{"user_id": "u1", "following_id": "u2"}],
		"likes": [{"user_id": "u2", "post_id": "p1"}],
		"comments": [{"id": "c1", "post_id": "p1", "author": "u2", "content": "nice"}]
	}`), 0o600))

	dump, err := readDump(path)
	require.NoError(t, err)
	require.Len(t, dump.Users, 1)
	assert.Equal(t, "ann", dump.Users[0].Username)
	require.Len(t, dump.Posts, 1)
	assert.Equal(t, []string{"http://img/1.png"}, dump.Posts[0].Images)
	assert.Equal(t, "u2", dump.Follows[0].FollowingID)
	assert.Equal(t, "p1", dump.Likes[0].PostID)
	assert.Equal(t, "nice", dump.Comment[0].Content)

	_, err = readDump(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestStamp(t *testing.T) {
	var ctime, mtime int64
	stamp(&ctime, &mtime, 100)
	assert.EqualValues(t, 100, ctime)
	assert.EqualValues(t, 100, mtime)

	ctime, mtime = 50, 0
	stamp(&ctime, &mtime, 100)
	assert.EqualValues(t, 50, ctime)
	assert.EqualValues(t, 50, mtime)
}
