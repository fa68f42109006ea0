package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"jwt_secret": "secret",
		"database": {"host": "127.0.0.1"},
		"ai": {"provider": "gemini"},
		"cache": {"in_memory": true}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "postgres", cfg.Vector.Backend)
	require.Equal(t, "posts", cfg.Vector.PostCollection)
	require.Equal(t, "users", cfg.Vector.UserCollection)
	require.Equal(t, "cosine", cfg.Vector.Metric)
	require.Equal(t, "gemini", cfg.AI.EmbedProvider)
	require.Equal(t, 1800, cfg.Cache.PageTTLSeconds)
	require.Equal(t, 86400, cfg.Cache.MetricTTLSeconds)
	require.Equal(t, "gochannel", cfg.Queue.Type)
	require.Equal(t, 3, cfg.Queue.MaxAttempts)
	require.Equal(t, 1000, cfg.Queue.InitialIntervalMs)
	require.Equal(t, "*/10 * * * *", cfg.Reconcile.Spec)
	require.Equal(t, "*/30 * * * *", cfg.Cache.GCSpec)
	require.Equal(t, "0 3 * * *", cfg.AI.CleanupSpec)
	require.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing port", body: `{"jwt_secret": "s", "database": {"host": "h"}, "ai": {"provider": "gemini"}, "cache": {"in_memory": true}}`},
		{name: "missing database", body: `{"port": 1, "jwt_secret": "s", "ai": {"provider": "gemini"}, "cache": {"in_memory": true}}`},
		{name: "missing provider", body: `{"port": 1, "jwt_secret": "s", "database": {"host": "h"}, "cache": {"in_memory": true}}`},
		{name: "missing cache dir", body: `{"port": 1, "jwt_secret": "s", "database": {"host": "h"}, "ai": {"provider": "gemini"}}`},
		{name: "nats without url", body: `{"port": 1, "jwt_secret": "s", "database": {"host": "h"}, "ai": {"provider": "gemini"}, "cache": {"in_memory": true}, "queue": {"type": "nats"}}`},
		{name: "fallback without model", body: `{"port": 1, "jwt_secret": "s", "database": {"host": "h"}, "ai": {"provider": "gemini", "fallback_embed_provider": "openai"}, "cache": {"in_memory": true}}`},
		{name: "unknown vector backend", body: `{"port": 1, "jwt_secret": "s", "database": {"host": "h"}, "ai": {"provider": "gemini"}, "cache": {"in_memory": true}, "vector": {"backend": "qdrant"}}`},
		{name: "unknown metric", body: `{"port": 1, "jwt_secret": "s", "database": {"host": "h"}, "ai": {"provider": "gemini"}, "cache": {"in_memory": true}, "vector": {"metric": "dot"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
