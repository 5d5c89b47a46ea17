package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betterme/betterme/internal/cache"
	"github.com/betterme/betterme/internal/config"
	"github.com/betterme/betterme/internal/ranking"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Supabase: config.SupabaseConfig{URL: "http://127.0.0.1:1", AnonKey: "anon"},
		Cache: config.CacheConfig{
			Backend: "memory",
			Path:    filepath.Join(dir, "cache.db"),
			Prefix:  "test_",
			TTL:     config.TTLConfig{Posts: time.Minute},
		},
		Ranking: config.RankingConfig{
			PageSize: 20,
			Weights: config.WeightsConfig{
				Reaction: 1, Comment: 2, RecencyHours: 3, Connection: 4,
				Analysis: 5, BeforeAfter: 6, Content: 7,
			},
		},
		Session: config.SessionConfig{CredentialsFile: filepath.Join(dir, "credentials.json")},
		Storage: config.StorageConfig{Region: "us-east-1", Bucket: "photos", AccessKey: "k", SecretKey: "s"},
		Log:     config.LogConfig{Level: "error", File: filepath.Join(dir, "betterme.log")},
		Server:  config.ServerConfig{Addr: "127.0.0.1:0"},
	}
}

func TestNewAndStart(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), Options{Version: "test"})
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	defer func() { assert.NoError(t, a.Close()) }()

	assert.Nil(t, a.Session.User(), "no stored credentials means signed out")
	assert.Equal(t, ranking.Weights{
		Reaction: 1, Comment: 2, RecencyHours: 3, Connection: 4,
		Analysis: 5, BeforeAfter: 6, Content: 7,
	}, a.Feed.Weights())

	svc, err := a.RequireAnalysis()
	require.NoError(t, err)
	assert.NotNil(t, svc)
	assert.NotNil(t, a.Server().Handler())
}

func TestMissingBucketDisablesAnalysis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Bucket = ""

	a, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.RequireAnalysis()
	assert.Error(t, err)
}

func TestRealtimeDisabled(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Realtime())

	cfg.Realtime.Enabled = true
	cfg.Realtime.URL = config.RealtimeURL(cfg.Supabase.URL)
	assert.NotNil(t, a.Realtime())
}

func TestNewCacheStorage(t *testing.T) {
	cfg := testConfig(t)

	s, err := newCacheStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryStorage{}, s)

	cfg.Cache.Backend = "sqlite"
	s, err = newCacheStorage(cfg)
	require.NoError(t, err)
	sqlite, ok := s.(*cache.SQLiteStorage)
	require.True(t, ok)
	assert.NoError(t, sqlite.Close())

	cfg.Cache.Backend = "redis"
	s, err = newCacheStorage(cfg)
	require.NoError(t, err)
	redis, ok := s.(*cache.RedisStorage)
	require.True(t, ok)
	_ = redis.Close()

	cfg.Cache.Backend = "etcd"
	_, err = newCacheStorage(cfg)
	assert.Error(t, err)
}

func TestSignOutWhileSignedOut(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), Options{})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer a.Close()

	assert.NoError(t, a.SignOut(ctx))
}
