package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hive/pkg/config"
	"hive/pkg/hive"
	"hive/pkg/lock"
	"hive/pkg/manifest"
	"hive/pkg/storage/cache"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetConfig 每个测试都从默认配置开始
func resetConfig(t *testing.T, root string) {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	viper.Set("hive.path", root)
	t.Cleanup(viper.Reset)
}

func TestInitStore_Disk(t *testing.T) {
	root := t.TempDir()
	resetConfig(t, root)
	viper.Set("storage.type", "disk")

	store, err := initStore(context.Background(), root)

	require.NoError(t, err)
	assert.IsType(t, &cache.MemoStore{}, store)
	assert.DirExists(t, filepath.Join(root, hive.ObjectsDir))
}

func TestInitStore_S3_MissingBucket(t *testing.T) {
	resetConfig(t, t.TempDir())
	viper.Set("storage.type", "s3")
	// 故意不设置 bucket

	store, err := initStore(context.Background(), ".")
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestInitStore_UnknownType(t *testing.T) {
	resetConfig(t, t.TempDir())
	viper.Set("storage.type", "ftp") // 不支持的类型

	store, err := initStore(context.Background(), ".")
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestInitManifests(t *testing.T) {
	ctx := context.Background()

	t.Run("Disk", func(t *testing.T) {
		root := t.TempDir()
		resetConfig(t, root)

		db, closer, err := initManifests(ctx, root)
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.IsType(t, &manifest.CachedDB{}, db)
	})

	t.Run("SQLite", func(t *testing.T) {
		root := t.TempDir()
		resetConfig(t, root)
		viper.Set("manifests.type", "sql")

		db, closer, err := initManifests(ctx, root)
		require.NoError(t, err)
		require.NotNil(t, closer)
		defer closer.Close()
		assert.NotNil(t, db)
		assert.FileExists(t, filepath.Join(root, "manifests.db"))
	})

	t.Run("Unknown", func(t *testing.T) {
		root := t.TempDir()
		resetConfig(t, root)
		viper.Set("manifests.type", "etcd")

		_, _, err := initManifests(ctx, root)
		assert.ErrorContains(t, err, "unsupported manifest database type")
	})
}

func TestLockOptions(t *testing.T) {
	resetConfig(t, t.TempDir())
	viper.Set("lock.grace", "3s")
	viper.Set("lock.max_retries", 5)
	viper.Set("lock.empty_in_grace", "stale")

	opts, err := lockOptions()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, opts.GracePeriod)
	assert.Equal(t, lock.DefaultRetryInterval, opts.RetryInterval)
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, lock.EmptyStale, opts.EmptyInGrace)
	assert.NotEmpty(t, opts.Content)
	assert.NotNil(t, opts.Validator)

	viper.Set("lock.empty_in_grace", "maybe")
	_, err = lockOptions()
	assert.Error(t, err)
}

func TestNewApp(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "hive")
	resetConfig(t, root)

	// 1. 没有 init 过
	_, err := NewApp(ctx)
	assert.ErrorIs(t, err, hive.ErrNotHive)

	// 2. init 之后可以打开
	a, err := InitApp(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = NewApp(ctx)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, root, a.Hive.Root())
	assert.Equal(t, 8, a.Concurrency)
	assert.Equal(t, lock.DefaultGracePeriod, a.Hive.LockOptions().GracePeriod)
}
