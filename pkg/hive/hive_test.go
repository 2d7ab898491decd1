package hive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hive/pkg/core"
	"hive/pkg/fsck"
	"hive/pkg/hivetest"
	"hive/pkg/lock"
	"hive/pkg/manifest"
	"hive/pkg/operation"
	"hive/pkg/prune"
	"hive/pkg/storage"
	"hive/pkg/storage/cache"
	"hive/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{Lock: lock.Options{
		Content:       "test-owner",
		RetryInterval: time.Millisecond,
		MaxRetries:    50,
	}}
}

func newTestHive(t *testing.T) *Hive {
	t.Helper()
	h, err := Init(filepath.Join(t.TempDir(), "hive"), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// buildRoot 写入 {a.txt, sub/b.txt}，返回根 Tree
func buildRoot(t *testing.T, h *Hive, seed string) types.ObjectID {
	t.Helper()
	ctx := context.Background()
	a, err := storage.AddBytes(ctx, h.Objects(), []byte("a-"+seed))
	require.NoError(t, err)
	b, err := storage.AddBytes(ctx, h.Objects(), []byte("b-"+seed))
	require.NoError(t, err)

	sub, err := core.NewTreeBuilder().AddBlob("b.txt", b).Build()
	require.NoError(t, err)
	require.NoError(t, h.Objects().Put(ctx, sub))
	root, err := core.NewTreeBuilder().AddBlob("a.txt", a).AddTree("sub", sub.ID()).Build()
	require.NoError(t, err)
	require.NoError(t, h.Objects().Put(ctx, root))
	return root.ID()
}

func insert(t *testing.T, h *Hive, name, tag string, root types.ObjectID) {
	t.Helper()
	m := hivetest.BuildManifest(t, name, tag, root)
	_, err := Execute[core.ManifestKey](context.Background(), h, InsertManifest{Manifest: m})
	require.NoError(t, err)
}

func TestOpen_NotHive(t *testing.T) {
	_, err := Open(t.TempDir(), testOptions())
	assert.ErrorIs(t, err, ErrNotHive)
}

func TestOpen_Defaults(t *testing.T) {
	h := newTestHive(t)
	_, ok := h.Objects().(*cache.MemoStore)
	assert.True(t, ok, "默认对象库带进程内缓存")
	_, ok = h.Manifests().(*manifest.CachedDB)
	assert.True(t, ok)

	// 重新打开同一个目录
	h2, err := Open(h.Root(), testOptions())
	require.NoError(t, err)
	assert.Equal(t, h.MarkerRoot(), h2.MarkerRoot())

	// 零值锁参数回落到进程身份
	h3, err := Open(h.Root(), Options{})
	require.NoError(t, err)
	_, _, ok = lock.ParseOwner(h3.LockOptions().Content)
	assert.True(t, ok)
}

func TestManifestOperations(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()
	root := buildRoot(t, h, "1")

	for _, tag := range []string{"1", "2", "3"} {
		insert(t, h, "apps/web", tag, root)
	}
	insert(t, h, "apps/db", "1", root)

	// 插入一次后不可变
	_, err := Execute[core.ManifestKey](ctx, h, InsertManifest{
		Manifest: hivetest.BuildManifest(t, "apps/db", "1", buildRoot(t, h, "other")),
	})
	assert.ErrorIs(t, err, manifest.ErrExists)
	m, err := h.Manifests().Get(ctx, hivetest.Key("apps/db", "1"))
	require.NoError(t, err)
	assert.Equal(t, root, m.RootID())

	keys, err := Execute[[]core.ManifestKey](ctx, h, ListManifests{Prefix: "apps"})
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	removed, err := Execute[[]core.ManifestKey](ctx, h, KeepLast{Name: "apps/web", Keep: 1})
	require.NoError(t, err)
	assert.Equal(t, []core.ManifestKey{hivetest.Key("apps/web", "1"), hivetest.Key("apps/web", "2")}, removed)

	removed, err = Execute[[]core.ManifestKey](ctx, h, DeleteManifests{Keys: []core.ManifestKey{hivetest.Key("apps/db", "1")}})
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	keys, err = Execute[[]core.ManifestKey](ctx, h, ListManifests{})
	require.NoError(t, err)
	assert.Equal(t, []core.ManifestKey{hivetest.Key("apps/web", "3")}, keys)

	_, err = Execute[[]core.ManifestKey](ctx, h, DeleteManifests{})
	assert.ErrorIs(t, err, operation.ErrPrecondition)
}

func TestKeepLast_AllNames(t *testing.T) {
	h := newTestHive(t)
	root := buildRoot(t, h, "x")
	for _, name := range []string{"a", "b"} {
		for _, tag := range []string{"1", "2", "3"} {
			insert(t, h, name, tag, root)
		}
	}

	removed, err := Execute[[]core.ManifestKey](context.Background(), h, KeepLast{Keep: 2})
	require.NoError(t, err)
	assert.Equal(t, []core.ManifestKey{hivetest.Key("a", "1"), hivetest.Key("b", "1")}, removed)
}

func TestInsertManifest_RequiresCompleteTree(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()
	missing := core.CalculateBlobHash([]byte("never stored"))
	tree, err := core.NewTreeBuilder().AddBlob("gone", missing).Build()
	require.NoError(t, err)
	require.NoError(t, h.Objects().Put(ctx, tree))

	m := hivetest.BuildManifest(t, "broken", "1", tree.ID())
	_, err = Execute[core.ManifestKey](ctx, h, InsertManifest{Manifest: m})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")

	_, err = Execute[core.ManifestKey](ctx, h, InsertManifest{Manifest: m, AllowPartial: true})
	require.NoError(t, err)
}

func TestExecute_ExclusiveTakesHiveLock(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	// 别的进程持有 hive 锁，且没有 Validator 可以判断它失效
	other, err := lock.Acquire(ctx, h.Root(), lock.Options{Content: "someone else"})
	require.NoError(t, err)

	_, err = Execute[*prune.Result](ctx, h, prune.Operation{LockOptions: h.LockOptions()})
	assert.ErrorIs(t, err, lock.ErrTimeout)

	// 非独占操作同样等待独占操作结束
	_, err = Execute[[]core.ManifestKey](ctx, h, ListManifests{})
	assert.ErrorIs(t, err, lock.ErrTimeout)

	require.NoError(t, other.Release())
	_, err = Execute[*prune.Result](ctx, h, prune.Operation{LockOptions: h.LockOptions()})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(h.Root(), lock.FileName), "执行完成后释放锁")
}

func TestExecute_InvalidatesAroundMutatingOps(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()
	root := buildRoot(t, h, "1")
	insert(t, h, "app", "1", root)

	memo := h.Objects().(*cache.MemoStore)
	ok, err := memo.Has(ctx, root)
	require.NoError(t, err)
	require.True(t, ok)
	require.Positive(t, memo.Len())

	res, err := Execute[*fsck.Result](ctx, h, fsck.Operation{})
	require.NoError(t, err)
	assert.True(t, res.Clean())
	assert.Zero(t, memo.Len(), "fsck 之后缓存被清空")
}

func TestExecute_PruneKeepsManifestObjects(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()
	root := buildRoot(t, h, "kept")
	insert(t, h, "app", "1", root)
	garbage := buildRoot(t, h, "garbage")

	res, err := Execute[*prune.Result](ctx, h, prune.Operation{LockOptions: h.LockOptions()})
	require.NoError(t, err)
	assert.Len(t, res.Removed, 4)
	assert.Contains(t, res.Removed, garbage)

	ok, err := h.Objects().Has(ctx, garbage)
	require.NoError(t, err)
	assert.False(t, ok, "缓存不能再报告已删除的对象")
	ok, err = h.Objects().Has(ctx, root)
	require.NoError(t, err)
	assert.True(t, ok)
}
