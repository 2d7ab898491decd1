package prune

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hive/pkg/hivetest"
	"hive/pkg/lock"
	"hive/pkg/marker"
	"hive/pkg/operation"
	"hive/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLockOptions() lock.Options {
	return lock.Options{Content: "test", RetryInterval: time.Millisecond, MaxRetries: 1000}
}

func newEnv(f *hivetest.Fixture) *operation.Env {
	return &operation.Env{
		Objects:    f.Objects,
		Manifests:  f.Manifests,
		MarkerRoot: filepath.Join(f.Root, "markers"),
	}
}

func execute(t *testing.T, env *operation.Env, op Operation) *Result {
	t.Helper()
	op.LockOptions = testLockOptions()
	res, err := operation.Execute[*Result](context.Background(), env, op)
	require.NoError(t, err)
	return res
}

func TestPrune_RemovesUnreachable(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	kept := f.Blob("kept")
	root := f.Tree(hivetest.File("kept.txt", kept))
	f.Manifest("app", "1", root)

	orphan := f.Blob("orphan data")
	orphanTree := f.Tree(hivetest.File("x", orphan))

	res := execute(t, newEnv(f), Operation{})
	assert.Equal(t, map[types.ObjectID]int64{
		orphan:     int64(len("orphan data")),
		orphanTree: res.Removed[orphanTree],
	}, res.Removed)
	assert.Positive(t, res.Removed[orphanTree])
	assert.Equal(t, res.Removed[orphan]+res.Removed[orphanTree], res.Reclaimed())

	assert.True(t, f.Has(kept))
	assert.True(t, f.Has(root))
	assert.False(t, f.Has(orphan))
	assert.False(t, f.Has(orphanTree))

	// 第二次什么也不删
	res = execute(t, newEnv(f), Operation{})
	assert.Empty(t, res.Removed)

	ids, err := f.Objects.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestPrune_DryRun(t *testing.T) {
	f := hivetest.New(t)
	orphan := f.Blob("orphan")

	op := Operation{DryRun: true}
	assert.False(t, op.Exclusive())
	res := execute(t, newEnv(f), op)
	assert.Contains(t, res.Removed, orphan)
	assert.True(t, f.Has(orphan), "dry run 不删除")
}

func TestPrune_FollowsManifestReferences(t *testing.T) {
	f := hivetest.New(t)

	libBlob := f.Blob("lib")
	libRoot := f.Tree(hivetest.File("lib.so", libBlob))
	f.Manifest("lib", "1", libRoot)

	ref := f.Ref("lib", "1")
	appRoot := f.Tree(hivetest.RefEntry("deps", ref))
	f.Manifest("app", "1", appRoot)

	res := execute(t, newEnv(f), Operation{})
	assert.Empty(t, res.Removed)
	assert.Equal(t, 4, res.Reachable)

	// 删除 lib:1 后，它的对象只能通过 app:1 的引用找到，而引用已经悬空
	require.NoError(t, f.Manifests.Remove(context.Background(), hivetest.Key("lib", "1")))
	res = execute(t, newEnv(f), Operation{})
	assert.ElementsMatch(t, []types.ObjectID{libBlob, libRoot}, keys(res.Removed))
	assert.True(t, f.Has(ref))
	assert.True(t, f.Has(appRoot))
}

func TestPrune_HonorsMarkers(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()
	env := newEnv(f)

	inFlight := f.Blob("in flight")
	garbage := f.Blob("garbage")

	db, err := marker.Open(env.MarkerRoot, testLockOptions())
	require.NoError(t, err)
	set, err := db.NewSet(ctx)
	require.NoError(t, err)
	require.NoError(t, set.Add(inFlight))

	res := execute(t, env, Operation{})
	assert.Equal(t, 1, res.Marked)
	assert.Equal(t, []types.ObjectID{garbage}, keys(res.Removed))
	assert.True(t, f.Has(inFlight))

	// 标记释放后对象不再受保护
	require.NoError(t, set.Close(ctx))
	res = execute(t, env, Operation{})
	assert.Equal(t, []types.ObjectID{inFlight}, keys(res.Removed))
}

// 删除后剩下的每个对象都能从某个 Manifest 到达
func TestPrune_KeepsEveryReachableObject(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	shared := f.Blob("shared")
	for _, tag := range []string{"1", "2", "3"} {
		own := f.Blob("own-" + tag)
		sub := f.Tree(hivetest.File("own", own))
		root := f.Tree(hivetest.File("shared", shared), hivetest.Dir("sub", sub))
		f.Manifest("app", tag, root)
		f.Blob("garbage-" + tag)
	}
	require.NoError(t, f.Manifests.Remove(ctx, hivetest.Key("app", "2")))

	env := newEnv(f)
	res := execute(t, env, Operation{})

	reachable, err := Reachable(ctx, env)
	require.NoError(t, err)
	remaining, err := f.Objects.List(ctx)
	require.NoError(t, err)
	for _, id := range remaining {
		assert.True(t, reachable.Has(id), "剩余对象 %s 必须可达", id.Short())
	}
	for id := range res.Removed {
		assert.False(t, reachable.Has(id), "被删对象 %s 不能可达", id.Short())
	}
	// app:2 的 own、sub、root 以及三个 garbage
	assert.Len(t, res.Removed, 6)
	assert.True(t, f.Has(shared))
}

func keys(m map[types.ObjectID]int64) []types.ObjectID {
	return types.NewObjectSet(mapKeys(m)...).Sorted()
}

func mapKeys(m map[types.ObjectID]int64) []types.ObjectID {
	out := make([]types.ObjectID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
