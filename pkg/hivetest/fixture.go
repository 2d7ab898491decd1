// Package hivetest 提供测试用的对象库 + Manifest 数据库夹具
//
// 所有辅助函数失败时直接 t.Fatal，测试准备阶段的失败没有恢复的意义。
package hivetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hive/pkg/core"
	"hive/pkg/manifest"
	"hive/pkg/storage"
	"hive/pkg/storage/disk"
	"hive/pkg/types"

	"github.com/stretchr/testify/require"
)

// Fixture 一个基于临时目录的对象库和 Manifest 数据库
type Fixture struct {
	t         testing.TB
	Root      string
	Objects   *disk.Adapter
	Manifests *manifest.DiskDB
}

func New(t testing.TB) *Fixture {
	t.Helper()
	root := t.TempDir()
	objects, err := disk.NewAdapter(filepath.Join(root, "objects"))
	require.NoError(t, err)
	manifests, err := manifest.NewDiskDB(filepath.Join(root, "manifests"))
	require.NoError(t, err)
	return &Fixture{t: t, Root: root, Objects: objects, Manifests: manifests}
}

// Blob 写入一个 Blob
func (f *Fixture) Blob(data string) types.ObjectID {
	f.t.Helper()
	id, err := storage.AddBytes(context.Background(), f.Objects, []byte(data))
	require.NoError(f.t, err)
	return id
}

// Tree 写入一个 Tree
func (f *Fixture) Tree(entries ...core.TreeEntry) types.ObjectID {
	f.t.Helper()
	tree, err := core.NewTree(entries)
	require.NoError(f.t, err)
	require.NoError(f.t, f.Objects.Put(context.Background(), tree))
	return tree.ID()
}

// RawTree 跳过 NewTree 的校验直接写入一个 Tree，模拟来自别处的不可信对象
func (f *Fixture) RawTree(entries ...core.TreeEntry) types.ObjectID {
	f.t.Helper()
	_, data, err := core.CalculateHash(&core.Tree{TypeVal: core.TypeTree, Entries: entries})
	require.NoError(f.t, err)
	id, err := storage.AddBytes(context.Background(), f.Objects, data)
	require.NoError(f.t, err)
	return id
}

// Ref 写入一个指向 name:tag 的引用对象
func (f *Fixture) Ref(name, tag string) types.ObjectID {
	f.t.Helper()
	ref, err := core.NewManifestRef(core.NewManifestKey(name, tag))
	require.NoError(f.t, err)
	require.NoError(f.t, f.Objects.Put(context.Background(), ref))
	return ref.ID()
}

// Manifest 构建并插入一个 Manifest，labels 按 k, v, k, v 传入
func (f *Fixture) Manifest(name, tag string, root types.ObjectID, labels ...string) *core.Manifest {
	f.t.Helper()
	m := BuildManifest(f.t, name, tag, root, labels...)
	require.NoError(f.t, f.Manifests.Add(context.Background(), m, manifest.AddOptions{}))
	return m
}

// Corrupt 直接篡改对象文件的内容
func (f *Fixture) Corrupt(id types.ObjectID) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(f.Objects.Path(id), []byte("corrupted!"), 0644))
}

// Remove 直接删除对象文件
func (f *Fixture) Remove(id types.ObjectID) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(f.Objects.Path(id)))
}

// Has 对象是否存在
func (f *Fixture) Has(id types.ObjectID) bool {
	f.t.Helper()
	ok, err := f.Objects.Has(context.Background(), id)
	require.NoError(f.t, err)
	return ok
}

// BuildManifest 只构建不插入
func BuildManifest(t testing.TB, name, tag string, root types.ObjectID, labels ...string) *core.Manifest {
	t.Helper()
	b := core.NewManifestBuilder(core.NewManifestKey(name, tag)).SetRoot(root)
	for i := 0; i+1 < len(labels); i += 2 {
		b.AddLabel(labels[i], labels[i+1])
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

// 构造 TreeEntry 的简写

func File(name string, id types.ObjectID) core.TreeEntry {
	return core.TreeEntry{Name: name, Type: core.EntryBlob, Cid: core.NewLink(id)}
}

func Dir(name string, id types.ObjectID) core.TreeEntry {
	return core.TreeEntry{Name: name, Type: core.EntryTree, Cid: core.NewLink(id)}
}

func RefEntry(name string, id types.ObjectID) core.TreeEntry {
	return core.TreeEntry{Name: name, Type: core.EntryManifest, Cid: core.NewLink(id)}
}

func Key(name, tag string) core.ManifestKey { return core.NewManifestKey(name, tag) }
