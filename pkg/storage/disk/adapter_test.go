package disk

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/storage/storagetest"
	"hive/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 模拟一个简单的 Object 实现，用于测试
// ID 可以随意指定，方便构造特定前缀
type mockObject struct {
	id   types.ObjectID
	data []byte
}

func (m mockObject) ID() types.ObjectID    { return m.id }
func (m mockObject) Bytes() []byte         { return m.data }
func (m mockObject) Type() core.ObjectType { return core.TypeBlob }

func TestDiskAdapter(t *testing.T) {
	// 1. 创建临时测试目录
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()

	obj := core.NewBlob([]byte("hello world"))
	id := obj.ID()

	// 2. 测试 Put
	require.NoError(t, store.Put(ctx, obj))

	// 验证文件是否真的存在于 Sharding 目录中
	expectedPath := filepath.Join(tmpDir, string(id[:2]), string(id[2:]))
	_, err = os.Stat(expectedPath)
	assert.NoError(t, err, "文件应该存在于 Sharding 目录中")
	assert.Equal(t, expectedPath, store.Path(id))

	// 3. 测试 Has
	exists, err := store.Has(ctx, id)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Has(ctx, "ffffffff") // 不存在的
	assert.NoError(t, err)
	assert.False(t, exists)

	// 4. 测试 Get
	reader, err := store.Get(ctx, id)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	reader.Close()
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello world"), content)

	_, err = store.Get(ctx, core.NewBlob([]byte("nope")).ID())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 5. 测试 Size
	size, err := store.Size(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	// 6. 测试 Delete (重复删除不是错误)
	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Delete(ctx, id))
	exists, _ = store.Has(ctx, id)
	assert.False(t, exists)
	_, err = store.Size(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDiskAdapter_Dedup(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	id1, err := storage.AddBytes(ctx, store, []byte("same bytes"))
	require.NoError(t, err)
	before, err := os.Stat(store.Path(id1))
	require.NoError(t, err)

	id2, err := storage.AddBytes(ctx, store, []byte("same bytes"))
	require.NoError(t, err)
	after, err := os.Stat(store.Path(id2))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	// Rename 会产生新的 inode，同一个文件说明第二次没有发生物理写入
	assert.True(t, os.SameFile(before, after), "第二次写入相同内容不应该产生物理写入")

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ObjectID{id1}, ids)
}

func TestDiskAdapter_PutStream(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := bytes.Repeat([]byte("stream-"), 1000)
	id, n, err := storage.AddStream(ctx, store, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, core.NewBlob(data).ID(), id)

	// 再写一次：ID 一致，临时文件不会残留
	id2, _, err := store.PutStream(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	leftovers, err := filepath.Glob(filepath.Join(store.Root(), tempPattern))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "临时文件应该被清理")

	require.NoError(t, storage.Verify(ctx, store, id))
}

func TestDiskAdapter_ListSorted(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var want []types.ObjectID
	for _, s := range []string{"c", "a", "b", "d"} {
		id, err := storage.AddBytes(ctx, store, []byte(s))
		require.NoError(t, err)
		want = append(want, id)
	}
	// 根目录下的杂项文件不应该被当成对象
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "README"), []byte("x"), 0644))

	got, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
	assert.IsNonDecreasing(t, got)
}

func TestDiskAdapter_Verify_Corrupt(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := storage.AddBytes(ctx, store, []byte("pristine"))
	require.NoError(t, err)

	// 模拟外部篡改
	require.NoError(t, os.WriteFile(store.Path(id), []byte("tampered"), 0644))

	err = storage.Verify(ctx, store, id)
	assert.ErrorIs(t, err, storage.ErrCorrupt)
}

func TestDiskAdapter_ExpandHash(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	// 准备数据: 构造两个 Hash 前缀相似的对象
	objA := mockObject{id: "1111aaaa00000000000000000000000000000000000000000000000000000000", data: []byte("A")}
	objB := mockObject{id: "1111bbbb00000000000000000000000000000000000000000000000000000000", data: []byte("B")}
	objC := mockObject{id: "2222cccc00000000000000000000000000000000000000000000000000000000", data: []byte("C")}

	require.NoError(t, store.Put(ctx, objA))
	require.NoError(t, store.Put(ctx, objB))
	require.NoError(t, store.Put(ctx, objC))

	tests := []struct {
		name      string
		input     string
		wantHash  types.ObjectID
		wantErr   bool
		errString string // 可选，用于匹配部分错误信息
	}{
		{"Exact match", string(objC.id), objC.id, false, ""},
		{"Unique prefix (4 chars)", "2222", objC.id, false, ""},
		{"Unique prefix (long)", "2222cccc", objC.id, false, ""},
		{"Upper case", "2222CCCC", objC.id, false, ""},
		{"Ambiguous prefix", "1111", "", true, "ambiguous"}, // 1111 同时匹配 A 和 B
		{"Not found", "ffff", "", true, "not found"},
		{"Too short", "123", "", true, "too short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ExpandHash(ctx, types.HashPrefix(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errString != "" {
					assert.Contains(t, err.Error(), tt.errString)
				}
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantHash, got)
			}
		})
	}
}

func TestDiskAdapter_Conformance(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	storagetest.Run(t, store)
}

func TestDiskAdapter_SyncsShardDirectory(t *testing.T) {
	var synced []string
	orig := syncDir
	syncDir = func(dir string) error {
		synced = append(synced, dir)
		return orig(dir)
	}
	t.Cleanup(func() { syncDir = orig })

	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := storage.AddBytes(ctx, store, []byte("durable"))
	require.NoError(t, err)
	streamed, _, err := store.PutStream(ctx, bytes.NewReader([]byte("durable stream")))
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Dir(store.Path(id)),
		filepath.Dir(store.Path(streamed)),
	}, synced)

	// 已经存在的对象不再写入，也就不需要再同步
	_, err = storage.AddBytes(ctx, store, []byte("durable"))
	require.NoError(t, err)
	assert.Len(t, synced, 2)
}
