// Package storagetest 是所有 storage.Store 实现共用的行为测试
package storagetest

import (
	"bytes"
	"context"
	"slices"
	"testing"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run 在一个空的 Store 上跑完整的行为检查
// Store 必须是空的，List 的断言依赖这一点
func Run(t *testing.T, s storage.Store) {
	ctx := context.Background()

	hello := core.NewBlob([]byte("hello world"))
	empty := core.NewBlob(nil)
	absent := core.NewBlob([]byte("never stored")).ID()

	t.Run("PutIsIdempotent", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, hello))
		require.NoError(t, s.Put(ctx, hello))
		require.NoError(t, s.Put(ctx, empty))
	})

	t.Run("HasAndSize", func(t *testing.T) {
		ok, err := s.Has(ctx, hello.ID())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Has(ctx, absent)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.Size(ctx, hello.ID())
		require.NoError(t, err)
		assert.Equal(t, int64(11), n)

		n, err = s.Size(ctx, empty.ID())
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = s.Size(ctx, absent)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Get", func(t *testing.T) {
		data, err := storage.ReadAll(ctx, s, hello.ID())
		require.NoError(t, err)
		assert.Equal(t, []byte("hello world"), data)

		_, err = s.Get(ctx, absent)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.NoError(t, storage.Verify(ctx, s, hello.ID()))
		assert.NoError(t, storage.Verify(ctx, s, empty.ID()))
	})

	t.Run("AddStream", func(t *testing.T) {
		data := bytes.Repeat([]byte("0123456789"), 10000)
		id, n, err := storage.AddStream(ctx, s, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, core.CalculateBlobHash(data), id)
		assert.Equal(t, int64(len(data)), n)
		require.NoError(t, storage.Verify(ctx, s, id))
	})

	t.Run("ListIsSorted", func(t *testing.T) {
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 3)
		assert.True(t, slices.IsSorted(ids))
		assert.Contains(t, ids, hello.ID())
		assert.Contains(t, ids, empty.ID())
	})

	t.Run("ExpandHash", func(t *testing.T) {
		id := hello.ID()
		got, err := s.ExpandHash(ctx, types.HashPrefix(id[:10]))
		require.NoError(t, err)
		assert.Equal(t, id, got)

		_, err = s.ExpandHash(ctx, types.HashPrefix(id[:3]))
		assert.Error(t, err, "prefix shorter than the minimum")

		_, err = s.ExpandHash(ctx, types.HashPrefix(absent[:12]))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, hello.ID()))
		// 删除不存在的对象不是错误
		require.NoError(t, s.Delete(ctx, hello.ID()))
		require.NoError(t, s.Delete(ctx, absent))

		ok, err := s.Has(ctx, hello.ID())
		require.NoError(t, err)
		assert.False(t, ok)

		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, hello.ID())
	})
}
