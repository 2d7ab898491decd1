package cache

import (
	"context"
	"io"
	"sync"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// MemoStore 在进程内记住对象的存在性和大小
// 只缓存正结果：对象随时可能被别人写入，但不会被悄悄删掉 (除非 prune/fsck，它们会调用 Invalidate)
type MemoStore struct {
	backend storage.Store

	mu    sync.RWMutex
	sizes map[types.ObjectID]int64 // -1 表示存在但大小未知
}

var (
	_ storage.Store        = (*MemoStore)(nil)
	_ storage.StreamPutter = (*MemoStore)(nil)
	_ storage.Invalidator  = (*MemoStore)(nil)
)

func NewMemoStore(backend storage.Store) *MemoStore {
	return &MemoStore{
		backend: backend,
		sizes:   make(map[types.ObjectID]int64),
	}
}

// Backend 返回被装饰的底层存储
func (s *MemoStore) Backend() storage.Store { return s.backend }

func (s *MemoStore) remember(id types.ObjectID, size int64) {
	s.mu.Lock()
	if old, ok := s.sizes[id]; !ok || old < 0 {
		s.sizes[id] = size
	}
	s.mu.Unlock()
}

func (s *MemoStore) lookup(id types.ObjectID) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size, ok := s.sizes[id]
	return size, ok
}

func (s *MemoStore) Put(ctx context.Context, obj core.Object) error {
	if _, ok := s.lookup(obj.ID()); ok {
		return nil
	}
	if err := s.backend.Put(ctx, obj); err != nil {
		return err
	}
	s.remember(obj.ID(), int64(len(obj.Bytes())))
	return nil
}

func (s *MemoStore) PutStream(ctx context.Context, r io.Reader) (types.ObjectID, int64, error) {
	id, n, err := storage.AddStream(ctx, s.backend, r)
	if err != nil {
		return "", 0, err
	}
	s.remember(id, n)
	return id, n, nil
}

func (s *MemoStore) Get(ctx context.Context, id types.ObjectID) (io.ReadCloser, error) {
	return s.backend.Get(ctx, id)
}

func (s *MemoStore) Has(ctx context.Context, id types.ObjectID) (bool, error) {
	if _, ok := s.lookup(id); ok {
		return true, nil
	}
	found, err := s.backend.Has(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		s.remember(id, -1)
	}
	return found, nil
}

func (s *MemoStore) Size(ctx context.Context, id types.ObjectID) (int64, error) {
	if size, ok := s.lookup(id); ok && size >= 0 {
		return size, nil
	}
	size, err := s.backend.Size(ctx, id)
	if err != nil {
		return 0, err
	}
	s.remember(id, size)
	return size, nil
}

func (s *MemoStore) Delete(ctx context.Context, id types.ObjectID) error {
	s.mu.Lock()
	delete(s.sizes, id)
	s.mu.Unlock()
	return s.backend.Delete(ctx, id)
}

func (s *MemoStore) List(ctx context.Context) ([]types.ObjectID, error) {
	return s.backend.List(ctx)
}

func (s *MemoStore) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.ObjectID, error) {
	return s.backend.ExpandHash(ctx, prefix)
}

// Invalidate 清空本层缓存，并向下传递
func (s *MemoStore) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	clear(s.sizes)
	s.mu.Unlock()
	return storage.Invalidate(ctx, s.backend)
}

// Len 当前缓存的条目数
func (s *MemoStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sizes)
}
