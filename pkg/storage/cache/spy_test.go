package cache

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// -----------------------------------------------------------------------------
// SpyStore (间谍存储)
// 用于统计底层方法被调用的次数，验证请求是否穿透了缓存
// -----------------------------------------------------------------------------
type SpyStore struct {
	hasCount  int32
	putCount  int32
	sizeCount int32

	mu      sync.Mutex
	objects map[types.ObjectID][]byte
}

func NewSpyStore() *SpyStore {
	return &SpyStore{
		objects: make(map[types.ObjectID][]byte),
	}
}

func (s *SpyStore) Has(ctx context.Context, id types.ObjectID) (bool, error) {
	atomic.AddInt32(&s.hasCount, 1) // 记录调用次数
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok, nil
}

func (s *SpyStore) Put(ctx context.Context, obj core.Object) error {
	atomic.AddInt32(&s.putCount, 1) // 记录调用次数
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID()] = obj.Bytes()
	return nil
}

func (s *SpyStore) Get(ctx context.Context, id types.ObjectID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *SpyStore) Size(ctx context.Context, id types.ObjectID) (int64, error) {
	atomic.AddInt32(&s.sizeCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return int64(len(data)), nil
}

func (s *SpyStore) Delete(ctx context.Context, id types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	return nil
}

func (s *SpyStore) List(ctx context.Context) ([]types.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]types.ObjectID, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *SpyStore) ExpandHash(ctx context.Context, short types.HashPrefix) (types.ObjectID, error) {
	return "", storage.ErrNotFound
}

// -----------------------------------------------------------------------------
// Mock Object
// -----------------------------------------------------------------------------
type mockObject struct {
	id types.ObjectID
}

func (m mockObject) ID() types.ObjectID    { return m.id }
func (m mockObject) Bytes() []byte         { return []byte("fake data") }
func (m mockObject) Type() core.ObjectType { return core.TypeBlob }
