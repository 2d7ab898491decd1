package manifest

import (
	"context"
	"sync"

	"hive/pkg/core"
)

// CachedDB 是一个装饰器，缓存 Manifest 的读取结果
// Manifest 不可变，所以只要经过本层的写入都能保持一致；外部修改之后必须 Invalidate
type CachedDB struct {
	backend Database

	mu    sync.RWMutex
	items map[core.ManifestKey]*core.Manifest
}

var (
	_ Database    = (*CachedDB)(nil)
	_ Invalidator = (*CachedDB)(nil)
)

func NewCachedDB(backend Database) *CachedDB {
	return &CachedDB{
		backend: backend,
		items:   make(map[core.ManifestKey]*core.Manifest),
	}
}

// Backend 返回被装饰的数据库
func (c *CachedDB) Backend() Database { return c.backend }

func (c *CachedDB) lookup(key core.ManifestKey) (*core.Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.items[key]
	return m, ok
}

func (c *CachedDB) Has(ctx context.Context, key core.ManifestKey) (bool, error) {
	if _, ok := c.lookup(key); ok {
		return true, nil
	}
	return c.backend.Has(ctx, key)
}

func (c *CachedDB) Get(ctx context.Context, key core.ManifestKey) (*core.Manifest, error) {
	if m, ok := c.lookup(key); ok {
		return m, nil
	}
	m, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.items[key] = m
	c.mu.Unlock()
	return m, nil
}

func (c *CachedDB) List(ctx context.Context, prefix string) ([]core.ManifestKey, error) {
	return c.backend.List(ctx, prefix)
}

func (c *CachedDB) ListForName(ctx context.Context, name string) ([]core.ManifestKey, error) {
	return c.backend.ListForName(ctx, name)
}

func (c *CachedDB) Add(ctx context.Context, m *core.Manifest, opts AddOptions) error {
	if err := c.backend.Add(ctx, m, opts); err != nil {
		return err
	}
	c.mu.Lock()
	c.items[m.Key] = m
	c.mu.Unlock()
	return nil
}

func (c *CachedDB) Remove(ctx context.Context, key core.ManifestKey) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return c.backend.Remove(ctx, key)
}

func (c *CachedDB) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	clear(c.items)
	c.mu.Unlock()
	return Invalidate(ctx, c.backend)
}
