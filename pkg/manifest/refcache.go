package manifest

import (
	"slices"
	"sync"

	"hive/pkg/core"
)

// RefCache 记住每个 Manifest 传递引用到的其他 Manifest
// 结果依赖对象库的内容，对象库被外部修改 (fsck 修复、prune) 后必须 Invalidate
type RefCache struct {
	mu   sync.RWMutex
	refs map[core.ManifestKey][]core.ManifestKey
}

func NewRefCache() *RefCache {
	return &RefCache{refs: make(map[core.ManifestKey][]core.ManifestKey)}
}

func (c *RefCache) Get(key core.ManifestKey) ([]core.ManifestKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs, ok := c.refs[key]
	return slices.Clone(refs), ok
}

func (c *RefCache) Put(key core.ManifestKey, refs []core.ManifestKey) {
	c.mu.Lock()
	c.refs[key] = slices.Clone(refs)
	c.mu.Unlock()
}

// Forget 删除单个条目 (例如 Manifest 被删除)
func (c *RefCache) Forget(key core.ManifestKey) {
	c.mu.Lock()
	delete(c.refs, key)
	c.mu.Unlock()
}

func (c *RefCache) Invalidate() {
	c.mu.Lock()
	clear(c.refs)
	c.mu.Unlock()
}

func (c *RefCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.refs)
}
