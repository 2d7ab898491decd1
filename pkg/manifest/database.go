package manifest

import (
	"context"
	"errors"
	"slices"
	"strings"

	"hive/pkg/core"
)

var (
	ErrNotFound = errors.New("manifest not found")
	ErrExists   = errors.New("manifest already exists")
)

// AddOptions 控制插入行为
type AddOptions struct {
	// Overwrite 允许覆盖已存在的 Key，默认插入一次后不可变
	Overwrite bool
	// Audit 插入成功后记录一条审计日志
	Audit bool
}

// Database 维护 (name, tag) -> Manifest 的映射
// 只管记录本身，删除 Manifest 不会删除它引用的对象 (那是 prune 的工作)
type Database interface {
	Has(ctx context.Context, key core.ManifestKey) (bool, error)

	// Get 不存在时返回 ErrNotFound
	Get(ctx context.Context, key core.ManifestKey) (*core.Manifest, error)

	// List 返回 name 等于 prefix 或位于 prefix/ 之下的所有 Key，按 (name, tag) 排序
	// prefix 为空时返回全部
	List(ctx context.Context, prefix string) ([]core.ManifestKey, error)

	// ListForName 只返回 name 完全相同的 Key，按 tag 字典序排序
	ListForName(ctx context.Context, name string) ([]core.ManifestKey, error)

	// Add 插入一个 Manifest，Key 已存在且没有 Overwrite 时返回 ErrExists
	Add(ctx context.Context, m *core.Manifest, opts AddOptions) error

	// Remove 删除记录，不存在时返回 ErrNotFound
	Remove(ctx context.Context, key core.ManifestKey) error
}

// Invalidator 带缓存的实现需要在外部修改之后清空缓存
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Invalidate 如果 db 带缓存则清空
func Invalidate(ctx context.Context, db Database) error {
	if inv, ok := db.(Invalidator); ok {
		return inv.Invalidate(ctx)
	}
	return nil
}

// MatchPrefix 按 '/' 分段匹配名字前缀
// "apps" 匹配 "apps" 和 "apps/web"，但不匹配 "apps2"
func MatchPrefix(name, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return name == prefix || strings.HasPrefix(name, prefix+"/")
}

// FilterKeys 过滤并排序，供各实现复用
func FilterKeys(keys []core.ManifestKey, prefix string) []core.ManifestKey {
	out := slices.DeleteFunc(slices.Clone(keys), func(k core.ManifestKey) bool {
		return !MatchPrefix(k.Name, prefix)
	})
	return core.SortKeys(out)
}

// GetAll 批量读取，任何一个不存在都会失败
func GetAll(ctx context.Context, db Database, keys []core.ManifestKey) ([]*core.Manifest, error) {
	out := make([]*core.Manifest, 0, len(keys))
	for _, k := range keys {
		m, err := db.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
