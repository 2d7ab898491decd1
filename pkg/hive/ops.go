package hive

import (
	"context"
	"fmt"

	"hive/pkg/core"
	"hive/pkg/manifest"
	"hive/pkg/operation"
	"hive/pkg/scanner"
)

// 修改 Manifest 之后，缓存的传递引用结果可能已经过期
func forgetRefs(env *operation.Env) {
	if env.Refs != nil {
		env.Refs.Invalidate()
	}
}

// InsertManifest 插入一个 Manifest
// 默认要求根 Tree 完整可扫描，避免出现指向不完整对象集合的 Manifest
type InsertManifest struct {
	Manifest  *core.Manifest
	Overwrite bool
	Audit     bool
	// AllowPartial 跳过完整性检查
	AllowPartial bool
}

func (o InsertManifest) Validate() error {
	return operation.Require(o.Manifest != nil, "manifest is required")
}

func (o InsertManifest) Run(ctx context.Context, env *operation.Env) (core.ManifestKey, error) {
	key := o.Manifest.Key
	if !o.AllowPartial {
		view, err := env.Scanner(scanner.Options{SkipReferences: true}).ScanTree(ctx, o.Manifest.RootID())
		if err != nil {
			return key, err
		}
		if broken := view.Broken(); len(broken) > 0 {
			return key, fmt.Errorf("manifest %s is incomplete: %s %s at /%s",
				key, broken[0].Kind, broken[0].ID.Short(), broken[0].Path)
		}
	}

	err := env.Manifests.Add(ctx, o.Manifest, manifest.AddOptions{Overwrite: o.Overwrite, Audit: o.Audit})
	if err != nil {
		return key, err
	}
	forgetRefs(env)
	return key, nil
}

// DeleteManifests 删除 Manifest 记录，不删除对象
type DeleteManifests struct {
	Keys []core.ManifestKey
}

func (o DeleteManifests) Validate() error {
	return operation.Require(len(o.Keys) > 0, "no manifests to delete")
}

func (o DeleteManifests) Run(ctx context.Context, env *operation.Env) ([]core.ManifestKey, error) {
	defer forgetRefs(env)
	removed := make([]core.ManifestKey, 0, len(o.Keys))
	for _, key := range o.Keys {
		if err := env.Manifests.Remove(ctx, key); err != nil {
			return removed, err
		}
		removed = append(removed, key)
	}
	return removed, nil
}

// ListManifests 按层级前缀列出 Manifest
type ListManifests struct {
	Prefix string
}

func (o ListManifests) Validate() error { return nil }

func (o ListManifests) Run(ctx context.Context, env *operation.Env) ([]core.ManifestKey, error) {
	return env.Manifests.List(ctx, o.Prefix)
}

// KeepLast 每个名字只保留最新的 Keep 个数字版本
// Name 为空时作用于所有名字
type KeepLast struct {
	Name string
	Keep int
}

func (o KeepLast) Validate() error {
	return operation.Require(o.Keep >= 0, "keep count must not be negative, got %d", o.Keep)
}

func (o KeepLast) Run(ctx context.Context, env *operation.Env) ([]core.ManifestKey, error) {
	defer forgetRefs(env)

	names := []string{o.Name}
	if o.Name == "" {
		keys, err := env.Manifests.List(ctx, "")
		if err != nil {
			return nil, err
		}
		names = names[:0]
		for _, k := range keys {
			if len(names) == 0 || names[len(names)-1] != k.Name {
				names = append(names, k.Name)
			}
		}
	}

	var removed []core.ManifestKey
	for _, name := range names {
		keys, err := manifest.KeepLast(ctx, env.Manifests, name, o.Keep)
		removed = append(removed, keys...)
		if err != nil {
			return core.SortKeys(removed), err
		}
	}
	return core.SortKeys(removed), nil
}
