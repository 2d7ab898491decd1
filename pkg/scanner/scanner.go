// Package scanner 把一棵根 Tree (以及其中的 Manifest 引用) 解析成可遍历的 TreeView
//
// 扫描过程中遇到的丢失或损坏对象不会报错，而是变成 KindMissing / KindDamaged 节点，
// 这样一次扫描就能给出一棵部分损坏的树的完整画像。
package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"hive/pkg/core"
	"hive/pkg/manifest"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// ErrReferenceDepth Manifest 引用链超过了上限
var ErrReferenceDepth = errors.New("manifest reference depth exceeded")

const DefaultMaxReferenceDepth = 64

type Options struct {
	// MaxDepth 展开 Tree 的层数，0 表示不限
	MaxDepth int
	// SkipReferences 不跟随 Manifest 引用
	SkipReferences bool
	// MaxReferenceDepth Manifest 引用的最大嵌套层数
	MaxReferenceDepth int
}

type Scanner struct {
	objects   storage.Store
	manifests manifest.Database
	opts      Options
	refs      *manifest.RefCache
}

func New(objects storage.Store, manifests manifest.Database, opts Options) *Scanner {
	if opts.MaxReferenceDepth <= 0 {
		opts.MaxReferenceDepth = DefaultMaxReferenceDepth
	}
	return &Scanner{objects: objects, manifests: manifests, opts: opts}
}

// WithRefCache 为 ManifestRefs 挂上缓存
func (s *Scanner) WithRefCache(c *manifest.RefCache) *Scanner {
	s.refs = c
	return s
}

func (s *Scanner) startDepth() int {
	if s.opts.MaxDepth > 0 {
		return s.opts.MaxDepth
	}
	return -1
}

// ScanTree 从任意根 Tree 开始扫描
func (s *Scanner) ScanTree(ctx context.Context, root types.ObjectID) (*TreeView, error) {
	run := &scan{Scanner: s}
	el := &Element{Kind: KindTree, ID: root, Entry: core.EntryTree}
	if err := run.resolveTree(ctx, el, s.startDepth()); err != nil {
		return nil, err
	}
	return &TreeView{Root: el}, nil
}

// ScanManifest 先解析 Manifest 的根 Tree 再扫描
// Manifest 本身不存在属于调用方的错误，返回 manifest.ErrNotFound
func (s *Scanner) ScanManifest(ctx context.Context, key core.ManifestKey) (*TreeView, error) {
	m, err := s.manifests.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	run := &scan{Scanner: s, stack: []core.ManifestKey{key}}
	el := &Element{Kind: KindTree, ID: m.RootID(), Entry: core.EntryTree}
	if err := run.resolveTree(ctx, el, s.startDepth()); err != nil {
		return nil, fmt.Errorf("scan %s: %w", key, err)
	}
	if el.Broken() {
		// 根 Tree 丢失时附上 Manifest Key，否则只看得到一个孤零零的 ID
		el.Context = key.String()
	}
	return &TreeView{Root: el, Manifest: &key}, nil
}

// ManifestRefs 返回 key 传递引用到的所有 Manifest (不含自身)
func (s *Scanner) ManifestRefs(ctx context.Context, key core.ManifestKey) ([]core.ManifestKey, error) {
	if s.refs != nil {
		if refs, ok := s.refs.Get(key); ok {
			return refs, nil
		}
	}

	full := New(s.objects, s.manifests, Options{MaxReferenceDepth: s.opts.MaxReferenceDepth})
	view, err := full.ScanManifest(ctx, key)
	if err != nil {
		return nil, err
	}
	refs := slices.DeleteFunc(view.References(), func(k core.ManifestKey) bool { return k == key })

	if s.refs != nil {
		s.refs.Put(key, refs)
	}
	return refs, nil
}

// ExpandReferences 返回 keys 加上它们传递引用到的所有 Manifest，去重并排序
// 引用到但数据库里不存在的 Manifest 也会出现在结果中，由调用方决定如何处理
func (s *Scanner) ExpandReferences(ctx context.Context, keys []core.ManifestKey) ([]core.ManifestKey, error) {
	seen := make(map[core.ManifestKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		refs, err := s.ManifestRefs(ctx, k)
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			seen[r] = struct{}{}
		}
	}
	out := make([]core.ManifestKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return core.SortKeys(out), nil
}

// scan 保存单次扫描的状态：当前正在解析的 Manifest 引用栈
type scan struct {
	*Scanner
	stack []core.ManifestKey
}

// load 读取并校验对象，返回原始数据
// 丢失或 Hash 不符时返回对应的 Kind 而不是错误
func (s *scan) load(ctx context.Context, id types.ObjectID) ([]byte, Kind, error) {
	data, err := storage.ReadAll(ctx, s.objects, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, KindMissing, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if core.CalculateBlobHash(data) != id {
		return nil, KindDamaged, nil
	}
	return data, KindTree, nil
}

func (s *scan) resolveTree(ctx context.Context, el *Element, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, kind, err := s.load(ctx, el.ID)
	if err != nil {
		return err
	}
	if kind != KindTree {
		el.Kind = kind
		return nil
	}
	tree, err := core.DecodeTree(data)
	if err != nil {
		el.Kind = KindDamaged
		el.Context = err.Error()
		return nil
	}

	el.Kind = KindTree
	if depth == 0 {
		return nil
	}
	el.Expanded = true
	next := depth - 1
	if depth < 0 {
		next = -1
	}

	el.Children = make([]*Element, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		child := &Element{
			Name:  e.Name,
			Path:  childPath(el.Path, e.Name),
			ID:    e.Cid.Hash,
			Entry: e.Type,
		}
		switch e.Type {
		case core.EntryBlob:
			found, err := s.objects.Has(ctx, child.ID)
			if err != nil {
				return err
			}
			child.Kind = KindBlob
			if !found {
				child.Kind = KindMissing
			}
		case core.EntryTree:
			child.Kind = KindTree
			if err := s.resolveTree(ctx, child, next); err != nil {
				return err
			}
		case core.EntryManifest:
			if err := s.resolveRef(ctx, child, next); err != nil {
				return err
			}
		}
		el.Children = append(el.Children, child)
	}
	return nil
}

func (s *scan) resolveRef(ctx context.Context, el *Element, depth int) error {
	data, kind, err := s.load(ctx, el.ID)
	if err != nil {
		return err
	}
	if kind != KindTree {
		el.Kind = kind
		return nil
	}
	ref, err := core.DecodeManifestRef(data)
	if err != nil {
		el.Kind = KindDamaged
		el.Context = err.Error()
		return nil
	}

	key := ref.Key
	el.Kind = KindManifestRef
	el.Ref = &key

	if s.opts.SkipReferences || slices.Contains(s.stack, key) {
		// 不跟随，或者指回了正在解析的 Manifest (环)
		return nil
	}
	if len(s.stack) >= s.opts.MaxReferenceDepth {
		return fmt.Errorf("%w: %s at %s (limit %d)", ErrReferenceDepth, key, el.Path, s.opts.MaxReferenceDepth)
	}

	m, err := s.manifests.Get(ctx, key)
	if errors.Is(err, manifest.ErrNotFound) {
		el.Kind = KindMissing
		el.Context = key.String()
		return nil
	}
	if err != nil {
		return err
	}

	s.stack = append(s.stack, key)
	defer func() { s.stack = s.stack[:len(s.stack)-1] }()

	root := &Element{
		Kind:  KindTree,
		Name:  el.Name,
		Path:  el.Path,
		ID:    m.RootID(),
		Entry: core.EntryTree,
	}
	if err := s.resolveTree(ctx, root, depth); err != nil {
		return err
	}
	if root.Broken() {
		root.Context = key.String()
	}
	el.Root = root
	return nil
}
