// Package treebuilder 把 "路径 -> 对象" 的平铺映射转换成嵌套的 Tree 并写入对象库
package treebuilder

import (
	"context"
	"fmt"
	"strings"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// Builder 在内存中累积路径，Build 时自底向上写入 Tree
type Builder struct {
	store storage.Store
	root  *node
}

func NewBuilder(store storage.Store) *Builder {
	return &Builder{store: store, root: newDirNode()}
}

// -----------------------------------------------------------------------------
// 内部辅助结构：内存树节点
// -----------------------------------------------------------------------------

// node 一个目录
// 子目录和叶子分开存放，同名的 Tree 和 Blob 可以共存
type node struct {
	dirs   map[string]*node
	leaves map[string]core.TreeEntry
}

func newDirNode() *node {
	return &node{
		dirs:   make(map[string]*node),
		leaves: make(map[string]core.TreeEntry),
	}
}

// dir 沿路径逐级创建目录节点
func (b *Builder) dir(parts []string) (*node, error) {
	current := b.root
	for _, part := range parts {
		if err := core.ValidateEntryName(part); err != nil {
			return nil, err
		}
		next, ok := current.dirs[part]
		if !ok {
			next = newDirNode()
			current.dirs[part] = next
		}
		current = next
	}
	return current, nil
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Add 在 path 处放一个叶子 (Blob 或 Manifest 引用)
// 例如 path="a/b/c.txt" -> 递归创建 a, b, 然后在 b 下放 c.txt
func (b *Builder) Add(path string, typ core.EntryType, id types.ObjectID) error {
	if typ == core.EntryTree {
		return fmt.Errorf("%w: use AddTree for tree entries at %q", core.ErrInvalidTree, path)
	}
	parts := split(path)
	if len(parts) == 0 {
		return fmt.Errorf("%w: empty path", core.ErrInvalidTree)
	}
	parent, err := b.dir(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]
	if err := core.ValidateEntryName(name); err != nil {
		return err
	}
	parent.leaves[name] = core.TreeEntry{Name: name, Type: typ, Cid: core.NewLink(id)}
	return nil
}

// AddBlob 简写
func (b *Builder) AddBlob(path string, id types.ObjectID) error {
	return b.Add(path, core.EntryBlob, id)
}

// AddDir 声明一个 (可能为空的) 目录
func (b *Builder) AddDir(path string) error {
	_, err := b.dir(split(path))
	return err
}

// Build 执行构建过程，返回根 Tree 的 ID
// skipEmpty 为 true 时不生成空目录 (只包含空目录的目录同样视为空)，根 Tree 总会生成
func (b *Builder) Build(ctx context.Context, skipEmpty bool) (types.ObjectID, error) {
	id, _, err := b.writeNode(ctx, b.root, skipEmpty)
	return id, err
}

// writeNode 递归地把内存节点转换为 core.Tree 并写入存储
// 返回的 bool 表示该目录是否有内容
func (b *Builder) writeNode(ctx context.Context, n *node, skipEmpty bool) (types.ObjectID, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	entries := make([]core.TreeEntry, 0, len(n.dirs)+len(n.leaves))
	for _, e := range n.leaves {
		entries = append(entries, e)
	}
	for name, child := range n.dirs {
		childID, nonEmpty, err := b.writeNode(ctx, child, skipEmpty)
		if err != nil {
			return "", false, err
		}
		if skipEmpty && !nonEmpty {
			continue
		}
		entries = append(entries, core.TreeEntry{Name: name, Type: core.EntryTree, Cid: core.NewLink(childID)})
	}

	// NewTree 负责排序，保证 Hash 的确定性
	tree, err := core.NewTree(entries)
	if err != nil {
		return "", false, fmt.Errorf("failed to create tree object: %w", err)
	}
	if err := b.store.Put(ctx, tree); err != nil {
		return "", false, fmt.Errorf("failed to store tree: %w", err)
	}
	return tree.ID(), len(entries) > 0, nil
}
