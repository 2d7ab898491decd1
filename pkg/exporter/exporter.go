// Package exporter 把 Tree 还原成普通目录，并提供对象的可读打印
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"hive/pkg/core"
	"hive/pkg/manifest"
	"hive/pkg/scanner"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// ErrTargetNotEmpty 导出目标已经存在且不为空
var ErrTargetNotEmpty = errors.New("export target is not empty")

// ErrReferenceCycle Manifest 引用链回到了正在导出的 Manifest
var ErrReferenceCycle = errors.New("manifest reference cycle")

// ReferenceHandler 遇到 Manifest 引用时调用
// path 是引用在目标目录中对应的绝对路径，尚未创建
type ReferenceHandler func(ctx context.Context, path string, key core.ManifestKey) error

// RestoreCallback 每写出一个文件调用一次
type RestoreCallback func(path string, id types.ObjectID, size int64)

type Exporter struct {
	store     storage.Store
	onRestore RestoreCallback
}

func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// OnRestore 设置文件写出回调
func (e *Exporter) OnRestore(cb RestoreCallback) *Exporter {
	e.onRestore = cb
	return e
}

// ExportFile 把 Blob 的内容写入 writer
func (e *Exporter) ExportFile(ctx context.Context, id types.ObjectID, writer io.Writer) (int64, error) {
	rc, err := e.store.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to get blob %s: %w", id.Short(), err)
	}
	defer rc.Close()
	return io.Copy(writer, rc)
}

// ExportTree 把 Tree 递归还原到 targetDir
// targetDir 不存在时创建，已存在时必须为空。refs 为 nil 时跳过所有 Manifest 引用
func (e *Exporter) ExportTree(ctx context.Context, id types.ObjectID, targetDir string, refs ReferenceHandler) error {
	entries, err := os.ReadDir(targetDir)
	if err == nil && len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrTargetNotEmpty, targetDir)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return err
	}
	return e.restore(ctx, id, targetDir, refs)
}

func (e *Exporter) restore(ctx context.Context, id types.ObjectID, dir string, refs ReferenceHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// 1. 读取 Tree
	data, err := storage.ReadAll(ctx, e.store, id)
	if err != nil {
		return fmt.Errorf("failed to get tree %s: %w", id.Short(), err)
	}
	tree, err := core.DecodeTree(data)
	if err != nil {
		return fmt.Errorf("tree %s: %w", id.Short(), err)
	}

	// 2. 遍历条目
	for _, entry := range tree.Entries {
		// 条目名只能是单个路径段，否则会写到 dir 外面
		if err := core.ValidateEntryName(entry.Name); err != nil {
			return fmt.Errorf("tree %s: %w", id.Short(), err)
		}
		fullPath := filepath.Join(dir, entry.Name)

		switch entry.Type {
		case core.EntryTree:
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", fullPath, err)
			}
			if err := e.restore(ctx, entry.Cid.Hash, fullPath, refs); err != nil {
				return err
			}

		case core.EntryBlob:
			if err := e.restoreFile(ctx, entry.Cid.Hash, fullPath); err != nil {
				return err
			}

		case core.EntryManifest:
			if refs == nil {
				continue
			}
			ref, err := e.loadRef(ctx, entry.Cid.Hash)
			if err != nil {
				return err
			}
			if err := refs(ctx, fullPath, ref.Key); err != nil {
				return fmt.Errorf("reference %s at %s: %w", ref.Key, fullPath, err)
			}
		}
	}
	return nil
}

func (e *Exporter) restoreFile(ctx context.Context, id types.ObjectID, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	n, err := e.ExportFile(ctx, id, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if e.onRestore != nil {
		e.onRestore(path, id, n)
	}
	return nil
}

func (e *Exporter) loadRef(ctx context.Context, id types.ObjectID) (*core.ManifestRef, error) {
	data, err := storage.ReadAll(ctx, e.store, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest reference %s: %w", id.Short(), err)
	}
	return core.DecodeManifestRef(data)
}

// Nested 返回一个把被引用的 Manifest 递归导出到引用位置的 ReferenceHandler
// 引用链成环返回 ErrReferenceCycle，超过 scanner.DefaultMaxReferenceDepth 返回 scanner.ErrReferenceDepth
func (e *Exporter) Nested(db manifest.Database) ReferenceHandler {
	// 当前引用链上的 Manifest，导出是串行的，不需要加锁
	var stack []core.ManifestKey

	var handler ReferenceHandler
	handler = func(ctx context.Context, path string, key core.ManifestKey) error {
		if slices.Contains(stack, key) {
			return fmt.Errorf("%w: %s", ErrReferenceCycle, key)
		}
		if len(stack) >= scanner.DefaultMaxReferenceDepth {
			return fmt.Errorf("%w: %s (limit %d)", scanner.ErrReferenceDepth, key, scanner.DefaultMaxReferenceDepth)
		}

		m, err := db.Get(ctx, key)
		if err != nil {
			return err
		}
		stack = append(stack, key)
		defer func() { stack = stack[:len(stack)-1] }()
		return e.ExportTree(ctx, m.RootID(), path, handler)
	}
	return handler
}
