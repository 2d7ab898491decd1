// Package ingester 把一个普通目录导入为 Blob + Tree
package ingester

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"hive/pkg/ignore"
	"hive/pkg/operation"
	"hive/pkg/storage"
	"hive/pkg/treebuilder"
	"hive/pkg/types"
)

type Ingester struct {
	store       storage.Store
	matcher     *ignore.Matcher
	concurrency int
}

func NewIngester(store storage.Store) *Ingester {
	return &Ingester{store: store}
}

// WithMatcher 设置忽略规则，nil 表示不忽略任何文件
func (ing *Ingester) WithMatcher(m *ignore.Matcher) *Ingester {
	ing.matcher = m
	return ing
}

// WithConcurrency 同时写入的文件数，0 表示 CPU 数
func (ing *Ingester) WithConcurrency(n int) *Ingester {
	ing.concurrency = n
	return ing
}

// IngestFile 流式写入一个文件，返回 Blob 的 ID 和字节数
func (ing *Ingester) IngestFile(ctx context.Context, reader io.Reader) (types.ObjectID, int64, error) {
	id, n, err := storage.AddStream(ctx, ing.store, reader)
	if err != nil {
		return "", 0, fmt.Errorf("failed to store file: %w", err)
	}
	return id, n, nil
}

// ImportTree 遍历 root 目录，返回根 Tree 的 ID
// skipEmpty 为 true 时不为空目录生成条目。符号链接和特殊文件会被跳过
func (ing *Ingester) ImportTree(ctx context.Context, root string, skipEmpty bool) (types.ObjectID, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}

	var mu sync.Mutex
	builder := treebuilder.NewBuilder(ing.store)
	g := operation.NewTaskGroup(ctx, ing.concurrency)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		// 1. 目录
		if d.IsDir() {
			if ing.matcher.Matches(rel) || ing.matcher.Matches(rel+"/") {
				return filepath.SkipDir
			}
			mu.Lock()
			defer mu.Unlock()
			return builder.AddDir(rel)
		}

		if ing.matcher.Matches(rel) {
			return nil
		}
		if !d.Type().IsRegular() {
			slog.Warn("skipping non-regular file", "path", rel, "mode", d.Type().String())
			return nil
		}

		// 2. 普通文件，并发写入
		g.Go(func(ctx context.Context) error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			id, _, err := ing.IngestFile(ctx, f)
			if err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			mu.Lock()
			defer mu.Unlock()
			return builder.AddBlob(rel, id)
		})
		return nil
	})
	// 无论遍历是否出错，都要等已经启动的写入结束
	if err := g.Wait(); err != nil {
		return "", err
	}
	if walkErr != nil {
		return "", walkErr
	}

	// 3. 所有 Blob 落盘后再写 Tree
	return builder.Build(ctx, skipEmpty)
}

// Import 把目录导入到执行它的 hive
type Import struct {
	Path      string
	SkipEmpty bool
	// UseIgnoreFile 读取目录下的 .hiveignore 并应用默认忽略规则
	UseIgnoreFile bool
	Concurrency   int
}

func (o Import) Validate() error {
	return operation.Require(o.Path != "", "import path is required")
}

func (o Import) Run(ctx context.Context, env *operation.Env) (types.ObjectID, error) {
	ing := NewIngester(env.Objects).WithConcurrency(o.Concurrency)
	if o.UseIgnoreFile {
		m, err := ignore.NewMatcher(o.Path)
		if err != nil {
			return "", fmt.Errorf("load ignore rules: %w", err)
		}
		ing.WithMatcher(m)
	}
	return ing.ImportTree(ctx, o.Path, o.SkipEmpty)
}
