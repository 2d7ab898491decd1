// Package hive 把对象库、Manifest 数据库、标记数据库和目录锁组装成一个 hive
//
// 目录结构:
//
//	<root>/.lock       独占操作期间存在
//	<root>/objects/    对象库 (disk 后端)
//	<root>/manifests/  Manifest 数据库 (disk 后端)
//	<root>/markers/    标记数据库
package hive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"hive/pkg/lock"
	"hive/pkg/manifest"
	"hive/pkg/operation"
	"hive/pkg/scanner"
	"hive/pkg/storage"
	"hive/pkg/storage/cache"
	"hive/pkg/storage/disk"
)

const (
	ObjectsDir   = "objects"
	ManifestsDir = "manifests"
	MarkersDir   = "markers"
)

// ErrNotHive 目录不是一个初始化过的 hive
var ErrNotHive = errors.New("not a hive")

type Options struct {
	// Objects 自定义对象库，nil 时使用 <root>/objects
	Objects storage.Store
	// Manifests 自定义 Manifest 数据库，nil 时使用 <root>/manifests
	Manifests manifest.Database
	// Lock hive 目录锁和标记根目录锁的参数，零值时使用 lock.ProcessOptions
	Lock     lock.Options
	Activity operation.Activity
	// Closers 随 Hive.Close 一起关闭 (例如 Redis 连接、SQL 连接)
	Closers []io.Closer
}

type Hive struct {
	root      string
	objects   storage.Store
	manifests manifest.Database
	refs      *manifest.RefCache
	lockOpts  lock.Options
	activity  operation.Activity
	closers   []io.Closer
}

// Init 创建目录结构并打开
func Init(root string, opts Options) (*Hive, error) {
	for _, dir := range []string{root, filepath.Join(root, ObjectsDir), filepath.Join(root, ManifestsDir), filepath.Join(root, MarkersDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return Open(root, opts)
}

// Open 打开一个已经初始化的 hive
func Open(root string, opts Options) (*Hive, error) {
	info, err := os.Stat(filepath.Join(root, MarkersDir))
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotHive, root)
	}

	h := &Hive{
		root:     root,
		refs:     manifest.NewRefCache(),
		lockOpts: opts.Lock,
		activity: opts.Activity,
		closers:  opts.Closers,
	}
	if h.lockOpts.Content == "" && h.lockOpts.Validator == nil {
		po := lock.ProcessOptions()
		h.lockOpts.Content, h.lockOpts.Validator = po.Content, po.Validator
	}

	// 1. 对象库，默认在磁盘适配器外面套一层进程内缓存
	h.objects = opts.Objects
	if h.objects == nil {
		backend, err := disk.NewAdapter(filepath.Join(root, ObjectsDir))
		if err != nil {
			return nil, err
		}
		h.objects = cache.NewMemoStore(backend)
	}

	// 2. Manifest 数据库
	h.manifests = opts.Manifests
	if h.manifests == nil {
		backend, err := manifest.NewDiskDB(filepath.Join(root, ManifestsDir))
		if err != nil {
			return nil, err
		}
		h.manifests = manifest.NewCachedDB(backend)
	}
	return h, nil
}

func (h *Hive) Root() string                 { return h.root }
func (h *Hive) Objects() storage.Store       { return h.objects }
func (h *Hive) Manifests() manifest.Database { return h.manifests }
func (h *Hive) MarkerRoot() string           { return filepath.Join(h.root, MarkersDir) }
func (h *Hive) LockOptions() lock.Options    { return h.lockOpts }

// Env 操作的运行环境
func (h *Hive) Env() *operation.Env {
	return &operation.Env{
		Objects:    h.objects,
		Manifests:  h.manifests,
		Activity:   h.activity,
		Refs:       h.refs,
		MarkerRoot: h.MarkerRoot(),
	}
}

// Scanner 带引用缓存的扫描器
func (h *Hive) Scanner(opts scanner.Options) *scanner.Scanner {
	return h.Env().Scanner(opts)
}

// Invalidate 清空所有缓存
func (h *Hive) Invalidate(ctx context.Context) error {
	return h.Env().Invalidate(ctx)
}

// Lock 独占整个 hive
func (h *Hive) Lock(ctx context.Context) (*lock.DirLock, error) {
	return lock.Acquire(ctx, h.root, h.lockOpts)
}

func (h *Hive) Close() error {
	var errs []error
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute 在 hive 上运行一个操作
//
// 独占操作先取得 hive 目录锁，其余操作等待当前的独占操作结束。
// 修改了缓存之外状态的操作在前后都会清空缓存。
func Execute[R any](ctx context.Context, h *Hive, op operation.Operation[R]) (res R, err error) {
	if err := op.Validate(); err != nil {
		return res, err
	}

	if operation.IsExclusive(op) {
		l, err := h.Lock(ctx)
		if err != nil {
			return res, err
		}
		defer func() {
			if rerr := l.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}()
	} else if err := lock.New(h.root, h.lockOpts).Await(ctx); err != nil {
		return res, err
	}

	if operation.IsMutating(op) {
		if err := h.Invalidate(ctx); err != nil {
			return res, err
		}
		defer func() {
			if ierr := h.Invalidate(context.WithoutCancel(ctx)); ierr != nil && err == nil {
				err = ierr
			}
		}()
	}
	return operation.Execute(ctx, h.Env(), op)
}
