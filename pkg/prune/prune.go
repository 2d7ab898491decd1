// Package prune 删除所有 Manifest 都不可达的对象
package prune

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hive/pkg/lock"
	"hive/pkg/marker"
	"hive/pkg/operation"
	"hive/pkg/scanner"
	"hive/pkg/types"
)

// Operation 垃圾回收
//
// 读取顺序是固定的：先列出对象，再读标记，最后扫描 Manifest。
// 传输先标记再写对象、先插入 Manifest 再释放标记，
// 按这个顺序读取，一个正在传输中的对象要么不在候选列表里，要么被标记或已经可达。
type Operation struct {
	// DryRun 只计算，不删除
	DryRun bool
	// Concurrency 删除的并发数，0 表示 CPU 数
	Concurrency int
	// LockOptions 读取标记根目录时使用的锁参数
	LockOptions lock.Options
}

type Result struct {
	// Removed 被删除 (DryRun 时为将被删除) 的对象及其大小
	Removed   map[types.ObjectID]int64
	Reachable int
	Marked    int
}

// Reclaimed 回收的总字节数
func (r *Result) Reclaimed() int64 {
	var n int64
	for _, size := range r.Removed {
		n += size
	}
	return n
}

func (o Operation) Validate() error {
	return operation.Require(o.Concurrency >= 0, "concurrency must not be negative, got %d", o.Concurrency)
}

func (o Operation) Exclusive() bool { return !o.DryRun }

func (o Operation) Mutating() bool { return !o.DryRun }

func (o Operation) Run(ctx context.Context, env *operation.Env) (*Result, error) {
	// 1. 候选对象
	all, err := env.Objects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	// 2. 标记
	res := &Result{Removed: make(map[types.ObjectID]int64)}
	keep := types.NewObjectSet()
	if env.MarkerRoot != "" {
		db, err := marker.Open(env.MarkerRoot, o.LockOptions)
		if err != nil {
			return nil, err
		}
		marked, err := db.AllMarked(ctx)
		if err != nil {
			return nil, err
		}
		res.Marked = len(marked)
		keep.AddAll(marked)
	}

	// 3. 所有 Manifest 可达的对象
	reachable, err := Reachable(ctx, env)
	if err != nil {
		return nil, err
	}
	res.Reachable = len(reachable)
	keep.AddAll(reachable)

	var garbage []types.ObjectID
	for _, id := range all {
		if !keep.Has(id) {
			garbage = append(garbage, id)
		}
	}
	if len(garbage) == 0 {
		return res, nil
	}

	// 4. 删除
	var mu sync.Mutex
	tracker := env.Track(ctx, "prune", int64(len(garbage)))
	defer tracker.Done()
	g := operation.NewTaskGroup(ctx, o.Concurrency)
	for _, id := range garbage {
		g.Go(func(ctx context.Context) error {
			size, err := env.Objects.Size(ctx, id)
			if err != nil {
				return fmt.Errorf("size of %s: %w", id.Short(), err)
			}
			if !o.DryRun {
				if err := env.Objects.Delete(ctx, id); err != nil {
					return err
				}
			}
			mu.Lock()
			res.Removed[id] = size
			mu.Unlock()
			return tracker.Worked(1)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("prune finished", "removed", len(res.Removed), "bytes", res.Reclaimed(), "dry_run", o.DryRun)
	return res, nil
}

// Reachable 返回所有 Manifest (含嵌套引用) 可达的对象
func Reachable(ctx context.Context, env *operation.Env) (types.ObjectSet, error) {
	keys, err := env.Manifests.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	set := types.NewObjectSet()
	scan := env.Scanner(scanner.Options{})
	tracker := env.Track(ctx, "prune scan", int64(len(keys)))
	defer tracker.Done()
	for _, key := range keys {
		view, err := scan.ScanManifest(ctx, key)
		if err != nil {
			return nil, err
		}
		set.AddAll(view.Objects())
		if err := tracker.Worked(1); err != nil {
			return nil, err
		}
	}
	return set, nil
}
