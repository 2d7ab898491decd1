// Package fsck 检查 hive 的一致性，可选地修复
//
// 第一遍扫描每个 Manifest，丢失或损坏的节点记为 broken；
// 第二遍对剩余 Manifest 可达且存在的对象重新计算 Hash。
// 修复是粗粒度的：带有 broken 节点的 Manifest 整个删除，损坏的对象物理删除。
package fsck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"hive/pkg/core"
	"hive/pkg/operation"
	"hive/pkg/scanner"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// ErrMissingObject 第二遍发现可达对象不存在
// 第一遍刚刚确认过它存在，说明有人在检查期间修改了 hive
var ErrMissingObject = errors.New("reachable object is missing")

// Operation 对一组 Manifest 做一致性检查
type Operation struct {
	// Manifests 要检查的 Manifest，为空表示全部
	Manifests []core.ManifestKey
	// Repair 删除损坏的 Manifest 和对象，默认只报告
	Repair bool
	// Concurrency 第二遍校验的并发数，0 表示 CPU 数
	Concurrency int
}

// BrokenElement 一个损坏的节点
type BrokenElement struct {
	Manifest core.ManifestKey
	Path     string
	ID       types.ObjectID
	Kind     scanner.Kind
	Context  string
}

func (b BrokenElement) String() string {
	s := fmt.Sprintf("%s %s:/%s (%s)", b.Kind, b.Manifest, b.Path, b.ID.Short())
	if b.Context != "" {
		s += " " + b.Context
	}
	return s
}

type Result struct {
	Broken []BrokenElement
	// RemovedManifests 修复模式下删除的 Manifest
	RemovedManifests []core.ManifestKey
	// DamagedObjects 第二遍发现内容与 ID 不符的对象
	DamagedObjects []types.ObjectID
	// RemovedObjects 修复模式下删除的对象
	RemovedObjects []types.ObjectID
	// Checked 第二遍校验过的对象数
	Checked int
}

// Clean 没有发现任何问题
func (r *Result) Clean() bool {
	return len(r.Broken) == 0 && len(r.DamagedObjects) == 0
}

func (o Operation) Validate() error {
	return operation.Require(o.Concurrency >= 0, "concurrency must not be negative, got %d", o.Concurrency)
}

func (o Operation) Exclusive() bool { return o.Repair }

func (o Operation) Mutating() bool { return true }

func (o Operation) Run(ctx context.Context, env *operation.Env) (*Result, error) {
	// 检查的原因往往就是有人直接动了磁盘上的数据，缓存不可信
	if err := env.Invalidate(ctx); err != nil {
		return nil, err
	}
	res, err := o.run(ctx, env)
	if ierr := env.Invalidate(ctx); ierr != nil && err == nil {
		err = ierr
	}
	return res, err
}

// checked 第一遍通过的 Manifest 及其可达对象
type checked struct {
	key     core.ManifestKey
	objects types.ObjectSet
}

func (o Operation) run(ctx context.Context, env *operation.Env) (*Result, error) {
	keys := o.Manifests
	if len(keys) == 0 {
		all, err := env.Manifests.List(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("list manifests: %w", err)
		}
		keys = all
	}

	res := &Result{}
	scan := env.Scanner(scanner.Options{})

	// 1. 第一遍：扫描 Manifest
	var kept []checked
	owner := make(map[types.ObjectID]BrokenElement)
	tracker := env.Track(ctx, "fsck manifests", int64(len(keys)))
	for _, key := range keys {
		view, err := scan.ScanManifest(ctx, key)
		if err != nil {
			tracker.Done()
			return nil, err
		}

		broken := view.Broken()
		for _, el := range broken {
			be := BrokenElement{Manifest: key, Path: el.Path, ID: el.ID, Kind: el.Kind, Context: el.Context}
			slog.Warn("fsck: broken element", "manifest", key.String(), "path", el.Path, "id", el.ID.Short(), "kind", el.Kind.String())
			res.Broken = append(res.Broken, be)
		}

		if len(broken) > 0 {
			if o.Repair {
				if err := o.removeManifest(ctx, env, res, key); err != nil {
					tracker.Done()
					return nil, err
				}
			}
		} else {
			objects := present(view)
			kept = append(kept, checked{key: key, objects: objects})
			view.Walk(scanner.Visitor{
				Blob: func(el *scanner.Element) { recordOwner(owner, key, el) },
				Tree: func(el *scanner.Element) bool { recordOwner(owner, key, el); return true },
			})
		}

		if err := tracker.Worked(1); err != nil {
			tracker.Done()
			return nil, err
		}
	}
	tracker.Done()

	// 2. 第二遍：重新计算可达对象的 Hash
	reachable := types.NewObjectSet()
	for _, c := range kept {
		reachable.AddAll(c.objects)
	}
	damaged, err := o.verify(ctx, env, reachable.Sorted())
	if err != nil {
		return nil, err
	}
	res.Checked = len(reachable)
	res.DamagedObjects = damaged

	for _, id := range damaged {
		be := owner[id]
		be.ID = id
		be.Kind = scanner.KindDamaged
		be.Context = "content does not match id"
		res.Broken = append(res.Broken, be)
	}

	if !o.Repair || len(damaged) == 0 {
		return res, nil
	}

	// 3. 修复：删除损坏对象，以及能到达它们的 Manifest
	for _, id := range damaged {
		if err := env.Objects.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("remove damaged object %s: %w", id.Short(), err)
		}
		res.RemovedObjects = append(res.RemovedObjects, id)
	}
	for _, c := range kept {
		if slices.ContainsFunc(damaged, c.objects.Has) {
			if err := o.removeManifest(ctx, env, res, c.key); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

func (o Operation) removeManifest(ctx context.Context, env *operation.Env, res *Result, key core.ManifestKey) error {
	if err := env.Manifests.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove broken manifest %s: %w", key, err)
	}
	slog.Warn("fsck: removed broken manifest", "manifest", key.String())
	res.RemovedManifests = append(res.RemovedManifests, key)
	return nil
}

// verify 并发校验对象，返回损坏的对象 (有序)
func (o Operation) verify(ctx context.Context, env *operation.Env, ids []types.ObjectID) ([]types.ObjectID, error) {
	var (
		mu      sync.Mutex
		damaged []types.ObjectID
	)
	tracker := env.Track(ctx, "fsck objects", int64(len(ids)))
	defer tracker.Done()

	g := operation.NewTaskGroup(ctx, o.Concurrency)
	for _, id := range ids {
		g.Go(func(ctx context.Context) error {
			err := storage.Verify(ctx, env.Objects, id)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				return fmt.Errorf("%w: %s", ErrMissingObject, id)
			case errors.Is(err, storage.ErrCorrupt):
				slog.Warn("fsck: damaged object", "id", id.Short())
				mu.Lock()
				damaged = append(damaged, id)
				mu.Unlock()
			case err != nil:
				return err
			}
			return tracker.Worked(1)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(damaged)
	return damaged, nil
}

// present 视图中存在的对象 (不含丢失和损坏的)
func present(view *scanner.TreeView) types.ObjectSet {
	set := types.NewObjectSet()
	add := func(el *scanner.Element) { set.Add(el.ID) }
	view.Walk(scanner.Visitor{
		Blob:        add,
		Tree:        func(el *scanner.Element) bool { add(el); return true },
		ManifestRef: func(el *scanner.Element) bool { add(el); return true },
	})
	return set
}

// recordOwner 记住每个对象第一次出现的位置，用于报告
func recordOwner(owner map[types.ObjectID]BrokenElement, key core.ManifestKey, el *scanner.Element) {
	if _, ok := owner[el.ID]; !ok {
		owner[el.ID] = BrokenElement{Manifest: key, Path: el.Path}
	}
}
