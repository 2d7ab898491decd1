package transfer

import (
	"context"
	"errors"
	"fmt"

	"hive/pkg/core"
	"hive/pkg/lock"
	"hive/pkg/marker"
	"hive/pkg/operation"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// Copy 从 Source 复制对象和 Manifest 到执行它的 hive
// ObjectIDs 和 Manifests 都为空时复制 Source 中的全部内容
//
// 和 Read 一样：对象先在目标 hive 的标记数据库中登记再写入，Manifest 最后插入，标记最后释放
type Copy struct {
	Source    *operation.Env
	ObjectIDs []types.ObjectID
	Manifests []core.ManifestKey
	// AllowMissing 源 hive 本身不完整时跳过丢失的对象和 Manifest
	AllowMissing bool
	// AllowPartial 不在目标 hive 上做一致性检查
	AllowPartial bool
	Concurrency  int
	// LockOptions 目标 hive 标记根目录的锁参数
	LockOptions lock.Options
}

func (c Copy) Validate() error {
	if err := operation.Require(c.Source != nil && c.Source.Objects != nil && c.Source.Manifests != nil,
		"copy needs a source hive"); err != nil {
		return err
	}
	return operation.Require(c.Concurrency >= 0, "concurrency must not be negative, got %d", c.Concurrency)
}

func (c Copy) Run(ctx context.Context, env *operation.Env) (stats *Stats, err error) {
	src := c.Source
	keys, ids := c.Manifests, c.ObjectIDs
	if len(keys) == 0 && len(ids) == 0 {
		if keys, err = src.Manifests.List(ctx, ""); err != nil {
			return nil, fmt.Errorf("list source manifests: %w", err)
		}
		if ids, err = src.Objects.List(ctx); err != nil {
			return nil, fmt.Errorf("list source objects: %w", err)
		}
	}

	// 1. 展开 Manifest 引用，收集可达对象
	manifests, objects, err := collect(ctx, src, keys, c.AllowMissing)
	if err != nil {
		return nil, err
	}
	objects.Add(ids...)

	// 2. 标记集合，最后释放
	set, release, err := openMarkers(ctx, env, c.LockOptions)
	if err != nil {
		return nil, err
	}
	defer release(&err)
	defer forgetRefs(env)

	// 3. 并发插入对象
	var cnt counters
	todo := objects.Sorted()
	tracker := env.Track(ctx, "copy objects", int64(len(todo)))
	g := operation.NewTaskGroup(ctx, c.Concurrency)
	for _, id := range todo {
		g.Go(func(ctx context.Context) error {
			if err := c.copyObject(ctx, env, set, id, &cnt); err != nil {
				return err
			}
			return tracker.Worked(1)
		})
	}
	err = g.Wait()
	tracker.Done()
	if err != nil {
		return nil, err
	}

	// 4. 对象全部落盘后再插入 Manifest
	for _, m := range manifests {
		if err := insertManifest(ctx, env.Manifests, m, &cnt); err != nil {
			return nil, err
		}
	}

	forgetRefs(env)

	// 5. 一致性检查
	if !c.AllowPartial {
		if err := checkConsistent(ctx, env, manifests); err != nil {
			return nil, err
		}
	}
	return cnt.stats(), nil
}

func (c Copy) copyObject(ctx context.Context, env *operation.Env, set *marker.Set, id types.ObjectID, cnt *counters) error {
	// 已经存在的对象也要标记，它可能还没有被任何 Manifest 引用
	if err := mark(set, id); err != nil {
		return err
	}
	found, err := env.Objects.Has(ctx, id)
	if err != nil {
		return err
	}
	if found {
		cnt.objectsSkipped.Add(1)
		return nil
	}

	data, err := storage.ReadAll(ctx, c.Source.Objects, id)
	if errors.Is(err, storage.ErrNotFound) && c.AllowMissing {
		return nil
	}
	if err != nil {
		return err
	}
	return insertObject(ctx, env.Objects, id, data, cnt)
}
