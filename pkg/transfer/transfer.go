// Package transfer 在两个 hive 之间复制对象和 Manifest
//
// Copy 直接在两个本地 hive 之间复制；Write/Read 通过一个 gzip 字节流传输，
// 流的两端可以是文件、管道或者任何网络连接。
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"hive/pkg/core"
	"hive/pkg/lock"
	"hive/pkg/manifest"
	"hive/pkg/marker"
	"hive/pkg/operation"
	"hive/pkg/scanner"
	"hive/pkg/storage"
	"hive/pkg/types"
)

var (
	// ErrCorrupt 传输流格式错误，或者对象内容与 ID 不符
	ErrCorrupt = errors.New("corrupt transfer data")
	// ErrInconsistent 复制完成后目标 hive 中的 Manifest 不完整
	ErrInconsistent = errors.New("destination manifest is incomplete")
)

// Stats 一次传输的统计
type Stats struct {
	ObjectsInserted   int64
	ObjectsSkipped    int64
	ManifestsInserted int64
	ManifestsSkipped  int64
	// Bytes 新插入对象的总字节数
	Bytes int64
}

// counters 并发安全的计数器，结束时转成 Stats
type counters struct {
	objectsInserted   atomic.Int64
	objectsSkipped    atomic.Int64
	manifestsInserted atomic.Int64
	manifestsSkipped  atomic.Int64
	bytes             atomic.Int64
}

func (c *counters) stats() *Stats {
	return &Stats{
		ObjectsInserted:   c.objectsInserted.Load(),
		ObjectsSkipped:    c.objectsSkipped.Load(),
		ManifestsInserted: c.manifestsInserted.Load(),
		ManifestsSkipped:  c.manifestsSkipped.Load(),
		Bytes:             c.bytes.Load(),
	}
}

// openMarkers 为一次传输创建标记集合，Env 没有标记数据库时返回 nil
// 返回的 release 必须在插入完 Manifest 之后调用，它会把释放失败合并进 *err
func openMarkers(ctx context.Context, env *operation.Env, opts lock.Options) (*marker.Set, func(err *error), error) {
	if env.MarkerRoot == "" {
		return nil, func(*error) {}, nil
	}
	db, err := marker.Open(env.MarkerRoot, opts)
	if err != nil {
		return nil, nil, err
	}
	set, err := db.NewSet(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func(err *error) {
		// 用独立的 ctx，调用方取消后也要清理标记
		if cerr := set.Close(context.WithoutCancel(ctx)); cerr != nil {
			slog.Warn("failed to release transfer markers", "set", set.ID(), "error", cerr)
			if *err == nil {
				*err = cerr
			}
		}
	}
	return set, release, nil
}

// mark 写入对象之前先标记，prune 才不会删掉还没有 Manifest 引用的对象
func mark(set *marker.Set, id types.ObjectID) error {
	if set == nil {
		return nil
	}
	return set.Add(id)
}

// forgetRefs 插入了对象或 Manifest 之后，缓存的传递引用结果可能已经过期
func forgetRefs(env *operation.Env) {
	if env.Refs != nil {
		env.Refs.Invalidate()
	}
}

// insertObject 校验 Hash 后写入，已经存在的对象跳过
func insertObject(ctx context.Context, dst storage.Store, id types.ObjectID, data []byte, c *counters) error {
	if actual := core.CalculateBlobHash(data); actual != id {
		return fmt.Errorf("%w: object %s hashes to %s", ErrCorrupt, id, actual)
	}
	found, err := dst.Has(ctx, id)
	if err != nil {
		return err
	}
	if found {
		c.objectsSkipped.Add(1)
		return nil
	}
	if err := dst.Put(ctx, core.NewBlob(data)); err != nil {
		return fmt.Errorf("insert %s: %w", id.Short(), err)
	}
	c.objectsInserted.Add(1)
	c.bytes.Add(int64(len(data)))
	return nil
}

// insertManifest 插入一次，已经存在时跳过
func insertManifest(ctx context.Context, dst manifest.Database, m *core.Manifest, c *counters) error {
	err := dst.Add(ctx, m, manifest.AddOptions{})
	if errors.Is(err, manifest.ErrExists) {
		c.manifestsSkipped.Add(1)
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert manifest %s: %w", m.Key, err)
	}
	c.manifestsInserted.Add(1)
	return nil
}

// collect 展开引用后的 Manifest 以及它们可达的对象
// allowMissing 为 true 时跳过源 hive 中丢失的 Manifest 和对象
func collect(ctx context.Context, env *operation.Env, keys []core.ManifestKey, allowMissing bool) ([]*core.Manifest, types.ObjectSet, error) {
	scan := env.Scanner(scanner.Options{})
	expanded, err := scan.ExpandReferences(ctx, keys)
	if err != nil {
		return nil, nil, err
	}

	objects := types.NewObjectSet()
	var manifests []*core.Manifest
	for _, key := range expanded {
		m, err := env.Manifests.Get(ctx, key)
		if errors.Is(err, manifest.ErrNotFound) && allowMissing {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		manifests = append(manifests, m)

		view, err := scan.ScanManifest(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		var problem error
		view.Walk(scanner.Visitor{
			Blob:        func(el *scanner.Element) { objects.Add(el.ID) },
			Tree:        func(el *scanner.Element) bool { objects.Add(el.ID); return true },
			ManifestRef: func(el *scanner.Element) bool { objects.Add(el.ID); return true },
			Missing: func(el *scanner.Element) {
				if !allowMissing && problem == nil {
					problem = fmt.Errorf("%w: %s at %s:/%s", storage.ErrNotFound, el.ID, key, el.Path)
				}
			},
			Damaged: func(el *scanner.Element) {
				if problem == nil {
					problem = fmt.Errorf("%w: %s at %s:/%s", storage.ErrCorrupt, el.ID, key, el.Path)
				}
			},
		})
		if problem != nil {
			return nil, nil, problem
		}
	}
	return manifests, objects, nil
}

// checkConsistent 确认每个 Manifest 在目标 hive 中都能完整扫描
func checkConsistent(ctx context.Context, env *operation.Env, manifests []*core.Manifest) error {
	scan := env.Scanner(scanner.Options{})
	for _, m := range manifests {
		view, err := scan.ScanManifest(ctx, m.Key)
		if err != nil {
			return err
		}
		if broken := view.Broken(); len(broken) > 0 {
			return fmt.Errorf("%w: %s has %d broken elements, first at /%s",
				ErrInconsistent, m.Key, len(broken), broken[0].Path)
		}
	}
	return nil
}
