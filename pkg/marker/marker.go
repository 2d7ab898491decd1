// Package marker 记录正在进行中的多步操作需要保护的对象
//
// 目录结构: <root>/.lock + <root>/<set id>/<object id>
// 每个标记就是一个空文件。prune 会把所有标记集合中的对象视为可达。
package marker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"hive/pkg/lock"
	"hive/pkg/types"

	"github.com/google/uuid"
)

// Database 标记集合的根目录
type Database struct {
	root     string
	lockOpts lock.Options
}

// Open 打开 (必要时创建) 标记根目录
func Open(root string, lockOpts lock.Options) (*Database, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create marker root: %w", err)
	}
	return &Database{root: root, lockOpts: lockOpts}, nil
}

func (d *Database) Root() string { return d.root }

// locked 在根目录锁内执行 fn
func (d *Database) locked(ctx context.Context, fn func() error) error {
	l, err := lock.Acquire(ctx, d.root, d.lockOpts)
	if err != nil {
		return fmt.Errorf("lock marker root: %w", err)
	}
	defer l.Release()
	return fn()
}

// NewSet 创建一个新的标记集合
func (d *Database) NewSet(ctx context.Context) (*Set, error) {
	s := &Set{db: d, id: uuid.NewString()}
	s.dir = filepath.Join(d.root, s.id)
	err := d.locked(ctx, func() error {
		return os.Mkdir(s.dir, 0755)
	})
	if err != nil {
		return nil, fmt.Errorf("create marker set: %w", err)
	}
	return s, nil
}

// Sets 列出当前存在的标记集合
func (d *Database) Sets(ctx context.Context) ([]string, error) {
	var ids []string
	err := d.locked(ctx, func() error {
		entries, err := os.ReadDir(d.root)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				ids = append(ids, e.Name())
			}
		}
		return nil
	})
	return ids, err
}

// AllMarked 返回所有集合中标记的对象
func (d *Database) AllMarked(ctx context.Context) (types.ObjectSet, error) {
	marked := types.NewObjectSet()
	err := d.locked(ctx, func() error {
		sets, err := os.ReadDir(d.root)
		if err != nil {
			return err
		}
		for _, set := range sets {
			if !set.IsDir() {
				continue
			}
			files, err := os.ReadDir(filepath.Join(d.root, set.Name()))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return err
			}
			for _, f := range files {
				if id := types.ObjectID(f.Name()); id.IsValid() {
					marked.Add(id)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read markers: %w", err)
	}
	return marked, nil
}

// Set 一个操作的标记集合
// 调用方必须先标记再写入对象，prune 才能保证看到它
type Set struct {
	db  *Database
	id  string
	dir string
}

func (s *Set) ID() string { return s.id }

// Add 标记若干对象
func (s *Set) Add(ids ...types.ObjectID) error {
	for _, id := range ids {
		f, err := os.OpenFile(filepath.Join(s.dir, string(id)), os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("mark %s: %w", id.Short(), err)
		}
		f.Close()
	}
	return nil
}

// Close 删除整个集合，在根目录锁内完成
func (s *Set) Close(ctx context.Context) error {
	return s.db.locked(ctx, func() error {
		return os.RemoveAll(s.dir)
	})
}
