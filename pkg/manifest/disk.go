package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"hive/pkg/core"
)

// 临时文件名里的 "%-" 不可能由 PathEscape 产生，因此不会和真实条目冲突
const tempPattern = "tmp%-*"

// DiskDB 把每个 Manifest 存成一个文件: root/<escaped name>/<escaped tag>
// 文件内容就是 Manifest 的规范 CBOR 编码
type DiskDB struct {
	root string
}

var _ Database = (*DiskDB)(nil)

func NewDiskDB(root string) (*DiskDB, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest dir: %w", err)
	}
	return &DiskDB{root: root}, nil
}

func (d *DiskDB) nameDir(name string) string {
	return filepath.Join(d.root, url.PathEscape(name))
}

func (d *DiskDB) path(key core.ManifestKey) string {
	return filepath.Join(d.nameDir(key.Name), url.PathEscape(key.Tag))
}

func (d *DiskDB) Has(ctx context.Context, key core.ManifestKey) (bool, error) {
	_, err := os.Stat(d.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *DiskDB) Get(ctx context.Context, key core.ManifestKey) (*core.Manifest, error) {
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", key, err)
	}
	m, err := core.DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	if m.Key != key {
		return nil, fmt.Errorf("%w: manifest file for %s contains %s", core.ErrInvalidManifest, key, m.Key)
	}
	return m, nil
}

func (d *DiskDB) List(ctx context.Context, prefix string) ([]core.ManifestKey, error) {
	dirs, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read manifest root: %w", err)
	}

	var keys []core.ManifestKey
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		name, err := url.PathUnescape(dir.Name())
		if err != nil || !MatchPrefix(name, prefix) {
			continue
		}
		tags, err := d.tags(name)
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			keys = append(keys, core.NewManifestKey(name, tag))
		}
	}
	return core.SortKeys(keys), nil
}

func (d *DiskDB) ListForName(ctx context.Context, name string) ([]core.ManifestKey, error) {
	tags, err := d.tags(name)
	if err != nil {
		return nil, err
	}
	keys := make([]core.ManifestKey, 0, len(tags))
	for _, tag := range tags {
		keys = append(keys, core.NewManifestKey(name, tag))
	}
	return core.SortKeys(keys), nil
}

func (d *DiskDB) tags(name string) ([]string, error) {
	files, err := os.ReadDir(d.nameDir(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest dir %s: %w", name, err)
	}
	var tags []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		tag, err := url.PathUnescape(f.Name())
		if err != nil {
			// 临时文件或者外来文件
			continue
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// Add 先写临时文件，再用硬链接实现"只插入一次"
// os.Link 在目标已存在时失败，这个检查和插入是原子的
func (d *DiskDB) Add(ctx context.Context, m *core.Manifest, opts AddOptions) error {
	if err := m.Key.Validate(); err != nil {
		return err
	}
	target := d.path(m.Key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(m.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if opts.Overwrite {
		if err := os.Rename(tmp.Name(), target); err != nil {
			return fmt.Errorf("write manifest %s: %w", m.Key, err)
		}
	} else if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, m.Key)
		}
		return fmt.Errorf("write manifest %s: %w", m.Key, err)
	}
	if err := syncDir(dir); err != nil {
		return err
	}

	if opts.Audit {
		LogAudit(m)
	}
	return nil
}

func (d *DiskDB) Remove(ctx context.Context, key core.ManifestKey) error {
	err := os.Remove(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("remove manifest %s: %w", key, err)
	}
	// 最后一个 tag 删除后顺手清理空目录，失败无所谓
	os.Remove(d.nameDir(key.Name))
	return nil
}

// syncDir 把目录项 (rename / link 的结果) 刷到磁盘，Windows 不支持对目录 fsync
var syncDir = func(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = f.Sync()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// LogAudit 记录谁在什么时候插入了什么
func LogAudit(m *core.Manifest) {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	slog.Info("manifest added",
		"key", m.Key.String(),
		"root", m.RootID().Short(),
		"labels", strings.Join(m.LabelNames(), ","),
		"user", user,
	)
}
