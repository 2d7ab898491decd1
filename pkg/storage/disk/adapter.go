package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/types"
)

const tempPattern = "temp-*"

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath string // 比如: /srv/hive/objects
}

var (
	_ storage.Store        = (*Adapter)(nil)
	_ storage.StreamPutter = (*Adapter)(nil)
)

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
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

// Root 返回对象库的根目录
func (s *Adapter) Root() string { return s.rootPath }

// Path 返回 ID 对应的物理路径
// 策略：使用前 2 个字符作为子目录 (Sharding)
// Example: hash "aabbcc..." -> root/aa/bbcc...
func (s *Adapter) Path(id types.ObjectID) string {
	hash := string(id)
	if len(hash) < 2 {
		return filepath.Join(s.rootPath, hash)
	}
	return filepath.Join(s.rootPath, hash[:2], hash[2:])
}

func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	targetPath := s.Path(obj.ID())

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil // 已经存在，直接跳过
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 3. 原子写入：先写临时文件再 Rename
	// 这样保证要么文件不存在，要么文件是完整的
	tempFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(obj.Bytes()); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close() // 必须先关闭才能 Rename

	// 4. 移动到最终位置，目录项也要落盘
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return err
	}
	return syncDir(dir)
}

// PutStream 边写临时文件边计算 Hash，最后按 Hash 落位
func (s *Adapter) PutStream(ctx context.Context, r io.Reader) (types.ObjectID, int64, error) {
	tempFile, err := os.CreateTemp(s.rootPath, tempPattern)
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tempFile.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tempFile, h), r)
	if err == nil {
		err = tempFile.Sync()
	}
	tempFile.Close()
	if err != nil {
		return "", 0, fmt.Errorf("write stream: %w", err)
	}

	id := types.ObjectID(hex.EncodeToString(h.Sum(nil)))
	targetPath := s.Path(id)
	if _, err := os.Stat(targetPath); err == nil {
		return id, n, nil
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return "", 0, err
	}
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return "", 0, err
	}
	if err := syncDir(filepath.Dir(targetPath)); err != nil {
		return "", 0, err
	}
	return id, n, nil
}

func (s *Adapter) Get(ctx context.Context, id types.ObjectID) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, id types.ObjectID) (bool, error) {
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) Size(ctx context.Context, id types.ObjectID) (int64, error) {
	info, err := os.Stat(s.Path(id))
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *Adapter) Delete(ctx context.Context, id types.ObjectID) error {
	err := os.Remove(s.Path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", id.Short(), err)
	}
	return nil
}

// List 遍历两级目录结构，跳过临时文件
func (s *Adapter) List(ctx context.Context) ([]types.ObjectID, error) {
	shards, err := os.ReadDir(s.rootPath)
	if err != nil {
		return nil, fmt.Errorf("read object root: %w", err)
	}

	var ids []types.ObjectID
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := os.ReadDir(filepath.Join(s.rootPath, shard.Name()))
		if err != nil {
			return nil, fmt.Errorf("read shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			id := types.ObjectID(shard.Name() + f.Name())
			if f.IsDir() || !id.IsValid() {
				continue
			}
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ExpandHash 在对应的分片目录中按前缀查找
func (s *Adapter) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.ObjectID, error) {
	p := strings.ToLower(string(prefix))
	if len(p) < storage.MinPrefixLen {
		return "", fmt.Errorf("hash prefix %q too short (need at least %d chars)", p, storage.MinPrefixLen)
	}

	files, err := os.ReadDir(filepath.Join(s.rootPath, p[:2]))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: prefix %s", storage.ErrNotFound, p)
	}
	if err != nil {
		return "", err
	}

	var match types.ObjectID
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), p[2:]) {
			continue
		}
		id := types.ObjectID(p[:2] + f.Name())
		if !id.IsValid() {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %s matches %s and %s", storage.ErrAmbiguousHash, p, match.Short(), id.Short())
		}
		match = id
	}
	if match == "" {
		return "", fmt.Errorf("%w: prefix %s", storage.ErrNotFound, p)
	}
	return match, nil
}
