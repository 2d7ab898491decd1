package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"hive/pkg/core"
	"hive/pkg/types"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrAmbiguousHash = errors.New("ambiguous hash prefix")
	// ErrCorrupt 对象内容与其 ID 不符 (重新计算 Hash 失败)
	ErrCorrupt = errors.New("object content does not match its id")
)

// MinPrefixLen 短哈希的最小长度
const MinPrefixLen = 4

// Store defines the interface for a content-addressed object backend.
// Implementations can be local disk, cloud storage, or a caching decorator.
type Store interface {
	// Put 将一个核心对象持久化
	// 幂等：对象已存在时不做任何写入。返回前内容必须已经完整落盘
	Put(ctx context.Context, obj core.Object) error

	// Get 根据 ID 读取原始数据，不存在时返回 ErrNotFound
	// 注意：这里返回的是 io.ReadCloser 而不是 []byte，大对象可以流式读取
	Get(ctx context.Context, id types.ObjectID) (io.ReadCloser, error)

	// Has 检查对象是否存在 (用于去重逻辑)
	Has(ctx context.Context, id types.ObjectID) (bool, error)

	// Size 返回对象的字节数，不存在时返回 ErrNotFound
	Size(ctx context.Context, id types.ObjectID) (int64, error)

	// Delete 物理删除对象，只有 prune 和 fsck 修复会调用
	// 删除一个不存在的对象不是错误
	Delete(ctx context.Context, id types.ObjectID) error

	// List 返回所有对象 ID，按字典序排列
	List(ctx context.Context) ([]types.ObjectID, error)

	// ExpandHash 将短哈希扩展为完整 ID
	ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.ObjectID, error)
}

// StreamPutter 是可选能力：边写边算 Hash，不需要把整个对象读进内存
type StreamPutter interface {
	PutStream(ctx context.Context, r io.Reader) (types.ObjectID, int64, error)
}

// Invalidator 是可选能力：清空进程内或外部的缓存
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// AddBytes 写入一段原始数据，返回其 ID
func AddBytes(ctx context.Context, s Store, data []byte) (types.ObjectID, error) {
	blob := core.NewBlob(data)
	if err := s.Put(ctx, blob); err != nil {
		return "", err
	}
	return blob.ID(), nil
}

// AddStream 写入一个数据流
// 后端支持 StreamPutter 时走流式路径，否则退化为整体读入
func AddStream(ctx context.Context, s Store, r io.Reader) (types.ObjectID, int64, error) {
	if sp, ok := s.(StreamPutter); ok {
		return sp.PutStream(ctx, r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("read stream: %w", err)
	}
	id, err := AddBytes(ctx, s, data)
	return id, int64(len(data)), err
}

// ReadAll 读取整个对象
func ReadAll(ctx context.Context, s Store, id types.ObjectID) ([]byte, error) {
	rc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read object %s: %w", id.Short(), err)
	}
	return buf.Bytes(), nil
}

// Verify 重新计算对象内容的 Hash 并与 ID 比对
// 不一致时返回包装了 ErrCorrupt 的错误，对象不存在时返回 ErrNotFound
func Verify(ctx context.Context, s Store, id types.ObjectID) error {
	rc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return fmt.Errorf("read object %s: %w", id.Short(), err)
	}
	actual := types.ObjectID(hex.EncodeToString(h.Sum(nil)))
	if actual != id {
		return fmt.Errorf("%w: expected %s, got %s", ErrCorrupt, id, actual)
	}
	return nil
}

// Invalidate 如果 Store 带缓存则清空，否则什么也不做
func Invalidate(ctx context.Context, s Store) error {
	if inv, ok := s.(Invalidator); ok {
		return inv.Invalidate(ctx)
	}
	return nil
}
