package transfer

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"hive/pkg/core"
	"hive/pkg/lock"
	"hive/pkg/operation"
	"hive/pkg/types"

	"github.com/klauspost/compress/gzip"
)

// 传输流格式 (gzip 压缩，所有整数为 8 字节大端):
//
//	[totalWork][manifestCount]{[len][manifest]}...[objectCount]{[len][object]}...
const (
	DefaultMaxObjectSize   = 1 << 30
	DefaultMaxManifestSize = 1 << 20
)

// Write 把 Manifest (展开引用) 和对象写入 Writer
// 返回的 Stats 中 Inserted 计数表示写出的条目数
type Write struct {
	Manifests []core.ManifestKey
	ObjectIDs []types.ObjectID
	Writer    io.Writer
}

func (w Write) Validate() error {
	if err := operation.Require(w.Writer != nil, "write needs a target stream"); err != nil {
		return err
	}
	return operation.Require(len(w.Manifests)+len(w.ObjectIDs) > 0, "nothing to write")
}

func (w Write) Run(ctx context.Context, env *operation.Env) (*Stats, error) {
	manifests, objects, err := collect(ctx, env, w.Manifests, false)
	if err != nil {
		return nil, err
	}
	objects.Add(w.ObjectIDs...)
	ids := objects.Sorted()

	total := int64(len(manifests) + len(ids))
	tracker := env.Track(ctx, "write", total)
	defer tracker.Done()

	zw := gzip.NewWriter(w.Writer)
	bw := bufio.NewWriter(zw)
	var cnt counters

	// 1. 头部
	if err := writeInt(bw, total); err != nil {
		return nil, err
	}

	// 2. Manifest
	if err := writeInt(bw, int64(len(manifests))); err != nil {
		return nil, err
	}
	for _, m := range manifests {
		if err := writeBlock(bw, m.Bytes()); err != nil {
			return nil, fmt.Errorf("write manifest %s: %w", m.Key, err)
		}
		cnt.manifestsInserted.Add(1)
		if err := tracker.Worked(1); err != nil {
			return nil, err
		}
	}

	// 3. 对象，先写长度再流式拷贝内容
	if err := writeInt(bw, int64(len(ids))); err != nil {
		return nil, err
	}
	for _, id := range ids {
		n, err := w.writeObject(ctx, env, bw, id)
		if err != nil {
			return nil, err
		}
		cnt.objectsInserted.Add(1)
		cnt.bytes.Add(n)
		if err := tracker.Worked(1); err != nil {
			return nil, err
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip stream: %w", err)
	}
	return cnt.stats(), nil
}

func (w Write) writeObject(ctx context.Context, env *operation.Env, out io.Writer, id types.ObjectID) (int64, error) {
	size, err := env.Objects.Size(ctx, id)
	if err != nil {
		return 0, err
	}
	rc, err := env.Objects.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if err := writeInt(out, size); err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, size))
	if err != nil {
		return 0, fmt.Errorf("write object %s: %w", id.Short(), err)
	}
	if n != size {
		return 0, fmt.Errorf("%w: object %s shrank from %d to %d bytes while writing", ErrCorrupt, id.Short(), size, n)
	}
	return n, nil
}

// Read 从 Reader 读取传输流并插入到执行它的 hive
//
// 顺序保证：对象先被标记再写入，全部对象写完才插入 Manifest，最后释放标记。
// 中途失败时不会有任何指向不完整对象集合的 Manifest 可见。
type Read struct {
	Reader io.Reader
	// MaxObjectSize 单个对象的上限，0 表示 DefaultMaxObjectSize
	MaxObjectSize int64
	// LockOptions 标记数据库根目录的锁参数
	LockOptions lock.Options
}

func (r Read) Validate() error {
	if err := operation.Require(r.Reader != nil, "read needs a source stream"); err != nil {
		return err
	}
	return operation.Require(r.MaxObjectSize >= 0, "max object size must not be negative")
}

func (r Read) Run(ctx context.Context, env *operation.Env) (stats *Stats, err error) {
	zr, err := gzip.NewReader(r.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	in := bufio.NewReader(zr)

	maxObject := r.MaxObjectSize
	if maxObject == 0 {
		maxObject = DefaultMaxObjectSize
	}

	// 1. 头部和 Manifest，先留在内存里
	total, err := readCount(in, "total work")
	if err != nil {
		return nil, err
	}
	tracker := env.Track(ctx, "read", total)
	defer tracker.Done()

	count, err := readCount(in, "manifest count")
	if err != nil {
		return nil, err
	}
	var manifests []*core.Manifest
	for i := int64(0); i < count; i++ {
		data, err := readBlock(in, DefaultMaxManifestSize)
		if err != nil {
			return nil, fmt.Errorf("manifest %d: %w", i, err)
		}
		m, err := core.DecodeManifest(data)
		if err != nil {
			return nil, fmt.Errorf("%w: manifest %d: %v", ErrCorrupt, i, err)
		}
		manifests = append(manifests, m)
		if err := tracker.Worked(1); err != nil {
			return nil, err
		}
	}

	// 2. 标记集合，最后释放
	set, release, err := openMarkers(ctx, env, r.LockOptions)
	if err != nil {
		return nil, err
	}
	defer release(&err)
	defer forgetRefs(env)

	// 3. 对象：先标记再写入
	count, err = readCount(in, "object count")
	if err != nil {
		return nil, err
	}
	var cnt counters
	for i := int64(0); i < count; i++ {
		data, err := readBlock(in, maxObject)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		id := core.CalculateBlobHash(data)
		if err := mark(set, id); err != nil {
			return nil, err
		}
		if err := insertObject(ctx, env.Objects, id, data, &cnt); err != nil {
			return nil, err
		}
		if err := tracker.Worked(1); err != nil {
			return nil, err
		}
	}

	// 4. Manifest
	for _, m := range manifests {
		if err := insertManifest(ctx, env.Manifests, m, &cnt); err != nil {
			return nil, err
		}
	}
	return cnt.stats(), nil
}

func writeInt(w io.Writer, v int64) error {
	return binary.Write(w, binary.BigEndian, v)
}

func writeBlock(w io.Writer, data []byte) error {
	if err := writeInt(w, int64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readInt(r io.Reader) (int64, error) {
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: truncated stream", ErrCorrupt)
		}
		return 0, err
	}
	return v, nil
}

func readCount(r io.Reader, what string) (int64, error) {
	v, err := readInt(r)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative %s %d", ErrCorrupt, what, v)
	}
	return v, nil
}

func readBlock(r io.Reader, limit int64) ([]byte, error) {
	n, err := readInt(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > limit {
		return nil, fmt.Errorf("%w: block length %d out of range (limit %d)", ErrCorrupt, n, limit)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated block: %v", ErrCorrupt, err)
	}
	return buf, nil
}
