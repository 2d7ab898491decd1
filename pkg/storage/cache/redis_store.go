package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/types"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
// 适合后端是 S3 这类每次 Head 都要走网络的场景
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client // Redis 客户端
	ttl     time.Duration // 缓存过期时间 (例如 24h)
	prefix  string        // hive:<namespace hash>:obj:
}

var (
	_ storage.Store        = (*CachedStore)(nil)
	_ storage.StreamPutter = (*CachedStore)(nil)
	_ storage.Invalidator  = (*CachedStore)(nil)
)

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	// Namespace 区分共用同一个 Redis 的不同对象库 (例如 bucket/prefix 或本地目录)
	Namespace string
}

// keyPrefix 把 Namespace 哈希成固定长度，Key 里不会出现 SCAN 的通配符
func keyPrefix(namespace string) string {
	sum := sha256.Sum256([]byte(namespace))
	return "hive:" + hex.EncodeToString(sum[:8]) + ":obj:"
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		prefix:  keyPrefix(cfg.Namespace),
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(id types.ObjectID) string {
	return s.prefix + string(id)
}

func (s *CachedStore) mark(ctx context.Context, id types.ObjectID) {
	if err := s.client.Set(ctx, s.cacheKey(id), "1", s.ttl).Err(); err != nil {
		slog.Warn("redis cache fill failed", "id", id.Short(), "error", err)
	}
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, id types.ObjectID) (bool, error) {
	// 1. 查 Redis，Exists 返回 1 表示存在
	val, err := s.client.Exists(ctx, s.cacheKey(id)).Result()
	if err != nil {
		// 缓存故障降级：退化为无缓存模式，直接查底层
		slog.Warn("redis unavailable, falling back to backend", "error", err)
	} else if val > 0 {
		return true, nil
	}

	// 2. 缓存未命中，查底层存储
	found, err := s.backend.Has(ctx, id)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (同步写入)
	if found {
		s.mark(ctx, id)
	}
	return found, nil
}

// Put 利用 Has 的缓存能力进行预检
func (s *CachedStore) Put(ctx context.Context, obj core.Object) error {
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// 只有底层写入成功了，才写 Redis
	if err := s.backend.Put(ctx, obj); err != nil {
		return err
	}
	s.mark(ctx, obj.ID())
	return nil
}

func (s *CachedStore) PutStream(ctx context.Context, r io.Reader) (types.ObjectID, int64, error) {
	id, n, err := storage.AddStream(ctx, s.backend, r)
	if err != nil {
		return "", 0, err
	}
	s.mark(ctx, id)
	return id, n, nil
}

// Get 透传，不缓存数据本身
func (s *CachedStore) Get(ctx context.Context, id types.ObjectID) (io.ReadCloser, error) {
	return s.backend.Get(ctx, id)
}

func (s *CachedStore) Size(ctx context.Context, id types.ObjectID) (int64, error) {
	return s.backend.Size(ctx, id)
}

// Delete 先删缓存再删底层
func (s *CachedStore) Delete(ctx context.Context, id types.ObjectID) error {
	if err := s.client.Del(ctx, s.cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return s.backend.Delete(ctx, id)
}

func (s *CachedStore) List(ctx context.Context) ([]types.ObjectID, error) {
	return s.backend.List(ctx)
}

// ExpandHash 透传
func (s *CachedStore) ExpandHash(ctx context.Context, short types.HashPrefix) (types.ObjectID, error) {
	return s.backend.ExpandHash(ctx, short)
}

// Invalidate 用 SCAN 分批删除本 Namespace 下的所有 Key
func (s *CachedStore) Invalidate(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis invalidate: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis invalidate: %w", err)
		}
	}
	return storage.Invalidate(ctx, s.backend)
}

// Close 关闭 Redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}
