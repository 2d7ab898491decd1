// pkg/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"hive/pkg/hive"
	"hive/pkg/lock"
	"hive/pkg/manifest"
	"hive/pkg/meta"
	"hive/pkg/operation"
	"hive/pkg/storage"
	"hive/pkg/storage/cache"
	"hive/pkg/storage/disk"
	"hive/pkg/storage/s3"

	"github.com/spf13/viper"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它按照 Viper 的配置组装 Hive，但不知道具体的 CLI 命令
type App struct {
	Hive        *hive.Hive
	Concurrency int
}

// NewApp 打开一个已经初始化的 hive
func NewApp(ctx context.Context) (*App, error) {
	return build(ctx, hive.Open)
}

// InitApp 创建 hive 的目录结构后再打开
func InitApp(ctx context.Context) (*App, error) {
	return build(ctx, hive.Init)
}

func (a *App) Close() error {
	return a.Hive.Close()
}

func build(ctx context.Context, open func(string, hive.Options) (*hive.Hive, error)) (*App, error) {
	// 1. 获取 hive 根路径 (Single Source of Truth)
	root := viper.GetString("hive.path")
	if root == "" {
		return nil, fmt.Errorf("hive path not set")
	}

	opts, err := Options(ctx, root)
	if err != nil {
		return nil, err
	}

	h, err := open(root, opts)
	if err != nil {
		closeAll(opts.Closers)
		return nil, err
	}
	return &App{
		Hive:        h,
		Concurrency: viper.GetInt("transfer.concurrency"),
	}, nil
}

// Options 把配置翻译成 hive.Options
func Options(ctx context.Context, root string) (hive.Options, error) {
	var opts hive.Options

	lockOpts, err := lockOptions()
	if err != nil {
		return opts, err
	}
	opts.Lock = lockOpts
	opts.Activity = operation.LogActivity{}

	// 1. 对象库
	store, err := initStore(ctx, root)
	if err != nil {
		return opts, fmt.Errorf("failed to init storage: %w", err)
	}
	opts.Objects = store
	if c, ok := store.(io.Closer); ok {
		opts.Closers = append(opts.Closers, c)
	}

	// 2. Manifest 数据库
	db, closer, err := initManifests(ctx, root)
	if err != nil {
		closeAll(opts.Closers)
		return opts, fmt.Errorf("failed to init manifest database: %w", err)
	}
	opts.Manifests = db
	if closer != nil {
		opts.Closers = append(opts.Closers, closer)
	}
	return opts, nil
}

// initStore 根据 storage.type 选择后端
// 配置了 cache.redis_url 时在外面再套一层 Redis 存在性缓存
func initStore(ctx context.Context, root string) (storage.Store, error) {
	var (
		backend   storage.Store
		namespace string // 共用 Redis 时区分不同的对象库
	)

	switch typ := viper.GetString("storage.type"); typ {
	case "", "disk":
		dir, err := filepath.Abs(filepath.Join(root, hive.ObjectsDir))
		if err != nil {
			return nil, err
		}
		adapter, err := disk.NewAdapter(dir)
		if err != nil {
			return nil, err
		}
		backend = adapter
		namespace = "file://" + dir
	case "s3":
		cfg := s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			Prefix:          viper.GetString("storage.s3.prefix"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required (storage.s3.bucket)")
		}
		adapter, err := s3.NewAdapter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = adapter
		namespace = fmt.Sprintf("s3://%s/%s/%s", cfg.Endpoint, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}

	if url := viper.GetString("cache.redis_url"); url != "" {
		if ns := viper.GetString("cache.namespace"); ns != "" {
			namespace = ns
		}
		return cache.NewCachedStore(backend, cache.Config{
			RedisURL:  url,
			TTL:       viper.GetDuration("cache.ttl"),
			Namespace: namespace,
		})
	}
	return cache.NewMemoStore(backend), nil
}

// initManifests 根据 manifests.type 选择 Manifest 数据库
// 返回的 io.Closer 可能为 nil
func initManifests(ctx context.Context, root string) (manifest.Database, io.Closer, error) {
	switch typ := viper.GetString("manifests.type"); typ {
	case "", "disk":
		db, err := manifest.NewDiskDB(filepath.Join(root, hive.ManifestsDir))
		if err != nil {
			return nil, nil, err
		}
		return manifest.NewCachedDB(db), nil, nil
	case "sql":
		cfg := meta.Config{
			Driver:   viper.GetString("database.driver"),
			Path:     viper.GetString("database.path"),
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		}
		if cfg.Driver == "" || cfg.Driver == "sqlite" {
			// sqlite 默认和 hive 放在一起
			if cfg.Path == "" {
				cfg.Path = filepath.Join(root, "manifests.db")
			}
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
				return nil, nil, err
			}
		}
		sqlDB, err := meta.NewDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return manifest.NewCachedDB(meta.NewRepository(sqlDB)), sqlDB, nil
	default:
		return nil, nil, fmt.Errorf("unsupported manifest database type %q", typ)
	}
}

func lockOptions() (lock.Options, error) {
	policy, err := lock.ParseEmptyPolicy(viper.GetString("lock.empty_in_grace"))
	if err != nil {
		return lock.Options{}, err
	}
	opts := lock.ProcessOptions()
	opts.GracePeriod = viper.GetDuration("lock.grace")
	opts.RetryInterval = viper.GetDuration("lock.retry_interval")
	opts.MaxRetries = viper.GetInt("lock.max_retries")
	opts.EmptyInGrace = policy
	return opts, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
