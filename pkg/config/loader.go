package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hive/pkg/lock"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	SetDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.hive -> ~/.hive
		viper.AddConfigPath(".")
		viper.AddConfigPath(".hive")
		viper.AddConfigPath(filepath.Join(home, ".hive"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (HIVE_DATABASE_HOST -> database.host)
	viper.SetEnvPrefix("HIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 只是没找到配置文件不算错，格式错误才算
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// SetDefaults 注册所有配置项的默认值
func SetDefaults() {
	// hive 根目录
	wd, _ := os.Getwd()
	viper.SetDefault("hive.path", filepath.Join(wd, ".hive"))

	// 对象库
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.s3.region", "us-east-1")

	// Redis 存在性缓存，redis_url 为空时不启用
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", "24h")
	// 为空时按对象库位置生成，多个 hive 共用一个 Redis 时互不干扰
	viper.SetDefault("cache.namespace", "")

	// Manifest 数据库
	viper.SetDefault("manifests.type", "disk")
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// 目录锁
	viper.SetDefault("lock.grace", lock.DefaultGracePeriod)
	viper.SetDefault("lock.retry_interval", lock.DefaultRetryInterval)
	viper.SetDefault("lock.max_retries", lock.DefaultMaxRetries)
	viper.SetDefault("lock.empty_in_grace", string(lock.EmptyValid))

	viper.SetDefault("transfer.concurrency", 8)
}
