package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "hive:\n  path: /srv/hive\nstorage:\n  type: s3\n  s3:\n    bucket: artifacts\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(yaml), 0644))
	t.Setenv("HIVE_STORAGE_S3_BUCKET", "from-env")

	require.NoError(t, Load(cfgFile))

	assert.Equal(t, "/srv/hive", viper.GetString("hive.path"))
	assert.Equal(t, "s3", viper.GetString("storage.type"))
	// 环境变量优先于配置文件
	assert.Equal(t, "from-env", viper.GetString("storage.s3.bucket"))
	// 没写的项走默认值
	assert.Equal(t, "disk", viper.GetString("manifests.type"))
	assert.Equal(t, 8, viper.GetInt("transfer.concurrency"))
}

func TestLoad_BadFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("hive: [unclosed"), 0644))

	assert.Error(t, Load(cfgFile))
}
