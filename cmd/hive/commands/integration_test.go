package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hive/pkg/app"
	"hive/pkg/config"
	"hive/pkg/core"
	"hive/pkg/hive"
	"hive/pkg/scanner"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegrationEnv 用临时目录搭建一个真实的 hive，并注入全局变量 Hive
func setupIntegrationEnv(t *testing.T, root string) *app.App {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	viper.Set("hive.path", root)
	viper.Set("lock.max_retries", 5)
	t.Cleanup(viper.Reset)

	a, err := app.InitApp(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	// 因为 cmd 包依赖全局变量 Hive，我们在测试里临时覆盖它
	Hive = a
	t.Cleanup(func() { Hive = nil })
	return a
}

// run 直接调用 RunE，绕过配置加载
func run(cmd *cobra.Command, args ...string) error {
	cmd.SetContext(context.Background())
	return cmd.RunE(cmd, args)
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestIntegration_ImportExportFlow(t *testing.T) {
	tmp := t.TempDir()
	a := setupIntegrationEnv(t, filepath.Join(tmp, "hive"))
	ctx := context.Background()
	db := a.Hive.Manifests()

	src := filepath.Join(tmp, "src")
	writeTree(t, src, map[string]string{
		"bin/server":  "#!/bin/sh\necho serving\n",
		"config.yaml": "port: 8080\n",
		".env":        "SECRET=1\n", // 默认忽略
	})

	// 1. hive import src app -l env=prod  (两次，得到 app:1 和 app:2)
	importLabels = []string{"env=prod"}
	t.Cleanup(func() { importLabels = nil })
	require.NoError(t, run(importCmd, src, "app"))
	writeTree(t, src, map[string]string{"config.yaml": "port: 9090\n"})
	require.NoError(t, run(importCmd, src, "app"))

	keys, err := db.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []core.ManifestKey{core.NewManifestKey("app", "1"), core.NewManifestKey("app", "2")}, keys)

	m1, err := db.Get(ctx, core.NewManifestKey("app", "1"))
	require.NoError(t, err)
	env, _ := m1.Label("env")
	assert.Equal(t, "prod", env)

	// 2. ls / cat 不出错
	require.NoError(t, run(lsCmd))
	require.NoError(t, run(catCmd, "app:1"))
	require.NoError(t, run(catCmd, string(m1.RootID()[:8])))

	// 3. export app:1 还原出第一版内容
	out := filepath.Join(tmp, "out")
	require.NoError(t, run(exportCmd, "app:1", out))
	data, err := os.ReadFile(filepath.Join(out, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "port: 8080\n", string(data))
	assert.FileExists(t, filepath.Join(out, "bin", "server"))
	assert.NoFileExists(t, filepath.Join(out, ".env"))

	// 导出目标非空时拒绝
	assert.Error(t, run(exportCmd, "app", out))

	// 4. keep --last 1 删除 app:1
	keepLast = 1
	require.NoError(t, run(keepCmd, "app"))
	keys, err = db.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []core.ManifestKey{core.NewManifestKey("app", "2")}, keys)

	// 5. fsck 干净
	require.NoError(t, run(fsckCmd))

	// 6. rm + prune 回收所有对象
	require.NoError(t, run(rmCmd, "app:2"))
	require.NoError(t, run(pruneCmd))
	ids, err := a.Hive.Objects().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIntegration_PushPull(t *testing.T) {
	tmp := t.TempDir()
	ctx := context.Background()

	// 1. 源 hive 导入一个版本并写出传输文件
	setupIntegrationEnv(t, filepath.Join(tmp, "origin"))
	src := filepath.Join(tmp, "src")
	writeTree(t, src, map[string]string{"lib/a.so": "AAAA", "README": "hello"})
	require.NoError(t, run(importCmd, src, "svc/api:v1"))

	bundle := filepath.Join(tmp, "bundle.gz")
	require.NoError(t, run(pushCmd, bundle, "svc/api:v1"))
	assert.FileExists(t, bundle)

	// 2. 目标 hive 读入
	target := setupIntegrationEnv(t, filepath.Join(tmp, "target"))
	require.NoError(t, run(pullCmd, bundle))

	m, err := target.Hive.Manifests().Get(ctx, core.NewManifestKey("svc/api", "v1"))
	require.NoError(t, err)
	view, err := target.Hive.Scanner(scanner.Options{}).ScanManifest(ctx, m.Key)
	require.NoError(t, err)
	assert.Empty(t, view.Broken())

	// 3. 再读一次是幂等的
	require.NoError(t, run(pullCmd, bundle))
}

func TestIntegration_Copy(t *testing.T) {
	tmp := t.TempDir()
	ctx := context.Background()

	origin := filepath.Join(tmp, "origin")
	setupIntegrationEnv(t, origin)
	src := filepath.Join(tmp, "src")
	writeTree(t, src, map[string]string{"data.bin": "payload"})
	require.NoError(t, run(importCmd, src, "data"))
	require.NoError(t, Hive.Close())

	target := setupIntegrationEnv(t, filepath.Join(tmp, "target"))
	copyFrom = origin
	t.Cleanup(func() { copyFrom = "" })
	require.NoError(t, run(copyCmd, "data"))

	has, err := target.Hive.Manifests().Has(ctx, core.NewManifestKey("data", "1"))
	require.NoError(t, err)
	assert.True(t, has)

	// 目标 hive 必须是完整的
	require.NoError(t, run(fsckCmd))
}

func TestIntegration_NotHive(t *testing.T) {
	viper.Reset()
	config.SetDefaults()
	viper.Set("hive.path", filepath.Join(t.TempDir(), "missing"))
	t.Cleanup(viper.Reset)

	_, err := app.NewApp(context.Background())
	assert.ErrorIs(t, err, hive.ErrNotHive)
}
