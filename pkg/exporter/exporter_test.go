package exporter

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"hive/pkg/core"
	"hive/pkg/hivetest"
	"hive/pkg/ingester"
	"hive/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportAndExport_RoundTrip(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	// 1. 准备源目录
	src := t.TempDir()
	files := map[string]string{
		"a.txt":             "hi",
		"bin/app":           "#!/bin/sh\necho app\n",
		"etc/app/conf.yaml": "port: 8080\n",
	}
	for name, content := range files {
		path := filepath.Join(src, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(src, "empty"), 0755))

	// 2. 导入再导出
	root, err := ingester.NewIngester(f.Objects).ImportTree(ctx, src, false)
	require.NoError(t, err)

	var restored []string
	target := filepath.Join(t.TempDir(), "out")
	exp := NewExporter(f.Objects).OnRestore(func(path string, id types.ObjectID, size int64) {
		restored = append(restored, path)
	})
	require.NoError(t, exp.ExportTree(ctx, root, target, nil))

	// 3. 逐个比对
	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(target, name))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
	assert.DirExists(t, filepath.Join(target, "empty"))
	assert.Len(t, restored, len(files))

	// 4. 目标非空时拒绝
	err = exp.ExportTree(ctx, root, target, nil)
	assert.ErrorIs(t, err, ErrTargetNotEmpty)
}

func TestExportTree_References(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	lib := f.Blob("shared lib")
	libRoot := f.Tree(hivetest.File("lib.so", lib))
	f.Manifest("lib", "1", libRoot)

	ref := f.Ref("lib", "1")
	appRoot := f.Tree(hivetest.File("main", f.Blob("main")), hivetest.RefEntry("deps", ref))

	exp := NewExporter(f.Objects)

	// 1. 没有处理器时跳过引用
	plain := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, exp.ExportTree(ctx, appRoot, plain, nil))
	assert.FileExists(t, filepath.Join(plain, "main"))
	assert.NoDirExists(t, filepath.Join(plain, "deps"))

	// 2. 处理器收到引用的路径和 Key
	var seen []core.ManifestKey
	collect := filepath.Join(t.TempDir(), "collect")
	require.NoError(t, exp.ExportTree(ctx, appRoot, collect, func(ctx context.Context, path string, key core.ManifestKey) error {
		assert.Equal(t, filepath.Join(collect, "deps"), path)
		seen = append(seen, key)
		return nil
	}))
	assert.Equal(t, []core.ManifestKey{hivetest.Key("lib", "1")}, seen)

	// 3. 递归导出被引用的 Manifest
	nested := filepath.Join(t.TempDir(), "nested")
	require.NoError(t, exp.ExportTree(ctx, appRoot, nested, exp.Nested(f.Manifests)))
	data, err := os.ReadFile(filepath.Join(nested, "deps", "lib.so"))
	require.NoError(t, err)
	assert.Equal(t, "shared lib", string(data))
}

func TestExportTree_RejectsEscapingNames(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	evil := f.RawTree(hivetest.File("../escaped.txt", f.Blob("pwned")))

	base := t.TempDir()
	err := NewExporter(f.Objects).ExportTree(ctx, evil, filepath.Join(base, "out"), nil)
	assert.ErrorIs(t, err, core.ErrInvalidTree)
	assert.NoFileExists(t, filepath.Join(base, "escaped.txt"))
}

func TestExportTree_NestedCycle(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	// a:1 -> b:1 -> a:1
	f.Manifest("a", "1", f.Tree(hivetest.RefEntry("b", f.Ref("b", "1"))))
	f.Manifest("b", "1", f.Tree(hivetest.RefEntry("a", f.Ref("a", "1"))))

	m, err := f.Manifests.Get(ctx, hivetest.Key("a", "1"))
	require.NoError(t, err)

	exp := NewExporter(f.Objects)
	err = exp.ExportTree(ctx, m.RootID(), filepath.Join(t.TempDir(), "out"), exp.Nested(f.Manifests))
	assert.ErrorIs(t, err, ErrReferenceCycle)
}

func TestExportTree_NestedSharedReference(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	// 同一个 Manifest 被引用两次不是环
	f.Manifest("lib", "1", f.Tree(hivetest.File("lib.so", f.Blob("lib"))))
	ref := f.Ref("lib", "1")
	root := f.Tree(hivetest.RefEntry("x", ref), hivetest.RefEntry("y", ref))

	exp := NewExporter(f.Objects)
	target := filepath.Join(t.TempDir(), "out")
	require.NoError(t, exp.ExportTree(ctx, root, target, exp.Nested(f.Manifests)))
	assert.FileExists(t, filepath.Join(target, "x", "lib.so"))
	assert.FileExists(t, filepath.Join(target, "y", "lib.so"))
}

func TestPrintObject(t *testing.T) {
	f := hivetest.New(t)
	ctx := context.Background()

	blob := f.Blob("hello print")
	ref := f.Ref("lib", "7")
	tree := f.Tree(hivetest.File("hello.txt", blob), hivetest.RefEntry("lib", ref))
	var buf bytes.Buffer

	// Case 1: Tree
	require.NoError(t, PrintObject(ctx, f.Objects, tree, &buf))
	assert.Contains(t, buf.String(), "Type: Tree")
	assert.Contains(t, buf.String(), "hello.txt")
	assert.Contains(t, buf.String(), blob.Short())

	// Case 2: Manifest 引用
	buf.Reset()
	require.NoError(t, PrintObject(ctx, f.Objects, ref, &buf))
	assert.Contains(t, buf.String(), "Manifest Reference")
	assert.Contains(t, buf.String(), "lib:7")

	// Case 3: Blob
	buf.Reset()
	require.NoError(t, PrintObject(ctx, f.Objects, blob, &buf))
	assert.Contains(t, buf.String(), "Type: Blob")
	assert.Contains(t, buf.String(), "11 bytes")

	// Case 4: Manifest
	buf.Reset()
	m := hivetest.BuildManifest(t, "app", "3", tree, "owner", "ops", "env", "prod")
	PrintManifest(m, &buf)
	assert.Contains(t, buf.String(), "app:3")
	assert.Contains(t, buf.String(), "owner")
	assert.Equal(t, "env=prod owner=ops", LabelLine(m))
}
