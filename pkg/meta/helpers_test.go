package meta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"hive/pkg/core"
	"hive/pkg/manifest"
	"hive/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// mockHash 生成合法的测试用 Hash
func mockHash(input string) types.ObjectID {
	sum := sha256.Sum256([]byte(input))
	return types.ObjectID(hex.EncodeToString(sum[:]))
}

// mustNewManifest 创建 Manifest，labels 按 k, v, k, v 传入
func mustNewManifest(t *testing.T, name, tag string, root types.ObjectID, labels ...string) *core.Manifest {
	t.Helper()
	b := core.NewManifestBuilder(core.NewManifestKey(name, tag)).SetRoot(root)
	for i := 0; i+1 < len(labels); i += 2 {
		b.AddLabel(labels[i], labels[i+1])
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

// mustAdd 插入 Manifest，失败则终止
func mustAdd(t *testing.T, repo *Repository, m *core.Manifest, msgAndArgs ...any) {
	t.Helper()
	err := repo.Add(context.Background(), m, manifest.AddOptions{})
	require.NoError(t, err, msgAndArgs...)
}
