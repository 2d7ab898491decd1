package core

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"hive/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

// mockHash 生成一个合法的 32 字节 Hex 字符串 (64字符长度)
// 用于满足 Link 对 Hex 格式的要求
func mockHash(input string) types.ObjectID {
	sum := sha256.Sum256([]byte(input))
	return types.ObjectID(hex.EncodeToString(sum[:]))
}

// mustNewTree 创建 Tree，如果失败直接终止测试
func mustNewTree(t *testing.T, entries []TreeEntry, msgAndArgs ...any) *Tree {
	t.Helper()
	tree, err := NewTree(entries)
	require.NoError(t, err, msgAndArgs...)
	return tree
}

func mustNewManifest(t *testing.T, name, tag string, root types.ObjectID) *Manifest {
	t.Helper()
	m, err := NewManifestBuilder(NewManifestKey(name, tag)).SetRoot(root).Build()
	require.NoError(t, err)
	return m
}
