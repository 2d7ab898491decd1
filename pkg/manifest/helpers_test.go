package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"hive/pkg/core"
	"hive/pkg/types"

	"github.com/stretchr/testify/require"
)

func mockHash(input string) types.ObjectID {
	sum := sha256.Sum256([]byte(input))
	return types.ObjectID(hex.EncodeToString(sum[:]))
}

func mustManifest(t *testing.T, name, tag string, labels ...string) *core.Manifest {
	t.Helper()
	b := core.NewManifestBuilder(core.NewManifestKey(name, tag)).SetRoot(mockHash(name + ":" + tag))
	for i := 0; i+1 < len(labels); i += 2 {
		b.AddLabel(labels[i], labels[i+1])
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func mustAdd(t *testing.T, db Database, name, tag string) *core.Manifest {
	t.Helper()
	m := mustManifest(t, name, tag)
	require.NoError(t, db.Add(context.Background(), m, AddOptions{}))
	return m
}

func newTestDiskDB(t *testing.T) *DiskDB {
	t.Helper()
	db, err := NewDiskDB(t.TempDir())
	require.NoError(t, err)
	return db
}

func key(name, tag string) core.ManifestKey { return core.NewManifestKey(name, tag) }
