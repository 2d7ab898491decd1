package commands

import (
	"context"
	"fmt"
	"strings"

	"hive/pkg/core"
	"hive/pkg/manifest"
	"hive/pkg/types"

	"github.com/dustin/go-humanize"
)

// resolveKey 接受 "name:tag" 或只有 name (取最新版本)
func resolveKey(ctx context.Context, db manifest.Database, s string) (core.ManifestKey, error) {
	if strings.Contains(s, ":") {
		return core.ParseManifestKey(s)
	}
	return manifest.Latest(ctx, db, s)
}

func resolveKeys(ctx context.Context, db manifest.Database, args []string) ([]core.ManifestKey, error) {
	keys := make([]core.ManifestKey, 0, len(args))
	for _, arg := range args {
		k, err := resolveKey(ctx, db, arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// resolveObject 把短哈希扩展成完整 ID
func resolveObject(ctx context.Context, s string) (types.ObjectID, error) {
	return Hive.Hive.Objects().ExpandHash(ctx, types.HashPrefix(s))
}

// parseLabels 解析 --label key=value
func parseLabels(pairs []string) (map[string]string, error) {
	labels := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q (want key=value)", p)
		}
		labels[k] = v
	}
	return labels, nil
}

func formatBytes(n int64) string {
	return humanize.IBytes(uint64(n))
}
