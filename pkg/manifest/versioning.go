package manifest

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"hive/pkg/core"
)

// numericTag 解析纯数字的 tag
func numericTag(tag string) (int64, bool) {
	n, err := strconv.ParseInt(tag, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NextTag 返回 name 下最大数字 tag + 1，没有数字 tag 时返回 "1"
func NextTag(ctx context.Context, db Database, name string) (string, error) {
	keys, err := db.ListForName(ctx, name)
	if err != nil {
		return "", err
	}
	var highest int64
	for _, k := range keys {
		if n, ok := numericTag(k.Tag); ok && n > highest {
			highest = n
		}
	}
	return strconv.FormatInt(highest+1, 10), nil
}

// CompareTags 数字 tag 之间按数值比较，并且排在非数字 tag 之后；其余按字典序
func CompareTags(a, b string) int {
	na, aok := numericTag(a)
	nb, bok := numericTag(b)
	switch {
	case aok && bok:
		if c := cmp.Compare(na, nb); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	case aok:
		return 1
	case bok:
		return -1
	default:
		return cmp.Compare(a, b)
	}
}

// Latest 返回 name 下"最新"的 Key
func Latest(ctx context.Context, db Database, name string) (core.ManifestKey, error) {
	keys, err := db.ListForName(ctx, name)
	if err != nil {
		return core.ManifestKey{}, err
	}
	if len(keys) == 0 {
		return core.ManifestKey{}, fmt.Errorf("%w: no manifest named %s", ErrNotFound, name)
	}
	return slices.MaxFunc(keys, func(a, b core.ManifestKey) int {
		return CompareTags(a.Tag, b.Tag)
	}), nil
}

// KeepLast 按数字 tag 分组，只保留最大的 n 个版本，返回被删除的 Key
// 多个 Key 映射到同一个数字 (例如 "1" 和 "01") 时跳过并告警；非数字 tag 不受影响
func KeepLast(ctx context.Context, db Database, name string, n int) ([]core.ManifestKey, error) {
	if n < 0 {
		return nil, fmt.Errorf("keep count must not be negative, got %d", n)
	}
	keys, err := db.ListForName(ctx, name)
	if err != nil {
		return nil, err
	}

	groups := make(map[int64][]core.ManifestKey)
	for _, k := range keys {
		if v, ok := numericTag(k.Tag); ok {
			groups[v] = append(groups[v], k)
		}
	}

	versions := make([]int64, 0, len(groups))
	for v, ks := range groups {
		if len(ks) > 1 {
			slog.Warn("skipping ambiguous version", "name", name, "version", v, "keys", len(ks))
			continue
		}
		versions = append(versions, v)
	}
	slices.Sort(versions)
	slices.Reverse(versions)
	if len(versions) <= n {
		return nil, nil
	}

	var removed []core.ManifestKey
	for _, v := range versions[n:] {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		k := groups[v][0]
		if err := db.Remove(ctx, k); err != nil {
			return removed, fmt.Errorf("remove %s: %w", k, err)
		}
		removed = append(removed, k)
	}
	return core.SortKeys(removed), nil
}
