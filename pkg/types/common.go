// pkg/types/common.go
package types

import (
	"encoding/hex"
	"slices"
)

// ObjectID 代表对象的唯一标识符 (SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。字符串比较即为全序，可直接用作 map key 和排序依据。
type ObjectID string

func (h ObjectID) String() string { return string(h) }

// 验证 Hash 合法性
func (h ObjectID) IsZero() bool { return h == "" }
func (h ObjectID) IsValid() bool {
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// Short 返回前 8 位，用于日志和 CLI 输出
func (h ObjectID) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

// Compare 提供确定性的迭代顺序
func (h ObjectID) Compare(o ObjectID) int {
	switch {
	case h < o:
		return -1
	case h > o:
		return 1
	}
	return 0
}

// ObjectSet 是 ObjectID 的集合
type ObjectSet map[ObjectID]struct{}

func NewObjectSet(ids ...ObjectID) ObjectSet {
	s := make(ObjectSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s ObjectSet) Add(ids ...ObjectID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s ObjectSet) Has(id ObjectID) bool {
	_, ok := s[id]
	return ok
}

// AddAll 合并另一个集合
func (s ObjectSet) AddAll(o ObjectSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

// Sorted 返回排好序的切片 (确定性迭代)
func (s ObjectSet) Sorted() []ObjectID {
	out := make([]ObjectID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type HashPrefix string

func (p HashPrefix) String() string { return string(p) }
