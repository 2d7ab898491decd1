package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"hive/pkg/types"
)

var ErrInvalidTree = errors.New("invalid tree")

type EntryType string

const (
	EntryBlob     EntryType = "blob"
	EntryTree     EntryType = "tree"
	EntryManifest EntryType = "manifest" // 值是序列化后的 ManifestKey 对象
)

func (t EntryType) valid() bool {
	return t == EntryBlob || t == EntryTree || t == EntryManifest
}

// TreeEntry 的身份是 (Name, Type)，同一个 Tree 内不能重复
type TreeEntry struct {
	Name string    `cbor:"n"`
	Type EntryType `cbor:"t"`
	Cid  Link      `cbor:"h"`
}

func compareEntries(a, b TreeEntry) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Type, b.Type)
}

type Tree struct {
	hash     types.ObjectID `cbor:"-"`
	rawBytes []byte         `cbor:"-"`

	TypeVal ObjectType  `cbor:"t"`
	Entries []TreeEntry `cbor:"e"`
}

// NewTree 创建一个新的目录树节点
// 条目按 (Name, Type) 排序后再计算 Hash，保证相同结构得到相同 ID
func NewTree(entries []TreeEntry) (*Tree, error) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, compareEntries)

	if err := validateEntries(sorted); err != nil {
		return nil, err
	}
	if sorted == nil {
		// 空目录也要有确定的编码: 空数组而不是 null
		sorted = []TreeEntry{}
	}

	t := &Tree{
		TypeVal: TypeTree,
		Entries: sorted,
	}
	h, b, err := CalculateHash(t)
	if err != nil {
		return nil, err
	}
	t.hash = h
	t.rawBytes = b
	return t, nil
}

// DecodeTree 从序列化数据还原 Tree
// ID 取实际内容的 Hash，调用方负责与期望的 ID 比对
func DecodeTree(data []byte) (*Tree, error) {
	var t Tree
	if err := DecodeObject(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	if t.TypeVal != TypeTree {
		return nil, fmt.Errorf("%w: object is not a tree, got: %q", ErrInvalidTree, t.TypeVal)
	}
	// 存储里的 Tree 可能来自别的 hive，条目名必须和 NewTree 一样严格校验
	sorted := slices.Clone(t.Entries)
	slices.SortFunc(sorted, compareEntries)
	if err := validateEntries(sorted); err != nil {
		return nil, err
	}
	t.hash = CalculateBlobHash(data)
	t.rawBytes = data
	return &t, nil
}

// validateEntries 要求 entries 已经按 (Name, Type) 排好序
func validateEntries(sorted []TreeEntry) error {
	for i, e := range sorted {
		if err := ValidateEntryName(e.Name); err != nil {
			return err
		}
		if !e.Type.valid() {
			return fmt.Errorf("%w: entry %q has unknown type %q", ErrInvalidTree, e.Name, e.Type)
		}
		if !e.Cid.Hash.IsValid() {
			return fmt.Errorf("%w: entry %q has invalid id %q", ErrInvalidTree, e.Name, e.Cid.Hash)
		}
		if i > 0 && compareEntries(sorted[i-1], e) == 0 {
			return fmt.Errorf("%w: duplicate entry %q (%s)", ErrInvalidTree, e.Name, e.Type)
		}
	}
	return nil
}

// ValidateEntryName 校验单个路径段
func ValidateEntryName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: illegal entry name %q", ErrInvalidTree, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: entry name %q contains a path separator", ErrInvalidTree, name)
	}
	return nil
}

// Lookup 按名字查找条目 (任意类型)
func (t *Tree) Lookup(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

func (t *Tree) Type() ObjectType   { return TypeTree }
func (t *Tree) ID() types.ObjectID { return t.hash }
func (t *Tree) Bytes() []byte      { return t.rawBytes }

// TreeBuilder 累积条目，最后一次性生成不可变的 Tree
type TreeBuilder struct {
	entries []TreeEntry
}

func NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{}
}

func (b *TreeBuilder) Add(name string, typ EntryType, id types.ObjectID) *TreeBuilder {
	b.entries = append(b.entries, TreeEntry{Name: name, Type: typ, Cid: NewLink(id)})
	return b
}

func (b *TreeBuilder) AddBlob(name string, id types.ObjectID) *TreeBuilder {
	return b.Add(name, EntryBlob, id)
}

func (b *TreeBuilder) AddTree(name string, id types.ObjectID) *TreeBuilder {
	return b.Add(name, EntryTree, id)
}

func (b *TreeBuilder) AddManifestRef(name string, id types.ObjectID) *TreeBuilder {
	return b.Add(name, EntryManifest, id)
}

func (b *TreeBuilder) Len() int { return len(b.entries) }

func (b *TreeBuilder) Build() (*Tree, error) {
	return NewTree(b.entries)
}
