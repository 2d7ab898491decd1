package core

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"hive/pkg/types"
)

var ErrInvalidManifest = errors.New("invalid manifest")

// ManifestKey 唯一标识一个 Manifest: (Name, Tag)
// Name 是以 '/' 分隔的层级路径，用于分层列举和过滤
type ManifestKey struct {
	Name string `cbor:"n"`
	Tag  string `cbor:"t"`
}

func NewManifestKey(name, tag string) ManifestKey {
	return ManifestKey{Name: name, Tag: tag}
}

// ParseManifestKey 解析 "name:tag" 形式的字符串，以最后一个 ':' 为界
func ParseManifestKey(s string) (ManifestKey, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return ManifestKey{}, fmt.Errorf("%w: key %q must be in the form name:tag", ErrInvalidManifest, s)
	}
	k := ManifestKey{Name: s[:i], Tag: s[i+1:]}
	return k, k.Validate()
}

func (k ManifestKey) String() string { return k.Name + ":" + k.Tag }

func (k ManifestKey) Validate() error {
	if k.Name == "" || k.Tag == "" {
		return fmt.Errorf("%w: name and tag are required (got %q)", ErrInvalidManifest, k.String())
	}
	for seg := range strings.SplitSeq(k.Name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: illegal name segment in %q", ErrInvalidManifest, k.Name)
		}
	}
	if strings.ContainsAny(k.Tag, "/\\\x00") || k.Tag == "." || k.Tag == ".." {
		return fmt.Errorf("%w: illegal tag %q", ErrInvalidManifest, k.Tag)
	}
	return nil
}

// CompareKeys 先按 Name 再按 Tag 的字典序
func CompareKeys(a, b ManifestKey) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Tag, b.Tag)
}

// SortKeys 原地排序，返回同一个切片方便链式调用
func SortKeys(keys []ManifestKey) []ManifestKey {
	slices.SortFunc(keys, CompareKeys)
	return keys
}

// -----------------------------------------------------------------------------
// ManifestRef: Tree 中指向其他 Manifest 的条目所引用的对象
// -----------------------------------------------------------------------------

type ManifestRef struct {
	hash     types.ObjectID `cbor:"-"`
	rawBytes []byte         `cbor:"-"`

	TypeVal ObjectType  `cbor:"t"`
	Key     ManifestKey `cbor:"k"`
}

func NewManifestRef(key ManifestKey) (*ManifestRef, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	r := &ManifestRef{TypeVal: TypeManifestRef, Key: key}
	h, b, err := CalculateHash(r)
	if err != nil {
		return nil, err
	}
	r.hash = h
	r.rawBytes = b
	return r, nil
}

func DecodeManifestRef(data []byte) (*ManifestRef, error) {
	var r ManifestRef
	if err := DecodeObject(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if r.TypeVal != TypeManifestRef {
		return nil, fmt.Errorf("%w: object is not a manifest reference, got: %q", ErrInvalidManifest, r.TypeVal)
	}
	r.hash = CalculateBlobHash(data)
	r.rawBytes = data
	return &r, nil
}

func (r *ManifestRef) Type() ObjectType   { return TypeManifestRef }
func (r *ManifestRef) ID() types.ObjectID { return r.hash }
func (r *ManifestRef) Bytes() []byte      { return r.rawBytes }

// -----------------------------------------------------------------------------
// Manifest
// -----------------------------------------------------------------------------

// Manifest 是一个命名、打了标签、不可变的根 Tree 指针
type Manifest struct {
	hash     types.ObjectID `cbor:"-"`
	rawBytes []byte         `cbor:"-"`

	TypeVal ObjectType        `cbor:"t"`
	Key     ManifestKey       `cbor:"k"`
	Root    Link              `cbor:"r"`
	Labels  map[string]string `cbor:"l,omitempty"`
}

func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := DecodeObject(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.TypeVal != TypeManifest {
		return nil, fmt.Errorf("%w: object is not a manifest, got: %q", ErrInvalidManifest, m.TypeVal)
	}
	if err := m.Key.Validate(); err != nil {
		return nil, err
	}
	m.hash = CalculateBlobHash(data)
	m.rawBytes = data
	return &m, nil
}

func (m *Manifest) Type() ObjectType   { return TypeManifest }
func (m *Manifest) ID() types.ObjectID { return m.hash }
func (m *Manifest) Bytes() []byte      { return m.rawBytes }

// RootID 根 Tree 的 ID
func (m *Manifest) RootID() types.ObjectID { return m.Root.Hash }

// Label 读取单个标签
func (m *Manifest) Label(name string) (string, bool) {
	v, ok := m.Labels[name]
	return v, ok
}

// LabelNames 返回排好序的标签名
func (m *Manifest) LabelNames() []string {
	return slices.Sorted(maps.Keys(m.Labels))
}

// ManifestBuilder 累积根 Tree 和标签，Build 之后得到不可变的 Manifest
type ManifestBuilder struct {
	key    ManifestKey
	root   types.ObjectID
	labels map[string]string
}

func NewManifestBuilder(key ManifestKey) *ManifestBuilder {
	return &ManifestBuilder{key: key, labels: make(map[string]string)}
}

func (b *ManifestBuilder) SetRoot(root types.ObjectID) *ManifestBuilder {
	b.root = root
	return b
}

func (b *ManifestBuilder) AddLabel(name, value string) *ManifestBuilder {
	b.labels[name] = value
	return b
}

func (b *ManifestBuilder) Build() (*Manifest, error) {
	if err := b.key.Validate(); err != nil {
		return nil, err
	}
	if !b.root.IsValid() {
		return nil, fmt.Errorf("%w: manifest %s has no valid root tree", ErrInvalidManifest, b.key)
	}

	m := &Manifest{
		TypeVal: TypeManifest,
		Key:     b.key,
		Root:    NewLink(b.root),
	}
	if len(b.labels) > 0 {
		m.Labels = maps.Clone(b.labels)
	}

	h, data, err := CalculateHash(m)
	if err != nil {
		return nil, err
	}
	m.hash = h
	m.rawBytes = data
	return m, nil
}
