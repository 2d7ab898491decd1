package scanner

import (
	"path"
	"slices"
	"strings"

	"hive/pkg/core"
	"hive/pkg/types"
)

// Kind 视图节点的类型
type Kind int

const (
	KindBlob Kind = iota
	KindTree
	KindManifestRef
	KindMissing // 对象不在库里
	KindDamaged // 对象在库里，但内容校验失败或无法解码
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindManifestRef:
		return "manifest-ref"
	case KindMissing:
		return "missing"
	case KindDamaged:
		return "damaged"
	default:
		return "unknown"
	}
}

// Element 是 TreeView 中的一个节点，只存在于内存中
type Element struct {
	Kind Kind
	Name string
	Path string // 逻辑路径，根节点为 ""
	ID   types.ObjectID

	// Entry 该节点在父 Tree 中声明的类型 (根节点为空)
	Entry core.EntryType

	// Ref 引用的目标 Key (仅对 Manifest 引用有效)
	Ref *core.ManifestKey
	// Root 被跟随的引用所指 Manifest 的根 Tree
	Root *Element
	// Children Tree 的子节点，按 Tree 中的顺序
	Children []*Element
	// Expanded Tree 是否被展开 (超出 MaxDepth 的子树不展开)
	Expanded bool

	// Context 附加的诊断信息 (例如丢失根 Tree 的 Manifest Key)
	Context string
}

// Broken 节点本身是否损坏
func (e *Element) Broken() bool {
	return e.Kind == KindMissing || e.Kind == KindDamaged
}

// TreeView 一次扫描的结果
type TreeView struct {
	Root *Element
	// Manifest 从 Manifest 开始扫描时记录其 Key
	Manifest *core.ManifestKey
}

// Visitor 深度优先遍历的回调，nil 表示不关心
// Tree 和 ManifestRef 返回 false 时不再深入该子树
type Visitor struct {
	Blob        func(*Element)
	Tree        func(*Element) bool
	ManifestRef func(*Element) bool
	Missing     func(*Element)
	Damaged     func(*Element)
}

// Walk 深度优先遍历整个视图
func (v *TreeView) Walk(vis Visitor) {
	if v == nil || v.Root == nil {
		return
	}
	walk(v.Root, vis)
}

func walk(e *Element, vis Visitor) {
	switch e.Kind {
	case KindBlob:
		if vis.Blob != nil {
			vis.Blob(e)
		}
	case KindMissing:
		if vis.Missing != nil {
			vis.Missing(e)
		}
	case KindDamaged:
		if vis.Damaged != nil {
			vis.Damaged(e)
		}
	case KindTree:
		if vis.Tree != nil && !vis.Tree(e) {
			return
		}
		for _, c := range e.Children {
			walk(c, vis)
		}
	case KindManifestRef:
		if vis.ManifestRef != nil && !vis.ManifestRef(e) {
			return
		}
		if e.Root != nil {
			walk(e.Root, vis)
		}
	}
}

// Broken 返回所有丢失或损坏的节点
func (v *TreeView) Broken() []*Element {
	var out []*Element
	collect := func(e *Element) { out = append(out, e) }
	v.Walk(Visitor{Missing: collect, Damaged: collect})
	return out
}

// Missing 只返回丢失的节点
func (v *TreeView) Missing() []*Element {
	var out []*Element
	v.Walk(Visitor{Missing: func(e *Element) { out = append(out, e) }})
	return out
}

// Objects 返回视图引用到的所有对象 ID (包括丢失和损坏的)
func (v *TreeView) Objects() types.ObjectSet {
	set := types.NewObjectSet()
	add := func(e *Element) {
		if e.ID != "" {
			set.Add(e.ID)
		}
	}
	v.Walk(Visitor{
		Blob:        add,
		Tree:        func(e *Element) bool { add(e); return true },
		ManifestRef: func(e *Element) bool { add(e); return true },
		Missing:     add,
		Damaged:     add,
	})
	return set
}

// References 返回视图中出现的所有 Manifest 引用，去重并排序
func (v *TreeView) References() []core.ManifestKey {
	seen := make(map[core.ManifestKey]struct{})
	add := func(e *Element) {
		if e.Ref != nil {
			seen[*e.Ref] = struct{}{}
		}
	}
	v.Walk(Visitor{
		ManifestRef: func(e *Element) bool { add(e); return true },
		Missing:     add,
		Damaged:     add,
	})
	keys := make([]core.ManifestKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return core.SortKeys(keys)
}

// Find 按逻辑路径查找节点，路径分隔符为 '/'
// 同名的 Blob 和 Tree 并存时优先返回 Tree
func (v *TreeView) Find(p string) *Element {
	if v == nil || v.Root == nil {
		return nil
	}
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return v.Root
	}

	cur := v.Root
	for seg := range strings.SplitSeq(p, "/") {
		if cur.Kind == KindManifestRef {
			if cur.Root == nil {
				return nil
			}
			cur = cur.Root
		}
		idx := slices.IndexFunc(cur.Children, func(c *Element) bool {
			return c.Name == seg && c.Entry == core.EntryTree
		})
		if idx < 0 {
			idx = slices.IndexFunc(cur.Children, func(c *Element) bool { return c.Name == seg })
		}
		if idx < 0 {
			return nil
		}
		cur = cur.Children[idx]
	}
	return cur
}

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
