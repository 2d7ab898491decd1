package core

import "hive/pkg/types"

// ObjectType 定义了 hive 中的对象类型
type ObjectType string

const (
	TypeBlob        ObjectType = "blob"         // 原始数据 (叶子节点)
	TypeTree        ObjectType = "tree"         // 目录树
	TypeManifestRef ObjectType = "manifest-ref" // 指向另一个 Manifest 的 Key
	TypeManifest    ObjectType = "manifest"     // Manifest 记录本身 (不进入对象库，只用于序列化)
)

// Object 是所有内容寻址节点的通用接口
type Object interface {
	// Type 返回对象类型
	Type() ObjectType

	// ID 返回对象的哈希值
	ID() types.ObjectID

	// Bytes 返回对象的序列化数据 (用于存储)
	Bytes() []byte
}

// PeekType 探测序列化数据的对象类型
// 结构化对象都是带 "t" 字段的 CBOR Map；解不出来的一律视为 Blob
func PeekType(data []byte) ObjectType {
	var header struct {
		TypeVal ObjectType `cbor:"t"`
	}
	if err := dm.Unmarshal(data, &header); err != nil {
		return TypeBlob
	}
	switch header.TypeVal {
	case TypeTree, TypeManifestRef, TypeManifest:
		return header.TypeVal
	default:
		return TypeBlob
	}
}
