package core

import "hive/pkg/types"

// Blob 代表任意字节内容，是 Tree 的叶子节点
// Blob 不做任何编码，原样落盘，因此 ID 就是原始数据的 SHA-256
type Blob struct {
	hash types.ObjectID
	data []byte
}

func NewBlob(data []byte) *Blob {
	return &Blob{
		hash: CalculateBlobHash(data),
		data: data,
	}
}

func (b *Blob) Type() ObjectType   { return TypeBlob }
func (b *Blob) ID() types.ObjectID { return b.hash }
func (b *Blob) Bytes() []byte      { return b.data }
func (b *Blob) Size() int64        { return int64(len(b.data)) }
