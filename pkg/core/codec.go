package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"hive/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 所有结构化对象 (Tree / Manifest / ManifestRef) 都用同一套规范化 CBOR 编码，
// 相同内容的对象一定得到相同的字节，从而得到相同的 ID
var (
	em = mustEncMode()
	dm = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	mode, err := cbor.EncOptions{
		// Map Key 按规范顺序排序
		Sort:          cbor.SortCanonical,
		ShortestFloat: cbor.ShortestFloatNone,
		Time:          cbor.TimeUnix,
		TimeTag:       cbor.EncTagNone,
		IndefLength:   cbor.IndefLengthForbidden,
		BigIntConvert: cbor.BigIntConvertShortest,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("core: cbor encode mode: %v", err))
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// 限制容器大小和嵌套深度，损坏的对象不能耗尽内存
		// 一个目录下可能有非常多的文件，数组上限比 Map 宽松
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      10000,
		MaxNestedLevels:  100,

		IndefLength: cbor.IndefLengthForbidden,
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		BignumTag:   cbor.BignumTagForbidden,
		TimeTag:     cbor.DecTagIgnored,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("core: cbor decode mode: %v", err))
	}
	return mode
}

// CalculateHash 编码 v 并返回 (ID, 编码后的字节)
func CalculateHash(v any) (types.ObjectID, []byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return CalculateBlobHash(data), data, nil
}

// CalculateBlobHash 原始字节的 SHA-256 (十六进制小写)
func CalculateBlobHash(data []byte) types.ObjectID {
	sum := sha256.Sum256(data)
	return types.ObjectID(hex.EncodeToString(sum[:]))
}

func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
