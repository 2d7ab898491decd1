package core

import (
	"encoding/hex"
	"fmt"

	"hive/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// linkTag CBOR Tag 42，内容是 0x00 前缀加 32 字节 SHA-256
const linkTag = 42

// Link 是 Tree 条目和 Manifest 指向对象的引用
type Link struct {
	Hash types.ObjectID
}

func NewLink(hash types.ObjectID) Link {
	return Link{Hash: hash}
}

func (l Link) MarshalCBOR() ([]byte, error) {
	if !l.Hash.IsValid() {
		return nil, fmt.Errorf("invalid link: %q is not a sha-256 hex id", l.Hash)
	}
	raw, _ := hex.DecodeString(string(l.Hash))
	return em.Marshal(cbor.Tag{
		Number:  linkTag,
		Content: append([]byte{0x00}, raw...),
	})
}

func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := dm.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != linkTag {
		return fmt.Errorf("expected tag %d for link, got %d", linkTag, tag.Number)
	}

	content, ok := tag.Content.([]byte)
	switch {
	case !ok || len(content) == 0:
		return fmt.Errorf("invalid link: content must be a non-empty byte string")
	case content[0] != 0x00:
		return fmt.Errorf("invalid link: missing 0x00 multibase prefix")
	}

	id := types.ObjectID(hex.EncodeToString(content[1:]))
	if !id.IsValid() {
		return fmt.Errorf("invalid link: %d hash bytes, want 32", len(content)-1)
	}
	l.Hash = id
	return nil
}
