package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectID_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		input ObjectID
		want  bool
	}{
		{
			name:  "Valid Hash (64 chars)",
			input: ObjectID(strings.Repeat("a", 64)),
			want:  true,
		},
		{
			name:  "Too Short",
			input: ObjectID("abc"),
			want:  false,
		},
		{
			name:  "Empty",
			input: ObjectID(""),
			want:  false,
		},
		{
			name:  "Too Long",
			input: ObjectID(strings.Repeat("a", 65)),
			want:  false,
		},
		{
			name:  "Not Hex",
			input: ObjectID(strings.Repeat("z", 64)),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.input.IsValid())
		})
	}
}

func TestObjectID_String(t *testing.T) {
	s := "aabbccddeeff"
	h := ObjectID(s)
	assert.Equal(t, s, h.String())
	assert.Equal(t, "aabbccdd", h.Short())
	assert.False(t, h.IsZero())

	var zero ObjectID
	assert.True(t, zero.IsZero())
}

func TestObjectSet_Sorted(t *testing.T) {
	s := NewObjectSet("cc", "aa", "bb")
	s.Add("aa") // 重复添加无副作用

	assert.Equal(t, []ObjectID{"aa", "bb", "cc"}, s.Sorted())
	assert.True(t, s.Has("bb"))
	assert.False(t, s.Has("dd"))
	assert.Equal(t, -1, ObjectID("aa").Compare("bb"))
}

func TestHashPrefix_String(t *testing.T) {
	p := HashPrefix("aa")
	assert.Equal(t, "aa", p.String())
}
