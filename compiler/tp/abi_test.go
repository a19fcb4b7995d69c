package tp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizes(t *testing.T) {
	a := ABI64

	assert.Equal(t, 1, a.Size(Bool))
	assert.Equal(t, 1, a.Size(I8))
	assert.Equal(t, 2, a.Size(I16))
	assert.Equal(t, 4, a.Size(I32))
	assert.Equal(t, 8, a.Size(I64))
	assert.Equal(t, 4, a.Size(F32))
	assert.Equal(t, 8, a.Size(F64))
	assert.Equal(t, 8, a.Size(Ptr{Elem: I8, Space: Global}))
	assert.Equal(t, 16, a.Size(View{Elem: F32, Space: Global}))
	assert.Equal(t, 24, a.Size(Array{Elem: I32, Dims: []int{2, 3}}))
}

func TestStructLayout(t *testing.T) {
	a := ABI64

	s := Struct{Fields: []Type{I8, I32, I8, I64}}

	assert.Equal(t, []int{0, 4, 8, 16}, a.Offsets(s))
	assert.Equal(t, 24, a.Size(s))
	assert.Equal(t, 8, a.Align(s))
}

func TestStructZeroOffsetFirstField(t *testing.T) {
	a := ABI64

	s := Struct{Fields: []Type{I64, I32}}

	assert.Equal(t, 0, a.Offset(s, 0))
	assert.Equal(t, 8, a.Offset(s, 1))
}

func TestCanonicalStrings(t *testing.T) {
	assert.Equal(t, "i32", I32.String())
	assert.Equal(t, "u16", U16.String())
	assert.Equal(t, "f64", F64.String())
	assert.Equal(t, "ptr<global, i8>", Ptr{Elem: I8, Space: Global}.String())
	assert.Equal(t, "view<shared, f32>", View{Elem: F32, Space: Shared}.String())
	assert.Equal(t, "struct{i32,i64}", Struct{Fields: []Type{I32, I64}}.String())
}
