package il

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

func TestAssembleHeader(t *testing.T) {
	reg := NewRegistry()

	m, err := Assemble(reg, []byte(`
// vector scale
func scale(idx: i32, a: view<global, f32>) -> void noinline
	locals f32, i32
	ret
end
`))
	require.NoError(t, err)

	assert.Equal(t, ir.MethodHandle("scale"), m.Handle)
	assert.Equal(t, "scale", m.Name)
	require.Len(t, m.Params, 2)
	assert.Equal(t, "idx", m.Params[0].Name)
	assert.Equal(t, tp.I32, m.Params[0].Type)
	assert.Equal(t, tp.View{Elem: tp.F32, Space: tp.Global}, m.Params[1].Type)
	assert.Equal(t, tp.Void{}, m.Ret.(tp.Void))
	assert.Equal(t, []tp.Type{tp.F32, tp.I32}, m.Locals)
	assert.NotZero(t, m.Flags&ir.NoInlining)

	got, err := reg.Resolve("scale")
	require.NoError(t, err)
	assert.Same(t, m, got)
}

func TestAssembleLabels(t *testing.T) {
	reg := NewRegistry()

	m, err := Assemble(reg, []byte(`
func f(x: i32) -> i32
	ldarg 0
	brtrue Lpos
	ldc.i32 0
	ret
Lpos:
	ldarg 0
	ret
end
`))
	require.NoError(t, err)

	require.Len(t, m.Code, 6)
	assert.Equal(t, BrTrue, m.Code[1].Op)
	assert.Equal(t, 4, m.Code[1].Target, "label resolves to instruction index")
	assert.Empty(t, m.Code[1].Callee)
}

func TestAssembleUndefinedLabel(t *testing.T) {
	_, err := Assemble(NewRegistry(), []byte(`
func f(x: i32) -> i32
	br Lnope
	ret
end
`))
	assert.Error(t, err)
}

func TestAssembleVariants(t *testing.T) {
	m, err := Assemble(NewRegistry(), []byte(`
func f(x: i32, y: i32) -> i32
	ldarg 0
	ldarg 1
	div.un
	ldc.i32 1
	cmp.lt.un
	conv.i64
	conv.i32.un
	ret
end
`))
	require.NoError(t, err)

	assert.Equal(t, OpDiv, m.Code[2].Op)
	assert.Equal(t, int64(ir.Unsigned), m.Code[2].Int)

	assert.Equal(t, CmpOp, m.Code[4].Op)
	assert.Equal(t, int64(ir.Lt)|int64(ir.Unsigned)<<8, m.Code[4].Int)

	assert.Equal(t, Conv, m.Code[5].Op)
	assert.Equal(t, tp.I64, m.Code[5].Type)

	assert.Equal(t, int64(ir.Unsigned), m.Code[6].Int)
}

func TestParseType(t *testing.T) {
	cases := []struct {
		in   string
		want tp.Type
	}{
		{"i32", tp.I32},
		{"u64", tp.U64},
		{"f32", tp.F32},
		{"void", tp.Void{}},
		{"ptr<shared, f64>", tp.Ptr{Elem: tp.F64, Space: tp.Shared}},
		{"view<global, i8>", tp.View{Elem: tp.I8, Space: tp.Global}},
		{"struct{i32,i64}", tp.Struct{Fields: []tp.Type{tp.I32, tp.I64}}},
		{"ptr<constant, ptr<global, i32>>", tp.Ptr{Elem: tp.Ptr{Elem: tp.I32, Space: tp.Global}, Space: tp.Constant}},
	}

	for _, c := range cases {
		got, err := ParseType(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want.String(), got.String(), c.in)
	}

	_, err := ParseType("i31")
	assert.Error(t, err)

	_, err = ParseType("ptr<nowhere, i32>")
	assert.Error(t, err)
}

func TestRoundTripTypeStrings(t *testing.T) {
	// ParseType and String are inverse on the canonical forms
	for _, s := range []string{
		"i32", "u8", "f64",
		"ptr<global, i8>",
		"view<global, f32>",
		"struct{i32,i64}",
	} {
		got, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, s, got.String())
	}
}

func TestIntrinsicTable(t *testing.T) {
	d, ok := Intrinsic("device.GridIdxX")
	require.True(t, ok)
	assert.Equal(t, ClassQuery, d.Class)
	assert.Equal(t, ir.GridIdx, d.Query)

	d, ok = Intrinsic("atomic.CAS")
	require.True(t, ok)
	assert.Equal(t, ClassCAS, d.Class)

	_, ok = Intrinsic("not.an.intrinsic")
	assert.False(t, ok)
}
