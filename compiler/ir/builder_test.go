package ir

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/tp"
)

func TestDuplicateMethod(t *testing.T) {
	ctx := NewContext(tp.ABI64)

	_, err := ctx.CreateMethod(Decl{Handle: "m", Ret: tp.Void{}})
	require.NoError(t, err)

	_, err = ctx.CreateMethod(Decl{Handle: "m", Ret: tp.Void{}})
	assert.True(t, errors.Is(err, ErrDuplicateMethod))
}

func TestBuilderExclusive(t *testing.T) {
	ctx := NewContext(tp.ABI64)

	m, err := ctx.CreateMethod(Decl{Handle: "m", Ret: tp.Void{}})
	require.NoError(t, err)

	b, err := ctx.CreateBuilder(m)
	require.NoError(t, err)

	_, err = ctx.CreateBuilder(m)
	assert.True(t, errors.Is(err, ErrBuilderInUse))

	b.Release()

	b2, err := ctx.CreateBuilder(m)
	require.NoError(t, err)
	b2.Release()

	assert.NotZero(t, m.TFlags&Dirty)
}

func TestUseSymmetry(t *testing.T) {
	m, b := testBuilder(t)

	x := b.AddParam("x", tp.I32)
	y := b.AddParam("y", tp.I32)

	s := b.Arith(Add, 0, x, y)
	p := b.Arith(Mul, 0, s, s)
	b.Ret(p)

	require.NoError(t, Verify(m))

	sv := m.Value(s)
	assert.Equal(t, []ID{x, y}, sv.Args)
	assert.Contains(t, m.Value(x).Uses, s)
	assert.Contains(t, m.Value(y).Uses, s)

	// mul uses the sum twice, so two use edges
	n := 0
	for _, u := range sv.Uses {
		if u == p {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestTerminatorPlacement(t *testing.T) {
	m, b := testBuilder(t)

	b.Ret(Nil)

	assert.Panics(t, func() {
		b.Arith(Add, 0, b.AddParam("x", tp.I32), b.AddParam("y", tp.I32))
	})

	require.NoError(t, Verify(m))
}

func TestTypeMismatchPanics(t *testing.T) {
	_, b := testBuilder(t)

	x := b.AddParam("x", tp.I32)
	y := b.AddParam("y", tp.I64)

	assert.Panics(t, func() { b.Arith(Add, 0, x, y) })
	assert.Panics(t, func() { b.Cmp(Lt, 0, x, y) })
	assert.Panics(t, func() { b.Load(x) })
}

func TestFoldedExpressionDump(t *testing.T) {
	ctx := NewContext(tp.ABI64)

	m, err := ctx.CreateMethod(Decl{Handle: "sixteen", Name: "sixteen", Ret: tp.I32})
	require.NoError(t, err)

	b, err := ctx.CreateBuilder(m)
	require.NoError(t, err)

	b.CreateBlock()

	// (5 + 3) * 2 folds at construction
	s := b.Arith(Add, 0, b.ConstInt(tp.I32, 5), b.ConstInt(tp.I32, 3))
	p := b.Arith(Mul, 0, s, b.ConstInt(tp.I32, 2))
	b.Ret(p)

	b.Release()

	_, ok := m.Value(p).Op.(Const)
	require.True(t, ok, "all-constant expression must fold to a literal")

	dump := string(m.Dump(nil))

	assert.Contains(t, dump, "ret const(16:i32)")
	assert.NotContains(t, dump, "add")
	assert.NotContains(t, dump, "mul")
}

func TestDumpFormat(t *testing.T) {
	ctx := NewContext(tp.ABI64)

	m, err := ctx.CreateMethod(Decl{Handle: "addmul", Name: "addmul", Ret: tp.I32})
	require.NoError(t, err)

	b, err := ctx.CreateBuilder(m)
	require.NoError(t, err)

	x := b.AddParam("x", tp.I32)
	y := b.AddParam("y", tp.I32)

	b0 := b.CreateBlock()
	b1 := b.CreateBlock()

	b.SetBlock(b0)
	s := b.Arith(Add, 0, x, y)
	p := b.Arith(Mul, 0, s, b.ConstInt(tp.I32, 7))
	b.Br(b1)

	b.SetBlock(b1)
	b.Ret(p)

	b.Release()

	dump := string(m.Dump(nil))

	assert.Contains(t, dump, "addmul(x : i32, y : i32) -> i32\n")
	assert.Contains(t, dump, "BB0:\n")
	assert.Contains(t, dump, "add %0, %1")
	assert.Contains(t, dump, "mul %2, const(7:i32)")
	assert.Contains(t, dump, "br BB1")
	assert.True(t, strings.Contains(dump, "ret %"), "dump: %s", dump)
}

func TestReplaceUses(t *testing.T) {
	m, b := testBuilder(t)

	x := b.AddParam("x", tp.I32)
	y := b.AddParam("y", tp.I32)

	s := b.Arith(Add, 0, x, y)
	d := b.Arith(Mul, 0, s, s)

	b.ReplaceUses(s, x)
	b.Ret(Nil)

	assert.Equal(t, []ID{x, x}, m.Value(d).Args)
	assert.Empty(t, m.Value(s).Uses)
	require.NoError(t, Verify(m))
}

func TestUnlinkAndGC(t *testing.T) {
	m, b := testBuilder(t)

	x := b.AddParam("x", tp.I32)
	s := b.Arith(Add, 0, x, x)
	b.Ret(Nil)

	before := m.NumValues()

	b.Unlink(s)
	m.GC()

	assert.Nil(t, m.Value(s))
	assert.Less(t, m.NumValues(), before)
	assert.NotNil(t, m.Value(x))
	require.NoError(t, Verify(m))
}

func TestTypeInterning(t *testing.T) {
	ctx := NewContext(tp.ABI64)

	a := ctx.Intern(tp.Ptr{Elem: tp.I32, Space: tp.Global})
	b := ctx.Intern(tp.Ptr{Elem: tp.I32, Space: tp.Global})

	assert.Equal(t, a, b)

	c := ctx.Intern(tp.Ptr{Elem: tp.I32, Space: tp.Shared})
	assert.NotEqual(t, a.String(), c.String())
}

func TestSizeOfNeverSurvives(t *testing.T) {
	m, b := testBuilder(t)

	s := b.SizeOf(tp.Struct{Fields: []tp.Type{tp.I32, tp.I64}})

	c, ok := m.Value(s).Op.(Const)
	require.True(t, ok)
	assert.Equal(t, uint64(16), c.Val)
}
