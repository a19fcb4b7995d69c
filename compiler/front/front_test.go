package front

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

func lift(t *testing.T, src string) (*ir.Context, *ir.Method) {
	t.Helper()

	reg := il.NewRegistry()

	last, err := il.Assemble(reg, []byte(src))
	require.NoError(t, err)

	ictx := ir.NewContext(tp.ABI64)

	m, err := New(reg).Compile(context.Background(), ictx, last.Handle)
	require.NoError(t, err)

	require.NoError(t, ir.Verify(m))

	return ictx, m
}

func TestLiftStraightLine(t *testing.T) {
	_, m := lift(t, `
func vecAdd(idx: i32, a: view<global, i32>, b: view<global, i32>, c: view<global, i32>) -> void
	ldarg 3
	ldarg 0
	ldarg 1
	ldarg 0
	ldelem
	ldarg 2
	ldarg 0
	ldelem
	add
	stelem
	ret
end
`)

	require.Len(t, m.Blocks, 1)

	dump := string(m.Dump(nil))

	assert.Contains(t, dump, "load")
	assert.Contains(t, dump, "add")
	assert.Contains(t, dump, "store")
	assert.Contains(t, dump, "ret")
}

func TestLiftDiamondPhi(t *testing.T) {
	// if (x > 0) k = a; else k = b; return k
	_, m := lift(t, `
func pick(x: i32, a: i32, b: i32) -> i32
	locals i32
	ldarg 0
	ldc.i32 0
	cmp.gt
	brfalse Lelse
	ldarg 1
	stloc 0
	br Ljoin
Lelse:
	ldarg 2
	stloc 0
Ljoin:
	ldloc 0
	ret
end
`)

	dump := string(m.Dump(nil))

	assert.Equal(t, 1, strings.Count(dump, "phi"), "one phi at the join:\n%s", dump)
	assert.Regexp(t, `%\d+ : i32 = phi \[BB\d+: %\d+, BB\d+: %\d+\]`, dump)
}

func TestLiftLoop(t *testing.T) {
	// for (i = 0; i < n; i++) sum += i
	_, m := lift(t, `
func sum(n: i32) -> i32
	locals i32, i32
Lhead:
	ldloc 0
	ldarg 0
	cmp.lt
	brfalse Ldone
	ldloc 1
	ldloc 0
	add
	stloc 1
	ldloc 0
	ldc.i32 1
	add
	stloc 0
	br Lhead
Ldone:
	ldloc 1
	ret
end
`)

	dump := string(m.Dump(nil))

	assert.GreaterOrEqual(t, strings.Count(dump, "phi"), 2, "loop-carried locals need phis:\n%s", dump)
}

func TestLiftIntrinsics(t *testing.T) {
	_, m := lift(t, `
func grid(out: view<global, i32>) -> void
	ldarg 0
	call device.GridIdxX
	ldarg 0
	call device.GroupDimX
	call device.GroupIdxX
	add
	ldelem
	stelem
	call device.Barrier
	ret
end
`)

	n := 0

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			switch m.Value(id).Op.(type) {
			case ir.Intrinsic, ir.Barrier:
				n++
			case ir.Call:
				t.Errorf("intrinsic callee must not produce a Call node")
			}
		}
	}

	assert.Equal(t, 4, n)
}

func TestLiftInlinesSmallCallee(t *testing.T) {
	_, m := lift(t, `
func double(x: i32) -> i32
	ldarg 0
	ldc.i32 2
	mul
	ret
end

func kernel(idx: i32, a: view<global, i32>) -> void
	ldarg 1
	ldarg 0
	ldarg 1
	ldarg 0
	ldelem
	call double
	stelem
	ret
end
`)

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			if _, ok := m.Value(id).Op.(ir.Call); ok {
				t.Fatalf("small straight-line callee must inline")
			}
		}
	}
}

func TestLiftNoInline(t *testing.T) {
	ictx, m := lift(t, `
func helper(x: i32) -> i32 noinline
	ldarg 0
	ldc.i32 1
	add
	ret
end

func kernel(idx: i32, a: view<global, i32>) -> void
	ldarg 1
	ldarg 0
	ldarg 1
	ldarg 0
	ldelem
	call helper
	stelem
	ret
end
`)

	calls := 0

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			if _, ok := m.Value(id).Op.(ir.Call); ok {
				calls++
			}
		}
	}

	require.Equal(t, 1, calls)

	// the callee compiled transitively
	h := ictx.Method("helper")
	require.NotNil(t, h)
	assert.NotEqual(t, ir.NoBlock, h.Entry)
}

func TestLiftStackUnderflow(t *testing.T) {
	reg := il.NewRegistry()

	_, err := il.Assemble(reg, []byte(`
func bad(x: i32) -> i32
	add
	ret
end
`))
	require.NoError(t, err)

	ictx := ir.NewContext(tp.ABI64)

	_, err = New(reg).Compile(context.Background(), ictx, "bad")
	require.Error(t, err)

	var stackErr InvalidStackStateError
	assert.ErrorAs(t, err, &stackErr)
}

func TestLiftUnknownCallee(t *testing.T) {
	reg := il.NewRegistry()

	_, err := il.Assemble(reg, []byte(`
func kernel(x: i32) -> i32
	ldarg 0
	call missing
	ret
end
`))
	require.NoError(t, err)

	ictx := ir.NewContext(tp.ABI64)

	_, err = New(reg).Compile(context.Background(), ictx, "kernel")
	assert.Error(t, err)
}
