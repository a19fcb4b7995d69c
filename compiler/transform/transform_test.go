package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/front"
	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

func liftSrc(t *testing.T, src string) *ir.Method {
	t.Helper()

	reg := il.NewRegistry()

	last, err := il.Assemble(reg, []byte(src))
	require.NoError(t, err)

	ictx := ir.NewContext(tp.ABI64)

	m, err := front.New(reg).Compile(context.Background(), ictx, last.Handle)
	require.NoError(t, err)

	return m
}

func run(t *testing.T, m *ir.Method, spec ir.Specialization) {
	t.Helper()

	require.NoError(t, Run(context.Background(), m, spec))
	require.NoError(t, ir.Verify(m))
}

func TestPipelineFoldsToReturnConstant(t *testing.T) {
	m := liftSrc(t, `
func sixteen() -> i32
	ldc.i32 5
	ldc.i32 3
	add
	ldc.i32 2
	mul
	ret
end
`)

	run(t, m, ir.Specialization{})

	dump := string(m.Dump(nil))

	assert.Contains(t, dump, "ret const(16:i32)")
	assert.NotContains(t, dump, "add")
	assert.NotContains(t, dump, "mul")
}

func TestPipelineIdempotent(t *testing.T) {
	m := liftSrc(t, `
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

	run(t, m, ir.Specialization{})

	first := string(m.Dump(nil))

	// force a full second run; it must not change anything
	m.TFlags &^= ir.Transformed
	run(t, m, ir.Specialization{})

	second := string(m.Dump(nil))

	if d := cmp.Diff(first, second); d != "" {
		t.Errorf("pipeline not idempotent (-first +second):\n%s", d)
	}
}

func TestDCERemovesUnused(t *testing.T) {
	m := liftSrc(t, `
func dead(x: i32, y: i32) -> i32
	locals i32
	ldarg 0
	ldarg 1
	mul
	stloc 0
	ldarg 0
	ret
end
`)

	run(t, m, ir.Specialization{})

	dump := string(m.Dump(nil))

	assert.NotContains(t, dump, "mul", "unused product must be eliminated:\n%s", dump)
}

func TestSimplifyCFGFoldsConstBranch(t *testing.T) {
	m := liftSrc(t, `
func constbr(x: i32) -> i32
	ldc.i32 1
	brtrue Lyes
	ldc.i32 0
	ret
Lyes:
	ldarg 0
	ret
end
`)

	run(t, m, ir.Specialization{})

	dump := string(m.Dump(nil))

	assert.NotContains(t, dump, "const(0:i32)", "dead arm must go:\n%s", dump)
	assert.Equal(t, 1, strings.Count(dump, "ret"), "one return left:\n%s", dump)
}

func TestNoPromotableAllocaSurvives(t *testing.T) {
	ictx := ir.NewContext(tp.ABI64)

	m, err := ictx.CreateMethod(ir.Decl{Handle: "slots", Name: "slots", Ret: tp.I32})
	require.NoError(t, err)

	b, err := ictx.CreateBuilder(m)
	require.NoError(t, err)

	x := b.AddParam("x", tp.I32)

	b0 := b.CreateBlock()
	b1 := b.CreateBlock()
	b2 := b.CreateBlock()
	b3 := b.CreateBlock()

	b.SetBlock(b0)
	slot := b.Alloca(tp.I32)
	b.Store(slot, x)
	c := b.Cmp(ir.Gt, 0, x, b.ConstInt(tp.I32, 0))
	b.BrCond(c, b1, b2)

	b.SetBlock(b1)
	b.Store(slot, b.Arith(ir.Add, 0, x, x))
	b.Br(b3)

	b.SetBlock(b2)
	b.Br(b3)

	b.SetBlock(b3)
	v := b.Load(slot)
	b.Ret(v)

	b.Release()

	run(t, m, ir.Specialization{})

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			if _, ok := m.Value(id).Op.(ir.Alloca); ok {
				t.Fatalf("promotable alloca survived:\n%s", m.Dump(nil))
			}
		}
	}

	assert.Contains(t, string(m.Dump(nil)), "phi", "the two stores merge in a phi")
}

func TestInlinerSplicesBranchyCallee(t *testing.T) {
	m := liftSrc(t, `
func clamp0(x: i32) -> i32
	ldarg 0
	ldc.i32 0
	cmp.lt
	brfalse Lok
	ldc.i32 0
	ret
Lok:
	ldarg 0
	ret
end

func kernel(idx: i32, a: view<global, i32>) -> void
	ldarg 1
	ldarg 0
	ldarg 1
	ldarg 0
	ldelem
	call clamp0
	stelem
	ret
end
`)

	run(t, m, ir.Specialization{})

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			if _, ok := m.Value(id).Op.(ir.Call); ok {
				t.Fatalf("small branchy callee must inline:\n%s", m.Dump(nil))
			}
		}
	}
}

func TestInlinerRespectsNoInlining(t *testing.T) {
	m := liftSrc(t, `
func stay(x: i32) -> i32 noinline
	ldarg 0
	ldc.i32 0
	cmp.lt
	brfalse Lok
	ldc.i32 0
	ret
Lok:
	ldarg 0
	ret
end

func kernel(idx: i32, a: view<global, i32>) -> void
	ldarg 1
	ldarg 0
	ldarg 1
	ldarg 0
	ldelem
	call stay
	stelem
	ret
end
`)

	run(t, m, ir.Specialization{})

	calls := 0
	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			if _, ok := m.Value(id).Op.(ir.Call); ok {
				calls++
			}
		}
	}

	assert.Equal(t, 1, calls)
}

func TestSpecializeGroupSize(t *testing.T) {
	m := liftSrc(t, `
func gsz(out: view<global, i32>) -> void
	ldarg 0
	ldc.i32 0
	call device.GroupDimX
	stelem
	ret
end
`)

	spec := ir.Specialization{
		MaxGroupSize: 256,
		MinGroupSize: 256,
		Flags:        ir.SpecMinGroupPinned,
	}

	run(t, m, spec)

	dump := string(m.Dump(nil))

	assert.NotContains(t, dump, "intrinsic", "pinned group size folds the query:\n%s", dump)
	assert.Contains(t, dump, "const(256:i32)")
}

func TestSpecializeFastMath(t *testing.T) {
	m := liftSrc(t, `
func scale(idx: i32, a: view<global, f32>) -> void
	ldarg 1
	ldarg 0
	ldarg 1
	ldarg 0
	ldelem
	ldc.f32 0.5
	mul
	stelem
	ret
end
`)

	run(t, m, ir.Specialization{Flags: ir.SpecFastMath})

	found := false

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			v := m.Value(id)
			if op, ok := v.Op.(ir.Arith); ok && op.Kind == ir.Mul {
				found = true
				assert.NotZero(t, op.Flags&ir.FastMath)
			}
		}
	}

	assert.True(t, found, "mul must survive:\n%s", m.Dump(nil))
}
