package cl

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/front"
	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
	"github.com/gpujit/glow/compiler/transform"
)

func compile(t *testing.T, src string, spec ir.Specialization) string {
	t.Helper()

	reg := il.NewRegistry()

	last, err := il.Assemble(reg, []byte(src))
	require.NoError(t, err)

	ictx := ir.NewContext(tp.ABI64)
	ctx := context.Background()

	m, err := front.New(reg).Compile(ctx, ictx, last.Handle)
	require.NoError(t, err)

	for _, x := range ictx.Methods() {
		if x.Entry == ir.NoBlock {
			continue
		}

		require.NoError(t, transform.Run(ctx, x, spec))
	}

	b, entry, err := New().Compile(ctx, m, spec)
	require.NoError(t, err)
	require.Equal(t, "ILGPUKernel", entry)

	return string(b)
}

const vecAddSrc = `
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
`

func TestKernelShape(t *testing.T) {
	cl := compile(t, vecAddSrc, ir.Specialization{})

	assert.Contains(t, cl, "__kernel void ILGPUKernel(")
	assert.Contains(t, cl, "__global int* p1_ptr, int p1_len")
	assert.Contains(t, cl, "return;")

	// straight-line kernels still carry their block label
	assert.Contains(t, cl, "BB")
}

func TestDeterministicOutput(t *testing.T) {
	a := compile(t, vecAddSrc, ir.Specialization{})
	b := compile(t, vecAddSrc, ir.Specialization{})

	if d := cmp.Diff(a, b); d != "" {
		t.Errorf("same input, different opencl (-a +b):\n%s", d)
	}
}

func TestControlFlowIsGoto(t *testing.T) {
	cl := compile(t, `
func relu(idx: i32, a: view<global, i32>) -> void
	locals i32
	ldarg 1
	ldarg 0
	ldelem
	stloc 0
	ldloc 0
	ldc.i32 0
	cmp.lt
	brfalse Lkeep
	ldc.i32 0
	stloc 0
Lkeep:
	ldarg 1
	ldarg 0
	ldloc 0
	stelem
	ret
end
`, ir.Specialization{})

	assert.Contains(t, cl, "goto BB")
	assert.Contains(t, cl, "if (")
	assert.NotContains(t, cl, "while")

	// φ variables are assigned at the predecessors
	assert.Regexp(t, `phi\d+ = `, cl)
}

func TestPhiDeclarationDominatesAssignments(t *testing.T) {
	cl := compile(t, `
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
`, ir.Specialization{})

	// the declaration "int phiN;" must precede every "phiN = ..."
	di := strings.Index(cl, "int phi")
	require.GreaterOrEqual(t, di, 0, "missing phi declaration:\n%s", cl)

	re := regexp.MustCompile(`phi\d+ = `)
	loc := re.FindStringIndex(cl)
	require.NotNil(t, loc, "missing phi assignment:\n%s", cl)

	assert.Less(t, di, loc[0], "declaration after assignment:\n%s", cl)
}

func TestAddressSpaceQualifiers(t *testing.T) {
	cl := compile(t, vecAddSrc, ir.Specialization{})

	assert.Contains(t, cl, "__global int*")
	assert.NotContains(t, cl, "__local")
}

func TestFastMathNative(t *testing.T) {
	src := `
func root(idx: i32, a: view<global, f32>) -> void
	ldarg 1
	ldarg 0
	ldarg 1
	ldarg 0
	ldelem
	call math.Sqrt
	stelem
	ret
end
`

	slow := compile(t, src, ir.Specialization{})
	assert.Contains(t, slow, "sqrt(")
	assert.NotContains(t, slow, "native_sqrt")

	fast := compile(t, src, ir.Specialization{Flags: ir.SpecFastMath})
	assert.Contains(t, fast, "native_sqrt(")
}

func TestStructFieldsNamed(t *testing.T) {
	cl := compile(t, `
func fields(p: ptr<global, struct{i32,i64}>) -> i32
	ldarg 0
	ldfld 0
	ret
end
`, ir.Specialization{})

	assert.Contains(t, cl, "_f0")
	assert.Contains(t, cl, "typedef struct {")
}

func TestSubgroupPragmaOnDemand(t *testing.T) {
	plain := compile(t, vecAddSrc, ir.Specialization{})
	assert.NotContains(t, plain, "cl_khr_subgroups")

	warped := compile(t, `
func lanes(out: view<global, i32>) -> void
	ldarg 0
	ldc.i32 0
	call device.LaneIdx
	stelem
	ret
end
`, ir.Specialization{})

	assert.Contains(t, warped, "#pragma OPENCL EXTENSION cl_khr_subgroups : enable")
	assert.Contains(t, warped, "get_sub_group_local_id()")
}
