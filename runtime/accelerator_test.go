package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler"
	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
)

type nopLoader struct {
	loads int
}

func (l *nopLoader) Load(k *CompiledKernel, groupSize int) (any, int, error) {
	l.loads++
	return struct{}{}, 1, nil
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

func testAccelerator(t *testing.T, opts ...Option) (*Accelerator, *nopLoader) {
	t.Helper()

	reg := il.NewRegistry()

	_, err := il.Assemble(reg, []byte(vecAddSrc))
	require.NoError(t, err)

	l := &nopLoader{}

	return NewAccelerator("test", reg, compiler.PTX(), l, opts...), l
}

func TestCompileReuse(t *testing.T) {
	a, _ := testAccelerator(t)
	ctx := context.Background()

	spec := ir.Specialization{MaxGroupSize: 128}

	r1, err := a.CompileKernel(ctx, "vecAdd", spec)
	require.NoError(t, err)

	r2, err := a.CompileKernel(ctx, "vecAdd", spec)
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.CompileCount(), "second call must hit the cache")
	assert.Same(t, r1.Get(), r2.Get())

	r1.Release()
	r2.Release()
}

func TestDifferentSpecializationsCompileSeparately(t *testing.T) {
	a, _ := testAccelerator(t)
	ctx := context.Background()

	r1, err := a.CompileKernel(ctx, "vecAdd", ir.Specialization{MaxGroupSize: 128})
	require.NoError(t, err)
	defer r1.Release()

	r2, err := a.CompileKernel(ctx, "vecAdd", ir.Specialization{MaxGroupSize: 256})
	require.NoError(t, err)
	defer r2.Release()

	assert.Equal(t, int64(2), a.CompileCount())
}

func TestExpiredEntryRecompiles(t *testing.T) {
	a, _ := testAccelerator(t)
	ctx := context.Background()

	r1, err := a.CompileKernel(ctx, "vecAdd", ir.Specialization{})
	require.NoError(t, err)

	src1 := string(r1.Get().Source)
	r1.Release()

	r2, err := a.CompileKernel(ctx, "vecAdd", ir.Specialization{})
	require.NoError(t, err)
	defer r2.Release()

	assert.Equal(t, int64(2), a.CompileCount(), "expired weak forces a recompile")

	// deterministic compilation: byte-identical text
	assert.Equal(t, src1, string(r2.Get().Source))
}

func TestDisabledCacheAlwaysCompiles(t *testing.T) {
	a, _ := testAccelerator(t, WithoutCache())
	ctx := context.Background()

	r1, err := a.CompileKernel(ctx, "vecAdd", ir.Specialization{})
	require.NoError(t, err)
	defer r1.Release()

	r2, err := a.CompileKernel(ctx, "vecAdd", ir.Specialization{})
	require.NoError(t, err)
	defer r2.Release()

	assert.Equal(t, int64(2), a.CompileCount())
	assert.Nil(t, a.Cache())
}

func TestLoadReuse(t *testing.T) {
	a, l := testAccelerator(t)
	ctx := context.Background()

	ck, err := a.CompileKernel(ctx, "vecAdd", ir.Specialization{})
	require.NoError(t, err)
	defer ck.Release()

	k1, err := a.LoadKernel(ctx, ck, 128)
	require.NoError(t, err)

	k2, err := a.LoadKernel(ctx, ck, 128)
	require.NoError(t, err)

	assert.Equal(t, 1, l.loads)
	assert.Same(t, k1.Get(), k2.Get())

	k3, err := a.LoadKernel(ctx, ck, 256)
	require.NoError(t, err)

	assert.Equal(t, 2, l.loads)

	k1.Release()
	k2.Release()
	k3.Release()
}

func TestCompilationFailureNotCached(t *testing.T) {
	reg := il.NewRegistry()

	_, err := il.Assemble(reg, []byte(`
func bad(x: i32) -> i32
	call missing
	ret
end
`))
	require.NoError(t, err)

	a := NewAccelerator("test", reg, compiler.PTX(), &nopLoader{})
	ctx := context.Background()

	_, err = a.CompileKernel(ctx, "bad", ir.Specialization{})
	require.Error(t, err)

	assert.Equal(t, 0, a.Cache().CompiledLen(), "failures are never stored")

	_, err = a.CompileKernel(ctx, "bad", ir.Specialization{})
	require.Error(t, err, "the next call retries and fails again")
}
