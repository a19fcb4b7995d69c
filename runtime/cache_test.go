package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/ir"
)

func TestWeakRefLifecycle(t *testing.T) {
	r := NewRef("payload")
	w := r.Weak()

	s, ok := w.Strong()
	require.True(t, ok)
	assert.Equal(t, "payload", s.Get())

	s.Release()
	assert.True(t, w.Alive(), "one strong ref left")

	r.Release()
	assert.False(t, w.Alive())

	_, ok = w.Strong()
	assert.False(t, ok)
}

func TestWeakZeroValue(t *testing.T) {
	var w Weak[int]

	assert.False(t, w.Alive())

	_, ok := w.Strong()
	assert.False(t, ok)
}

func TestCacheHitReturnsSameTarget(t *testing.T) {
	c := NewCache()

	key := compiledKey{Handle: "k"}

	ck := &CompiledKernel{Handle: "k", Entry: "ILGPUKernel0"}
	r := NewRef(ck)

	c.insertCompiled(key, r.Weak())

	got, ok := c.lookupCompiled(key)
	require.True(t, ok)
	assert.Same(t, ck, got.Get())

	got.Release()
	r.Release()

	// expired weak no longer resolves
	_, ok = c.lookupCompiled(key)
	assert.False(t, ok)
}

func TestCacheSweepCompacts(t *testing.T) {
	c := NewCache()

	var refs []*Ref[*CompiledKernel]

	// 127 expired entries stay until an insertion lands on the
	// threshold multiple
	for i := 0; i < gcThreshold-1; i++ {
		ck := &CompiledKernel{Handle: "k", Entry: "e"}
		r := NewRef(ck)

		c.insertCompiled(compiledKey{Handle: "k", Spec: specN(i)}, r.Weak())
		refs = append(refs, r)
	}

	for _, r := range refs {
		r.Release()
	}

	assert.Equal(t, gcThreshold-1, c.CompiledLen())

	// the 128th insertion triggers the sweep, only the live one stays
	live := NewRef(&CompiledKernel{Handle: "k", Entry: "e"})
	defer live.Release()

	c.insertCompiled(compiledKey{Handle: "k", Spec: specN(gcThreshold - 1)}, live.Weak())

	assert.Equal(t, 1, c.CompiledLen())
	assert.Equal(t, 1, c.LiveCompiled())
}

func TestCacheLiveEntriesSurviveSweep(t *testing.T) {
	c := NewCache()

	var refs []*Ref[*CompiledKernel]

	for i := 0; i < gcThreshold; i++ {
		r := NewRef(&CompiledKernel{Handle: "k"})

		c.insertCompiled(compiledKey{Handle: "k", Spec: specN(i)}, r.Weak())
		refs = append(refs, r)
	}

	// everything was live at the sweep on the 128th insert
	assert.Equal(t, gcThreshold, c.CompiledLen())

	for _, r := range refs {
		r.Release()
	}

	// dropping referents leaves expired entries until the next sweep
	assert.Equal(t, 0, c.LiveCompiled())
}

func specN(i int) (s ir.Specialization) {
	s.MaxGroupSize = uint32(i + 1)
	return s
}
