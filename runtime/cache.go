package runtime

import (
	"sync"

	"github.com/gpujit/glow/compiler/ir"
)

type (
	// CompiledKernel is a backend compilation result kept weakly by
	// the cache.
	CompiledKernel struct {
		Handle ir.MethodHandle
		Spec   ir.Specialization

		Source []byte
		Entry  string
	}

	// Kernel is a compiled kernel loaded on a device.
	Kernel struct {
		Compiled *CompiledKernel

		GroupSize   int
		MinGridSize int

		// Driver is the loader's opaque handle.
		Driver any
	}

	compiledKey struct {
		Handle ir.MethodHandle
		Spec   ir.Specialization
	}

	loadedKey struct {
		compiledKey

		GroupSize int
	}

	loadedEntry struct {
		ref Weak[*Kernel]

		groupSize   int
		minGridSize int
	}

	// Cache memoizes compiled and loaded kernels behind weak
	// references. One mutex guards both maps; critical sections are a
	// lookup, an insert, or a compacting sweep. Failures are never
	// stored.
	Cache struct {
		mu sync.Mutex

		compiled map[compiledKey]Weak[*CompiledKernel]
		loaded   map[loadedKey]loadedEntry
	}
)

// gcThreshold is the map-size multiple that triggers a compacting sweep.
const gcThreshold = 128

func NewCache() *Cache {
	return &Cache{
		compiled: make(map[compiledKey]Weak[*CompiledKernel]),
		loaded:   make(map[loadedKey]loadedEntry),
	}
}

func (c *Cache) lookupCompiled(k compiledKey) (*Ref[*CompiledKernel], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.compiled[k]
	if !ok {
		return nil, false
	}

	return w.Strong()
}

// insertCompiled stores the weak reference; the last writer wins on a
// racing double compilation, which is fine because compilation is
// deterministic.
func (c *Cache) insertCompiled(k compiledKey, w Weak[*CompiledKernel]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compiled[k] = w

	if len(c.compiled) >= gcThreshold && len(c.compiled)%gcThreshold == 0 {
		next := make(map[compiledKey]Weak[*CompiledKernel], len(c.compiled))

		for k, w := range c.compiled {
			if w.Alive() {
				next[k] = w
			}
		}

		c.compiled = next
	}
}

func (c *Cache) lookupLoaded(k loadedKey) (*Ref[*Kernel], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.loaded[k]
	if !ok {
		return nil, false
	}

	return e.ref.Strong()
}

func (c *Cache) insertLoaded(k loadedKey, e loadedEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded[k] = e

	if len(c.loaded) >= gcThreshold && len(c.loaded)%gcThreshold == 0 {
		next := make(map[loadedKey]loadedEntry, len(c.loaded))

		for k, e := range c.loaded {
			if e.ref.Alive() {
				next[k] = e
			}
		}

		c.loaded = next
	}
}

// CompiledLen reports the number of entries, live or expired.
func (c *Cache) CompiledLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.compiled)
}

// LiveCompiled counts compiled entries whose referent is still alive.
func (c *Cache) LiveCompiled() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range c.compiled {
		if w.Alive() {
			n++
		}
	}

	return n
}

// LoadedLen reports the number of loaded entries, live or expired.
func (c *Cache) LoadedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.loaded)
}
