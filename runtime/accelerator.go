package runtime

import (
	"context"
	"sync/atomic"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gpujit/glow/compiler"
	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
)

type (
	// Loader is the driver collaborator that loads compiled source on
	// the device.
	Loader interface {
		Load(k *CompiledKernel, groupSize int) (driver any, minGridSize int, err error)
	}

	// Accelerator is one device instance: a backend, a loader and the
	// kernel cache. Compilations of distinct kernels may run in
	// parallel; each gets a fresh IR context and only the cache is
	// shared.
	Accelerator struct {
		Name string

		res    il.Resolver
		be     compiler.Backend
		loader Loader

		cache *Cache

		// compileCount counts backend compilations, cache hits
		// excluded.
		compileCount atomic.Int64
	}

	// Option configures an Accelerator.
	Option func(*Accelerator)
)

var ErrCompilationFailed = errors.New("compilation failed")

// WithoutCache disables kernel memoization; every call recompiles.
func WithoutCache() Option {
	return func(a *Accelerator) {
		a.cache = nil
	}
}

func NewAccelerator(name string, res il.Resolver, be compiler.Backend, loader Loader, opts ...Option) *Accelerator {
	a := &Accelerator{
		Name:   name,
		res:    res,
		be:     be,
		loader: loader,
		cache:  NewCache(),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// CompileKernel returns a strong reference to the compiled kernel,
// reusing a live cache entry when possible. Failures are returned,
// never cached; the next call retries.
func (a *Accelerator) CompileKernel(ctx context.Context, h ir.MethodHandle, spec ir.Specialization) (_ *Ref[*CompiledKernel], err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "accelerator: compile", "name", a.Name, "handle", h)
	defer tr.Finish("err", &err)

	key := compiledKey{Handle: h, Spec: spec}

	if a.cache != nil {
		if r, ok := a.cache.lookupCompiled(key); ok {
			tr.V("cache").Printw("cache hit", "handle", h)
			return r, nil
		}
	}

	art, err := compiler.Compile(ctx, a.res, h, spec, a.be)
	if err != nil {
		return nil, errors.Wrap(ErrCompilationFailed, "%v: %v", h, err)
	}

	a.compileCount.Add(1)

	ck := &CompiledKernel{
		Handle: h,
		Spec:   spec,
		Source: art.Source,
		Entry:  art.Entry,
	}

	r := NewRef(ck)

	if a.cache != nil {
		a.cache.insertCompiled(key, r.Weak())
	}

	return r, nil
}

// LoadKernel loads a compiled kernel for an implicit group size,
// reusing the loaded cache.
func (a *Accelerator) LoadKernel(ctx context.Context, ck *Ref[*CompiledKernel], groupSize int) (_ *Ref[*Kernel], err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "accelerator: load", "name", a.Name, "group_size", groupSize)
	defer tr.Finish("err", &err)

	c := ck.Get()

	key := loadedKey{
		compiledKey: compiledKey{Handle: c.Handle, Spec: c.Spec},
		GroupSize:   groupSize,
	}

	if a.cache != nil {
		if r, ok := a.cache.lookupLoaded(key); ok {
			return r, nil
		}
	}

	drv, minGrid, err := a.loader.Load(c, groupSize)
	if err != nil {
		return nil, errors.Wrap(ErrCompilationFailed, "load %v: %v", c.Handle, err)
	}

	k := &Kernel{
		Compiled:    c,
		GroupSize:   groupSize,
		MinGridSize: minGrid,
		Driver:      drv,
	}

	r := NewRef(k)

	if a.cache != nil {
		a.cache.insertLoaded(key, loadedEntry{
			ref:         r.Weak(),
			groupSize:   groupSize,
			minGridSize: minGrid,
		})
	}

	return r, nil
}

// CompileCount reports how many backend compilations ran.
func (a *Accelerator) CompileCount() int64 {
	return a.compileCount.Load()
}

// Cache exposes the kernel cache, nil when caching is disabled.
func (a *Accelerator) Cache() *Cache {
	return a.cache
}
