package compiler

import (
	"context"
	"hash/fnv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gpujit/glow/compiler/back/cl"
	"github.com/gpujit/glow/compiler/back/ptx"
	"github.com/gpujit/glow/compiler/front"
	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
	"github.com/gpujit/glow/compiler/transform"
)

type (
	// Backend names a target and emits source text for a method.
	Backend interface {
		Name() string
		Compile(ctx context.Context, m *ir.Method, spec ir.Specialization, kernelID int) (source []byte, entry string, err error)
	}

	// Artifact is the result of one kernel compilation.
	Artifact struct {
		Handle ir.MethodHandle
		Spec   ir.Specialization

		Source []byte
		Entry  string
	}

	ptxBackend struct {
		c *ptx.Compiler
	}

	clBackend struct {
		c *cl.Compiler
	}
)

// PTX returns the NVIDIA PTX backend.
func PTX() Backend {
	return ptxBackend{c: ptx.New()}
}

// OpenCL returns the OpenCL C backend.
func OpenCL() Backend {
	return clBackend{c: cl.New()}
}

// Compile runs the full pipeline for one kernel entry point:
// bytecode -> IR -> transformed IR -> backend text. Every compilation
// gets a fresh IR context, so distinct kernels may compile in parallel.
func Compile(ctx context.Context, res il.Resolver, h ir.MethodHandle, spec ir.Specialization, be Backend) (_ *Artifact, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile kernel", "handle", h, "backend", be.Name())
	defer tr.Finish("err", &err)

	ictx := ir.NewContext(tp.ABI64)

	f := front.New(res)

	m, err := f.Compile(ctx, ictx, h)
	if err != nil {
		return nil, errors.Wrap(err, "frontend")
	}

	for _, x := range ictx.Methods() {
		if x.Entry == ir.NoBlock {
			continue
		}

		err = transform.Run(ctx, x, spec)
		if err != nil {
			return nil, errors.Wrap(err, "transform %v", x.Decl.Handle)
		}
	}

	src, entry, err := be.Compile(ctx, m, spec, kernelID(h, spec))
	if err != nil {
		return nil, errors.Wrap(err, "backend")
	}

	return &Artifact{
		Handle: h,
		Spec:   spec,
		Source: src,
		Entry:  entry,
	}, nil
}

// kernelID derives a stable symbol id from the handle and the
// specialization, so recompilations produce identical text.
func kernelID(h ir.MethodHandle, spec ir.Specialization) int {
	f := fnv.New32a()

	_, _ = f.Write([]byte(h))
	_, _ = f.Write([]byte{
		byte(spec.MaxGroupSize), byte(spec.MaxGroupSize >> 8), byte(spec.MaxGroupSize >> 16), byte(spec.MaxGroupSize >> 24),
		byte(spec.MinGroupSize), byte(spec.MinGroupSize >> 8), byte(spec.MinGroupSize >> 16), byte(spec.MinGroupSize >> 24),
		byte(spec.SharedMemSize), byte(spec.SharedMemSize >> 8), byte(spec.SharedMemSize >> 16), byte(spec.SharedMemSize >> 24),
		byte(spec.Flags), byte(spec.Flags >> 8), byte(spec.Flags >> 16), byte(spec.Flags >> 24),
	})

	return int(f.Sum32() & 0x7fffffff)
}

func (b ptxBackend) Name() string { return "ptx" }
func (b clBackend) Name() string  { return "opencl" }

func (b ptxBackend) Compile(ctx context.Context, m *ir.Method, spec ir.Specialization, kernelID int) ([]byte, string, error) {
	return b.c.Compile(ctx, m, spec, kernelID)
}

func (b clBackend) Compile(ctx context.Context, m *ir.Method, spec ir.Specialization, kernelID int) ([]byte, string, error) {
	return b.c.Compile(ctx, m, spec)
}
