package front

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
)

type (
	// Front lifts host bytecode into IR. Small straight-line callees
	// are spliced inline; everything else becomes a Call node and the
	// callee is compiled recursively.
	Front struct {
		res il.Resolver

		// InlineLimit is the max bytecode length of a frontend-inlined
		// callee.
		InlineLimit int
	}

	NotSupportedError struct {
		Op string
	}

	InvalidStackStateError struct {
		At   int
		Want string
	}

	UnsupportedCallTargetError struct {
		Callee ir.MethodHandle
	}
)

func New(res il.Resolver) *Front {
	return &Front{
		res:         res,
		InlineLimit: 32,
	}
}

// Compile lifts the method named by handle, and transitively every
// callee, into ctx. It returns the lifted entry method.
func (c *Front) Compile(ctx context.Context, ictx *ir.Context, h ir.MethodHandle) (_ *ir.Method, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: compile", "handle", h)
	defer tr.Finish("err", &err)

	if m := ictx.Method(h); m != nil {
		return m, nil
	}

	bc, err := c.res.Resolve(h)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}

	m, err := ictx.CreateMethod(ir.Decl{
		Handle: bc.Handle,
		Name:   bc.Name,
		Ret:    bc.Ret,
		Flags:  bc.Flags,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create method")
	}

	if bc.Flags&(ir.External|ir.ExternalDeclaration) != 0 {
		return m, nil
	}

	err = c.lift(ctx, m, bc)
	if err != nil {
		return nil, errors.Wrap(err, "lift %v", h)
	}

	if tr.If("dump_ir") {
		tr.Printw("lifted", "handle", h, "ir", string(m.Dump(nil)))
	}

	return m, nil
}

func (e NotSupportedError) Error() string {
	return fmt.Sprintf("not supported on device: %v", e.Op)
}

func (e InvalidStackStateError) Error() string {
	return fmt.Sprintf("invalid evaluation stack at %d: want %v", e.At, e.Want)
}

func (e UnsupportedCallTargetError) Error() string {
	return fmt.Sprintf("unsupported call target: %v", e.Callee)
}
