package transform

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gpujit/glow/compiler/ir"
)

type (
	// Pass rewrites a method's IR through a builder and reports whether
	// it changed anything. Passes must preserve the value-graph
	// invariants; the driver can be asked to verify after each one.
	Pass interface {
		Name() string
		Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (changed bool, err error)
	}
)

// MaxIterations bounds the fixed-point loop of the pipeline.
const MaxIterations = 16

// Pipeline returns the mandatory pass list in order.
func Pipeline() []Pass {
	return []Pass{
		Inliner{},
		SimplifyCFG{},
		ConstFolder{},
		DeadCodeElim{},
		Mem2Reg{},
		Specializer{},
	}
}

// Run drives the pipeline to a fixed point, bounded by MaxIterations,
// and marks the method Transformed. Running it again is a no-op.
func Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "transform", "method", m.Decl.Handle)
	defer tr.Finish("err", &err)

	if m.TFlags&ir.Transformed != 0 {
		return nil
	}

	passes := Pipeline()

	for it := 0; it < MaxIterations; it++ {
		any := false

		for _, p := range passes {
			changed, err := p.Run(ctx, m, spec)
			if err != nil {
				return errors.Wrap(err, "%v (iteration %d)", p.Name(), it)
			}

			if changed {
				any = true
				m.GC()
			}

			if tr.If("verify") {
				if err = ir.Verify(m); err != nil {
					return errors.Wrap(err, "verify after %v", p.Name())
				}
			}

			tr.V("passes").Printw("pass", "name", p.Name(), "iteration", it, "changed", changed)
		}

		if !any {
			break
		}
	}

	m.TFlags |= ir.Transformed
	m.TFlags &^= ir.Dirty

	if tr.If("dump_ir") {
		tr.Printw("transformed", "ir", string(m.Dump(nil)))
	}

	return nil
}
