package transform

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Specializer substitutes values pinned by the kernel
	// specialization: a known group size folds the GroupDim query, and
	// the fast-math flag is stamped onto float arithmetic.
	Specializer struct{}
)

func (Specializer) Name() string { return "specialize" }

func (Specializer) Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (changed bool, err error) {
	group := spec.GroupSize()
	fast := spec.FastMath()

	if group == 0 && !fast {
		return false, nil
	}

	b, err := m.Ctx.CreateBuilder(m)
	if err != nil {
		return false, errors.Wrap(err, "builder")
	}
	defer b.Release()

	for _, blk := range m.Blocks {
		code := append([]ir.ID{}, blk.Code...)

		for _, id := range code {
			v := m.Value(id)
			if v == nil || v.Block == ir.NoBlock {
				continue
			}

			switch op := v.Op.(type) {
			case ir.Intrinsic:
				if group == 0 || op.Kind != ir.GroupDim || op.Width != 0 {
					continue
				}

				b.ReplaceUses(id, b.ConstInt(tp.I32, int64(group)))
				b.Unlink(id)
				changed = true
			case ir.Arith:
				if !fast || op.Flags&ir.FastMath != 0 {
					continue
				}

				if _, ok := tp.IsFloat(v.Type); !ok {
					continue
				}

				op.Flags |= ir.FastMath
				v.Op = op
				blk.Dirty = true
				changed = true
			}
		}
	}

	return changed, nil
}
