package transform

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/ir"
)

type (
	// DeadCodeElim removes values with zero uses and no side effects.
	// Stores, atomics, barriers, calls and terminators are never dead.
	DeadCodeElim struct{}
)

func (DeadCodeElim) Name() string { return "dce" }

func (DeadCodeElim) Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (changed bool, err error) {
	b, err := m.Ctx.CreateBuilder(m)
	if err != nil {
		return false, errors.Wrap(err, "builder")
	}
	defer b.Release()

	for {
		var dead []ir.ID

		for _, blk := range m.Blocks {
			for _, id := range blk.Code {
				v := m.Value(id)

				if len(v.Uses) == 0 && !ir.HasSideEffects(v.Op) {
					dead = append(dead, id)
				}
			}
		}

		if len(dead) == 0 {
			break
		}

		for _, id := range dead {
			b.Unlink(id)
		}

		changed = true
	}

	return changed, nil
}
