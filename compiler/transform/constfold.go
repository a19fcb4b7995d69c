package transform

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/ir"
)

type (
	// ConstFolder re-folds values whose operands became constant after
	// earlier rewrites. The fold tables live in the builder; this pass
	// re-runs creation for foldable ops and swaps the result in.
	ConstFolder struct{}
)

func (ConstFolder) Name() string { return "constfold" }

func (ConstFolder) Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (changed bool, err error) {
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

			if folded := refold(b, m, v); folded != ir.Nil {
				b.ReplaceUses(id, folded)
				b.Unlink(id)
				changed = true
			}
		}
	}

	return changed, nil
}

func refold(b *ir.Builder, m *ir.Method, v *ir.Value) ir.ID {
	// poison propagates through pure ops
	pure := false
	switch v.Op.(type) {
	case ir.Arith, ir.Cmp, ir.Convert, ir.BitCast, ir.GetField, ir.SetField:
		pure = true
	}

	if pure {
		for _, a := range v.Args {
			if _, ok := m.Value(a).Op.(ir.Poison); ok {
				return b.Poison(v.Type)
			}
		}
	}

	if !allConst(m, v.Args) {
		return ir.Nil
	}

	b.SetBlock(v.Block)

	switch op := v.Op.(type) {
	case ir.Arith:
		if len(v.Args) == 0 {
			return ir.Nil
		}

		r := b.Arith(op.Kind, op.Flags, v.Args...)
		if isConstLike(m, r) {
			return r
		}

		b.Unlink(r)
	case ir.Cmp:
		r := b.Cmp(op.Rel, op.Flags, v.Args[0], v.Args[1])
		if isConstLike(m, r) {
			return r
		}

		b.Unlink(r)
	case ir.Convert:
		r := b.Convert(v.Type, op.Flags, v.Args[0])
		if isConstLike(m, r) {
			return r
		}

		if r != v.Args[0] {
			b.Unlink(r)
		}
	}

	return ir.Nil
}

func allConst(m *ir.Method, args []ir.ID) bool {
	if len(args) == 0 {
		return false
	}

	for _, a := range args {
		if _, ok := m.Value(a).Op.(ir.Const); !ok {
			return false
		}
	}

	return true
}

func isConstLike(m *ir.Method, id ir.ID) bool {
	switch m.Value(id).Op.(type) {
	case ir.Const, ir.Poison:
		return true
	}

	return false
}
