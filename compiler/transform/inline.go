package transform

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/analyze"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Inliner splices the IR of small and AggressiveInlining callees
	// into the caller. The frontend already absorbed straight-line
	// callees; this pass handles the branchy ones.
	Inliner struct{}

	phiFix struct {
		phi ir.ID
		src *ir.Value
	}
)

// InlineValueLimit is the size cap for callees not marked
// AggressiveInlining.
const InlineValueLimit = 48

func (Inliner) Name() string { return "inline" }

func (Inliner) Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (changed bool, err error) {
	b, err := m.Ctx.CreateBuilder(m)
	if err != nil {
		return false, errors.Wrap(err, "builder")
	}
	defer b.Release()

	var calls []ir.ID

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			if _, ok := m.Value(id).Op.(ir.Call); ok {
				calls = append(calls, id)
			}
		}
	}

	for _, id := range calls {
		v := m.Value(id)
		if v == nil || v.Block == ir.NoBlock {
			continue
		}

		callee := m.Ctx.Method(v.Op.(ir.Call).Callee)

		if !shouldInline(m, callee) {
			continue
		}

		err = splice(b, m, v, callee)
		if err != nil {
			return changed, errors.Wrap(err, "inline %v", callee.Decl.Handle)
		}

		changed = true
	}

	return changed, nil
}

func shouldInline(m, callee *ir.Method) bool {
	if callee == nil || callee == m || callee.Entry == ir.NoBlock {
		return false
	}

	f := callee.Decl.Flags

	if f&(ir.NoInlining|ir.External|ir.ExternalDeclaration) != 0 {
		return false
	}

	return f&ir.AggressiveInlining != 0 || callee.NumValues() <= InlineValueLimit
}

func splice(b *ir.Builder, m *ir.Method, call *ir.Value, callee *ir.Method) error {
	cblk := m.Block(call.Block)

	ci := -1
	for i, id := range cblk.Code {
		if id == call.ID {
			ci = i
			break
		}
	}
	if ci < 0 {
		return errors.New("call not in its block")
	}

	// split: everything after the call moves to a continuation block
	cont := b.CreateBlock()

	tail := append([]ir.ID{}, cblk.Code[ci+1:]...)
	cblk.Code = cblk.Code[:ci+1]
	cblk.Dirty = true

	cb := m.Block(cont)
	cb.Code = tail

	for _, id := range tail {
		m.Value(id).Block = cont
	}

	// the moved terminator exits cont now
	for _, x := range m.Succs(cont) {
		renamePhiPred(m, x, cblk.ID, cont)
	}

	// clone callee blocks in RPO
	cs := analyze.NewScope(callee)

	bmap := make(map[ir.BlockID]ir.BlockID, len(cs.Blocks))
	for _, cbid := range cs.Blocks {
		bmap[cbid] = b.CreateBlock()
	}

	vmap := make(map[ir.ID]ir.ID, callee.NumValues())

	for i, p := range callee.Params {
		vmap[p] = call.Args[i]
	}

	mapArg := func(a ir.ID) (ir.ID, error) {
		if x, ok := vmap[a]; ok {
			return x, nil
		}

		av := callee.Value(a)
		if av == nil || av.Block != ir.NoBlock {
			return ir.Nil, errors.New("unmapped operand %v", a)
		}

		x, err := cloneLiteral(b, av)
		if err != nil {
			return ir.Nil, err
		}

		vmap[a] = x

		return x, nil
	}

	var fixes []phiFix
	var retBlocks []ir.BlockID
	var retVals []ir.ID

	for _, cbid := range cs.Blocks {
		b.SetBlock(bmap[cbid])

		for _, id := range callee.Block(cbid).Code {
			v := callee.Value(id)

			switch op := v.Op.(type) {
			case ir.Ret:
				if len(v.Args) > 0 {
					rv, err := mapArg(v.Args[0])
					if err != nil {
						return err
					}

					retVals = append(retVals, rv)
				}

				retBlocks = append(retBlocks, bmap[cbid])
				b.Br(cont)
			case ir.Phi:
				// incoming edges may be back references; patch later
				nid := b.Phi(v.Type, nil, nil)
				vmap[id] = nid
				fixes = append(fixes, phiFix{phi: nid, src: v})
			case ir.Br:
				b.Br(bmap[op.Dst])
			case ir.BrCond:
				c, err := mapArg(v.Args[0])
				if err != nil {
					return err
				}

				b.BrCond(c, bmap[op.Then], bmap[op.Else])
			case ir.Switch:
				x, err := mapArg(v.Args[0])
				if err != nil {
					return err
				}

				dsts := make([]ir.BlockID, len(op.Dsts))
				for i, d := range op.Dsts {
					dsts[i] = bmap[d]
				}

				b.Switch(x, op.Cases, dsts, bmap[op.Default])
			default:
				args := make([]ir.ID, len(v.Args))

				for i, a := range v.Args {
					x, err := mapArg(a)
					if err != nil {
						return err
					}

					args[i] = x
				}

				vmap[id] = b.Emit(v.Op, v.Type, args...)
			}
		}
	}

	for _, f := range fixes {
		phi := f.src.Op.(ir.Phi)

		for k, p := range phi.Preds {
			x, err := mapArg(f.src.Args[k])
			if err != nil {
				return err
			}

			b.AddIncoming(f.phi, bmap[p], x)
		}
	}

	// the call's result is the single return value, or a φ over them
	if !tp.IsVoid(callee.Decl.Ret) && len(retVals) > 0 {
		rv := retVals[0]

		if len(retVals) > 1 {
			b.SetBlock(cont)
			rv = b.Phi(callee.Decl.Ret, retBlocks, retVals)
		}

		b.ReplaceUses(call.ID, rv)
	}

	b.Unlink(call.ID)

	b.SetBlock(cblk.ID)
	b.Br(bmap[callee.Entry])

	return nil
}

func cloneLiteral(b *ir.Builder, v *ir.Value) (ir.ID, error) {
	switch op := v.Op.(type) {
	case ir.Const:
		return b.Const(v.Type, op.Val), nil
	case ir.Null:
		return b.Null(v.Type), nil
	case ir.Poison:
		return b.Poison(v.Type), nil
	case ir.StrConst:
		return b.Str(op.S), nil
	}

	return ir.Nil, errors.New("not a literal: %T", v.Op)
}
