package transform

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/analyze"
	"github.com/gpujit/glow/compiler/ir"
)

type (
	// Mem2Reg promotes alloca slots whose address never escapes
	// (every use is a direct load or store) into SSA values, inserting
	// φs at joins.
	Mem2Reg struct{}
)

func (Mem2Reg) Name() string { return "mem2reg" }

func (Mem2Reg) Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (changed bool, err error) {
	b, err := m.Ctx.CreateBuilder(m)
	if err != nil {
		return false, errors.Wrap(err, "builder")
	}
	defer b.Release()

	s := analyze.NewScope(m)

	var slots []ir.ID

	for _, bid := range s.Blocks {
		for _, id := range m.Block(bid).Code {
			v := m.Value(id)

			if _, ok := v.Op.(ir.Alloca); ok && promotable(m, v) {
				slots = append(slots, id)
			}
		}
	}

	for _, slot := range slots {
		promote(b, m, s, slot)
		changed = true

		s = analyze.NewScope(m)
	}

	return changed, nil
}

// promotable requires every use to be a load from or a store to the
// slot; a store of the address itself escapes it.
func promotable(m *ir.Method, v *ir.Value) bool {
	for _, u := range v.Uses {
		uv := m.Value(u)
		if uv == nil {
			continue
		}

		switch uv.Op.(type) {
		case ir.Load:
		case ir.Store:
			if uv.Args[0] != v.ID || uv.Args[1] == v.ID {
				return false
			}
		default:
			return false
		}
	}

	return true
}

func promote(b *ir.Builder, m *ir.Method, s *analyze.Scope, slot ir.ID) {
	elem := m.Value(slot).Op.(ir.Alloca).T

	defOut := make(map[ir.BlockID]ir.ID, len(s.Blocks))

	type blockPhi struct {
		bid ir.BlockID
		phi ir.ID
	}

	var phis []blockPhi

	// reaching definition per block in RPO, φ at joins; a load before
	// any store reads poison
	for _, bid := range s.Blocks {
		b.SetBlock(bid)

		var cur ir.ID

		switch {
		case bid == m.Entry:
			cur = b.Poison(elem)
		case len(s.Preds(bid)) == 1:
			var ok bool
			cur, ok = defOut[s.Preds(bid)[0]]
			if !ok {
				cur = b.Poison(elem)
			}
		default:
			cur = b.Phi(elem, nil, nil)
			phis = append(phis, blockPhi{bid: bid, phi: cur})
		}

		code := append([]ir.ID{}, m.Block(bid).Code...)

		for _, id := range code {
			v := m.Value(id)
			if v == nil || v.Block == ir.NoBlock {
				continue
			}

			switch v.Op.(type) {
			case ir.Load:
				if v.Args[0] != slot {
					continue
				}

				b.ReplaceUses(id, cur)
				b.Unlink(id)
			case ir.Store:
				if v.Args[0] != slot {
					continue
				}

				cur = v.Args[1]
				b.Unlink(id)
			}
		}

		defOut[bid] = cur
	}

	for _, p := range phis {
		for _, pred := range s.Preds(p.bid) {
			in, ok := defOut[pred]
			if !ok {
				b.SetBlock(pred)
				in = b.Poison(elem)
			}

			b.AddIncoming(p.phi, pred, in)
		}
	}

	// prune φs whose incoming values all agree
	for changed := true; changed; {
		changed = false

		for i, p := range phis {
			if p.phi == ir.Nil {
				continue
			}

			v := m.Value(p.phi)
			if v == nil || v.Block == ir.NoBlock {
				phis[i].phi = ir.Nil
				continue
			}

			same := ir.Nil
			trivial := true

			for _, a := range v.Args {
				if a == p.phi || a == same {
					continue
				}
				if same != ir.Nil {
					trivial = false
					break
				}

				same = a
			}

			if !trivial || same == ir.Nil {
				continue
			}

			b.ReplaceUses(p.phi, same)
			b.Unlink(p.phi)
			phis[i].phi = ir.Nil
			changed = true
		}
	}

	b.Unlink(slot)
}
