package analyze

import (
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/set"
)

type (
	// Liveness holds per-block live-in/live-out value sets.
	// Ids are context-global, so the bitsets anchor at the method's
	// first id.
	Liveness struct {
		In  map[ir.BlockID]set.Bits[ir.ID]
		Out map[ir.BlockID]set.Bits[ir.ID]
	}
)

// Live computes block liveness with the usual backward fixpoint.
// φ operands count as live-out of the corresponding predecessor, not
// live-in of the φ's block.
func Live(s *Scope) *Liveness {
	m := s.M

	base := baseID(s)

	lv := &Liveness{
		In:  make(map[ir.BlockID]set.Bits[ir.ID], len(s.Blocks)),
		Out: make(map[ir.BlockID]set.Bits[ir.ID], len(s.Blocks)),
	}

	use := make(map[ir.BlockID]set.Bits[ir.ID], len(s.Blocks))
	def := make(map[ir.BlockID]set.Bits[ir.ID], len(s.Blocks))

	for _, bid := range s.Blocks {
		u, d := set.MakeBits(base), set.MakeBits(base)

		for _, id := range m.Block(bid).Code {
			v := m.Value(id)

			if _, ok := v.Op.(ir.Phi); ok {
				d.Set(id)
				continue
			}

			for _, a := range v.Args {
				// block-less literals materialize at use
				if m.Value(a).Block == ir.NoBlock {
					continue
				}

				if !d.IsSet(a) {
					u.Set(a)
				}
			}

			d.Set(id)
		}

		use[bid], def[bid] = u, d
		lv.In[bid] = set.MakeBits(base)
		lv.Out[bid] = set.MakeBits(base)
	}

	for changed := true; changed; {
		changed = false

		for i := len(s.Blocks) - 1; i >= 0; i-- {
			bid := s.Blocks[i]

			out := set.MakeBits(base)

			for _, x := range m.Succs(bid) {
				out.Merge(lv.In[x])

				// φ inputs flowing over this edge
				for _, id := range m.Block(x).Code {
					v := m.Value(id)

					phi, ok := v.Op.(ir.Phi)
					if !ok {
						break
					}

					for k, p := range phi.Preds {
						if p == bid && m.Value(v.Args[k]).Block != ir.NoBlock {
							out.Set(v.Args[k])
						}
					}
				}
			}

			in := out.Copy()
			in.Substract(def[bid])
			in.Merge(use[bid])

			if in.Size() != lv.In[bid].Size() || out.Size() != lv.Out[bid].Size() {
				changed = true
			}

			lv.In[bid] = in
			lv.Out[bid] = out
		}
	}

	return lv
}

// baseID finds the lowest value id of the scope, params included.
func baseID(s *Scope) ir.ID {
	base := ir.ID(0)
	found := false

	take := func(id ir.ID) {
		if !found || id < base {
			base, found = id, true
		}
	}

	for _, p := range s.M.Params {
		take(p)
	}

	for _, bid := range s.Blocks {
		for _, id := range s.M.Block(bid).Code {
			take(id)
		}
	}

	return base
}

// LastUses returns, per value id used in the block, the index in block
// code order of its final local use. The backend frees a value's
// register past this point when the value is not live-out.
func LastUses(m *ir.Method, bid ir.BlockID) map[ir.ID]int {
	r := make(map[ir.ID]int)

	for i, id := range m.Block(bid).Code {
		v := m.Value(id)

		for _, a := range v.Args {
			r[a] = i
		}
	}

	return r
}
