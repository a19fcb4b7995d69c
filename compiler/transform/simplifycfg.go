package transform

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/analyze"
	"github.com/gpujit/glow/compiler/ir"
)

type (
	// SimplifyCFG folds constant branches, drops unreachable blocks and
	// merges single-successor/single-predecessor chains.
	SimplifyCFG struct{}
)

func (SimplifyCFG) Name() string { return "simplifycfg" }

func (SimplifyCFG) Run(ctx context.Context, m *ir.Method, spec ir.Specialization) (changed bool, err error) {
	b, err := m.Ctx.CreateBuilder(m)
	if err != nil {
		return false, errors.Wrap(err, "builder")
	}
	defer b.Release()

	changed = foldBranches(b, m) || changed
	changed = dropUnreachable(b, m) || changed
	changed = mergeChains(b, m) || changed

	return changed, nil
}

// foldBranches turns conditional branches on constants into plain
// branches and collapses both-arms-equal conditionals.
func foldBranches(b *ir.Builder, m *ir.Method) (changed bool) {
	for _, blk := range m.Blocks {
		t := m.Terminator(blk.ID)
		if t == nil {
			continue
		}

		op, ok := t.Op.(ir.BrCond)
		if !ok {
			continue
		}

		var dst ir.BlockID = ir.NoBlock

		if op.Then == op.Else {
			dst = op.Then
		} else if c, ok := m.Value(t.Args[0]).Op.(ir.Const); ok {
			if c.Val != 0 {
				dst = op.Then
			} else {
				dst = op.Else
			}
		}

		if dst == ir.NoBlock {
			continue
		}

		dead := op.Then
		if dead == dst {
			dead = op.Else
		}

		b.Unlink(t.ID)
		b.SetBlock(blk.ID)
		b.Br(dst)

		if dead != dst {
			dropPhiEdges(b, m, dead, blk.ID)
		}

		changed = true
	}

	return changed
}

// dropUnreachable unlinks every value in blocks outside the scope and
// removes φ edges coming from them.
func dropUnreachable(b *ir.Builder, m *ir.Method) (changed bool) {
	s := analyze.NewScope(m)

	for _, blk := range m.Blocks {
		if s.Reachable(blk.ID) || len(blk.Code) == 0 {
			continue
		}

		for _, x := range m.Succs(blk.ID) {
			if s.Reachable(x) {
				dropPhiEdges(b, m, x, blk.ID)
			}
		}

		for len(blk.Code) > 0 {
			b.Unlink(blk.Code[len(blk.Code)-1])
		}

		changed = true
	}

	return changed
}

// mergeChains splices a block into its single predecessor when that
// predecessor has it as the single successor.
func mergeChains(b *ir.Builder, m *ir.Method) (changed bool) {
	s := analyze.NewScope(m)

	for _, bid := range s.Blocks {
		blk := m.Block(bid)

		t := m.Terminator(bid)
		if t == nil {
			continue
		}

		op, ok := t.Op.(ir.Br)
		if !ok {
			continue
		}

		next := op.Dst

		if next == m.Entry || next == bid || len(s.Preds(next)) != 1 {
			continue
		}

		nb := m.Block(next)

		if hasPhis(m, next) {
			continue
		}

		b.Unlink(t.ID)

		for _, id := range nb.Code {
			m.Value(id).Block = bid
		}

		blk.Code = append(blk.Code, nb.Code...)
		blk.Dirty = true
		nb.Code = nil
		nb.Dirty = true

		// successors' φs now come from the merged block
		for _, x := range m.Succs(bid) {
			renamePhiPred(m, x, next, bid)
		}

		changed = true
	}

	return changed
}

func hasPhis(m *ir.Method, bid ir.BlockID) bool {
	code := m.Block(bid).Code

	if len(code) == 0 {
		return false
	}

	_, ok := m.Value(code[0]).Op.(ir.Phi)

	return ok
}

// dropPhiEdges removes from every φ in bid the incoming edge from pred.
func dropPhiEdges(b *ir.Builder, m *ir.Method, bid, pred ir.BlockID) {
	for _, id := range m.Block(bid).Code {
		v := m.Value(id)

		phi, ok := v.Op.(ir.Phi)
		if !ok {
			break
		}

		for k := len(phi.Preds) - 1; k >= 0; k-- {
			if phi.Preds[k] != pred {
				continue
			}

			arg := v.Args[k]

			phi.Preds = append(phi.Preds[:k], phi.Preds[k+1:]...)
			v.Args = append(v.Args[:k], v.Args[k+1:]...)
			dropUseEdge(m, arg, id)
		}

		v.Op = phi
	}
}

func renamePhiPred(m *ir.Method, bid, old, new ir.BlockID) {
	for _, id := range m.Block(bid).Code {
		v := m.Value(id)

		phi, ok := v.Op.(ir.Phi)
		if !ok {
			break
		}

		for k, p := range phi.Preds {
			if p == old {
				phi.Preds[k] = new
			}
		}

		v.Op = phi
	}
}

func dropUseEdge(m *ir.Method, def, user ir.ID) {
	d := m.Value(def)
	if d == nil {
		return
	}

	for i, u := range d.Uses {
		if u == user {
			d.Uses = append(d.Uses[:i], d.Uses[i+1:]...)
			return
		}
	}
}
