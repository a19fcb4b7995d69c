package analyze

import (
	"github.com/gpujit/glow/compiler/ir"
)

type (
	// DomTree holds immediate dominators, computed with semi-NCA.
	DomTree struct {
		s *Scope

		idom map[ir.BlockID]ir.BlockID
		dfn  map[ir.BlockID]int
	}

	domState struct {
		s *Scope

		verts  []ir.BlockID
		dfn    map[ir.BlockID]int
		parent []int
		sdom   []int
		idom   []int

		// eval/link forest with path compression
		ancestor []int
		label    []int
	}
)

// Dominators computes the dominator tree of the scope.
func Dominators(s *Scope) *DomTree {
	d := &domState{
		s:   s,
		dfn: make(map[ir.BlockID]int),
	}

	d.dfs(s.M.Entry, -1)

	n := len(d.verts)

	d.sdom = make([]int, n)
	d.idom = make([]int, n)
	d.ancestor = make([]int, n)
	d.label = make([]int, n)

	for i := range d.sdom {
		d.sdom[i] = i
		d.ancestor[i] = -1
		d.label[i] = i
	}

	// semidominators, in reverse preorder
	for w := n - 1; w >= 1; w-- {
		for _, p := range s.Preds(d.verts[w]) {
			v, ok := d.dfn[p]
			if !ok {
				continue
			}

			u := d.eval(v, w)
			if d.sdom[u] < d.sdom[w] {
				d.sdom[w] = d.sdom[u]
			}
		}

		d.ancestor[w] = d.parent[w]
	}

	// idom[w] = NCA(parent[w], sdom[w]) over the partially built tree
	for w := 1; w < n; w++ {
		v := d.parent[w]
		for v > d.sdom[w] {
			v = d.idom[v]
		}

		d.idom[w] = v
	}

	t := &DomTree{
		s:    s,
		idom: make(map[ir.BlockID]ir.BlockID, n),
		dfn:  d.dfn,
	}

	for w := 1; w < n; w++ {
		t.idom[d.verts[w]] = d.verts[d.idom[w]]
	}

	t.idom[s.M.Entry] = s.M.Entry

	return t
}

func (d *domState) dfs(b ir.BlockID, parent int) {
	if _, ok := d.dfn[b]; ok {
		return
	}

	d.dfn[b] = len(d.verts)
	d.verts = append(d.verts, b)
	d.parent = append(d.parent, parent)

	me := d.dfn[b]

	for _, x := range d.s.M.Succs(b) {
		d.dfs(x, me)
	}
}

// eval returns the min-sdom vertex on the path to the forest root,
// considering only vertices already linked (dfn > w).
func (d *domState) eval(v, w int) int {
	if d.ancestor[v] == -1 || v <= w {
		return v
	}

	d.compress(v)

	return d.label[v]
}

func (d *domState) compress(v int) {
	a := d.ancestor[v]

	if d.ancestor[a] == -1 {
		return
	}

	d.compress(a)

	if d.sdom[d.label[a]] < d.sdom[d.label[v]] {
		d.label[v] = d.label[a]
	}

	d.ancestor[v] = d.ancestor[a]
}

// IDom returns the immediate dominator of b; the entry returns itself.
func (t *DomTree) IDom(b ir.BlockID) ir.BlockID {
	return t.idom[b]
}

// Dominates reports whether a dominates b.
func (t *DomTree) Dominates(a, b ir.BlockID) bool {
	for {
		if a == b {
			return true
		}

		i := t.idom[b]
		if i == b {
			return false
		}

		b = i
	}
}

// NCA returns the nearest common ancestor of a and b in the tree.
func (t *DomTree) NCA(a, b ir.BlockID) ir.BlockID {
	for a != b {
		for t.dfn[a] > t.dfn[b] {
			a = t.idom[a]
		}
		for t.dfn[b] > t.dfn[a] {
			b = t.idom[b]
		}
	}

	return a
}
