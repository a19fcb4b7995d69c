package analyze

import (
	"github.com/gpujit/glow/compiler/ir"
)

type (
	// Scope is the set of blocks reachable from a method's entry,
	// in reverse post-order. All analyses and backends iterate blocks
	// through a Scope so the visit order is deterministic.
	Scope struct {
		M *ir.Method

		Blocks []ir.BlockID

		pos   map[ir.BlockID]int
		preds map[ir.BlockID][]ir.BlockID
	}
)

func NewScope(m *ir.Method) *Scope {
	s := &Scope{
		M:     m,
		pos:   make(map[ir.BlockID]int),
		preds: make(map[ir.BlockID][]ir.BlockID),
	}

	seen := make(map[ir.BlockID]bool)
	var post []ir.BlockID

	var walk func(b ir.BlockID)
	walk = func(b ir.BlockID) {
		if seen[b] {
			return
		}

		seen[b] = true

		for _, x := range m.Succs(b) {
			walk(x)
		}

		post = append(post, b)
	}

	if m.Entry != ir.NoBlock {
		walk(m.Entry)
	}

	for i := len(post) - 1; i >= 0; i-- {
		b := post[i]

		s.pos[b] = len(s.Blocks)
		s.Blocks = append(s.Blocks, b)
	}

	for _, blk := range m.Blocks {
		if !s.Reachable(blk.ID) {
			continue
		}

		for _, x := range m.Succs(blk.ID) {
			s.preds[x] = append(s.preds[x], blk.ID)
		}
	}

	return s
}

// Pos returns b's index in the RPO, or -1 for unreachable blocks.
func (s *Scope) Pos(b ir.BlockID) int {
	p, ok := s.pos[b]
	if !ok {
		return -1
	}

	return p
}

// Reachable reports whether b is reachable from the entry.
func (s *Scope) Reachable(b ir.BlockID) bool {
	_, ok := s.pos[b]
	return ok
}

// Preds returns the reachable predecessors of b in block order.
func (s *Scope) Preds(b ir.BlockID) []ir.BlockID {
	return s.preds[b]
}
