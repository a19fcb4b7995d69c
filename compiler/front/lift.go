package front

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	liftState struct {
		c    *Front
		ictx *ir.Context
		b    *ir.Builder
		bc   *il.Method

		blocks []*liftBlock
		l2b    map[int]int

		params []ir.ID

		// synthetic entry: zeroes the locals and jumps to bytecode
		// offset 0, so a loop header at offset 0 is an ordinary join
		entryIRB    ir.BlockID
		entryLocals []ir.ID

		depth int
	}

	liftBlock struct {
		start, end int
		irb        ir.BlockID

		preds []int
		succs []int

		localsIn  []ir.ID
		localsOut []ir.ID

		// phis[i] is the φ created for local i at a join, Nil otherwise
		phis []ir.ID

		done bool
	}
)

const maxInlineDepth = 32

func (c *Front) lift(ctx context.Context, m *ir.Method, bc *il.Method) (err error) {
	b, err := m.Ctx.CreateBuilder(m)
	if err != nil {
		return errors.Wrap(err, "builder")
	}
	defer b.Release()

	s := &liftState{
		c:    c,
		ictx: m.Ctx,
		b:    b,
		bc:   bc,
	}

	for _, p := range bc.Params {
		s.params = append(s.params, b.AddParam(p.Name, p.Type))
	}

	for _, t := range bc.Locals {
		s.entryLocals = append(s.entryLocals, s.zeroLocal(t))
	}

	s.splitBlocks()

	order := s.rpo()

	// a loop header at bytecode offset 0 needs a dedicated entry block
	// so its φs have an initial-value edge
	s.entryIRB = ir.NoBlock
	if len(s.blocks[0].preds) > 1 {
		s.entryIRB = b.CreateBlock()
	}

	for _, bi := range order {
		blk := s.blocks[bi]
		blk.irb = b.CreateBlock()
	}

	if s.entryIRB != ir.NoBlock {
		b.SetBlock(s.entryIRB)
		b.Br(s.blocks[0].irb)
	}

	for _, bi := range order {
		err = s.simulate(ctx, bi)
		if err != nil {
			return errors.Wrap(err, "block %d", bi)
		}
	}

	s.patchPhis()
	s.pruneTrivialPhis()

	m.GC()

	return nil
}

// splitBlocks finds leaders and the successor graph of the bytecode.
func (s *liftState) splitBlocks() {
	code := s.bc.Code

	leader := map[int]struct{}{0: {}}

	for i, ins := range code {
		switch ins.Op {
		case il.Br, il.BrTrue, il.BrFalse:
			leader[ins.Target] = struct{}{}
			leader[i+1] = struct{}{}
		case il.RetOp:
			leader[i+1] = struct{}{}
		}
	}

	s.l2b = make(map[int]int)

	for i := 0; i < len(code); {
		bi := len(s.blocks)
		s.l2b[i] = bi

		end := i + 1
		for end < len(code) {
			if _, ok := leader[end]; ok {
				break
			}

			end++
		}

		s.blocks = append(s.blocks, &liftBlock{start: i, end: end, irb: ir.NoBlock})
		i = end
	}

	for bi, blk := range s.blocks {
		last := code[blk.end-1]

		switch last.Op {
		case il.Br:
			blk.succs = []int{s.l2b[last.Target]}
		case il.BrTrue, il.BrFalse:
			blk.succs = []int{s.l2b[last.Target], bi + 1}
		case il.RetOp:
		default:
			blk.succs = []int{bi + 1}
		}
	}

	// the synthetic entry is predecessor -1 of the first block
	s.blocks[0].preds = append(s.blocks[0].preds, -1)

	reach := s.reachable()

	for bi, blk := range s.blocks {
		if !reach[bi] {
			continue
		}

		for _, x := range blk.succs {
			s.blocks[x].preds = append(s.blocks[x].preds, bi)
		}
	}
}

// predState resolves a predecessor index, -1 being the synthetic entry.
func (s *liftState) predState(p int) (irb ir.BlockID, locals []ir.ID, done bool) {
	if p < 0 {
		return s.entryIRB, s.entryLocals, true
	}

	blk := s.blocks[p]

	return blk.irb, blk.localsOut, blk.done
}

func (s *liftState) reachable() []bool {
	r := make([]bool, len(s.blocks))

	var walk func(int)
	walk = func(bi int) {
		if r[bi] {
			return
		}

		r[bi] = true

		for _, x := range s.blocks[bi].succs {
			walk(x)
		}
	}

	walk(0)

	return r
}

// rpo returns reachable blocks in reverse post-order.
func (s *liftState) rpo() []int {
	seen := make([]bool, len(s.blocks))
	var post []int

	var walk func(int)
	walk = func(bi int) {
		if seen[bi] {
			return
		}

		seen[bi] = true

		for _, x := range s.blocks[bi].succs {
			walk(x)
		}

		post = append(post, bi)
	}

	walk(0)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}

	return post
}

func (s *liftState) zeroLocal(t tp.Type) ir.ID {
	switch t := t.(type) {
	case tp.Int:
		return s.b.ConstInt(t, 0)
	case tp.Float:
		return s.b.ConstFloat(t, 0)
	}

	return s.b.Null(t)
}

func (s *liftState) enterLocals(bi int) {
	blk := s.blocks[bi]
	b := s.b

	nloc := len(s.bc.Locals)
	blk.localsIn = make([]ir.ID, nloc)
	blk.phis = make([]ir.ID, nloc)

	for i := range blk.phis {
		blk.phis[i] = ir.Nil
	}

	single := len(blk.preds) == 1

	if single {
		if _, locals, done := s.predState(blk.preds[0]); done {
			copy(blk.localsIn, locals)
			return
		}
	}

	// join or loop header: a φ per local, incoming edges are patched
	// once every predecessor is lifted
	for i, t := range s.bc.Locals {
		blk.phis[i] = b.Phi(t, nil, nil)
		blk.localsIn[i] = blk.phis[i]
	}
}

func (s *liftState) simulate(ctx context.Context, bi int) (err error) {
	blk := s.blocks[bi]
	b := s.b

	b.SetBlock(blk.irb)

	s.enterLocals(bi)

	locals := make([]ir.ID, len(blk.localsIn))
	copy(locals, blk.localsIn)

	var stack []ir.ID

	pop := func() (ir.ID, error) {
		if len(stack) == 0 {
			return ir.Nil, InvalidStackStateError{At: blk.start, Want: "value"}
		}

		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		return v, nil
	}

	for pc := blk.start; pc < blk.end; pc++ {
		ins := s.bc.Code[pc]

		switch ins.Op {
		case il.Nop:
		case il.LdArg:
			stack = append(stack, s.params[ins.Int])
		case il.LdLoc:
			stack = append(stack, locals[ins.Int])
		case il.StLoc:
			v, err := pop()
			if err != nil {
				return err
			}

			locals[ins.Int] = v
		case il.LdcI32:
			stack = append(stack, b.ConstInt(tp.I32, ins.Int))
		case il.LdcI64:
			stack = append(stack, b.ConstInt(tp.I64, ins.Int))
		case il.LdcF32:
			stack = append(stack, b.Const(tp.F32, uint64(ins.Int)))
		case il.LdcF64:
			stack = append(stack, b.Const(tp.F64, uint64(ins.Int)))
		case il.LdNull:
			stack = append(stack, b.Null(ins.Type))
		case il.OpAdd, il.OpSub, il.OpMul, il.OpDiv, il.OpRem,
			il.OpAnd, il.OpOr, il.OpXor, il.OpShl, il.OpShr,
			il.OpMin, il.OpMax:
			r, err := pop()
			if err != nil {
				return err
			}
			l, err := pop()
			if err != nil {
				return err
			}

			kind, _ := ins.Op.ArithKind()
			stack = append(stack, b.Arith(kind, ir.ArithFlags(ins.Int), l, r))
		case il.OpNeg, il.OpNot:
			x, err := pop()
			if err != nil {
				return err
			}

			kind, _ := ins.Op.ArithKind()
			stack = append(stack, b.Arith(kind, ir.ArithFlags(ins.Int), x))
		case il.Conv:
			x, err := pop()
			if err != nil {
				return err
			}

			stack = append(stack, b.Convert(ins.Type, ir.ArithFlags(ins.Int), x))
		case il.CmpOp:
			r, err := pop()
			if err != nil {
				return err
			}
			l, err := pop()
			if err != nil {
				return err
			}

			rel := ir.Rel(ins.Int & 0xff)
			flags := ir.ArithFlags(ins.Int >> 8)

			stack = append(stack, b.Cmp(rel, flags, l, r))
		case il.Br:
			b.Br(s.blocks[s.l2b[ins.Target]].irb)
		case il.BrTrue, il.BrFalse:
			c, err := pop()
			if err != nil {
				return err
			}

			c = s.cond(c)

			taken := s.blocks[s.l2b[ins.Target]].irb
			fall := s.blocks[bi+1].irb

			if ins.Op == il.BrTrue {
				b.BrCond(c, taken, fall)
			} else {
				b.BrCond(c, fall, taken)
			}
		case il.RetOp:
			if tp.IsVoid(s.bc.Ret) {
				b.Ret(ir.Nil)
				break
			}

			v, err := pop()
			if err != nil {
				return err
			}

			b.Ret(v)
		case il.LdElem:
			idx, err := pop()
			if err != nil {
				return err
			}
			view, err := pop()
			if err != nil {
				return err
			}

			stack = append(stack, b.Load(b.ElemAddr(view, idx)))
		case il.LdElemA:
			idx, err := pop()
			if err != nil {
				return err
			}
			view, err := pop()
			if err != nil {
				return err
			}

			stack = append(stack, b.ElemAddr(view, idx))
		case il.StElem:
			v, err := pop()
			if err != nil {
				return err
			}
			idx, err := pop()
			if err != nil {
				return err
			}
			view, err := pop()
			if err != nil {
				return err
			}

			b.Store(b.ElemAddr(view, idx), v)
		case il.LdLen:
			view, err := pop()
			if err != nil {
				return err
			}

			stack = append(stack, b.ViewLen(view))
		case il.LdFld:
			x, err := pop()
			if err != nil {
				return err
			}

			stack = append(stack, s.loadField(x, int(ins.Int)))
		case il.StFld:
			v, err := pop()
			if err != nil {
				return err
			}
			x, err := pop()
			if err != nil {
				return err
			}

			b.Store(b.FieldAddr(x, int(ins.Int)), v)
		case il.LdFldA:
			x, err := pop()
			if err != nil {
				return err
			}

			stack = append(stack, b.FieldAddr(x, int(ins.Int)))
		case il.CallOp:
			stack, err = s.call(ctx, stack, ins.Callee)
			if err != nil {
				return errors.Wrap(err, "call %v at %d", ins.Callee, pc)
			}
		default:
			return NotSupportedError{Op: errors.New("opcode %d", ins.Op).Error()}
		}
	}

	// fallthrough into the next block
	if t := s.b.Method().Terminator(blk.irb); t == nil {
		if bi+1 >= len(s.blocks) {
			return NotSupportedError{Op: "fallthrough off method end"}
		}

		b.Br(s.blocks[bi+1].irb)
	}

	if len(stack) != 0 {
		return InvalidStackStateError{At: blk.end, Want: "empty stack at block end"}
	}

	blk.localsOut = locals
	blk.done = true

	return nil
}

// cond coerces a stack value to i1.
func (s *liftState) cond(c ir.ID) ir.ID {
	t := s.b.Method().Value(c).Type

	if it, ok := tp.IsInt(t); ok && it.Bits != 1 {
		return s.b.Cmp(ir.Ne, 0, c, s.b.ConstInt(it, 0))
	}

	return c
}

func (s *liftState) loadField(x ir.ID, i int) ir.ID {
	b := s.b

	if _, ok := b.Method().Value(x).Type.(tp.Ptr); ok {
		return b.Load(b.FieldAddr(x, i))
	}

	return b.GetField(x, i)
}

// patchPhis fills the incoming edges of every join φ.
func (s *liftState) patchPhis() {
	for _, blk := range s.blocks {
		for li, phi := range blk.phis {
			if phi == ir.Nil {
				continue
			}

			for _, p := range blk.preds {
				irb, locals, _ := s.predState(p)
				s.b.AddIncoming(phi, irb, locals[li])
			}
		}
	}
}

// pruneTrivialPhis removes φs whose incoming values all agree
// (ignoring self references), iterating until none are left.
func (s *liftState) pruneTrivialPhis() {
	m := s.b.Method()

	for changed := true; changed; {
		changed = false

		for _, blk := range s.blocks {
			for li, phi := range blk.phis {
				if phi == ir.Nil {
					continue
				}

				v := m.Value(phi)
				if v == nil || v.Block == ir.NoBlock {
					blk.phis[li] = ir.Nil
					continue
				}

				same := ir.Nil
				trivial := true

				for _, a := range v.Args {
					if a == phi || a == same {
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

				s.b.ReplaceUses(phi, same)
				s.b.Unlink(phi)
				blk.phis[li] = ir.Nil
				changed = true
			}
		}
	}
}
