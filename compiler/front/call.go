package front

import (
	"context"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/il"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

// call lowers a call instruction. Intrinsic callees become dedicated
// IR nodes; small straight-line callees are spliced inline; everything
// else is a Call node with the callee compiled recursively.
func (s *liftState) call(ctx context.Context, stack []ir.ID, callee ir.MethodHandle) ([]ir.ID, error) {
	b := s.b

	popn := func(n int) ([]ir.ID, error) {
		if len(stack) < n {
			return nil, InvalidStackStateError{Want: "call arguments"}
		}

		args := make([]ir.ID, n)
		copy(args, stack[len(stack)-n:])
		stack = stack[:len(stack)-n]

		return args, nil
	}

	if d, ok := il.Intrinsic(callee); ok {
		switch d.Class {
		case il.ClassQuery:
			stack = append(stack, b.Intrinsic(d.Query, d.Dim))

			return stack, nil
		case il.ClassMath:
			args, err := popn(d.Math.Arity())
			if err != nil {
				return nil, err
			}

			stack = append(stack, b.Arith(d.Math, 0, args...))

			return stack, nil
		case il.ClassAtomic:
			args, err := popn(2)
			if err != nil {
				return nil, err
			}

			stack = append(stack, b.AtomicRMW(d.Atomic, args[0], args[1]))

			return stack, nil
		case il.ClassCAS:
			args, err := popn(3)
			if err != nil {
				return nil, err
			}

			stack = append(stack, b.AtomicCAS(args[0], args[1], args[2]))

			return stack, nil
		case il.ClassShuffle:
			// value, source lane, width
			args, err := popn(3)
			if err != nil {
				return nil, err
			}

			width := 32
			if w := b.Method().Value(args[2]); w != nil {
				if c, ok := w.Op.(ir.Const); ok {
					width = int(c.Val)
				}
			}

			stack = append(stack, b.Shuffle(d.Shuffle, width, args[0], args[1]))

			return stack, nil
		case il.ClassBarrier:
			b.MemBarrier(d.Barrier)

			return stack, nil
		}
	}

	bc, err := s.c.res.Resolve(callee)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}

	args, err := popn(len(bc.Params))
	if err != nil {
		return nil, err
	}

	if s.inlinable(bc) && s.depth < maxInlineDepth {
		r, err := s.inline(ctx, bc, args)
		if err != nil {
			return nil, errors.Wrap(err, "inline")
		}

		if r != ir.Nil {
			stack = append(stack, r)
		}

		return stack, nil
	}

	if bc.Flags&ir.External != 0 {
		return nil, UnsupportedCallTargetError{Callee: callee}
	}

	_, err = s.c.Compile(ctx, s.ictx, callee)
	if err != nil {
		return nil, errors.Wrap(err, "compile callee")
	}

	r := b.Call(callee, bc.Ret, args...)

	if !tp.IsVoid(bc.Ret) {
		stack = append(stack, r)
	}

	return stack, nil
}

// inlinable accepts short callees with straight-line code.
// Branchy callees inline later, in the transformation pipeline.
func (s *liftState) inlinable(bc *il.Method) bool {
	if bc.Flags&(ir.NoInlining|ir.External|ir.ExternalDeclaration) != 0 {
		return false
	}

	if len(bc.Code) > s.c.InlineLimit && bc.Flags&ir.AggressiveInlining == 0 {
		return false
	}

	for i, ins := range bc.Code {
		if ins.Op == il.RetOp && i != len(bc.Code)-1 {
			return false
		}

		if ins.Op == il.Br || ins.Op == il.BrTrue || ins.Op == il.BrFalse {
			return false
		}
	}

	return len(bc.Code) > 0
}

// inline simulates the callee's straight-line body in place, with the
// argument values standing in for parameters. Returns the result value
// or Nil for void callees.
func (s *liftState) inline(ctx context.Context, bc *il.Method, args []ir.ID) (ir.ID, error) {
	b := s.b

	locals := make([]ir.ID, len(bc.Locals))
	for i, t := range bc.Locals {
		locals[i] = s.zeroLocal(t)
	}

	var stack []ir.ID

	pop := func() (ir.ID, error) {
		if len(stack) == 0 {
			return ir.Nil, InvalidStackStateError{Want: "value (inlined)"}
		}

		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		return v, nil
	}

	for _, ins := range bc.Code {
		switch ins.Op {
		case il.Nop:
		case il.LdArg:
			stack = append(stack, args[ins.Int])
		case il.LdLoc:
			stack = append(stack, locals[ins.Int])
		case il.StLoc:
			v, err := pop()
			if err != nil {
				return ir.Nil, err
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
				return ir.Nil, err
			}
			l, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			kind, _ := ins.Op.ArithKind()
			stack = append(stack, b.Arith(kind, ir.ArithFlags(ins.Int), l, r))
		case il.OpNeg, il.OpNot:
			x, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			kind, _ := ins.Op.ArithKind()
			stack = append(stack, b.Arith(kind, ir.ArithFlags(ins.Int), x))
		case il.Conv:
			x, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			stack = append(stack, b.Convert(ins.Type, ir.ArithFlags(ins.Int), x))
		case il.CmpOp:
			r, err := pop()
			if err != nil {
				return ir.Nil, err
			}
			l, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			stack = append(stack, b.Cmp(ir.Rel(ins.Int&0xff), ir.ArithFlags(ins.Int>>8), l, r))
		case il.LdElem:
			idx, err := pop()
			if err != nil {
				return ir.Nil, err
			}
			view, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			stack = append(stack, b.Load(b.ElemAddr(view, idx)))
		case il.LdElemA:
			idx, err := pop()
			if err != nil {
				return ir.Nil, err
			}
			view, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			stack = append(stack, b.ElemAddr(view, idx))
		case il.StElem:
			v, err := pop()
			if err != nil {
				return ir.Nil, err
			}
			idx, err := pop()
			if err != nil {
				return ir.Nil, err
			}
			view, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			b.Store(b.ElemAddr(view, idx), v)
		case il.LdLen:
			view, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			stack = append(stack, b.ViewLen(view))
		case il.LdFld:
			x, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			stack = append(stack, s.loadField(x, int(ins.Int)))
		case il.StFld:
			v, err := pop()
			if err != nil {
				return ir.Nil, err
			}
			x, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			b.Store(b.FieldAddr(x, int(ins.Int)), v)
		case il.LdFldA:
			x, err := pop()
			if err != nil {
				return ir.Nil, err
			}

			stack = append(stack, b.FieldAddr(x, int(ins.Int)))
		case il.RetOp:
			if tp.IsVoid(bc.Ret) {
				return ir.Nil, nil
			}

			return pop()
		case il.CallOp:
			s.depth++
			var err error
			stack, err = s.call(ctx, stack, ins.Callee)
			s.depth--

			if err != nil {
				return ir.Nil, err
			}
		default:
			return ir.Nil, NotSupportedError{Op: "inlined opcode"}
		}
	}

	if tp.IsVoid(bc.Ret) {
		return ir.Nil, nil
	}

	return ir.Nil, InvalidStackStateError{Want: "return value (inlined)"}
}
