package cl

import (
	"strings"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

func (f *fnState) emitValue(bid ir.BlockID, v *ir.Value) error {
	switch op := v.Op.(type) {
	case ir.Const, ir.Null, ir.Poison, ir.StrConst, ir.Param:
		// rendered inline at uses
		return nil
	case ir.Arith:
		return f.emitArith(v, op)
	case ir.Cmp:
		return f.emitCmp(v, op)
	case ir.Convert, ir.PtrCast:
		f.assign(v, "(%s)%s", f.typeName(v.Type), f.operand(v.Args[0]))

		return nil
	case ir.BitCast:
		f.assign(v, "as_%s(%s)", f.typeName(v.Type), f.operand(v.Args[0]))

		return nil
	case ir.Alloca:
		return NotSupportedError{What: "unpromoted alloca"}
	case ir.Load:
		f.assign(v, "*%s", f.operand(v.Args[0]))

		return nil
	case ir.Store:
		f.w.line("*%s = %s;", f.operand(v.Args[0]), f.operand(v.Args[1]))

		return nil
	case ir.Barrier:
		switch op.Kind {
		case ir.BarrierGroup:
			f.w.line("barrier(CLK_GLOBAL_MEM_FENCE | CLK_LOCAL_MEM_FENCE);")
		case ir.BarrierWarp:
			f.subgroups = true
			f.w.line("sub_group_barrier(CLK_LOCAL_MEM_FENCE);")
		case ir.BarrierMemory:
			f.w.line("mem_fence(CLK_GLOBAL_MEM_FENCE);")
		}

		return nil
	case ir.GetField:
		f.assign(v, "%s._f%d", f.operand(v.Args[0]), op.Index)

		return nil
	case ir.SetField:
		name := "v" + itoa(int(v.ID))
		f.vars[v.ID] = name

		f.w.line("%s %s = %s;", f.typeName(v.Type), name, f.operand(v.Args[0]))
		f.w.line("%s._f%d = %s;", name, op.Index, f.operand(v.Args[1]))

		return nil
	case ir.FieldAddr:
		f.assign(v, "&%s->_f%d", f.operand(v.Args[0]), op.Index)

		return nil
	case ir.ElemAddr:
		if _, ok := f.m.Value(v.Args[0]).Type.(tp.View); ok {
			f.assign(v, "%s.ptr + %s", f.operand(v.Args[0]), f.operand(v.Args[1]))
		} else {
			f.assign(v, "%s + %s", f.operand(v.Args[0]), f.operand(v.Args[1]))
		}

		return nil
	case ir.ViewLen:
		f.assign(v, "%s.len", f.operand(v.Args[0]))

		return nil
	case ir.AtomicRMW:
		return f.emitAtomic(v, op)
	case ir.AtomicCAS:
		f.assign(v, "atomic_cmpxchg(%s, %s, %s)",
			f.operand(v.Args[0]), f.operand(v.Args[1]), f.operand(v.Args[2]))

		return nil
	case ir.Call:
		return f.emitCall(v, op)
	case ir.Intrinsic:
		return f.emitIntrinsic(v, op)
	case ir.Phi:
		// assigned at the predecessors, declared at the dominator
		return nil
	case ir.Br:
		f.phiMoves(bid, op.Dst)
		f.w.line("goto BB%d;", int(op.Dst))

		return nil
	case ir.BrCond:
		f.w.line("if (%s)", f.operand(v.Args[0]))
		f.w.line("{")
		f.w.ind++
		f.phiMoves(bid, op.Then)
		f.w.line("goto BB%d;", int(op.Then))
		f.w.ind--
		f.w.line("}")
		f.phiMoves(bid, op.Else)
		f.w.line("goto BB%d;", int(op.Else))

		return nil
	case ir.Switch:
		f.w.line("switch (%s)", f.operand(v.Args[0]))
		f.w.line("{")

		for i, c := range op.Cases {
			f.w.line("case %d:", c)
			f.w.ind++
			f.phiMoves(bid, op.Dsts[i])
			f.w.line("goto BB%d;", int(op.Dsts[i]))
			f.w.ind--
		}

		f.w.line("default:")
		f.w.ind++
		f.phiMoves(bid, op.Default)
		f.w.line("goto BB%d;", int(op.Default))
		f.w.ind--
		f.w.line("}")

		return nil
	case ir.Ret:
		if len(v.Args) == 0 {
			f.w.line("return;")
		} else {
			f.w.line("return %s;", f.operand(v.Args[0]))
		}

		return nil
	}

	return NotSupportedError{What: "value kind"}
}

// phiMoves assigns the φ variables of dst that receive values over the
// bid -> dst edge.
func (f *fnState) phiMoves(bid, dst ir.BlockID) {
	for _, id := range f.m.Block(dst).Code {
		v := f.m.Value(id)

		phi, ok := v.Op.(ir.Phi)
		if !ok {
			break
		}

		for k, p := range phi.Preds {
			if p != bid {
				continue
			}

			f.w.line("%s = %s;", f.vars[id], f.operand(v.Args[k]))
		}
	}
}

func (f *fnState) emitArith(v *ir.Value, op ir.Arith) error {
	fast := op.Flags&ir.FastMath != 0 || f.spec.FastMath()

	it, isInt := v.Type.(tp.Int)
	_, isFloat := v.Type.(tp.Float)

	// an explicit Unsigned flag on a signed type computes in the
	// unsigned domain and casts back
	reU := isInt && !it.Unsigned && op.Flags&ir.Unsigned != 0

	arg := func(i int) string {
		x := f.operand(v.Args[i])

		if reU {
			return "(" + f.typeName(tp.Int{Bits: it.Bits, Unsigned: true}) + ")" + x
		}

		return x
	}

	wrap := func(e string) string {
		if reU {
			return "(" + f.typeName(it) + ")(" + e + ")"
		}

		return e
	}

	var e string

	switch op.Kind {
	case ir.Add:
		e = arg(0) + " + " + arg(1)
	case ir.Sub:
		e = arg(0) + " - " + arg(1)
	case ir.Mul:
		e = arg(0) + " * " + arg(1)
	case ir.Div:
		e = arg(0) + " / " + arg(1)
	case ir.Rem:
		if isFloat {
			e = "fmod(" + arg(0) + ", " + arg(1) + ")"
		} else {
			e = arg(0) + " % " + arg(1)
		}
	case ir.And:
		e = arg(0) + " & " + arg(1)
	case ir.Or:
		e = arg(0) + " | " + arg(1)
	case ir.Xor:
		e = arg(0) + " ^ " + arg(1)
	case ir.Shl:
		e = arg(0) + " << " + arg(1)
	case ir.Shr:
		e = arg(0) + " >> " + arg(1)
	case ir.Min:
		if isFloat {
			e = "fmin(" + arg(0) + ", " + arg(1) + ")"
		} else {
			e = "min(" + arg(0) + ", " + arg(1) + ")"
		}
	case ir.Max:
		if isFloat {
			e = "fmax(" + arg(0) + ", " + arg(1) + ")"
		} else {
			e = "max(" + arg(0) + ", " + arg(1) + ")"
		}
	case ir.Neg:
		e = "-" + arg(0)
	case ir.Not:
		e = "~" + arg(0)
	case ir.Abs:
		if isFloat {
			e = "fabs(" + arg(0) + ")"
		} else {
			e = "abs(" + arg(0) + ")"
		}
	case ir.Sqrt:
		e = mathFn("sqrt", fast) + "(" + arg(0) + ")"
	case ir.Sin:
		e = mathFn("sin", fast) + "(" + arg(0) + ")"
	case ir.Cos:
		e = mathFn("cos", fast) + "(" + arg(0) + ")"
	case ir.Exp:
		e = mathFn("exp", fast) + "(" + arg(0) + ")"
	case ir.Log:
		e = mathFn("log", fast) + "(" + arg(0) + ")"
	case ir.MulAdd:
		e = "fma(" + arg(0) + ", " + arg(1) + ", " + arg(2) + ")"
	default:
		return NotSupportedError{What: "op " + op.Kind.String()}
	}

	f.assign(v, "%s", wrap(e))

	return nil
}

func mathFn(name string, fast bool) string {
	if fast {
		return "native_" + name
	}

	return name
}

func (f *fnState) emitCmp(v *ir.Value, op ir.Cmp) error {
	at := f.m.Value(v.Args[0]).Type

	l, r := f.operand(v.Args[0]), f.operand(v.Args[1])

	it, isInt := at.(tp.Int)
	if isInt && !it.Unsigned && op.Flags&ir.Unsigned != 0 {
		u := f.typeName(tp.Int{Bits: it.Bits, Unsigned: true})
		l = "(" + u + ")" + l
		r = "(" + u + ")" + r
	}

	var cop string

	switch op.Rel &^ ir.RelUnordered {
	case ir.Eq:
		cop = "=="
	case ir.Ne:
		cop = "!="
	case ir.Lt:
		cop = "<"
	case ir.Le:
		cop = "<="
	case ir.Gt:
		cop = ">"
	case ir.Ge:
		cop = ">="
	}

	e := l + " " + cop + " " + r

	if _, isFloat := at.(tp.Float); isFloat && op.Rel&ir.RelUnordered != 0 {
		e = "isnan(" + l + ") || isnan(" + r + ") || " + e
	}

	f.assign(v, "%s", e)

	return nil
}

func (f *fnState) emitAtomic(v *ir.Value, op ir.AtomicRMW) error {
	var fn string

	switch op.Kind {
	case ir.AtomicAdd:
		fn = "atomic_add"
	case ir.AtomicAnd:
		fn = "atomic_and"
	case ir.AtomicOr:
		fn = "atomic_or"
	case ir.AtomicXor:
		fn = "atomic_xor"
	case ir.AtomicMin:
		fn = "atomic_min"
	case ir.AtomicMax:
		fn = "atomic_max"
	case ir.AtomicExch:
		fn = "atomic_xchg"
	default:
		return NotSupportedError{What: "atomic"}
	}

	f.assign(v, "%s(%s, %s)", fn, f.operand(v.Args[0]), f.operand(v.Args[1]))

	return nil
}

func (f *fnState) emitCall(v *ir.Value, op ir.Call) error {
	args := make([]string, len(v.Args))
	for i, a := range v.Args {
		args[i] = f.operand(a)
	}

	call := string(op.Callee) + "(" + strings.Join(args, ", ") + ")"

	if tp.IsVoid(v.Type) {
		f.w.line("%s;", call)
		return nil
	}

	f.assign(v, "%s", call)

	return nil
}

func (f *fnState) emitIntrinsic(v *ir.Value, op ir.Intrinsic) error {
	if op.Kind == ir.Shuffle {
		return f.emitShuffle(v, op)
	}

	var e string

	switch op.Kind {
	case ir.GridIdx:
		e = "(int)get_group_id(" + itoa(op.Width) + ")"
	case ir.GridDim:
		e = "(int)get_num_groups(" + itoa(op.Width) + ")"
	case ir.GroupIdx:
		e = "(int)get_local_id(" + itoa(op.Width) + ")"
	case ir.GroupDim:
		e = "(int)get_local_size(" + itoa(op.Width) + ")"
	case ir.LaneIdx:
		f.subgroups = true
		e = "(int)get_sub_group_local_id()"
	case ir.WarpSize:
		f.subgroups = true
		e = "(int)get_max_sub_group_size()"
	default:
		return NotSupportedError{What: "intrinsic"}
	}

	f.assign(v, "%s", e)

	return nil
}

func (f *fnState) emitShuffle(v *ir.Value, op ir.Intrinsic) error {
	f.subgroups = true

	val, src := f.operand(v.Args[0]), f.operand(v.Args[1])

	var fn string

	switch op.Mode {
	case ir.ShuffleIdx:
		fn = "sub_group_shuffle"
	case ir.ShuffleUp:
		fn = "sub_group_shuffle_up"
	case ir.ShuffleDown:
		fn = "sub_group_shuffle_down"
	case ir.ShuffleXor:
		fn = "sub_group_shuffle_xor"
	}

	f.assign(v, "%s(%s, (uint)%s)", fn, val, src)

	return nil
}
