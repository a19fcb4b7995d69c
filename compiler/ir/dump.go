package ir

import (
	"math"

	"github.com/nikandfor/hacked/hfmt"

	"github.com/gpujit/glow/compiler/tp"
)

// Dump appends the method's textual form:
//
//	MethodName(param0 : Type0, param1 : Type1) -> ReturnType
//	BB0:
//	  %3 : i32 = add %1, %2
//	  %4 : i32 = mul %3, const(7:i32)
//	  br BB1
//	BB1:
//	  ret %4
func (m *Method) Dump(b []byte) []byte {
	b = hfmt.Appendf(b, "%s(", m.Decl.Name)

	for i, p := range m.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		v := m.Value(p)
		b = hfmt.Appendf(b, "%s : %v", v.Op.(Param).Name, v.Type)
	}

	b = hfmt.Appendf(b, ") -> %v\n", m.Decl.Ret)

	for _, blk := range m.Blocks {
		b = hfmt.Appendf(b, "BB%d:\n", int(blk.ID))

		for _, id := range blk.Code {
			v := m.Value(id)

			// literals render inline at their uses
			if _, ok := v.Op.(Const); ok {
				continue
			}

			b = append(b, "  "...)
			b = m.dumpValue(b, v)
			b = append(b, '\n')
		}
	}

	return b
}

func (m *Method) dumpValue(b []byte, v *Value) []byte {
	switch op := v.Op.(type) {
	case Br:
		return hfmt.Appendf(b, "br BB%d", int(op.Dst))
	case BrCond:
		return hfmt.Appendf(b, "br %v, BB%d, BB%d", m.ref(v.Args[0]), int(op.Then), int(op.Else))
	case Switch:
		b = hfmt.Appendf(b, "switch %v, BB%d [", m.ref(v.Args[0]), int(op.Default))

		for i, c := range op.Cases {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = hfmt.Appendf(b, "%d: BB%d", c, int(op.Dsts[i]))
		}

		return append(b, ']')
	case Ret:
		if len(v.Args) == 0 {
			return append(b, "ret"...)
		}

		return hfmt.Appendf(b, "ret %v", m.ref(v.Args[0]))
	case Store:
		return hfmt.Appendf(b, "store %v, %v", m.ref(v.Args[0]), m.ref(v.Args[1]))
	}

	b = hfmt.Appendf(b, "%%%d : %v = ", int(v.ID), v.Type)

	switch op := v.Op.(type) {
	case Const:
		return m.constRef(b, v)
	case Param:
		return hfmt.Appendf(b, "param %d", op.Index)
	case Null:
		return append(b, "null"...)
	case Poison:
		return append(b, "poison"...)
	case StrConst:
		return hfmt.Appendf(b, "str %q", op.S)
	case Arith:
		b = append(b, op.Kind.String()...)
		if op.Flags&Unsigned != 0 {
			b = append(b, ".u"...)
		}
		return m.refList(append(b, ' '), v.Args)
	case Cmp:
		return m.refList(hfmt.Appendf(b, "cmp.%v ", op.Rel), v.Args)
	case Convert:
		return hfmt.Appendf(b, "conv %v", m.ref(v.Args[0]))
	case PtrCast:
		return hfmt.Appendf(b, "ptrcast %v", m.ref(v.Args[0]))
	case BitCast:
		return hfmt.Appendf(b, "bitcast %v", m.ref(v.Args[0]))
	case Alloca:
		return hfmt.Appendf(b, "alloca %v", op.T)
	case Load:
		return hfmt.Appendf(b, "load %v", m.ref(v.Args[0]))
	case Barrier:
		return append(b, "barrier"...)
	case GetField:
		return hfmt.Appendf(b, "getfield %v, %d", m.ref(v.Args[0]), op.Index)
	case SetField:
		return hfmt.Appendf(b, "setfield %v, %d, %v", m.ref(v.Args[0]), op.Index, m.ref(v.Args[1]))
	case FieldAddr:
		return hfmt.Appendf(b, "fieldaddr %v, %d", m.ref(v.Args[0]), op.Index)
	case ElemAddr:
		return hfmt.Appendf(b, "elemaddr %v, %v", m.ref(v.Args[0]), m.ref(v.Args[1]))
	case ViewLen:
		return hfmt.Appendf(b, "viewlen %v", m.ref(v.Args[0]))
	case AtomicRMW:
		return hfmt.Appendf(b, "atomic.%d %v, %v", int(op.Kind), m.ref(v.Args[0]), m.ref(v.Args[1]))
	case AtomicCAS:
		return hfmt.Appendf(b, "atomic.cas %v, %v, %v", m.ref(v.Args[0]), m.ref(v.Args[1]), m.ref(v.Args[2]))
	case Call:
		return m.refList(hfmt.Appendf(b, "call %v ", op.Callee), v.Args)
	case Intrinsic:
		return m.refList(hfmt.Appendf(b, "intrinsic.%d.%d ", int(op.Kind), op.Width), v.Args)
	case Phi:
		b = append(b, "phi ["...)

		for i, p := range op.Preds {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = hfmt.Appendf(b, "BB%d: %v", int(p), m.ref(v.Args[i]))
		}

		return append(b, ']')
	}

	return hfmt.Appendf(b, "op %T", v.Op)
}

// ref renders an operand reference: %id, or const(v:type) for literals.
func (m *Method) ref(id ID) string {
	v := m.Value(id)

	if _, ok := v.Op.(Const); ok {
		return string(m.constRef(nil, v))
	}

	return string(hfmt.Appendf(nil, "%%%d", int(id)))
}

func (m *Method) constRef(b []byte, v *Value) []byte {
	c := v.Op.(Const)

	switch t := v.Type.(type) {
	case tp.Int:
		if t.Unsigned {
			return hfmt.Appendf(b, "const(%d:%v)", c.Val, t)
		}

		return hfmt.Appendf(b, "const(%d:%v)", sext(c.Val, t), t)
	case tp.Float:
		if t.Bits == 32 {
			return hfmt.Appendf(b, "const(%v:%v)", math.Float32frombits(uint32(c.Val)), t)
		}

		return hfmt.Appendf(b, "const(%v:%v)", math.Float64frombits(c.Val), t)
	}

	return hfmt.Appendf(b, "const(%#x:%v)", c.Val, v.Type)
}

func (m *Method) refList(b []byte, args []ID) []byte {
	for i, a := range args {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = append(b, m.ref(a)...)
	}

	return b
}
