package ptx

import (
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

func (f *fnState) emitValue(bid ir.BlockID, v *ir.Value) error {
	switch op := v.Op.(type) {
	case ir.Const, ir.Null, ir.Poison, ir.StrConst, ir.Param:
		// materialized lazily at first use
		return nil
	case ir.Arith:
		return f.emitArith(v, op)
	case ir.Cmp:
		return f.emitCmp(v, op)
	case ir.Convert:
		return f.emitConvert(v, op)
	case ir.PtrCast:
		src, err := f.regs(v.Args[0])
		if err != nil {
			return err
		}

		f.a.alias(v.ID, src)
		f.aliased[v.Args[0]] = true
		f.aliased[v.ID] = true

		return nil
	case ir.BitCast:
		return f.emitBitCast(v)
	case ir.Alloca:
		return NotSupportedError{What: "unpromoted alloca"}
	case ir.Load:
		return f.emitLoad(v)
	case ir.Store:
		return f.emitStore(v)
	case ir.Barrier:
		switch op.Kind {
		case ir.BarrierGroup:
			f.op("bar.sync 0")
		case ir.BarrierWarp:
			f.op("bar.warp.sync 0xffffffff")
		case ir.BarrierMemory:
			f.op("membar.gl")
		}

		return nil
	case ir.GetField:
		return f.emitGetField(v, op)
	case ir.SetField:
		return f.emitSetField(v, op)
	case ir.FieldAddr:
		return f.emitFieldAddr(v, op)
	case ir.ElemAddr:
		return f.emitElemAddr(v)
	case ir.ViewLen:
		src, err := f.regs(v.Args[0])
		if err != nil {
			return err
		}

		f.a.alias(v.ID, src[1:2])
		f.aliased[v.Args[0]] = true
		f.aliased[v.ID] = true

		return nil
	case ir.AtomicRMW:
		return f.emitAtomic(v, op)
	case ir.AtomicCAS:
		return f.emitCAS(v)
	case ir.Call:
		return f.emitCall(v, op)
	case ir.Intrinsic:
		return f.emitIntrinsic(v, op)
	case ir.Phi:
		// registers are pre-bound; moves happen at predecessors
		return nil
	case ir.Br:
		f.phiMoves(bid)
		f.op("bra $L__BB%d", int(op.Dst))

		return nil
	case ir.BrCond:
		c, err := f.regs(v.Args[0])
		if err != nil {
			return err
		}

		f.phiMoves(bid)
		f.op("@%s bra $L__BB%d", c[0].name(), int(op.Then))
		f.op("bra $L__BB%d", int(op.Else))

		return nil
	case ir.Switch:
		return f.emitSwitch(bid, v, op)
	case ir.Ret:
		f.phiMoves(bid)

		if len(v.Args) > 0 {
			r, err := f.regs(v.Args[0])
			if err != nil {
				return err
			}

			f.op("st.param.%s [%s_retval0], %s",
				paramSuffix(f.m.Value(v.Args[0]).Type), f.name, f.asData(r[0]).name())
		}

		f.op("ret")

		return nil
	}

	return NotSupportedError{What: "value kind"}
}

// phiMoves copies the incoming values of every successor φ into the
// φ registers before leaving the block.
func (f *fnState) phiMoves(bid ir.BlockID) {
	t := f.m.Terminator(bid)
	if t == nil {
		return
	}

	for _, x := range f.m.Succs(bid) {
		for _, id := range f.m.Block(x).Code {
			v := f.m.Value(id)

			phi, ok := v.Op.(ir.Phi)
			if !ok {
				break
			}

			for k, p := range phi.Preds {
				if p != bid {
					continue
				}

				dst := f.a.of(id)
				src, err := f.regs(v.Args[k])
				if err != nil {
					continue
				}

				for i := range dst {
					f.movReg(dst[i], src[i])
				}
			}
		}
	}
}

func (f *fnState) movReg(dst, src Reg) {
	if dst == src {
		return
	}

	switch dst.Kind {
	case Pred:
		f.op("and.pred %s, %s, %s", dst.name(), src.name(), src.name())
	case B32:
		f.op("mov.b32 %s, %s", dst.name(), f.asData(src).name())
	case B64:
		f.op("mov.b64 %s, %s", dst.name(), src.name())
	case F32:
		f.op("mov.f32 %s, %s", dst.name(), src.name())
	case F64:
		f.op("mov.f64 %s, %s", dst.name(), src.name())
	}
}

func (f *fnState) emitArith(v *ir.Value, op ir.Arith) error {
	t := v.Type

	fast := op.Flags&ir.FastMath != 0 || f.spec.FastMath()

	// the hardware exposes base-2 exp/log only
	if op.Kind == ir.Exp || op.Kind == ir.Log {
		return f.emitExpLog(v, op)
	}

	mn, err := arithMn(op.Kind, t, op.Flags, fast)
	if err != nil {
		return err
	}

	var srcs [][]Reg
	for _, a := range v.Args {
		r, err := f.regs(a)
		if err != nil {
			return err
		}

		srcs = append(srcs, r)
	}

	d := f.a.alloc(v.ID, t)

	switch len(srcs) {
	case 1:
		f.op("%s %s, %s", mn, d[0].name(), srcs[0][0].name())
	case 2:
		f.op("%s %s, %s, %s", mn, d[0].name(), srcs[0][0].name(), srcs[1][0].name())
	case 3:
		f.op("%s %s, %s, %s, %s", mn, d[0].name(), srcs[0][0].name(), srcs[1][0].name(), srcs[2][0].name())
	}

	// sub-word results stay normalized in their 32-bit registers
	if it, ok := t.(tp.Int); ok && it.Bits < 32 && it.Bits > 1 && narrowing(op.Kind) {
		f.normalize(d[0], it)
	}

	return nil
}

// emitExpLog lowers natural exp/log onto ex2/lg2 with a log2(e)/ln(2)
// scale. f32 only; doubles have no approximate path.
func (f *fnState) emitExpLog(v *ir.Value, op ir.Arith) error {
	ft, ok := v.Type.(tp.Float)
	if !ok || ft.Bits != 32 {
		return NotSupportedError{What: "op " + op.Kind.String() + " on " + v.Type.String()}
	}

	src, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, v.Type)
	t := f.a.get(F32)

	if op.Kind == ir.Exp {
		f.op("mul.f32 %s, %s, 0f3FB8AA3B", t.name(), src[0].name()) // log2(e)
		f.op("ex2.approx.f32 %s, %s", d[0].name(), t.name())
	} else {
		f.op("lg2.approx.f32 %s, %s", t.name(), src[0].name())
		f.op("mul.f32 %s, %s, 0f3F317218", d[0].name(), t.name()) // ln(2)
	}

	f.a.put(t)

	return nil
}

// narrowing lists ops whose 32-bit result can overflow the sub-word range.
func narrowing(k ir.ArithKind) bool {
	switch k {
	case ir.Add, ir.Sub, ir.Mul, ir.Shl, ir.Neg, ir.Not:
		return true
	}

	return false
}

// normalize sign- or zero-extends a sub-word value held in a b32 register.
func (f *fnState) normalize(r Reg, t tp.Int) {
	sh := 32 - int(t.Bits)

	if t.Unsigned {
		f.op("and.b32 %s, %s, %d", r.name(), r.name(), uint32(1)<<t.Bits-1)
		return
	}

	f.op("shl.b32 %s, %s, %d", r.name(), r.name(), sh)
	f.op("shr.s32 %s, %s, %d", r.name(), r.name(), sh)
}

func (f *fnState) emitCmp(v *ir.Value, op ir.Cmp) error {
	at := f.m.Value(v.Args[0]).Type

	l, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	r, err := f.regs(v.Args[1])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, tp.Bool)

	rel := op.Rel &^ ir.RelUnordered
	name := rel.String()

	if _, ok := at.(tp.Float); ok && op.Rel&ir.RelUnordered != 0 {
		name += "u"
	}

	f.op("setp.%s.%s %s, %s, %s", name, arithSuffix(at, op.Flags), d[0].name(), l[0].name(), r[0].name())

	return nil
}

func (f *fnState) emitConvert(v *ir.Value, op ir.Convert) error {
	st := f.m.Value(v.Args[0]).Type
	dt := v.Type

	src, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, dt)

	// predicates convert through selp / setp
	if sit, ok := st.(tp.Int); ok && sit.Bits == 1 {
		f.op("selp.b32 %s, 1, 0, %s", d[0].name(), src[0].name())
		return nil
	}
	if dit, ok := dt.(tp.Int); ok && dit.Bits == 1 {
		f.op("setp.ne.%s %s, %s, 0", arithSuffix(st, op.Flags), d[0].name(), src[0].name())
		return nil
	}

	sit, sInt := st.(tp.Int)
	dit, dInt := dt.(tp.Int)

	// sub-word narrowing stays in the 32-bit register
	if sInt && dInt && dit.Bits < 32 && sit.Bits <= 32 {
		f.movReg(d[0], src[0])
		f.normalize(d[0], dit)

		return nil
	}

	f.op("cvt%s.%s.%s %s, %s", cvtRound(st, dt), cvtSuffix(dt), cvtSuffix(st), d[0].name(), src[0].name())

	return nil
}

func (f *fnState) emitBitCast(v *ir.Value) error {
	src, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, v.Type)

	f.op("mov.b%d %s, %s", regBits(d[0].Kind), d[0].name(), src[0].name())

	return nil
}

func regBits(k Kind) int {
	switch k {
	case B64, F64:
		return 64
	}

	return 32
}

func (f *fnState) emitLoad(v *ir.Value) error {
	pt := f.m.Value(v.Args[0]).Type.(tp.Ptr)

	addr, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, v.Type)

	ls := leaves(f.ctx.ABI, pt.Elem, 0)

	for i, l := range ls {
		f.op("ld%s.%s %s, [%s+%d]", spaceSuffix(pt.Space), memSuffix(l.T), d[i].name(), addr[0].name(), l.Off)
	}

	return nil
}

func (f *fnState) emitStore(v *ir.Value) error {
	pt := f.m.Value(v.Args[0]).Type.(tp.Ptr)

	addr, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	val, err := f.regs(v.Args[1])
	if err != nil {
		return err
	}

	ls := leaves(f.ctx.ABI, pt.Elem, 0)

	for i, l := range ls {
		f.op("st%s.%s [%s+%d], %s", spaceSuffix(pt.Space), memSuffix(l.T), addr[0].name(), l.Off, f.asData(val[i]).name())
	}

	return nil
}

func (f *fnState) emitGetField(v *ir.Value, op ir.GetField) error {
	st := f.m.Value(v.Args[0]).Type.(tp.Struct)

	src, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	start, n := fieldRegRange(st, op.Index)

	f.a.alias(v.ID, src[start:start+n])
	f.aliased[v.Args[0]] = true
	f.aliased[v.ID] = true

	return nil
}

func (f *fnState) emitSetField(v *ir.Value, op ir.SetField) error {
	st := f.m.Value(v.Args[0]).Type.(tp.Struct)

	src, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	val, err := f.regs(v.Args[1])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, v.Type)

	start, n := fieldRegRange(st, op.Index)

	for i := range d {
		if i >= start && i < start+n {
			f.movReg(d[i], val[i-start])
		} else {
			f.movReg(d[i], src[i])
		}
	}

	return nil
}

func (f *fnState) emitFieldAddr(v *ir.Value, op ir.FieldAddr) error {
	pt := f.m.Value(v.Args[0]).Type.(tp.Ptr)
	st := pt.Elem.(tp.Struct)

	src, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	off := f.ctx.ABI.Offset(st, op.Index)

	// a zero offset aliases the source pointer
	if off == 0 {
		f.a.alias(v.ID, src)
		f.aliased[v.Args[0]] = true
		f.aliased[v.ID] = true

		return nil
	}

	d := f.a.alloc(v.ID, v.Type)

	f.op("add.s64 %s, %s, %d", d[0].name(), src[0].name(), off)

	return nil
}

func (f *fnState) emitElemAddr(v *ir.Value) error {
	base, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	idx, err := f.regs(v.Args[1])
	if err != nil {
		return err
	}

	var elem tp.Type

	switch t := f.m.Value(v.Args[0]).Type.(type) {
	case tp.View:
		elem = t.Elem
	case tp.Ptr:
		elem = t.Elem
	}

	size := f.ctx.ABI.Size(elem)

	d := f.a.alloc(v.ID, v.Type)

	tmp := f.a.get(B64)

	if idx[0].Kind == B64 {
		f.op("mul.lo.s64 %s, %s, %d", tmp.name(), idx[0].name(), size)
	} else {
		f.op("mul.wide.s32 %s, %s, %d", tmp.name(), idx[0].name(), size)
	}

	f.op("add.s64 %s, %s, %s", d[0].name(), base[0].name(), tmp.name())

	f.a.put(tmp)

	return nil
}

func (f *fnState) emitAtomic(v *ir.Value, op ir.AtomicRMW) error {
	pt := f.m.Value(v.Args[0]).Type.(tp.Ptr)

	addr, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	val, err := f.regs(v.Args[1])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, v.Type)

	name, err := atomName(op.Kind, pt.Elem)
	if err != nil {
		return err
	}

	f.op("atom%s.%s %s, [%s], %s", spaceSuffix(pt.Space), name, d[0].name(), addr[0].name(), val[0].name())

	return nil
}

func (f *fnState) emitCAS(v *ir.Value) error {
	pt := f.m.Value(v.Args[0]).Type.(tp.Ptr)

	addr, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	cmp, err := f.regs(v.Args[1])
	if err != nil {
		return err
	}

	val, err := f.regs(v.Args[2])
	if err != nil {
		return err
	}

	d := f.a.alloc(v.ID, v.Type)

	bits := 32
	if f.ctx.ABI.Size(pt.Elem) == 8 {
		bits = 64
	}

	f.op("atom%s.cas.b%d %s, [%s], %s, %s",
		spaceSuffix(pt.Space), bits, d[0].name(), addr[0].name(), cmp[0].name(), val[0].name())

	return nil
}

func (f *fnState) emitIntrinsic(v *ir.Value, op ir.Intrinsic) error {
	if op.Kind == ir.Shuffle {
		return f.emitShuffle(v, op)
	}

	d := f.a.alloc(v.ID, v.Type)

	var src string

	switch op.Kind {
	case ir.GridIdx:
		src = "%ctaid." + dimName(op.Width)
	case ir.GridDim:
		src = "%nctaid." + dimName(op.Width)
	case ir.GroupIdx:
		src = "%tid." + dimName(op.Width)
	case ir.GroupDim:
		src = "%ntid." + dimName(op.Width)
	case ir.LaneIdx:
		src = "%laneid"
	case ir.WarpSize:
		src = "WARP_SZ"
	default:
		return NotSupportedError{What: "intrinsic"}
	}

	f.op("mov.u32 %s, %s", d[0].name(), src)

	return nil
}

func dimName(d int) string {
	switch d {
	case 0:
		return "x"
	case 1:
		return "y"
	}

	return "z"
}

func (f *fnState) emitShuffle(v *ir.Value, op ir.Intrinsic) error {
	val, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	src, err := f.regs(v.Args[1])
	if err != nil {
		return err
	}

	if regBits(val[0].Kind) != 32 {
		return NotSupportedError{What: "64-bit shuffle"}
	}

	d := f.a.alloc(v.ID, v.Type)

	// widths beyond the warp clamp to the warp
	width := op.Width
	if width <= 0 || width > warpSize {
		width = warpSize
	}

	var mode string
	c := (warpSize - width) << 8

	switch op.Mode {
	case ir.ShuffleIdx:
		mode = "idx"
		c |= 0x1f
	case ir.ShuffleUp:
		mode = "up"
	case ir.ShuffleDown:
		mode = "down"
		c |= 0x1f
	case ir.ShuffleXor:
		mode = "bfly"
		c |= 0x1f
	}

	vr, dr := val[0], d[0]

	// float lanes shuffle through b32 registers
	if vr.Kind == F32 {
		t := f.a.get(B32)
		f.op("mov.b32 %s, %s", t.name(), vr.name())
		vr = t
	}

	out := dr
	if dr.Kind == F32 {
		out = f.a.get(B32)
	}

	f.op("shfl.sync.%s.b32 %s, %s, %s, %d, 0xffffffff", mode, out.name(), vr.name(), src[0].name(), c)

	if dr.Kind == F32 {
		f.op("mov.b32 %s, %s", dr.name(), out.name())
		f.a.put(out)
	}

	if vr != val[0] {
		f.a.put(vr)
	}

	return nil
}

func (f *fnState) emitSwitch(bid ir.BlockID, v *ir.Value, op ir.Switch) error {
	x, err := f.regs(v.Args[0])
	if err != nil {
		return err
	}

	f.phiMoves(bid)

	t := f.m.Value(v.Args[0]).Type

	for i, c := range op.Cases {
		p := f.a.get(Pred)

		f.op("setp.eq.%s %s, %s, %d", arithSuffix(t, 0), p.name(), x[0].name(), c)
		f.op("@%s bra $L__BB%d", p.name(), int(op.Dsts[i]))

		f.a.put(p)
	}

	f.op("bra $L__BB%d", int(op.Default))

	return nil
}

func (f *fnState) emitCall(v *ir.Value, op ir.Call) error {
	callee := f.ctx.Method(op.Callee)
	if callee == nil {
		return NotSupportedError{What: "unresolved callee"}
	}

	abi := f.ctx.ABI

	f.b = append(f.b, "\t{\n"...)

	k := 0
	var names []string

	for ai, a := range v.Args {
		regs, err := f.regs(a)
		if err != nil {
			return err
		}

		ls := leaves(abi, f.m.Value(v.Args[ai]).Type, 0)

		for i, l := range ls {
			pn := "p" + itoa(k)
			names = append(names, pn)

			f.op(".param .%s %s", paramSuffix(l.T), pn)
			f.op("st.param.%s [%s], %s", paramSuffix(l.T), pn, f.asData(regs[i]).name())
			k++
		}
	}

	args := ""
	for i, n := range names {
		if i != 0 {
			args += ", "
		}
		args += n
	}

	if tp.IsVoid(callee.Decl.Ret) {
		f.op("call.uni %s, (%s)", op.Callee, args)
	} else {
		f.op(".param .%s retp", paramSuffix(callee.Decl.Ret))
		f.op("call.uni (retp), %s, (%s)", op.Callee, args)

		d := f.a.alloc(v.ID, v.Type)
		f.op("ld.param.%s %s, [retp]", paramSuffix(callee.Decl.Ret), d[0].name())
	}

	f.b = append(f.b, "\t}\n"...)

	return nil
}
