package ptx

import (
	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/analyze"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	modState struct {
		ctx  *ir.Context
		spec ir.Specialization

		strs []string
	}

	fnState struct {
		*modState

		m    *ir.Method
		name string

		a  *allocator
		s  *analyze.Scope
		lv *analyze.Liveness

		pinned  map[ir.ID]bool
		aliased map[ir.ID]bool

		b []byte
	}
)

func (st *modState) emitFunc(b []byte, m *ir.Method, entry bool, name string) (_ []byte, err error) {
	f := &fnState{
		modState: st,
		m:        m,
		name:     name,
		a:        newAllocator(),
		s:        analyze.NewScope(m),
		pinned:   map[ir.ID]bool{},
		aliased:  map[ir.ID]bool{},
	}

	f.lv = analyze.Live(f.s)

	// params and φs keep their registers for the whole function
	for _, p := range m.Params {
		f.a.alloc(p, m.Value(p).Type)
		f.pinned[p] = true
	}

	for _, bid := range f.s.Blocks {
		for _, id := range m.Block(bid).Code {
			v := m.Value(id)
			if _, ok := v.Op.(ir.Phi); !ok {
				continue
			}

			f.a.alloc(id, v.Type)
			f.pinned[id] = true
		}
	}

	err = f.emitBody()
	if err != nil {
		return nil, err
	}

	b, err = f.signature(b, entry)
	if err != nil {
		return nil, err
	}

	b = append(b, "{\n"...)
	b = f.regDecls(b)
	b = f.loadParams(b, entry)
	b = append(b, f.b...)
	b = append(b, "}\n\n"...)

	return b, nil
}

func (f *fnState) signature(b []byte, entry bool) ([]byte, error) {
	abi := f.ctx.ABI

	if entry {
		b = hfmt.Appendf(b, ".visible .entry %s(\n", f.name)
	} else {
		b = hfmt.Appendf(b, ".visible .func ")

		if !tp.IsVoid(f.m.Decl.Ret) {
			ls := leaves(abi, f.m.Decl.Ret, 0)
			if len(ls) != 1 {
				return nil, NotSupportedError{What: "aggregate return"}
			}

			b = hfmt.Appendf(b, "(.param .%s %s_retval0) ", paramSuffix(ls[0].T), f.name)
		}

		b = hfmt.Appendf(b, "%s(\n", f.name)
	}

	k := 0
	for _, p := range f.m.Params {
		for range leaves(abi, f.m.Value(p).Type, 0) {
			if k != 0 {
				b = append(b, ",\n"...)
			}

			b = hfmt.Appendf(b, "\t.param .%s %s_param_%d", paramSuffix(leafAt(abi, f.m, k)), f.name, k)
			k++
		}
	}

	b = append(b, "\n)\n"...)

	return b, nil
}

// leafAt finds the k-th flattened parameter leaf type.
func leafAt(abi tp.ABI, m *ir.Method, k int) tp.Type {
	for _, p := range m.Params {
		ls := leaves(abi, m.Value(p).Type, 0)

		if k < len(ls) {
			return ls[k].T
		}

		k -= len(ls)
	}

	panic(k)
}

func (f *fnState) regDecls(b []byte) []byte {
	decl := []struct {
		k Kind
		s string
	}{
		{Pred, "pred"},
		{B32, "b32"},
		{B64, "b64"},
		{F32, "f32"},
		{F64, "f64"},
	}

	for _, d := range decl {
		if f.a.next[d.k] == 0 {
			continue
		}

		b = hfmt.Appendf(b, "\t.reg .%s %s<%d>;\n", d.s, regPrefix(d.k), f.a.next[d.k])
	}

	return append(b, '\n')
}

func regPrefix(k Kind) string {
	switch k {
	case Pred:
		return "%p"
	case B32:
		return "%r"
	case B64:
		return "%rd"
	case F32:
		return "%f"
	case F64:
		return "%fd"
	}

	panic(k)
}

func (f *fnState) loadParams(b []byte, entry bool) []byte {
	k := 0

	for _, p := range f.m.Params {
		regs := f.a.of(p)

		for _, r := range regs {
			b = hfmt.Appendf(b, "\tld.param.%s %s, [%s_param_%d];\n",
				paramSuffix(leafAt(f.ctx.ABI, f.m, k)), r.name(), f.name, k)
			k++
		}
	}

	if k != 0 {
		b = append(b, '\n')
	}

	return b
}

func (f *fnState) emitBody() error {
	err := f.materializeLiterals()
	if err != nil {
		return err
	}

	for _, bid := range f.s.Blocks {
		if bid != f.m.Entry {
			f.b = hfmt.Appendf(f.b, "$L__BB%d:\n", int(bid))
		}

		last := analyze.LastUses(f.m, bid)

		for i, id := range f.m.Block(bid).Code {
			v := f.m.Value(id)

			err := f.emitValue(bid, v)
			if err != nil {
				return errors.Wrap(err, "BB%d %%%d", int(bid), int(id))
			}

			f.freeDead(bid, i, last, v)
		}
	}

	return nil
}

// materializeLiterals loads every literal operand into its register up
// front, so uses in any branch see a dominating definition.
func (f *fnState) materializeLiterals() error {
	for _, bid := range f.s.Blocks {
		for _, id := range f.m.Block(bid).Code {
			for _, a := range f.m.Value(id).Args {
				av := f.m.Value(a)

				if av.Block != ir.NoBlock {
					continue
				}

				if _, ok := av.Op.(ir.Param); ok {
					continue
				}

				if f.a.of(a) != nil {
					continue
				}

				if _, err := f.regs(a); err != nil {
					return err
				}

				f.pinned[a] = true
			}
		}
	}

	return nil
}

// freeDead releases registers of operands past their last local use
// that are not live out of the block.
func (f *fnState) freeDead(bid ir.BlockID, i int, last map[ir.ID]int, v *ir.Value) {
	for _, a := range v.Args {
		if last[a] != i || f.pinned[a] || f.aliased[a] {
			continue
		}

		if f.m.Value(a).Block == ir.NoBlock {
			continue
		}

		if f.lv.Out[bid].IsSet(a) {
			continue
		}

		f.a.release(a, f.aliased)
	}
}

// op emits one instruction line.
func (f *fnState) op(format string, args ...any) {
	f.b = append(f.b, '\t')
	f.b = hfmt.Appendf(f.b, format, args...)
	f.b = append(f.b, ";\n"...)
}

// regs returns the registers holding id, materializing literals.
func (f *fnState) regs(id ir.ID) ([]Reg, error) {
	if r := f.a.of(id); r != nil {
		return r, nil
	}

	v := f.m.Value(id)

	switch op := v.Op.(type) {
	case ir.Const:
		r := f.a.alloc(id, v.Type)

		err := f.movImm(r[0], v.Type, op.Val)
		if err != nil {
			return nil, err
		}

		return r, nil
	case ir.Null, ir.Poison:
		r := f.a.alloc(id, v.Type)

		for _, x := range r {
			switch x.Kind {
			case Pred:
				f.op("setp.ne.s32 %s, 0, 0", x.name())
			case B32:
				f.op("mov.b32 %s, 0", x.name())
			case B64:
				f.op("mov.b64 %s, 0", x.name())
			case F32:
				f.op("mov.f32 %s, 0f00000000", x.name())
			case F64:
				f.op("mov.f64 %s, 0d0000000000000000", x.name())
			}
		}

		return r, nil
	case ir.StrConst:
		r := f.a.alloc(id, v.Type)

		f.strs = append(f.strs, op.S)
		f.op("mov.u64 %s, __strconst%d", r[0].name(), len(f.strs)-1)

		return r, nil
	}

	return nil, InvalidCodeGenerationError{Reason: "unbound value"}
}

func (f *fnState) movImm(r Reg, t tp.Type, bits uint64) error {
	switch r.Kind {
	case Pred:
		f.op("setp.ne.s32 %s, %d, 0", r.name(), bits&1)
	case B32:
		f.op("mov.b32 %s, %d", r.name(), uint32(bits))
	case B64:
		f.op("mov.b64 %s, %d", r.name(), bits)
	case F32:
		f.op("mov.f32 %s, 0f%08X", r.name(), uint32(bits))
	case F64:
		f.op("mov.f64 %s, 0d%016X", r.name(), bits)
	default:
		return InvalidCodeGenerationError{Reason: "bad immediate class"}
	}

	return nil
}

// asData converts a predicate register to a .b32 value register.
func (f *fnState) asData(r Reg) Reg {
	if r.Kind != Pred {
		return r
	}

	d := f.a.get(B32)
	f.op("selp.b32 %s, 1, 0, %s", d.name(), r.name())

	return d
}
