package cl

import (
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/analyze"
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	fnState struct {
		*modState

		m     *ir.Method
		s     *analyze.Scope
		dom   *analyze.DomTree
		entry bool

		w sink

		vars map[ir.ID]string

		// phiDecls lists φ variable declarations hoisted to the
		// immediate common dominator of the incoming blocks
		phiDecls map[ir.BlockID][]string

		strs []string
	}
)

func (st *modState) emitFunc(b []byte, m *ir.Method, entry bool) (_ []byte, err error) {
	f := &fnState{
		modState: st,
		m:        m,
		s:        analyze.NewScope(m),
		entry:    entry,
		vars:     map[ir.ID]string{},
		phiDecls: map[ir.BlockID][]string{},
	}

	f.dom = analyze.Dominators(f.s)

	f.hoistPhiDecls()

	sig, err := f.signature(entry)
	if err != nil {
		return nil, err
	}

	f.w.line("%s", sig)
	f.w.line("{")
	f.w.ind++

	f.bindParams(entry)

	for _, bid := range f.s.Blocks {
		f.w.ind--
		f.w.line("BB%d:;", int(bid))
		f.w.ind++

		for _, d := range f.phiDecls[bid] {
			f.w.line("%s", d)
		}

		for _, id := range f.m.Block(bid).Code {
			err = f.emitValue(bid, f.m.Value(id))
			if err != nil {
				return nil, errors.Wrap(err, "BB%d %%%d", int(bid), int(id))
			}
		}
	}

	f.w.ind--
	f.w.line("}")
	f.w.line("")

	for i, s := range f.strs {
		b = hfmt.Appendf(b, "__constant char %s_str%d[] = %q;\n\n", f.fname(), i, s)
	}

	return append(b, f.w.b...), nil
}

func (f *fnState) fname() string {
	if f.entry {
		return EntryName
	}

	return string(f.m.Decl.Handle)
}

// hoistPhiDecls places each φ variable's declaration at the nearest
// common dominator of its incoming blocks, satisfying C scoping for
// the assignments emitted at the predecessors.
func (f *fnState) hoistPhiDecls() {
	for _, bid := range f.s.Blocks {
		for _, id := range f.m.Block(bid).Code {
			v := f.m.Value(id)

			phi, ok := v.Op.(ir.Phi)
			if !ok {
				break
			}

			at := bid
			for _, p := range phi.Preds {
				if f.s.Reachable(p) {
					at = f.dom.NCA(at, p)
				}
			}

			name := "phi" + itoa(int(id))
			f.vars[id] = name

			f.phiDecls[at] = append(f.phiDecls[at],
				f.typeName(v.Type)+" "+name+";")
		}
	}
}

func (f *fnState) signature(entry bool) (string, error) {
	var b strings.Builder

	if entry {
		b.WriteString("__kernel void ")
		b.WriteString(EntryName)
	} else {
		b.WriteString(f.typeName(f.m.Decl.Ret))
		b.WriteString(" ")
		b.WriteString(string(f.m.Decl.Handle))
	}

	b.WriteString("(")

	for i, p := range f.m.Params {
		if i != 0 {
			b.WriteString(", ")
		}

		t := f.m.Value(p).Type
		pn := "p" + itoa(i)

		if vt, ok := t.(tp.View); ok && entry {
			// entry views arrive as pointer + length scalars
			b.WriteString(f.typeName(tp.Ptr{Elem: vt.Elem, Space: vt.Space}))
			b.WriteString(" " + pn + "_ptr, int " + pn + "_len")
			continue
		}

		b.WriteString(f.typeName(t))
		b.WriteString(" " + pn)
	}

	b.WriteString(")")

	return b.String(), nil
}

// bindParams names the parameter values, reassembling entry views.
func (f *fnState) bindParams(entry bool) {
	for i, p := range f.m.Params {
		t := f.m.Value(p).Type
		pn := "p" + itoa(i)

		if vt, ok := t.(tp.View); ok && entry {
			vn := "v" + itoa(int(p))

			f.w.line("%s %s; %s.ptr = %s_ptr; %s.len = %s_len;",
				f.viewName(vt), vn, vn, pn, vn, pn)

			f.vars[p] = vn
			continue
		}

		f.vars[p] = pn
	}
}

// operand renders a value reference, inlining literals.
func (f *fnState) operand(id ir.ID) string {
	if n, ok := f.vars[id]; ok {
		return n
	}

	v := f.m.Value(id)

	switch op := v.Op.(type) {
	case ir.Const:
		return f.literal(v.Type, op.Val)
	case ir.Null, ir.Poison:
		switch t := v.Type.(type) {
		case tp.View:
			return "(" + f.viewName(t) + "){0, 0}"
		case tp.Struct:
			return "(" + f.structName(t) + "){0}"
		}

		return "(" + f.typeName(v.Type) + ")0"
	case ir.StrConst:
		f.strs = append(f.strs, op.S)
		return f.fname() + "_str" + itoa(len(f.strs)-1)
	}

	return "v" + itoa(int(id))
}

func (f *fnState) literal(t tp.Type, bits uint64) string {
	switch t := t.(type) {
	case tp.Int:
		switch {
		case t.Bits == 1:
			if bits != 0 {
				return "true"
			}

			return "false"
		case t.Bits == 64 && t.Unsigned:
			return string(hfmt.Appendf(nil, "%dul", bits))
		case t.Bits == 64:
			return string(hfmt.Appendf(nil, "%dl", int64(bits)))
		case t.Unsigned:
			return string(hfmt.Appendf(nil, "%du", uint32(bits)))
		}

		sh := 64 - uint(t.Bits)

		return string(hfmt.Appendf(nil, "%d", int64(bits<<sh)>>sh))
	case tp.Float:
		// bit-exact literals survive NaN payloads
		if t.Bits == 32 {
			return string(hfmt.Appendf(nil, "as_float(0x%08Xu)", uint32(bits)))
		}

		f.doubles = true

		return string(hfmt.Appendf(nil, "as_double(0x%016Xul)", bits))
	}

	return string(hfmt.Appendf(nil, "%d", bits))
}

// assign declares and initializes the value's variable.
func (f *fnState) assign(v *ir.Value, expr string, args ...any) {
	name := "v" + itoa(int(v.ID))
	f.vars[v.ID] = name

	e := string(hfmt.Appendf(nil, expr, args...))

	f.w.line("%s %s = %s;", f.typeName(v.Type), name, e)
}
