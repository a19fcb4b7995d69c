package cl

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Compiler renders methods as OpenCL C. Basic blocks become
	// labeled positions and branches become gotos, which keeps the SSA
	// schedule without reconstructing structured control flow.
	Compiler struct{}

	NotSupportedError struct {
		What string
	}

	InvalidCodeGenerationError struct {
		Reason string
	}

	// sink is the statement writer with an explicit indent counter.
	sink struct {
		b   []byte
		ind int
	}
)

// EntryName is the fixed kernel entry symbol.
const EntryName = "ILGPUKernel"

func New() *Compiler {
	return &Compiler{}
}

// Compile emits the kernel and its transitive callees as one OpenCL C
// translation unit. The entry is always named ILGPUKernel.
func (c *Compiler) Compile(ctx context.Context, m *ir.Method, spec ir.Specialization) (_ []byte, entry string, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "cl: compile", "method", m.Decl.Handle)
	defer tr.Finish("err", &err)

	st := &modState{
		ctx:     m.Ctx,
		spec:    spec,
		structs: map[string]string{},
	}

	var body []byte

	callees := collectCallees(m)

	for _, h := range callees {
		cm := m.Ctx.Method(h)
		if cm == nil || cm.Entry == ir.NoBlock {
			return nil, "", NotSupportedError{What: "external callee " + string(h)}
		}

		body, err = st.emitFunc(body, cm, false)
		if err != nil {
			return nil, "", errors.Wrap(err, "func %v", h)
		}
	}

	body, err = st.emitFunc(body, m, true)
	if err != nil {
		return nil, "", errors.Wrap(err, "entry")
	}

	b := hfmt.Appendf(nil, "// generated by glow\n")

	if st.subgroups {
		b = append(b, "#pragma OPENCL EXTENSION cl_khr_subgroups : enable\n"...)
	}
	if st.doubles {
		b = append(b, "#pragma OPENCL EXTENSION cl_khr_fp64 : enable\n"...)
	}

	b = append(b, '\n')

	for _, name := range st.structOrder {
		b = append(b, st.structs[name]...)
	}

	b = append(b, body...)

	if tr.If("dump_cl") {
		tr.Printw("opencl", "text", string(b))
	}

	return b, EntryName, nil
}

// collectCallees returns methods reachable through calls, callees first.
func collectCallees(m *ir.Method) []ir.MethodHandle {
	var order []ir.MethodHandle
	seen := map[ir.MethodHandle]bool{m.Decl.Handle: true}

	var walk func(x *ir.Method)
	walk = func(x *ir.Method) {
		for _, blk := range x.Blocks {
			for _, id := range blk.Code {
				call, ok := x.Value(id).Op.(ir.Call)
				if !ok || seen[call.Callee] {
					continue
				}

				seen[call.Callee] = true

				if cm := m.Ctx.Method(call.Callee); cm != nil {
					walk(cm)
				}

				order = append(order, call.Callee)
			}
		}
	}

	walk(m)

	return order
}

func (w *sink) line(format string, args ...any) {
	for i := 0; i < w.ind; i++ {
		w.b = append(w.b, '\t')
	}

	w.b = hfmt.Appendf(w.b, format, args...)
	w.b = append(w.b, '\n')
}

func (e NotSupportedError) Error() string {
	return "not supported on opencl: " + e.What
}

func (e InvalidCodeGenerationError) Error() string {
	return "invalid code generation: " + e.Reason
}

// spaceQual renders the address-space qualifier of a pointer.
func spaceQual(s tp.Space) string {
	switch s {
	case tp.Global:
		return "__global "
	case tp.Shared, tp.Local:
		return "__local "
	case tp.Constant:
		return "__constant "
	case tp.Generic:
		return ""
	}

	return "__private "
}
