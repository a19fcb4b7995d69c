package ptx

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Compiler emits PTX assembly for fully simplified methods.
	Compiler struct {
		// Target is the sm architecture named in the module header.
		Target string
	}

	InvalidCodeGenerationError struct {
		Reason string
	}

	NotSupportedError struct {
		What string
	}
)

const (
	ptxVersion = "6.0"
	warpSize   = 32
)

func New() *Compiler {
	return &Compiler{Target: "sm_50"}
}

// Compile emits the kernel entry for m plus every transitively called
// device function, and returns the PTX text and the entry symbol name.
func (c *Compiler) Compile(ctx context.Context, m *ir.Method, spec ir.Specialization, kernelID int) (_ []byte, entry string, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "ptx: compile", "method", m.Decl.Handle, "kernel_id", kernelID)
	defer tr.Finish("err", &err)

	entry = "ILGPUKernel" + itoa(kernelID)

	b := hfmt.Appendf(nil, `//
// generated by glow
//

.version %s
.target %s
.address_size 64

`, ptxVersion, c.Target)

	st := &modState{
		ctx:  m.Ctx,
		spec: spec,
	}

	callees := collectCallees(m)

	for _, h := range callees {
		cm := m.Ctx.Method(h)
		if cm == nil || cm.Entry == ir.NoBlock {
			return nil, "", NotSupportedError{What: "external callee " + string(h)}
		}

		b, err = st.emitFunc(b, cm, false, string(h))
		if err != nil {
			return nil, "", errors.Wrap(err, "func %v", h)
		}
	}

	b, err = st.emitFunc(b, m, true, entry)
	if err != nil {
		return nil, "", errors.Wrap(err, "entry")
	}

	for i, s := range st.strs {
		b = hfmt.Appendf(b, "\n.global .align 1 .b8 __strconst%d[%d] = {", i, len(s)+1)

		for _, x := range []byte(s) {
			b = hfmt.Appendf(b, "%d, ", x)
		}

		b = append(b, "0};\n"...)
	}

	if tr.If("dump_ptx") {
		tr.Printw("ptx", "text", string(b))
	}

	return b, entry, nil
}

// collectCallees returns every method reachable through Call values,
// in first-call order, callees before callers.
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

func (e InvalidCodeGenerationError) Error() string {
	return "invalid code generation: " + e.Reason
}

func (e NotSupportedError) Error() string {
	return "not supported on ptx: " + e.What
}

// leaves flattens a type into (byte offset, primitive) pairs under the ABI.
func leaves(abi tp.ABI, t tp.Type, base int) []leaf {
	switch t := t.(type) {
	case tp.Struct:
		var r []leaf

		offs := abi.Offsets(t)
		for i, f := range t.Fields {
			r = append(r, leaves(abi, f, base+offs[i])...)
		}

		return r
	case tp.View:
		return []leaf{
			{Off: base, T: tp.Ptr{Elem: t.Elem, Space: t.Space}},
			{Off: base + abi.PtrSize, T: tp.I32},
		}
	}

	return []leaf{{Off: base, T: t}}
}

type leaf struct {
	Off int
	T   tp.Type
}

// fieldRegRange locates field i of s within the flattened register tuple.
func fieldRegRange(s tp.Struct, i int) (start, n int) {
	for k := 0; k < i; k++ {
		start += len(regShape(s.Fields[k]))
	}

	return start, len(regShape(s.Fields[i]))
}
