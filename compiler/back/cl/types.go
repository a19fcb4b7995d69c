package cl

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	modState struct {
		ctx  *ir.Context
		spec ir.Specialization

		// structs maps canonical IR type strings to emitted typedefs;
		// the bijection IR type <-> OpenCL type name lives here.
		structs     map[string]string
		structOrder []string
		names       map[string]string

		subgroups bool
		doubles   bool
	}
)

// typeName returns the OpenCL rendering of an IR type, emitting struct
// typedefs on first sight.
func (st *modState) typeName(t tp.Type) string {
	switch t := t.(type) {
	case tp.Void:
		return "void"
	case tp.Int:
		switch {
		case t.Bits == 1:
			return "bool"
		case t.Bits == 8 && t.Unsigned:
			return "uchar"
		case t.Bits == 8:
			return "char"
		case t.Bits == 16 && t.Unsigned:
			return "ushort"
		case t.Bits == 16:
			return "short"
		case t.Bits == 32 && t.Unsigned:
			return "uint"
		case t.Bits == 32:
			return "int"
		case t.Unsigned:
			return "ulong"
		}

		return "long"
	case tp.Float:
		if t.Bits == 32 {
			return "float"
		}

		st.doubles = true

		return "double"
	case tp.Ptr:
		return spaceQual(t.Space) + st.typeName(t.Elem) + "*"
	case tp.Str:
		return "__constant char*"
	case tp.View:
		return st.viewName(t)
	case tp.Struct:
		return st.structName(t)
	}

	panic(t)
}

// structName interns a typedef for the structure. Fields are named
// _f0, _f1, ...
func (st *modState) structName(t tp.Struct) string {
	key := t.String()

	if n, ok := st.name(key); ok {
		return n
	}

	name := "s" + itoa(len(st.structOrder))

	b := hfmt.Appendf(nil, "typedef struct {\n")

	for i, f := range t.Fields {
		b = hfmt.Appendf(b, "\t%s _f%d;\n", st.typeName(f), i)
	}

	b = hfmt.Appendf(b, "} %s;\n\n", name)

	st.define(key, name, string(b))

	return name
}

// viewName interns the pointer+length pair type of a view.
func (st *modState) viewName(t tp.View) string {
	key := t.String()

	if n, ok := st.name(key); ok {
		return n
	}

	name := "view" + itoa(len(st.structOrder))

	b := hfmt.Appendf(nil, "typedef struct {\n\t%s ptr;\n\tint len;\n} %s;\n\n",
		st.typeName(tp.Ptr{Elem: t.Elem, Space: t.Space}), name)

	st.define(key, name, string(b))

	return name
}

func (st *modState) name(key string) (string, bool) {
	if st.names == nil {
		st.names = map[string]string{}
	}

	n, ok := st.names[key]

	return n, ok
}

func (st *modState) define(key, name, text string) {
	st.names[key] = name
	st.structs[name] = text
	st.structOrder = append(st.structOrder, name)
}

func itoa(n int) string {
	return string(hfmt.Appendf(nil, "%d", n))
}
