package tp

import (
	"strings"

	"github.com/nikandfor/hacked/hfmt"
)

type (
	// Type is the structural description of a device value.
	// Types are plain values; identity comes from interning in the ir
	// context, keyed by the canonical String form.
	Type interface {
		String() string
	}

	// Space is a memory address space.
	Space int

	Void struct{}

	Int struct {
		Bits     int16
		Unsigned bool
	}

	Float struct {
		Bits int16
	}

	Ptr struct {
		Elem  Type
		Space Space
	}

	// View is a pointer plus a length describing a contiguous region.
	View struct {
		Elem  Type
		Space Space
	}

	Array struct {
		Elem Type
		Dims []int
	}

	Struct struct {
		Fields []Type
	}

	// Str is the type of embedded string constants.
	Str struct{}
)

const (
	Generic Space = iota
	Global
	Shared
	Local
	Constant
)

var (
	Bool = Int{Bits: 1}
	I8   = Int{Bits: 8}
	I16  = Int{Bits: 16}
	I32  = Int{Bits: 32}
	I64  = Int{Bits: 64}
	U8   = Int{Bits: 8, Unsigned: true}
	U16  = Int{Bits: 16, Unsigned: true}
	U32  = Int{Bits: 32, Unsigned: true}
	U64  = Int{Bits: 64, Unsigned: true}
	F32  = Float{Bits: 32}
	F64  = Float{Bits: 64}
)

func (s Space) String() string {
	switch s {
	case Generic:
		return "generic"
	case Global:
		return "global"
	case Shared:
		return "shared"
	case Local:
		return "local"
	case Constant:
		return "constant"
	}

	return "badspace"
}

func (x Void) String() string { return "void" }
func (x Str) String() string  { return "str" }

func (x Int) String() string {
	u := "i"
	if x.Unsigned {
		u = "u"
	}

	return string(hfmt.Appendf(nil, "%s%d", u, x.Bits))
}

func (x Float) String() string {
	return string(hfmt.Appendf(nil, "f%d", x.Bits))
}

func (x Ptr) String() string {
	return string(hfmt.Appendf(nil, "ptr<%v, %v>", x.Space, x.Elem))
}

func (x View) String() string {
	return string(hfmt.Appendf(nil, "view<%v, %v>", x.Space, x.Elem))
}

func (x Array) String() string {
	b := hfmt.Appendf(nil, "array<%v", x.Elem)

	for _, d := range x.Dims {
		b = hfmt.Appendf(b, ", %d", d)
	}

	b = append(b, '>')

	return string(b)
}

func (x Struct) String() string {
	var b strings.Builder

	b.WriteString("struct{")

	for i, f := range x.Fields {
		if i != 0 {
			b.WriteByte(',')
		}

		b.WriteString(f.String())
	}

	b.WriteByte('}')

	return b.String()
}

// IsInt reports whether t is an integer type, returning it.
func IsInt(t Type) (Int, bool) {
	x, ok := t.(Int)
	return x, ok
}

// IsFloat reports whether t is a floating-point type, returning it.
func IsFloat(t Type) (Float, bool) {
	x, ok := t.(Float)
	return x, ok
}

// IsVoid reports whether t is void.
func IsVoid(t Type) bool {
	_, ok := t.(Void)
	return ok
}
