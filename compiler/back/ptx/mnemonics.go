package ptx

import (
	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

// The instruction tables. Sub-word integers compute in 32-bit
// registers; their memory ops keep the narrow width.

func paramSuffix(t tp.Type) string {
	switch t := t.(type) {
	case tp.Int:
		switch {
		case t.Bits <= 8:
			return "u8"
		case t.Bits == 16:
			return "u16"
		case t.Bits == 32:
			return "u32"
		}

		return "u64"
	case tp.Float:
		if t.Bits == 32 {
			return "f32"
		}

		return "f64"
	case tp.Ptr, tp.Str:
		return "u64"
	}

	panic(t)
}

func memSuffix(t tp.Type) string {
	switch t := t.(type) {
	case tp.Int:
		switch {
		case t.Bits == 1:
			return "u8"
		case t.Bits == 8 && !t.Unsigned:
			return "s8"
		case t.Bits == 8:
			return "u8"
		case t.Bits == 16 && !t.Unsigned:
			return "s16"
		case t.Bits == 16:
			return "u16"
		case t.Bits == 32:
			return "u32"
		}

		return "u64"
	case tp.Float:
		if t.Bits == 32 {
			return "f32"
		}

		return "f64"
	case tp.Ptr, tp.Str:
		return "u64"
	}

	panic(t)
}

func arithSuffix(t tp.Type, flags ir.ArithFlags) string {
	switch t := t.(type) {
	case tp.Int:
		u := t.Unsigned || flags&ir.Unsigned != 0

		if t.Bits == 64 {
			if u {
				return "u64"
			}

			return "s64"
		}

		if u {
			return "u32"
		}

		return "s32"
	case tp.Float:
		if t.Bits == 32 {
			return "f32"
		}

		return "f64"
	case tp.Ptr:
		return "u64"
	}

	panic(t)
}

func bitSuffix(t tp.Type) string {
	if it, ok := t.(tp.Int); ok && it.Bits == 64 {
		return "b64"
	}

	return "b32"
}

func cvtSuffix(t tp.Type) string {
	switch t := t.(type) {
	case tp.Int:
		u := t.Unsigned

		if t.Bits == 64 {
			if u {
				return "u64"
			}

			return "s64"
		}

		// sub-word values are normalized in b32 registers
		if u {
			return "u32"
		}

		return "s32"
	case tp.Float:
		if t.Bits == 32 {
			return "f32"
		}

		return "f64"
	}

	panic(t)
}

func cvtRound(st, dt tp.Type) string {
	_, sf := st.(tp.Float)
	_, df := dt.(tp.Float)

	switch {
	case sf && !df:
		return ".rzi"
	case !sf && df:
		return ".rn"
	case sf && df:
		if dt.(tp.Float).Bits < st.(tp.Float).Bits {
			return ".rn"
		}
	}

	return ""
}

func spaceSuffix(s tp.Space) string {
	switch s {
	case tp.Global:
		return ".global"
	case tp.Shared:
		return ".shared"
	case tp.Local:
		return ".local"
	case tp.Constant:
		return ".const"
	}

	return ""
}

func arithMn(kind ir.ArithKind, t tp.Type, flags ir.ArithFlags, fast bool) (string, error) {
	_, isFloat := t.(tp.Float)
	f32 := isFloat && t.(tp.Float).Bits == 32

	switch kind {
	case ir.Add:
		return "add." + arithSuffix(t, flags), nil
	case ir.Sub:
		return "sub." + arithSuffix(t, flags), nil
	case ir.Mul:
		if isFloat {
			return "mul." + arithSuffix(t, flags), nil
		}

		return "mul.lo." + arithSuffix(t, flags), nil
	case ir.Div:
		if !isFloat {
			return "div." + arithSuffix(t, flags), nil
		}

		if f32 {
			if fast {
				return "div.approx.f32", nil
			}

			return "div.rn.f32", nil
		}

		return "div.rn.f64", nil
	case ir.Rem:
		if isFloat {
			return "", NotSupportedError{What: "float remainder"}
		}

		return "rem." + arithSuffix(t, flags), nil
	case ir.And:
		return "and." + bitSuffix(t), nil
	case ir.Or:
		return "or." + bitSuffix(t), nil
	case ir.Xor:
		return "xor." + bitSuffix(t), nil
	case ir.Shl:
		return "shl." + bitSuffix(t), nil
	case ir.Shr:
		return "shr." + arithSuffix(t, flags), nil
	case ir.Min:
		return "min." + arithSuffix(t, flags), nil
	case ir.Max:
		return "max." + arithSuffix(t, flags), nil
	case ir.Neg:
		return "neg." + arithSuffix(t, flags), nil
	case ir.Not:
		return "not." + bitSuffix(t), nil
	case ir.Abs:
		return "abs." + arithSuffix(t, flags), nil
	case ir.Sqrt:
		if f32 {
			if fast {
				return "sqrt.approx.f32", nil
			}

			return "sqrt.rn.f32", nil
		}

		return "sqrt.rn.f64", nil
	case ir.Sin:
		if f32 {
			return "sin.approx.f32", nil
		}
	case ir.Cos:
		if f32 {
			return "cos.approx.f32", nil
		}
	case ir.MulAdd:
		if f32 {
			return "fma.rn.f32", nil
		}

		return "fma.rn.f64", nil
	}

	return "", NotSupportedError{What: "op " + kind.String() + " on " + t.String()}
}

func atomName(kind ir.AtomicKind, t tp.Type) (string, error) {
	switch kind {
	case ir.AtomicAdd:
		if ft, ok := t.(tp.Float); ok {
			if ft.Bits == 32 {
				return "add.f32", nil
			}

			return "add.f64", nil
		}

		return "add." + arithSuffix(t, 0), nil
	case ir.AtomicAnd:
		return "and." + bitSuffix(t), nil
	case ir.AtomicOr:
		return "or." + bitSuffix(t), nil
	case ir.AtomicXor:
		return "xor." + bitSuffix(t), nil
	case ir.AtomicMin:
		return "min." + arithSuffix(t, 0), nil
	case ir.AtomicMax:
		return "max." + arithSuffix(t, 0), nil
	case ir.AtomicExch:
		return "exch." + bitSuffix(t), nil
	}

	return "", NotSupportedError{What: "atomic"}
}
