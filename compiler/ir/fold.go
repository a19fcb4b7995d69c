package ir

import (
	"math"

	"github.com/gpujit/glow/compiler/tp"
)

// Constant folding runs inside the builder: an operation created with
// all-constant operands yields a fresh literal instead of the op node.
// Integer arithmetic wraps two's complement at the operand width,
// MinValue/-1 saturates to MinValue, integer division by zero folds to
// Poison. Floats follow IEEE-754; min/max ignore a NaN operand.

func (b *Builder) constOf(id ID) (Const, bool) {
	v := b.m.Value(id)
	if v == nil {
		return Const{}, false
	}

	c, ok := v.Op.(Const)

	return c, ok
}

func (b *Builder) foldArith(kind ArithKind, flags ArithFlags, t tp.Type, args []ID) (ID, bool) {
	cs := make([]uint64, len(args))

	for i, a := range args {
		c, ok := b.constOf(a)
		if !ok {
			return Nil, false
		}

		cs[i] = c.Val
	}

	switch t := t.(type) {
	case tp.Int:
		r, poison := foldInt(kind, flags, t, cs)
		if poison {
			return b.Poison(t), true
		}

		return b.Const(t, truncInt(r, t)), true
	case tp.Float:
		return b.Const(t, foldFloat(kind, t, cs)), true
	}

	return Nil, false
}

func foldInt(kind ArithKind, flags ArithFlags, t tp.Int, cs []uint64) (r uint64, poison bool) {
	unsigned := t.Unsigned || flags&Unsigned != 0
	mask := uint64(t.Bits - 1)

	x := cs[0]
	var y uint64
	if len(cs) > 1 {
		y = cs[1]
	}

	sx, sy := sext(x, t), sext(y, t)

	switch kind {
	case Add:
		return x + y, false
	case Sub:
		return x - y, false
	case Mul:
		return x * y, false
	case Div:
		if y == 0 {
			return 0, true
		}

		if unsigned {
			return x / y, false
		}

		if sx == minInt(t) && sy == -1 {
			return uint64(sx), false
		}

		return uint64(sx / sy), false
	case Rem:
		if y == 0 {
			return 0, true
		}

		if unsigned {
			return x % y, false
		}

		if sx == minInt(t) && sy == -1 {
			return 0, false
		}

		return uint64(sx % sy), false
	case And:
		return x & y, false
	case Or:
		return x | y, false
	case Xor:
		return x ^ y, false
	case Shl:
		return x << (y & mask), false
	case Shr:
		if unsigned {
			return x >> (y & mask), false
		}

		return uint64(sx >> (y & mask)), false
	case Min:
		if unsigned && x <= y || !unsigned && sx <= sy {
			return x, false
		}

		return y, false
	case Max:
		if unsigned && x >= y || !unsigned && sx >= sy {
			return x, false
		}

		return y, false
	case Neg:
		return -x, false
	case Not:
		return ^x, false
	case Abs:
		if !unsigned && sx < 0 {
			return uint64(-sx), false
		}

		return x, false
	}

	panic(kind)
}

func foldFloat(kind ArithKind, t tp.Float, cs []uint64) uint64 {
	x := fromBits(cs[0], t)
	var y, z float64
	if len(cs) > 1 {
		y = fromBits(cs[1], t)
	}
	if len(cs) > 2 {
		z = fromBits(cs[2], t)
	}

	var r float64

	switch kind {
	case Add:
		r = x + y
	case Sub:
		r = x - y
	case Mul:
		r = x * y
	case Div:
		r = x / y
	case Rem:
		r = math.Mod(x, y)
	case Min:
		// NaN operands are ignored, the other operand wins.
		switch {
		case math.IsNaN(x):
			r = y
		case math.IsNaN(y):
			r = x
		case x <= y:
			r = x
		default:
			r = y
		}
	case Max:
		switch {
		case math.IsNaN(x):
			r = y
		case math.IsNaN(y):
			r = x
		case x >= y:
			r = x
		default:
			r = y
		}
	case Neg:
		r = -x
	case Abs:
		r = math.Abs(x)
	case Sqrt:
		r = math.Sqrt(x)
	case Sin:
		r = math.Sin(x)
	case Cos:
		r = math.Cos(x)
	case Exp:
		r = math.Exp(x)
	case Log:
		r = math.Log(x)
	case MulAdd:
		r = math.FMA(x, y, z)
	default:
		panic(kind)
	}

	return floatBits(r, t)
}

func (b *Builder) foldCmp(rel Rel, flags ArithFlags, t tp.Type, l, r ID) (ID, bool) {
	lc, ok := b.constOf(l)
	if !ok {
		return Nil, false
	}

	rc, ok := b.constOf(r)
	if !ok {
		return Nil, false
	}

	switch t := t.(type) {
	case tp.Int:
		unsigned := t.Unsigned || flags&Unsigned != 0

		var c int
		if unsigned {
			switch {
			case lc.Val < rc.Val:
				c = -1
			case lc.Val > rc.Val:
				c = 1
			}
		} else {
			lx, rx := sext(lc.Val, t), sext(rc.Val, t)
			switch {
			case lx < rx:
				c = -1
			case lx > rx:
				c = 1
			}
		}

		return b.Bool(relHolds(rel&^RelUnordered, c)), true
	case tp.Float:
		lx, rx := fromBits(lc.Val, t), fromBits(rc.Val, t)

		if math.IsNaN(lx) || math.IsNaN(rx) {
			return b.Bool(rel&RelUnordered != 0), true
		}

		var c int
		switch {
		case lx < rx:
			c = -1
		case lx > rx:
			c = 1
		}

		return b.Bool(relHolds(rel&^RelUnordered, c)), true
	}

	return Nil, false
}

func relHolds(rel Rel, c int) bool {
	switch rel {
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	case Lt:
		return c < 0
	case Le:
		return c <= 0
	case Gt:
		return c > 0
	case Ge:
		return c >= 0
	}

	panic(rel)
}

func (b *Builder) foldConvert(t tp.Type, flags ArithFlags, x ID) (ID, bool) {
	c, ok := b.constOf(x)
	if !ok {
		return Nil, false
	}

	st := b.typeOf(x)

	switch st := st.(type) {
	case tp.Int:
		unsigned := st.Unsigned || flags&Unsigned != 0

		switch t := t.(type) {
		case tp.Int:
			if unsigned {
				return b.Const(t, truncInt(c.Val, t)), true
			}

			return b.Const(t, truncInt(uint64(sext(c.Val, st)), t)), true
		case tp.Float:
			if unsigned {
				return b.Const(t, floatBits(float64(c.Val), t)), true
			}

			return b.Const(t, floatBits(float64(sext(c.Val, st)), t)), true
		}
	case tp.Float:
		v := fromBits(c.Val, st)

		switch t := t.(type) {
		case tp.Int:
			return b.Const(t, truncInt(uint64(int64(v)), t)), true
		case tp.Float:
			return b.Const(t, floatBits(v, t)), true
		}
	}

	return Nil, false
}

func truncInt(x uint64, t tp.Int) uint64 {
	if t.Bits >= 64 {
		return x
	}

	return x & (1<<uint(t.Bits) - 1)
}

func sext(x uint64, t tp.Int) int64 {
	sh := 64 - uint(t.Bits)

	return int64(x<<sh) >> sh
}

func minInt(t tp.Int) int64 {
	return -1 << uint(t.Bits-1)
}

func floatBits(v float64, t tp.Float) uint64 {
	if t.Bits == 32 {
		return uint64(math.Float32bits(float32(v)))
	}

	return math.Float64bits(v)
}

func fromBits(x uint64, t tp.Float) float64 {
	if t.Bits == 32 {
		return float64(math.Float32frombits(uint32(x)))
	}

	return math.Float64frombits(x)
}
