package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/tp"
)

func testBuilder(t *testing.T) (*Method, *Builder) {
	t.Helper()

	ctx := NewContext(tp.ABI64)

	m, err := ctx.CreateMethod(Decl{Handle: "test", Name: "test", Ret: tp.Void{}})
	require.NoError(t, err)

	b, err := ctx.CreateBuilder(m)
	require.NoError(t, err)

	b.CreateBlock()

	return m, b
}

func constVal(t *testing.T, m *Method, id ID) uint64 {
	t.Helper()

	v := m.Value(id)
	require.NotNil(t, v)

	c, ok := v.Op.(Const)
	require.True(t, ok, "expected constant, got %T", v.Op)

	return c.Val
}

// reference semantics of the fold table, two's complement per width
func refInt(t *testing.T, kind ArithKind, it tp.Int, x, y uint64) (uint64, bool) {
	t.Helper()

	sx, sy := sext(x, it), sext(y, it)

	var r int64

	switch kind {
	case Add:
		r = sx + sy
	case Sub:
		r = sx - sy
	case Mul:
		r = sx * sy
	case Div:
		if y == 0 {
			return 0, false
		}

		if it.Unsigned {
			return truncInt(x/y, it), true
		}

		if sx == minInt(it) && sy == -1 {
			return truncInt(uint64(sx), it), true
		}

		r = sx / sy
	case Rem:
		if y == 0 {
			return 0, false
		}

		if it.Unsigned {
			return truncInt(x%y, it), true
		}

		if sx == minInt(it) && sy == -1 {
			return 0, true
		}

		r = sx % sy
	case And:
		r = sx & sy
	case Or:
		r = sx | sy
	case Xor:
		r = sx ^ sy
	case Shl:
		r = int64(uint64(sx) << (y & uint64(it.Bits-1)))
	case Shr:
		if it.Unsigned {
			return truncInt(x>>(y&uint64(it.Bits-1)), it), true
		}

		r = sx >> (y & uint64(it.Bits-1))
	case Min:
		if it.Unsigned {
			if x <= y {
				return truncInt(x, it), true
			}

			return truncInt(y, it), true
		}

		r = sy
		if sx <= sy {
			r = sx
		}
	case Max:
		if it.Unsigned {
			if x >= y {
				return truncInt(x, it), true
			}

			return truncInt(y, it), true
		}

		r = sy
		if sx >= sy {
			r = sx
		}
	}

	return truncInt(uint64(r), it), true
}

func TestFoldBinaryExhaustive(t *testing.T) {
	types := []tp.Int{tp.I8, tp.I16, tp.I32, tp.I64, tp.U8, tp.U16, tp.U32, tp.U64}
	kinds := []ArithKind{Add, Sub, Mul, Div, Rem, And, Or, Xor, Shl, Shr, Min, Max}

	for _, it := range types {
		maxv := uint64(1)<<(it.Bits-1) - 1 // MaxValue signed
		minv := uint64(1) << (it.Bits - 1) // MinValue signed
		if it.Unsigned {
			maxv = truncInt(^uint64(0), it)
			minv = 0
		}

		pairs := [][2]uint64{
			{maxv, 1},
			{minv, maxv},
			{truncInt(minv+1, it), maxv},
			{0, maxv},
			{0, truncInt(maxv-1, it)},
			{1, 1},
			{6, 2},
			{5, 19},
		}

		for _, kind := range kinds {
			for _, p := range pairs {
				_, b := testBuilder(t)

				l := b.Const(it, p[0])
				r := b.Const(it, p[1])

				got := b.Arith(kind, 0, l, r)

				want, defined := refInt(t, kind, it, p[0], p[1])

				m := b.Method()

				if !defined {
					_, poison := m.Value(got).Op.(Poison)
					assert.True(t, poison, "%v %v (%d, %d): expected poison", it, kind, p[0], p[1])
					continue
				}

				assert.Equal(t, want, constVal(t, m, got),
					"%v %v (%d, %d)", it, kind, p[0], p[1])
			}
		}
	}
}

func TestFoldMinValueDivMinusOne(t *testing.T) {
	for _, it := range []tp.Int{tp.I8, tp.I16, tp.I32, tp.I64} {
		_, b := testBuilder(t)

		minv := uint64(1) << (it.Bits - 1)

		d := b.Arith(Div, 0, b.Const(it, minv), b.ConstInt(it, -1))

		assert.Equal(t, minv, constVal(t, b.Method(), d), "%v", it)
	}
}

func TestFoldDivByZeroPoison(t *testing.T) {
	_, b := testBuilder(t)

	d := b.Arith(Div, 0, b.ConstInt(tp.I32, 42), b.ConstInt(tp.I32, 0))

	_, ok := b.Method().Value(d).Op.(Poison)
	assert.True(t, ok)

	r := b.Arith(Rem, 0, b.ConstInt(tp.I32, 42), b.ConstInt(tp.I32, 0))

	_, ok = b.Method().Value(r).Op.(Poison)
	assert.True(t, ok)
}

func TestFoldFloatDivByZero(t *testing.T) {
	_, b := testBuilder(t)

	d := b.Arith(Div, 0, b.ConstFloat(tp.F64, 1), b.ConstFloat(tp.F64, 0))
	assert.True(t, math.IsInf(math.Float64frombits(constVal(t, b.Method(), d)), 1))

	n := b.Arith(Div, 0, b.ConstFloat(tp.F64, -1), b.ConstFloat(tp.F64, 0))
	assert.True(t, math.IsInf(math.Float64frombits(constVal(t, b.Method(), n)), -1))

	z := b.Arith(Div, 0, b.ConstFloat(tp.F64, 0), b.ConstFloat(tp.F64, 0))
	assert.True(t, math.IsNaN(math.Float64frombits(constVal(t, b.Method(), z))))
}

func TestFoldMinMaxIgnoreNaN(t *testing.T) {
	_, b := testBuilder(t)

	nan := b.ConstFloat(tp.F64, math.NaN())
	x := b.ConstFloat(tp.F64, 3.5)

	for _, kind := range []ArithKind{Min, Max} {
		r := b.Arith(kind, 0, nan, x)
		assert.Equal(t, 3.5, math.Float64frombits(constVal(t, b.Method(), r)), "%v(nan, x)", kind)

		r = b.Arith(kind, 0, x, nan)
		assert.Equal(t, 3.5, math.Float64frombits(constVal(t, b.Method(), r)), "%v(x, nan)", kind)
	}
}

func TestFoldNaNPreservedThroughBitCast(t *testing.T) {
	_, b := testBuilder(t)

	payload := uint64(0x7ff8dead_beef0001)

	v := b.Const(tp.F64, payload)
	i := b.BitCast(tp.I64, v)
	back := b.BitCast(tp.F64, i)

	assert.Equal(t, payload, constVal(t, b.Method(), back))
}

func TestFoldNegAbsNaN(t *testing.T) {
	_, b := testBuilder(t)

	nan := b.ConstFloat(tp.F64, math.NaN())

	n := b.Arith(Neg, 0, nan)
	assert.True(t, math.IsNaN(math.Float64frombits(constVal(t, b.Method(), n))))

	a := b.Arith(Abs, 0, nan)
	assert.True(t, math.IsNaN(math.Float64frombits(constVal(t, b.Method(), a))))
}

func TestFoldCompare(t *testing.T) {
	_, b := testBuilder(t)

	// -1 unsigned-compares above 1
	l := b.ConstInt(tp.I32, -1)
	r := b.ConstInt(tp.I32, 1)

	signed := b.Cmp(Lt, 0, l, r)
	assert.Equal(t, uint64(1), constVal(t, b.Method(), signed))

	unsigned := b.Cmp(Lt, Unsigned, l, r)
	assert.Equal(t, uint64(0), constVal(t, b.Method(), unsigned))

	// unordered relations hold on NaN
	nan := b.ConstFloat(tp.F32, math.NaN())
	x := b.ConstFloat(tp.F32, 1)

	ord := b.Cmp(Lt, 0, nan, x)
	assert.Equal(t, uint64(0), constVal(t, b.Method(), ord))

	uno := b.Cmp(Lt|RelUnordered, 0, nan, x)
	assert.Equal(t, uint64(1), constVal(t, b.Method(), uno))
}

func TestFoldConvert(t *testing.T) {
	_, b := testBuilder(t)

	// sign extension
	v := b.ConstInt(tp.I8, -1)
	w := b.Convert(tp.I32, 0, v)
	assert.Equal(t, truncInt(^uint64(0), tp.I32), constVal(t, b.Method(), w))

	// zero extension from unsigned source
	u := b.Const(tp.U8, 0xff)
	wu := b.Convert(tp.I32, 0, u)
	assert.Equal(t, uint64(0xff), constVal(t, b.Method(), wu))

	// float to int truncates
	f := b.ConstFloat(tp.F64, -2.75)
	i := b.Convert(tp.I32, 0, f)
	neg2 := int64(-2)
	assert.Equal(t, truncInt(uint64(neg2), tp.I32), constVal(t, b.Method(), i))
}

func TestFoldWrapsTwosComplement(t *testing.T) {
	_, b := testBuilder(t)

	// i8: 127 + 1 wraps to -128
	r := b.Arith(Add, 0, b.ConstInt(tp.I8, 127), b.ConstInt(tp.I8, 1))
	assert.Equal(t, uint64(0x80), constVal(t, b.Method(), r))

	// u8: 255 + 1 wraps to 0
	r = b.Arith(Add, 0, b.Const(tp.U8, 255), b.Const(tp.U8, 1))
	assert.Equal(t, uint64(0), constVal(t, b.Method(), r))
}
