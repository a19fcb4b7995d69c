package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int64
	}

	// Bits is a bitset over a window of keys starting at a base.
	// Value ids are context-global and a method's ids start far from
	// zero, so liveness sets anchor at the method's first id instead
	// of carrying empty leading words.
	Bits[K Key] struct {
		base K
		b    []uint64
		b0   [2]uint64
	}
)

func MakeBits[K Key](base K) Bits[K] {
	s := Bits[K]{
		base: base,
	}

	s.b = s.b0[:]

	return s
}

func (s Bits[K]) Copy() Bits[K] {
	c := MakeBits(s.base)

	c.grow(len(s.b) - 1)
	copy(c.b, s.b)

	return c
}

func (s *Bits[K]) Set(k K) {
	i, j := s.ij(k)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s Bits[K]) IsSet(k K) bool {
	if k < s.base {
		return false
	}

	i, j := s.ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s Bits[K]) Clear(k K) {
	if k < s.base {
		return
	}

	i, j := s.ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bits[K]) Merge(x Bits[K]) {
	if s.base != x.base {
		panic(s)
	}

	if len(x.b) != 0 {
		s.grow(len(x.b) - 1)
	}

	for i, x := range x.b {
		s.b[i] |= x
	}
}

func (s Bits[K]) Intersect(x Bits[K]) {
	if s.base != x.base {
		panic(s)
	}

	n := len(s.b)
	if m := len(x.b); m < n {
		n = m
	}

	for i, x := range x.b[:n] {
		s.b[i] &= x
	}

	for i := n; i < len(s.b); i++ {
		s.b[i] = 0
	}
}

func (s Bits[K]) Substract(x Bits[K]) {
	if s.base != x.base {
		panic(s)
	}

	n := len(s.b)
	if m := len(x.b); m < n {
		n = m
	}

	for i, x := range x.b[:n] {
		s.b[i] &^= x
	}
}

func (s Bits[K]) Size() (r int) {
	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

// Range calls f for each set key in increasing order.
// f returning false stops the iteration.
func (s Bits[K]) Range(f func(k K) bool) {
	for i, c := range s.b {
		for c != 0 {
			j := bits.TrailingZeros64(c)
			c &^= 1 << j

			if !f(s.base + K(i*64+j)) {
				return
			}
		}
	}
}

func (s Bits[K]) ij(k K) (i, j int) {
	k -= s.base

	return int(k / 64), int(k % 64)
}

func (s *Bits[K]) grow(i int) {
	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	b = e.AppendBreak(b)

	return b
}
