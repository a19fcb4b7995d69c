package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Bitmap is a dense bitset over small non-negative indices.
	// Block and value ids are dense per method, so this is the working
	// representation for dominators, liveness and dead-code marks.
	Bitmap struct {
		b  []uint64
		b0 [1]uint64
	}
)

func NewBitmap(size int) *Bitmap {
	s := MakeBitmap(size)
	return &s
}

func MakeBitmap(size int) Bitmap {
	s := Bitmap{}
	s.b = s.b0[:]

	size = (size + 63) / 64

	if size > len(s.b) {
		s.b = make([]uint64, size)
	}

	return s
}

func (s *Bitmap) Set(i int) {
	i, j := s.ij(i)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s *Bitmap) Clear(i int) {
	i, j := s.ij(i)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bitmap) IsSet(i int) bool {
	i, j := s.ij(i)

	if i >= len(s.b) {
		return false
	}

	return (s.b[i] & (1 << j)) != 0
}

func (s *Bitmap) Or(x Bitmap) {
	if len(x.b) != 0 {
		s.grow(len(x.b) - 1)
	}

	for i, x := range x.b {
		s.b[i] |= x
	}
}

func (s *Bitmap) And(x Bitmap) {
	for i := range s.b {
		if i >= len(x.b) {
			s.b[i] = 0
			continue
		}

		s.b[i] &= x.b[i]
	}
}

func (s *Bitmap) Substract(x Bitmap) {
	n := len(s.b)
	if m := len(x.b); m < n {
		n = m
	}

	for i, x := range x.b[:n] {
		s.b[i] &^= x
	}
}

func (s *Bitmap) Copy() Bitmap {
	c := MakeBitmap(len(s.b) * 64)

	copy(c.b, s.b)

	return c
}

func (s *Bitmap) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s *Bitmap) Size() (r int) {
	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

// First returns the lowest set index, or -1 if the set is empty.
func (s *Bitmap) First() int {
	for i, c := range s.b {
		if c != 0 {
			return i*64 + bits.TrailingZeros64(c)
		}
	}

	return -1
}

// Range calls f for each set index in increasing order.
// f returning false stops the iteration.
func (s *Bitmap) Range(f func(i int) bool) {
	for i, c := range s.b {
		for c != 0 {
			j := bits.TrailingZeros64(c)
			c &^= 1 << j

			if !f(i*64 + j) {
				return
			}
		}
	}
}

func (s *Bitmap) ij(index int) (i, j int) {
	return index / 64, index % 64
}

func (s *Bitmap) grow(i int) {
	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)
		return true
	})

	b = e.AppendBreak(b)

	return b
}
