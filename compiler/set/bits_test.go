package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitsBase(t *testing.T) {
	s := MakeBits(1000)

	s.Set(1000)
	s.Set(1130)

	assert.True(t, s.IsSet(1000))
	assert.True(t, s.IsSet(1130))
	assert.False(t, s.IsSet(1001))
	assert.False(t, s.IsSet(999), "below the base is never set")
	assert.False(t, s.IsSet(0))

	assert.Equal(t, 2, s.Size())

	s.Clear(1000)
	s.Clear(5) // below base, no-op
	assert.Equal(t, 1, s.Size())
}

func TestBitsMergeSubstract(t *testing.T) {
	a := MakeBits(64)
	a.Set(64)
	a.Set(70)

	b := MakeBits(64)
	b.Set(70)
	b.Set(500)

	u := a.Copy()
	u.Merge(b)
	assert.Equal(t, 3, u.Size())

	d := a.Copy()
	d.Substract(b)
	assert.Equal(t, 1, d.Size())
	assert.True(t, d.IsSet(64))

	i := a.Copy()
	i.Intersect(b)
	assert.Equal(t, 1, i.Size())
	assert.True(t, i.IsSet(70))
}

func TestBitsMergeBaseMismatch(t *testing.T) {
	a := MakeBits(0)
	b := MakeBits(64)

	assert.Panics(t, func() { a.Merge(b) })
}

func TestBitsRange(t *testing.T) {
	s := MakeBits[int64](32)

	for _, k := range []int64{32, 95, 96, 1032} {
		s.Set(k)
	}

	var got []int64

	s.Range(func(k int64) bool {
		got = append(got, k)
		return true
	})

	assert.Equal(t, []int64{32, 95, 96, 1032}, got)
}
