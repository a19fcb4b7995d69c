package ptx

import (
	"nikand.dev/go/heap"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Kind is a PTX register class.
	Kind int

	// Reg is one physical register within its class.
	Reg struct {
		Kind Kind
		N    int
	}

	// allocator hands out registers linearly and recycles the lowest
	// free number first, which keeps emission deterministic.
	// A value binds to one register, or to a tuple of child registers
	// for views and structures.
	allocator struct {
		next [kinds]int
		free [kinds]heap.Heap[int]

		bind map[ir.ID][]Reg
	}
)

const (
	Pred Kind = iota
	B32
	B64
	F32
	F64

	kinds
)

func intLess(d []int, i, j int) bool { return d[i] < d[j] }

func newAllocator() *allocator {
	a := &allocator{
		bind: make(map[ir.ID][]Reg),
	}

	for k := range a.free {
		a.free[k].Less = intLess
	}

	return a
}

func (a *allocator) get(k Kind) Reg {
	if a.free[k].Len() != 0 {
		return Reg{Kind: k, N: a.free[k].Pop()}
	}

	n := a.next[k]
	a.next[k]++

	return Reg{Kind: k, N: n}
}

func (a *allocator) put(r Reg) {
	a.free[r.Kind].Push(r.N)
}

// alloc binds value id to fresh registers shaped by its type.
func (a *allocator) alloc(id ir.ID, t tp.Type) []Reg {
	if r, ok := a.bind[id]; ok {
		return r
	}

	shape := regShape(t)

	r := make([]Reg, len(shape))
	for i, k := range shape {
		r[i] = a.get(k)
	}

	a.bind[id] = r

	return r
}

// alias binds id to existing registers (zero-offset field addresses,
// view length projections).
func (a *allocator) alias(id ir.ID, regs []Reg) {
	a.bind[id] = regs
}

func (a *allocator) of(id ir.ID) []Reg {
	return a.bind[id]
}

// release frees a value's registers unless they are aliased elsewhere.
func (a *allocator) release(id ir.ID, aliased map[ir.ID]bool) {
	if aliased[id] {
		return
	}

	for _, r := range a.bind[id] {
		a.put(r)
	}

	delete(a.bind, id)
}

// regShape flattens a type into its register classes.
func regShape(t tp.Type) []Kind {
	switch t := t.(type) {
	case tp.Int:
		if t.Bits == 1 {
			return []Kind{Pred}
		}

		if t.Bits == 64 {
			return []Kind{B64}
		}

		return []Kind{B32}
	case tp.Float:
		if t.Bits == 32 {
			return []Kind{F32}
		}

		return []Kind{F64}
	case tp.Ptr, tp.Str:
		return []Kind{B64}
	case tp.View:
		return []Kind{B64, B32}
	case tp.Struct:
		var r []Kind

		for _, f := range t.Fields {
			r = append(r, regShape(f)...)
		}

		return r
	case tp.Void:
		return nil
	}

	panic(t)
}

// name renders the register operand text.
func (r Reg) name() string {
	switch r.Kind {
	case Pred:
		return "%p" + itoa(r.N)
	case B32:
		return "%r" + itoa(r.N)
	case B64:
		return "%rd" + itoa(r.N)
	case F32:
		return "%f" + itoa(r.N)
	case F64:
		return "%fd" + itoa(r.N)
	}

	panic(r)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	var b [20]byte
	i := len(b)

	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}

	return string(b[i:])
}
