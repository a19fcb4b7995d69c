package tp

type (
	// ABI computes sizes, alignments and field offsets for a target.
	// Both device backends use a 64-bit pointer model; the view layout
	// is a pointer followed by a 32-bit length.
	ABI struct {
		PtrSize  int
		PtrAlign int
	}
)

// ABI64 is the layout shared by PTX sm_5x+ and 64-bit OpenCL devices.
var ABI64 = ABI{PtrSize: 8, PtrAlign: 8}

func (a ABI) Size(t Type) int {
	switch t := t.(type) {
	case Void:
		return 0
	case Int:
		if t.Bits == 1 {
			return 1
		}

		return int(t.Bits) / 8
	case Float:
		return int(t.Bits) / 8
	case Ptr:
		return a.PtrSize
	case View:
		return align(a.PtrSize+4, a.PtrAlign)
	case Array:
		n := 1
		for _, d := range t.Dims {
			n *= d
		}

		return n * a.Size(t.Elem)
	case Struct:
		s, _ := a.layout(t)
		return s
	case Str:
		return a.PtrSize
	}

	panic(t)
}

func (a ABI) Align(t Type) int {
	switch t := t.(type) {
	case Void:
		return 1
	case Int, Float:
		return a.Size(t)
	case Ptr, Str:
		return a.PtrAlign
	case View:
		return a.PtrAlign
	case Array:
		return a.Align(t.Elem)
	case Struct:
		al := 1

		for _, f := range t.Fields {
			if x := a.Align(f); x > al {
				al = x
			}
		}

		return al
	}

	panic(t)
}

// Offsets returns the byte offset of every field of s.
func (a ABI) Offsets(s Struct) []int {
	_, offs := a.layout(s)
	return offs
}

// Offset returns the byte offset of field i of s.
func (a ABI) Offset(s Struct, i int) int {
	return a.Offsets(s)[i]
}

func (a ABI) layout(s Struct) (size int, offs []int) {
	offs = make([]int, len(s.Fields))

	for i, f := range s.Fields {
		size = align(size, a.Align(f))
		offs[i] = size
		size += a.Size(f)
	}

	size = align(size, a.Align(s))

	return size, offs
}

func align(x, a int) int {
	return (x + a - 1) / a * a
}
