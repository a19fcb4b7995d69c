package ir

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/gpujit/glow/compiler/tp"
)

type (
	// ID names an SSA value. Ids are unique within a Context and
	// strictly increasing in creation order; everything that iterates
	// values sorts by id so code generation is deterministic.
	ID int

	// BlockID names a basic block within its method.
	BlockID int

	// MethodHandle is the opaque host identifier of a method,
	// stable across compilations.
	MethodHandle string

	MethodFlags    int
	TransformFlags int

	// Decl is what the frontend knows about a method before lifting it.
	Decl struct {
		Handle MethodHandle
		Name   string
		Ret    tp.Type
		Source string
		Flags  MethodFlags
	}

	// Method is a lifted function: parameters, an entry block and the
	// blocks reachable from it. All mutation goes through a Builder.
	Method struct {
		Ctx *Context

		Decl   Decl
		Params []ID

		Entry  BlockID
		Blocks []*Block

		TFlags TransformFlags

		vals  []*Value
		index map[ID]int
		bld   builderSlot
	}

	// Block owns an ordered run of values ending in a terminator.
	Block struct {
		ID   BlockID
		Code []ID

		// Dirty is set when the block was modified since the last
		// method GC.
		Dirty bool
	}

	// Value is one SSA node. Args are operand edges; Uses are the
	// symmetric reverse edges, both maintained by the Builder.
	Value struct {
		ID    ID
		Type  tp.Type
		Block BlockID

		Op   Op
		Args []ID
		Uses []ID
	}

	// Op is the payload of a value, a tagged union over the node kinds.
	Op interface {
		irOp()
	}
)

const NoFlags MethodFlags = 0

const (
	NoInlining MethodFlags = 1 << iota
	AggressiveInlining
	ExternalDeclaration
	External
	EntryPoint
)

const (
	Dirty TransformFlags = 1 << iota
	Transformed
)

const (
	Nil    ID      = -1
	NoBlock BlockID = -1
)

// Value returns the value node for id, or nil if it was collected.
func (m *Method) Value(id ID) *Value {
	i, ok := m.index[id]
	if !ok {
		return nil
	}

	return m.vals[i]
}

func (m *Method) Block(b BlockID) *Block {
	return m.Blocks[b]
}

// NumValues reports how many values are currently alive in the method.
func (m *Method) NumValues() int {
	return len(m.index)
}

// Terminator returns the block's terminating value, or nil for an
// unterminated block (only legal mid-construction).
func (m *Method) Terminator(b BlockID) *Value {
	blk := m.Blocks[b]

	if len(blk.Code) == 0 {
		return nil
	}

	v := m.Value(blk.Code[len(blk.Code)-1])
	if v == nil || !IsTerminator(v.Op) {
		return nil
	}

	return v
}

// Succs returns the successor blocks derived from the terminator.
func (m *Method) Succs(b BlockID) []BlockID {
	t := m.Terminator(b)
	if t == nil {
		return nil
	}

	switch op := t.Op.(type) {
	case Br:
		return []BlockID{op.Dst}
	case BrCond:
		return []BlockID{op.Then, op.Else}
	case Switch:
		d := make([]BlockID, 0, len(op.Dsts)+1)
		d = append(d, op.Dsts...)
		d = append(d, op.Default)
		return d
	case Ret:
		return nil
	}

	return nil
}

// Preds returns the predecessors of b in block order.
func (m *Method) Preds(b BlockID) []BlockID {
	var r []BlockID

	for _, blk := range m.Blocks {
		for _, s := range m.Succs(blk.ID) {
			if s == b {
				r = append(r, blk.ID)
				break
			}
		}
	}

	return r
}

func (id ID) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if id == Nil {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%%%d", int(id))
}

func (b BlockID) TlogAppend(w []byte) []byte {
	var e tlwire.Encoder

	if b == NoBlock {
		return e.AppendNil(w)
	}

	return e.AppendFormat(w, "BB%d", int(b))
}
