package ir

import (
	"tlog.app/go/loc"

	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Builder is the only mutation path into a method's IR.
	// It keeps operand and use edges symmetric, checks block and type
	// invariants on every insertion, and folds constant expressions
	// instead of materializing them.
	Builder struct {
		m   *Method
		cur BlockID

		from loc.PC
	}
)

// Method returns the method under construction.
func (b *Builder) Method() *Method { return b.m }

// Release flips the method Dirty flag and frees the builder slot.
// The builder must not be used afterwards.
func (b *Builder) Release() {
	b.m.TFlags |= Dirty

	if !b.m.bld.p.CompareAndSwap(b, nil) {
		panic("builder released twice")
	}
}

// CreateBlock appends a new empty block and returns its id.
// The first block of a method becomes its entry and, when no
// insertion block is set yet, the insertion block.
func (b *Builder) CreateBlock() BlockID {
	id := BlockID(len(b.m.Blocks))

	b.m.Blocks = append(b.m.Blocks, &Block{ID: id, Dirty: true})

	if b.m.Entry == NoBlock {
		b.m.Entry = id

		if b.cur == NoBlock {
			b.cur = id
		}
	}

	return id
}

// SetBlock moves the insertion point to the tail of blk.
func (b *Builder) SetBlock(blk BlockID) {
	b.cur = blk
}

// CurrentBlock returns the insertion block.
func (b *Builder) CurrentBlock() BlockID { return b.cur }

// AddParam appends a parameter value to the method.
func (b *Builder) AddParam(name string, t tp.Type) ID {
	v := b.alloc(Param{Index: len(b.m.Params), Name: name}, b.m.Ctx.Intern(t), NoBlock)

	b.m.Params = append(b.m.Params, v.ID)

	return v.ID
}

// Const creates a typed primitive literal from raw bits.
// Literals are block-less: they belong to the method, not to any block,
// and render inline at their uses.
func (b *Builder) Const(t tp.Type, bits uint64) ID {
	return b.alloc(Const{Val: bits}, t, NoBlock).ID
}

// ConstInt creates an integer literal, truncated to the type's width.
func (b *Builder) ConstInt(t tp.Int, v int64) ID {
	return b.Const(t, truncInt(uint64(v), t))
}

// ConstFloat creates a float literal.
func (b *Builder) ConstFloat(t tp.Float, v float64) ID {
	return b.Const(t, floatBits(v, t))
}

// Bool creates an i1 literal.
func (b *Builder) Bool(v bool) ID {
	x := uint64(0)
	if v {
		x = 1
	}

	return b.Const(tp.Bool, x)
}

// Null creates a typed null value.
func (b *Builder) Null(t tp.Type) ID {
	return b.alloc(Null{}, t, NoBlock).ID
}

// Poison creates a poison value of the given type.
func (b *Builder) Poison(t tp.Type) ID {
	return b.alloc(Poison{}, t, NoBlock).ID
}

// Str creates an embedded string constant.
func (b *Builder) Str(s string) ID {
	return b.alloc(StrConst{S: s}, tp.Str{}, NoBlock).ID
}

// Arith creates a unary, binary or ternary arithmetic value,
// folding when all operands are constant.
func (b *Builder) Arith(kind ArithKind, flags ArithFlags, args ...ID) ID {
	if len(args) != kind.Arity() {
		panic(kind)
	}

	t := b.typeOf(args[0])

	b.checkArith(kind, t, args)

	if c, ok := b.foldArith(kind, flags, t, args); ok {
		return c
	}

	return b.insert(Arith{Kind: kind, Flags: flags}, t, args...)
}

// Cmp creates a comparison, folding constant operands.
func (b *Builder) Cmp(rel Rel, flags ArithFlags, l, r ID) ID {
	lt, rt := b.typeOf(l), b.typeOf(r)

	if lt.String() != rt.String() {
		panic(typeMismatch{lt, rt})
	}

	if c, ok := b.foldCmp(rel, flags, lt, l, r); ok {
		return c
	}

	return b.insert(Cmp{Rel: rel, Flags: flags}, tp.Bool, l, r)
}

// Convert converts x to type t, folding constants.
func (b *Builder) Convert(t tp.Type, flags ArithFlags, x ID) ID {
	t = b.m.Ctx.Intern(t)

	if b.typeOf(x).String() == t.String() {
		return x
	}

	if c, ok := b.foldConvert(t, flags, x); ok {
		return c
	}

	return b.insert(Convert{Flags: flags}, t, x)
}

// PtrCast reinterprets a pointer value as type t.
func (b *Builder) PtrCast(t tp.Type, x ID) ID {
	if b.typeOf(x).String() == t.String() {
		return x
	}

	return b.insert(PtrCast{}, t, x)
}

// BitCast reinterprets the bits of x as type t. Sizes must match.
func (b *Builder) BitCast(t tp.Type, x ID) ID {
	abi := b.m.Ctx.ABI

	if abi.Size(t) != abi.Size(b.typeOf(x)) {
		panic(typeMismatch{t, b.typeOf(x)})
	}

	if v := b.m.Value(x); v != nil {
		if _, ok := v.Op.(Const); ok {
			return b.Const(t, v.Op.(Const).Val)
		}
	}

	return b.insert(BitCast{}, t, x)
}

// SizeOf folds to a constant i32 immediately; it never reaches a backend.
func (b *Builder) SizeOf(t tp.Type) ID {
	return b.ConstInt(tp.I32, int64(b.m.Ctx.ABI.Size(t)))
}

// Alloca reserves a local slot of type t.
func (b *Builder) Alloca(t tp.Type) ID {
	t = b.m.Ctx.Intern(t)

	return b.insert(Alloca{T: t}, b.m.Ctx.Intern(tp.Ptr{Elem: t, Space: tp.Local}))
}

// Load reads through a pointer.
func (b *Builder) Load(ptr ID) ID {
	p, ok := b.typeOf(ptr).(tp.Ptr)
	if !ok {
		panic(typeMismatch{b.typeOf(ptr), tp.Ptr{}})
	}

	return b.insert(Load{}, p.Elem, ptr)
}

// Store writes through a pointer.
func (b *Builder) Store(ptr, val ID) ID {
	return b.insert(Store{}, tp.Void{}, ptr, val)
}

// MemBarrier inserts a memory fence.
func (b *Builder) MemBarrier(kind BarrierKind) ID {
	return b.insert(Barrier{Kind: kind}, tp.Void{})
}

// GetField projects a field out of a structure value.
func (b *Builder) GetField(x ID, i int) ID {
	s, ok := b.typeOf(x).(tp.Struct)
	if !ok {
		panic(typeMismatch{b.typeOf(x), tp.Struct{}})
	}

	return b.insert(GetField{Index: i}, s.Fields[i], x)
}

// SetField builds a structure value with field i replaced by v.
func (b *Builder) SetField(x ID, i int, v ID) ID {
	s, ok := b.typeOf(x).(tp.Struct)
	if !ok {
		panic(typeMismatch{b.typeOf(x), tp.Struct{}})
	}

	return b.insert(SetField{Index: i}, s, x, v)
}

// FieldAddr takes the address of field i of a pointed-to structure.
func (b *Builder) FieldAddr(ptr ID, i int) ID {
	p, ok := b.typeOf(ptr).(tp.Ptr)
	if !ok {
		panic(typeMismatch{b.typeOf(ptr), tp.Ptr{}})
	}

	s := p.Elem.(tp.Struct)

	return b.insert(FieldAddr{Index: i}, b.m.Ctx.Intern(tp.Ptr{Elem: s.Fields[i], Space: p.Space}), ptr)
}

// ElemAddr computes the address of element idx of a view or pointer.
func (b *Builder) ElemAddr(base, idx ID) ID {
	var elem tp.Type
	var space tp.Space

	switch t := b.typeOf(base).(type) {
	case tp.View:
		elem, space = t.Elem, t.Space
	case tp.Ptr:
		elem, space = t.Elem, t.Space
	default:
		panic(typeMismatch{t, tp.View{}})
	}

	return b.insert(ElemAddr{}, b.m.Ctx.Intern(tp.Ptr{Elem: elem, Space: space}), base, idx)
}

// ViewLen projects the length of a view as i32.
func (b *Builder) ViewLen(view ID) ID {
	if _, ok := b.typeOf(view).(tp.View); !ok {
		panic(typeMismatch{b.typeOf(view), tp.View{}})
	}

	return b.insert(ViewLen{}, tp.I32, view)
}

// AtomicRMW performs an atomic read-modify-write at addr.
func (b *Builder) AtomicRMW(kind AtomicKind, addr, val ID) ID {
	p, ok := b.typeOf(addr).(tp.Ptr)
	if !ok {
		panic(typeMismatch{b.typeOf(addr), tp.Ptr{}})
	}

	return b.insert(AtomicRMW{Kind: kind}, p.Elem, addr, val)
}

// AtomicCAS compares and swaps at addr, returning the old value.
func (b *Builder) AtomicCAS(addr, cmp, val ID) ID {
	p, ok := b.typeOf(addr).(tp.Ptr)
	if !ok {
		panic(typeMismatch{b.typeOf(addr), tp.Ptr{}})
	}

	return b.insert(AtomicCAS{}, p.Elem, addr, cmp, val)
}

// Call emits a call to a registered method.
func (b *Builder) Call(callee MethodHandle, ret tp.Type, args ...ID) ID {
	return b.insert(Call{Callee: callee}, ret, args...)
}

// Intrinsic emits a device query (grid/group geometry, lane id).
func (b *Builder) Intrinsic(kind IntrinsicKind, dim int) ID {
	return b.insert(Intrinsic{Kind: kind, Width: dim}, tp.I32)
}

// Shuffle emits a warp shuffle. Width wider than the warp is clamped
// at lowering.
func (b *Builder) Shuffle(mode ShuffleMode, width int, val, src ID) ID {
	return b.insert(Intrinsic{Kind: Shuffle, Mode: mode, Width: width}, b.typeOf(val), val, src)
}

// Phi creates a φ-node at the head of the current block.
func (b *Builder) Phi(t tp.Type, preds []BlockID, vals []ID) ID {
	if len(preds) != len(vals) {
		panic("phi arity")
	}

	t = b.m.Ctx.Intern(t)

	v := b.alloc(Phi{Preds: preds}, t, b.cur)
	b.link(v, vals)

	blk := b.m.Blocks[b.cur]

	// φs go before any non-φ value.
	at := 0
	for at < len(blk.Code) {
		u := b.m.Value(blk.Code[at])
		if _, ok := u.Op.(Phi); !ok {
			break
		}

		at++
	}

	blk.Code = append(blk.Code, Nil)
	copy(blk.Code[at+1:], blk.Code[at:])
	blk.Code[at] = v.ID
	blk.Dirty = true

	return v.ID
}

// AddIncoming appends an edge to an existing φ.
func (b *Builder) AddIncoming(phi ID, pred BlockID, val ID) {
	v := b.m.Value(phi)
	op := v.Op.(Phi)

	op.Preds = append(op.Preds, pred)
	v.Op = op

	v.Args = append(v.Args, val)
	b.addUse(val, phi)
}

// Br places an unconditional branch terminator.
func (b *Builder) Br(dst BlockID) ID {
	return b.insert(Br{Dst: dst}, tp.Void{})
}

// BrCond places a conditional branch terminator.
func (b *Builder) BrCond(cond ID, then, els BlockID) ID {
	return b.insert(BrCond{Then: then, Else: els}, tp.Void{}, cond)
}

// Switch places a switch terminator.
func (b *Builder) Switch(x ID, cases []int64, dsts []BlockID, def BlockID) ID {
	if len(cases) != len(dsts) {
		panic("switch arity")
	}

	return b.insert(Switch{Cases: cases, Dsts: dsts, Default: def}, tp.Void{}, x)
}

// Ret places a return terminator. val is Nil for void methods.
func (b *Builder) Ret(val ID) ID {
	if val == Nil {
		return b.insert(Ret{}, tp.Void{})
	}

	return b.insert(Ret{}, tp.Void{}, val)
}

// Emit inserts a value with an explicit op payload. It is the cloning
// primitive used by the inliner and mem2reg; op-specific constructors
// are preferred everywhere else. φ ops get head placement, everything
// else appends.
func (b *Builder) Emit(op Op, t tp.Type, args ...ID) ID {
	if phi, ok := op.(Phi); ok {
		return b.Phi(t, phi.Preds, args)
	}

	return b.insert(op, t, args...)
}

// ReplaceUses rewires every use of old to point at new.
func (b *Builder) ReplaceUses(old, new ID) {
	ov := b.m.Value(old)

	for _, uid := range ov.Uses {
		u := b.m.Value(uid)
		if u == nil {
			continue
		}

		for i, a := range u.Args {
			if a == old {
				u.Args[i] = new
				b.addUse(new, uid)
			}
		}

		if u.Block != NoBlock {
			b.m.Blocks[u.Block].Dirty = true
		}
	}

	ov.Uses = nil
}

// Unlink removes a value from its block. Operand use edges are
// released; the value stays indexed until the next method GC.
func (b *Builder) Unlink(id ID) {
	v := b.m.Value(id)
	if v == nil || v.Block == NoBlock {
		return
	}

	blk := b.m.Blocks[v.Block]

	for i, x := range blk.Code {
		if x != id {
			continue
		}

		copy(blk.Code[i:], blk.Code[i+1:])
		blk.Code = blk.Code[:len(blk.Code)-1]
		break
	}

	for _, a := range v.Args {
		b.dropUse(a, id)
	}

	blk.Dirty = true
	v.Block = NoBlock
	v.Args = nil
}

// RemoveTerminator drops the block's terminator so a new one can be placed.
func (b *Builder) RemoveTerminator(blk BlockID) {
	t := b.m.Terminator(blk)
	if t != nil {
		b.Unlink(t.ID)
	}
}

func (b *Builder) typeOf(id ID) tp.Type {
	return b.m.Value(id).Type
}

func (b *Builder) alloc(op Op, t tp.Type, blk BlockID) *Value {
	v := &Value{
		ID:    b.m.Ctx.allocID(),
		Type:  b.m.Ctx.Intern(t),
		Block: blk,
		Op:    op,
	}

	b.m.index[v.ID] = len(b.m.vals)
	b.m.vals = append(b.m.vals, v)

	return v
}

func (b *Builder) link(v *Value, args []ID) {
	v.Args = append(v.Args, args...)

	for _, a := range args {
		b.addUse(a, v.ID)
	}
}

func (b *Builder) addUse(def, user ID) {
	d := b.m.Value(def)
	d.Uses = append(d.Uses, user)
}

func (b *Builder) dropUse(def, user ID) {
	d := b.m.Value(def)
	if d == nil {
		return
	}

	for i, u := range d.Uses {
		if u == user {
			copy(d.Uses[i:], d.Uses[i+1:])
			d.Uses = d.Uses[:len(d.Uses)-1]
			return
		}
	}
}

// insert appends a value to the current block, checking the
// single-terminator invariant.
func (b *Builder) insert(op Op, t tp.Type, args ...ID) ID {
	if b.cur == NoBlock {
		panic("no insertion block")
	}

	blk := b.m.Blocks[b.cur]

	if b.m.Terminator(b.cur) != nil {
		panic("block already terminated")
	}

	v := b.alloc(op, t, b.cur)
	b.link(v, args)

	blk.Code = append(blk.Code, v.ID)
	blk.Dirty = true

	return v.ID
}

func (b *Builder) checkArith(kind ArithKind, t tp.Type, args []ID) {
	for _, a := range args {
		at := b.typeOf(a)
		if at.String() != t.String() {
			panic(typeMismatch{t, at})
		}
	}

	switch kind {
	case And, Or, Xor, Shl, Shr, Not:
		if _, ok := t.(tp.Int); !ok {
			panic(typeMismatch{t, tp.Int{}})
		}
	case Sqrt, Sin, Cos, Exp, Log, MulAdd:
		if _, ok := t.(tp.Float); !ok {
			panic(typeMismatch{t, tp.Float{}})
		}
	}
}

type typeMismatch struct {
	Want, Got tp.Type
}

func (e typeMismatch) Error() string {
	return "type mismatch: " + e.Want.String() + " vs " + e.Got.String()
}
