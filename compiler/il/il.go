package il

import (
	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Opcode is one stack-machine instruction of the host bytecode.
	Opcode int

	// Instr is a decoded instruction. Which payload fields are
	// meaningful depends on the opcode.
	Instr struct {
		Op Opcode

		Int    int64
		Type   tp.Type
		Callee ir.MethodHandle

		// Target is the instruction index a branch jumps to.
		Target int
	}

	Param struct {
		Name string
		Type tp.Type
	}

	// Method is the typed bytecode of one host method, the unit the
	// frontend lifts into IR.
	Method struct {
		Handle ir.MethodHandle
		Name   string

		Params []Param
		Ret    tp.Type
		Locals []tp.Type

		Flags ir.MethodFlags

		Code []Instr
	}

	// Resolver maps a method handle to its bytecode. It stands in for
	// host-language reflection.
	Resolver interface {
		Resolve(h ir.MethodHandle) (*Method, error)
	}

	// Registry is the in-memory Resolver used by the assembler and tests.
	Registry struct {
		methods map[ir.MethodHandle]*Method
	}
)

const (
	Nop Opcode = iota

	LdArg
	LdLoc
	StLoc

	LdcI32
	LdcI64
	LdcF32
	LdcF64
	LdNull

	// binary arithmetic; Int payload carries ir.ArithFlags
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpMin
	OpMax

	OpNeg
	OpNot

	Conv

	// comparison; Int payload carries ir.Rel
	CmpOp

	Br
	BrTrue
	BrFalse
	RetOp

	LdElem
	StElem
	LdElemA
	LdLen

	LdFld
	StFld
	LdFldA

	CallOp
)

var ErrUnknownMethod = errors.New("unknown method")

func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[ir.MethodHandle]*Method),
	}
}

func (r *Registry) Add(m *Method) {
	r.methods[m.Handle] = m
}

func (r *Registry) Resolve(h ir.MethodHandle) (*Method, error) {
	m, ok := r.methods[h]
	if !ok {
		return nil, errors.Wrap(ErrUnknownMethod, "%v", h)
	}

	return m, nil
}

// ArithKind maps a binary/unary opcode to its IR kind.
func (op Opcode) ArithKind() (ir.ArithKind, bool) {
	switch op {
	case OpAdd:
		return ir.Add, true
	case OpSub:
		return ir.Sub, true
	case OpMul:
		return ir.Mul, true
	case OpDiv:
		return ir.Div, true
	case OpRem:
		return ir.Rem, true
	case OpAnd:
		return ir.And, true
	case OpOr:
		return ir.Or, true
	case OpXor:
		return ir.Xor, true
	case OpShl:
		return ir.Shl, true
	case OpShr:
		return ir.Shr, true
	case OpMin:
		return ir.Min, true
	case OpMax:
		return ir.Max, true
	case OpNeg:
		return ir.Neg, true
	case OpNot:
		return ir.Not, true
	}

	return 0, false
}

// IsBranch reports whether the opcode transfers control.
func (op Opcode) IsBranch() bool {
	switch op {
	case Br, BrTrue, BrFalse, RetOp:
		return true
	}

	return false
}
