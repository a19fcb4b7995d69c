package il

import (
	"github.com/gpujit/glow/compiler/ir"
)

type (
	// IntrinsicClass tells the frontend how to lower a well-known callee.
	IntrinsicClass int

	// IntrinsicDesc describes a device intrinsic recognized by callee name.
	IntrinsicDesc struct {
		Class IntrinsicClass

		Query ir.IntrinsicKind
		Dim   int

		Math   ir.ArithKind
		Atomic ir.AtomicKind

		Shuffle ir.ShuffleMode

		Barrier ir.BarrierKind
	}
)

const (
	ClassQuery IntrinsicClass = iota
	ClassMath
	ClassAtomic
	ClassCAS
	ClassShuffle
	ClassBarrier
)

// intrinsics is keyed by method handle. A kernel calls these as regular
// static methods; the frontend lowers them to dedicated IR nodes.
var intrinsics = map[ir.MethodHandle]IntrinsicDesc{
	"device.GridIdxX":  {Class: ClassQuery, Query: ir.GridIdx, Dim: 0},
	"device.GridIdxY":  {Class: ClassQuery, Query: ir.GridIdx, Dim: 1},
	"device.GridIdxZ":  {Class: ClassQuery, Query: ir.GridIdx, Dim: 2},
	"device.GridDimX":  {Class: ClassQuery, Query: ir.GridDim, Dim: 0},
	"device.GridDimY":  {Class: ClassQuery, Query: ir.GridDim, Dim: 1},
	"device.GridDimZ":  {Class: ClassQuery, Query: ir.GridDim, Dim: 2},
	"device.GroupIdxX": {Class: ClassQuery, Query: ir.GroupIdx, Dim: 0},
	"device.GroupIdxY": {Class: ClassQuery, Query: ir.GroupIdx, Dim: 1},
	"device.GroupIdxZ": {Class: ClassQuery, Query: ir.GroupIdx, Dim: 2},
	"device.GroupDimX": {Class: ClassQuery, Query: ir.GroupDim, Dim: 0},
	"device.GroupDimY": {Class: ClassQuery, Query: ir.GroupDim, Dim: 1},
	"device.GroupDimZ": {Class: ClassQuery, Query: ir.GroupDim, Dim: 2},
	"device.LaneIdx":   {Class: ClassQuery, Query: ir.LaneIdx},
	"device.WarpSize":  {Class: ClassQuery, Query: ir.WarpSize},

	"device.Barrier":     {Class: ClassBarrier, Barrier: ir.BarrierGroup},
	"device.WarpBarrier": {Class: ClassBarrier, Barrier: ir.BarrierWarp},
	"device.MemBarrier":  {Class: ClassBarrier, Barrier: ir.BarrierMemory},

	"math.Sqrt": {Class: ClassMath, Math: ir.Sqrt},
	"math.Sin":  {Class: ClassMath, Math: ir.Sin},
	"math.Cos":  {Class: ClassMath, Math: ir.Cos},
	"math.Exp":  {Class: ClassMath, Math: ir.Exp},
	"math.Log":  {Class: ClassMath, Math: ir.Log},
	"math.Abs":  {Class: ClassMath, Math: ir.Abs},
	"math.Min":  {Class: ClassMath, Math: ir.Min},
	"math.Max":  {Class: ClassMath, Math: ir.Max},
	"math.FMA":  {Class: ClassMath, Math: ir.MulAdd},

	"atomic.Add":  {Class: ClassAtomic, Atomic: ir.AtomicAdd},
	"atomic.And":  {Class: ClassAtomic, Atomic: ir.AtomicAnd},
	"atomic.Or":   {Class: ClassAtomic, Atomic: ir.AtomicOr},
	"atomic.Xor":  {Class: ClassAtomic, Atomic: ir.AtomicXor},
	"atomic.Min":  {Class: ClassAtomic, Atomic: ir.AtomicMin},
	"atomic.Max":  {Class: ClassAtomic, Atomic: ir.AtomicMax},
	"atomic.Exch": {Class: ClassAtomic, Atomic: ir.AtomicExch},
	"atomic.CAS":  {Class: ClassCAS},

	"warp.ShuffleIdx":  {Class: ClassShuffle, Shuffle: ir.ShuffleIdx},
	"warp.ShuffleUp":   {Class: ClassShuffle, Shuffle: ir.ShuffleUp},
	"warp.ShuffleDown": {Class: ClassShuffle, Shuffle: ir.ShuffleDown},
	"warp.ShuffleXor":  {Class: ClassShuffle, Shuffle: ir.ShuffleXor},
}

// Intrinsic looks up the intrinsic descriptor for a callee handle.
func Intrinsic(h ir.MethodHandle) (IntrinsicDesc, bool) {
	d, ok := intrinsics[h]
	return d, ok
}
