package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

// diamond builds entry -> (then | else) -> join -> exit-ret
func diamond(t *testing.T) (*ir.Method, [4]ir.BlockID) {
	t.Helper()

	ctx := ir.NewContext(tp.ABI64)

	m, err := ctx.CreateMethod(ir.Decl{Handle: "d", Name: "d", Ret: tp.I32})
	require.NoError(t, err)

	b, err := ctx.CreateBuilder(m)
	require.NoError(t, err)

	x := b.AddParam("x", tp.I32)

	b0 := b.CreateBlock()
	b1 := b.CreateBlock()
	b2 := b.CreateBlock()
	b3 := b.CreateBlock()

	b.SetBlock(b0)
	c := b.Cmp(ir.Gt, 0, x, b.ConstInt(tp.I32, 0))
	b.BrCond(c, b1, b2)

	b.SetBlock(b1)
	a := b.Arith(ir.Add, 0, x, x)
	b.Br(b3)

	b.SetBlock(b2)
	s := b.Arith(ir.Mul, 0, x, x)
	b.Br(b3)

	b.SetBlock(b3)
	phi := b.Phi(tp.I32, []ir.BlockID{b1, b2}, []ir.ID{a, s})
	b.Ret(phi)

	b.Release()

	return m, [4]ir.BlockID{b0, b1, b2, b3}
}

func TestScopeRPO(t *testing.T) {
	m, bb := diamond(t)

	s := NewScope(m)

	require.Len(t, s.Blocks, 4)
	assert.Equal(t, bb[0], s.Blocks[0], "entry first")
	assert.Equal(t, bb[3], s.Blocks[3], "join last")

	assert.Equal(t, []ir.BlockID{bb[1], bb[2]}, s.Preds(bb[3]))

	// determinism
	s2 := NewScope(m)
	assert.Equal(t, s.Blocks, s2.Blocks)
}

func TestScopeSkipsUnreachable(t *testing.T) {
	ctx := ir.NewContext(tp.ABI64)

	m, err := ctx.CreateMethod(ir.Decl{Handle: "u", Name: "u", Ret: tp.Void{}})
	require.NoError(t, err)

	b, err := ctx.CreateBuilder(m)
	require.NoError(t, err)

	b0 := b.CreateBlock()
	orphan := b.CreateBlock()

	b.SetBlock(b0)
	b.Ret(ir.Nil)

	b.SetBlock(orphan)
	b.Ret(ir.Nil)

	b.Release()

	s := NewScope(m)

	assert.True(t, s.Reachable(b0))
	assert.False(t, s.Reachable(orphan))
	assert.Equal(t, -1, s.Pos(orphan))
}

func TestDominatorsDiamond(t *testing.T) {
	m, bb := diamond(t)

	s := NewScope(m)
	d := Dominators(s)

	assert.Equal(t, bb[0], d.IDom(bb[1]))
	assert.Equal(t, bb[0], d.IDom(bb[2]))
	assert.Equal(t, bb[0], d.IDom(bb[3]), "join is dominated by the fork, not an arm")

	assert.True(t, d.Dominates(bb[0], bb[3]))
	assert.False(t, d.Dominates(bb[1], bb[3]))

	assert.Equal(t, bb[0], d.NCA(bb[1], bb[2]))
}

func TestDominatorsLoop(t *testing.T) {
	ctx := ir.NewContext(tp.ABI64)

	m, err := ctx.CreateMethod(ir.Decl{Handle: "l", Name: "l", Ret: tp.Void{}})
	require.NoError(t, err)

	b, err := ctx.CreateBuilder(m)
	require.NoError(t, err)

	n := b.AddParam("n", tp.I32)

	entry := b.CreateBlock()
	head := b.CreateBlock()
	body := b.CreateBlock()
	exit := b.CreateBlock()

	b.SetBlock(entry)
	b.Br(head)

	b.SetBlock(head)
	i := b.Phi(tp.I32, nil, nil)
	c := b.Cmp(ir.Lt, 0, i, n)
	b.BrCond(c, body, exit)

	b.SetBlock(body)
	next := b.Arith(ir.Add, 0, i, b.ConstInt(tp.I32, 1))
	b.Br(head)

	b.AddIncoming(i, entry, b.ConstInt(tp.I32, 0))
	b.AddIncoming(i, body, next)

	b.SetBlock(exit)
	b.Ret(ir.Nil)

	b.Release()

	require.NoError(t, ir.Verify(m))

	s := NewScope(m)
	d := Dominators(s)

	assert.Equal(t, entry, d.IDom(head))
	assert.Equal(t, head, d.IDom(body))
	assert.Equal(t, head, d.IDom(exit))
}

func TestLiveness(t *testing.T) {
	m, bb := diamond(t)

	s := NewScope(m)
	lv := Live(s)

	// arm results are live out of the arms via the φ edges
	a := m.Block(bb[1]).Code[0]
	assert.True(t, lv.Out[bb[1]].IsSet(a))

	// nothing from an arm is live into the other
	assert.False(t, lv.In[bb[2]].IsSet(a))
}

func TestLastUses(t *testing.T) {
	m, bb := diamond(t)

	lu := LastUses(m, bb[0])

	// the compare result is last used by the terminator
	c := m.Block(bb[0]).Code[0]
	assert.Equal(t, 1, lu[c])
}
