package ir

import (
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/gpujit/glow/compiler/tp"
)

type (
	// Context owns all IR: it interns types, registers methods by
	// handle and assigns value ids. A context and the IR it owns are
	// single-threaded; distinct contexts may compile in parallel.
	Context struct {
		ABI tp.ABI

		nextID ID

		types   map[string]tp.Type
		methods map[MethodHandle]*Method
	}

	builderSlot struct {
		p atomic.Pointer[Builder]
	}
)

var (
	ErrDuplicateMethod = errors.New("duplicate method")
	ErrBuilderInUse    = errors.New("builder in use")
)

func NewContext(abi tp.ABI) *Context {
	return &Context{
		ABI:     abi,
		types:   make(map[string]tp.Type),
		methods: make(map[MethodHandle]*Method),
	}
}

// Intern returns the canonical instance of a structurally equal type.
func (c *Context) Intern(t tp.Type) tp.Type {
	key := t.String()

	if x, ok := c.types[key]; ok {
		return x
	}

	c.types[key] = t

	return t
}

// CreateMethod registers a method by handle.
func (c *Context) CreateMethod(decl Decl) (*Method, error) {
	if _, ok := c.methods[decl.Handle]; ok {
		return nil, errors.Wrap(ErrDuplicateMethod, "%v", decl.Handle)
	}

	decl.Ret = c.Intern(decl.Ret)

	m := &Method{
		Ctx:   c,
		Decl:  decl,
		Entry: NoBlock,
		index: make(map[ID]int),
	}

	c.methods[decl.Handle] = m

	return m, nil
}

// Method returns the registered method for handle, or nil.
func (c *Context) Method(h MethodHandle) *Method {
	return c.methods[h]
}

// Methods returns all registered methods, ordered by handle.
func (c *Context) Methods() []*Method {
	keys := maps.Keys(c.methods)
	slices.Sort(keys)

	r := make([]*Method, len(keys))
	for i, k := range keys {
		r[i] = c.methods[k]
	}

	return r
}

func (c *Context) allocID() ID {
	id := c.nextID
	c.nextID++

	return id
}

// CreateBuilder acquires the method's exclusive builder.
// Paths must not race for the same method; a live builder is reported
// with both acquisition sites.
func (c *Context) CreateBuilder(m *Method) (*Builder, error) {
	b := &Builder{
		m:    m,
		cur:  NoBlock,
		from: loc.Caller(1),
	}

	if !m.bld.p.CompareAndSwap(nil, b) {
		from := loc.PC(0)
		if prev := m.bld.p.Load(); prev != nil {
			from = prev.from
		}

		return nil, errors.Wrap(ErrBuilderInUse, "%v: held from %v, requested from %v", m.Decl.Handle, from, b.from)
	}

	return b, nil
}

// GC compacts the method's value storage: values not linked in a block
// and not referenced by linked values (literals are block-less) are
// dropped from the index, and block Dirty bits are reset.
func (m *Method) GC() {
	live := make(map[ID]struct{}, len(m.index))

	var mark func(id ID)
	mark = func(id ID) {
		if _, ok := live[id]; ok {
			return
		}

		live[id] = struct{}{}

		v := m.Value(id)
		if v == nil {
			return
		}

		for _, a := range v.Args {
			mark(a)
		}
	}

	for _, id := range m.Params {
		mark(id)
	}

	for _, blk := range m.Blocks {
		for _, id := range blk.Code {
			mark(id)
		}

		blk.Dirty = false
	}

	vals := make([]*Value, 0, len(live))
	index := make(map[ID]int, len(live))

	for _, v := range m.vals {
		if _, ok := live[v.ID]; !ok {
			continue
		}

		index[v.ID] = len(vals)
		vals = append(vals, v)
	}

	m.vals = vals
	m.index = index
}
