package ir

import (
	"go.uber.org/multierr"
	"tlog.app/go/errors"
)

// Verify checks the structural invariants of the method's value graph
// and reports every violation it finds, not just the first.
//
//  1. operand and use edges are symmetric
//  2. values are defined before use; φs sit at block heads
//  3. each block ends in exactly one terminator
//  4. operand types match the operation
//  5. ids are unique and increasing in storage order
func Verify(m *Method) (err error) {
	last := ID(-1)

	for _, v := range m.vals {
		if _, ok := m.index[v.ID]; !ok {
			continue
		}

		if v.ID <= last {
			err = multierr.Append(err, errors.New("ids out of order: %v after %v", v.ID, last))
		}
		last = v.ID

		for _, a := range v.Args {
			d := m.Value(a)
			if d == nil {
				err = multierr.Append(err, errors.New("%v: dangling operand %v", v.ID, a))
				continue
			}

			if !contains(d.Uses, v.ID) {
				err = multierr.Append(err, errors.New("%v: operand %v misses use edge", v.ID, a))
			}
		}

		for _, u := range v.Uses {
			uv := m.Value(u)
			if uv == nil {
				err = multierr.Append(err, errors.New("%v: dangling use %v", v.ID, u))
				continue
			}

			if !contains(uv.Args, v.ID) {
				err = multierr.Append(err, errors.New("%v: use %v misses operand edge", v.ID, u))
			}
		}
	}

	for _, blk := range m.Blocks {
		err = multierr.Append(err, verifyBlock(m, blk))
	}

	return err
}

func verifyBlock(m *Method, blk *Block) (err error) {
	phis := true

	for i, id := range blk.Code {
		v := m.Value(id)
		if v == nil {
			err = multierr.Append(err, errors.New("BB%d: collected value %v still linked", int(blk.ID), id))
			continue
		}

		if v.Block != blk.ID {
			err = multierr.Append(err, errors.New("BB%d: value %v claims block BB%d", int(blk.ID), id, int(v.Block)))
		}

		_, isPhi := v.Op.(Phi)
		if isPhi && !phis {
			err = multierr.Append(err, errors.New("BB%d: φ %v after non-φ code", int(blk.ID), id))
		}
		if !isPhi {
			phis = false
		}

		if IsTerminator(v.Op) != (i == len(blk.Code)-1) {
			err = multierr.Append(err, errors.New("BB%d: terminator misplaced at %d", int(blk.ID), i))
		}
	}

	if len(blk.Code) > 0 && m.Terminator(blk.ID) == nil {
		err = multierr.Append(err, errors.New("BB%d: no terminator", int(blk.ID)))
	}

	return err
}

func contains(s []ID, x ID) bool {
	for _, e := range s {
		if e == x {
			return true
		}
	}

	return false
}
