package runtime

import (
	"sync"
)

type (
	// holder is the shared reference-counted cell behind strong and
	// weak references. The epoch counter expires outstanding weaks
	// when the last strong reference goes away.
	holder[T any] struct {
		mu sync.Mutex

		val   T
		refs  int
		epoch uint64
		live  bool
	}

	// Ref is a strong reference. Holding it keeps the value alive;
	// Release drops it. The zero Ref is invalid.
	Ref[T any] struct {
		h *holder[T]
	}

	// Weak observes a holder without keeping it alive. Strong fails once
	// every strong reference was released.
	Weak[T any] struct {
		h     *holder[T]
		epoch uint64
	}
)

func NewRef[T any](v T) *Ref[T] {
	return &Ref[T]{
		h: &holder[T]{val: v, refs: 1, live: true},
	}
}

func (r *Ref[T]) Get() T {
	return r.h.val
}

// Release drops this strong reference. When the last one goes, the
// holder expires and weaks stop resolving.
func (r *Ref[T]) Release() {
	h := r.h

	h.mu.Lock()
	defer h.mu.Unlock()

	h.refs--

	if h.refs == 0 {
		h.live = false
		h.epoch++

		var zero T
		h.val = zero
	}
}

func (r *Ref[T]) Weak() Weak[T] {
	r.h.mu.Lock()
	defer r.h.mu.Unlock()

	return Weak[T]{h: r.h, epoch: r.h.epoch}
}

// Strong revives a strong reference if the holder is still live.
func (w Weak[T]) Strong() (*Ref[T], bool) {
	if w.h == nil {
		return nil, false
	}

	w.h.mu.Lock()
	defer w.h.mu.Unlock()

	if !w.h.live || w.h.epoch != w.epoch {
		return nil, false
	}

	w.h.refs++

	return &Ref[T]{h: w.h}, true
}

// Alive reports liveness without taking a reference.
func (w Weak[T]) Alive() bool {
	if w.h == nil {
		return false
	}

	w.h.mu.Lock()
	defer w.h.mu.Unlock()

	return w.h.live && w.h.epoch == w.epoch
}
