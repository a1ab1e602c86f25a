package vfs

import "weak"

// Handle resolves an exported root to its live object. The observation
// engine never stores the object itself for a root export, only the handle,
// so a weak handle lets the exporting program drop its last reference and
// have the subtree collected on the next sync.
type Handle interface {
	// Alive reports whether the referent can still be resolved.
	Alive() bool

	// Get resolves the referent. The second return is false once the
	// referent has been reclaimed.
	Get() (any, bool)
}

type strongHandle struct {
	value any
}

// Strong wraps a value in a handle that keeps it reachable for as long as
// the export lives.
func Strong(value any) Handle {
	return strongHandle{value: value}
}

func (h strongHandle) Alive() bool      { return true }
func (h strongHandle) Get() (any, bool) { return h.value, true }

type weakHandle[T any] struct {
	ptr weak.Pointer[T]
}

// Weak wraps a pointer in a handle that does not keep the referent alive.
// Once the collector reclaims the object, Get reports false and the
// exported subtree is torn down on the next sync of its parent.
func Weak[T any](target *T) Handle {
	return weakHandle[T]{ptr: weak.Make(target)}
}

func (h weakHandle[T]) Alive() bool {
	return h.ptr.Value() != nil
}

func (h weakHandle[T]) Get() (any, bool) {
	v := h.ptr.Value()
	if v == nil {
		return nil, false
	}
	return v, true
}
