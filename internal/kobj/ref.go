// Package kobj provides the reference-counted ownership primitive used for
// kernel objects held in handle tables.
package kobj

import (
	"fmt"
	"sync/atomic"
)

// Kind identifies the type of a kernel object.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindProcess
	KindModule
	KindInterrupt
)

func (k Kind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindModule:
		return "module"
	case KindInterrupt:
		return "interrupt"
	default:
		return "invalid"
	}
}

// Object is anything that may be referenced from a handle.
type Object interface {
	ObjectKind() Kind
}

// Destroyer is implemented by objects that need cleanup once the last
// reference to them is released.
type Destroyer interface {
	Destroy()
}

type shared struct {
	obj   Object
	count atomic.Int64
}

// Ref owns exactly one reference to a kernel object. Each Ref must be
// released once; further references are obtained with Clone.
type Ref struct {
	s        *shared
	released atomic.Bool
}

// New wraps obj in its first reference.
func New(obj Object) *Ref {
	if obj == nil {
		panic("kobj: nil object")
	}
	s := &shared{obj: obj}
	s.count.Store(1)
	return &Ref{s: s}
}

// Clone returns a new reference to the same object.
func (r *Ref) Clone() *Ref {
	if r.released.Load() {
		panic(fmt.Sprintf("kobj: clone of released %s reference", r.s.obj.ObjectKind()))
	}
	r.s.count.Add(1)
	return &Ref{s: r.s}
}

// Release drops this reference, destroying the object if it was the last
// one. Releasing a Ref twice panics.
func (r *Ref) Release() {
	if !r.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("kobj: double release of %s reference", r.s.obj.ObjectKind()))
	}
	if r.s.count.Add(-1) == 0 {
		if d, ok := r.s.obj.(Destroyer); ok {
			d.Destroy()
		}
	}
}

func (r *Ref) Object() Object { return r.s.obj }

func (r *Ref) Kind() Kind { return r.s.obj.ObjectKind() }

// Count reports the number of live references to the underlying object.
func (r *Ref) Count() int64 { return r.s.count.Load() }

// Same reports whether a and b refer to the same object.
func Same(a, b *Ref) bool {
	return a != nil && b != nil && a.s == b.s
}

// As returns the referenced object as T.
func As[T Object](r *Ref) (T, bool) {
	obj, ok := r.s.obj.(T)
	return obj, ok
}
