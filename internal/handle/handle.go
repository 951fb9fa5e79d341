// Package handle implements per-process capability tables.
package handle

import (
	"fmt"

	"github.com/tinyrange/kcore/internal/kobj"
)

// Handle is a capability: one owned reference to a kernel object together
// with the rights it grants. A Handle is immutable once created.
type Handle struct {
	ref    *kobj.Ref
	rights Rights
}

// New wraps ref, taking ownership of it.
func New(ref *kobj.Ref, rights Rights) *Handle {
	return &Handle{ref: ref, rights: rights}
}

func (h *Handle) Rights() Rights { return h.rights }

func (h *Handle) Object() kobj.Object { return h.ref.Object() }

func (h *Handle) Kind() kobj.Kind { return h.ref.Kind() }

// Ref exposes the owned reference. Callers that keep the object beyond the
// handle's lifetime must Clone it.
func (h *Handle) Ref() *kobj.Ref { return h.ref }

// Duplicate returns a handle to the same object carrying rights, which must
// be a subset of h's rights. The duplicate owns its own reference.
func (h *Handle) Duplicate(rights Rights) (*Handle, bool) {
	if !h.rights.Contains(rights) {
		return nil, false
	}
	return &Handle{ref: h.ref.Clone(), rights: rights}, true
}

// Release drops the handle's object reference.
func (h *Handle) Release() {
	h.ref.Release()
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s[%s]", h.ref.Kind(), h.rights)
}
