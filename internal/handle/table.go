package handle

import (
	"log/slog"
	"sync"

	"github.com/tinyrange/kcore/internal/kerr"
	"github.com/tinyrange/kcore/internal/kobj"
)

// Table maps small integer indices to handles. Freed indices are reused most
// recently freed first. Every public method holds the table lock for its
// whole duration, so a Table may be shared between kernel threads.
type Table struct {
	mu sync.Mutex

	slots  []*Handle
	free   []uint32
	closed bool
}

func NewTable() *Table {
	return &Table{}
}

// Get returns the handle at index. The returned handle stays owned by the
// table; it remains valid to read until the caller frees that index.
func (t *Table) Get(index uint32) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(index)
}

// Allocate wraps ref and rights in a new handle and returns its index. The
// table takes ownership of ref; a closed table releases it and fails with
// BadState.
func (t *Table) Allocate(ref *kobj.Ref, rights Rights) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		ref.Release()
		return 0, kerr.BadState
	}
	return t.insertLocked(New(ref, rights)), nil
}

// Free removes the handle at index and hands it to the caller, who becomes
// responsible for releasing it.
func (t *Table) Free(index uint32) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.getLocked(index)
	if err != nil {
		return nil, err
	}
	t.slots[index] = nil
	t.free = append(t.free, index)
	return h, nil
}

// Duplicate copies the handle at index into a fresh slot with rights. The
// source must carry RightTransfer and rights must not widen it.
func (t *Table) Duplicate(index uint32, rights Rights) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.getLocked(index)
	if err != nil {
		return 0, err
	}
	dup, err := duplicate(h, rights)
	if err != nil {
		return 0, err
	}
	return t.insertLocked(dup), nil
}

// Closed reports whether Close has run.
func (t *Table) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Transfer inserts a duplicate of h, typically a handle owned by another
// table, under the same rules as Duplicate. h itself is not consumed.
func (t *Table) Transfer(h *Handle, rights Rights) (uint32, error) {
	dup, err := duplicate(h, rights)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		dup.Release()
		return 0, kerr.BadState
	}
	return t.insertLocked(dup), nil
}

// Move removes the handle at index and inserts it into dst with rights. On
// failure the handle stays in the source table and dst is unchanged. The two
// table locks are never held together.
func (t *Table) Move(index uint32, dst *Table, rights Rights) (uint32, error) {
	t.mu.Lock()
	h, err := t.getLocked(index)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	dup, err := duplicate(h, rights)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	t.slots[index] = nil
	t.free = append(t.free, index)
	t.mu.Unlock()

	dst.mu.Lock()
	if dst.closed {
		dst.mu.Unlock()
		dup.Release()
		t.restore(index, h)
		return 0, kerr.BadState
	}
	moved := dst.insertLocked(dup)
	dst.mu.Unlock()

	h.Release()
	return moved, nil
}

// restore puts h back at index after a failed Move, or at any free index if
// index was reused meanwhile. A table closed meanwhile releases h.
func (t *Table) restore(index uint32, h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		h.Release()
		return
	}
	for i := len(t.free) - 1; i >= 0; i-- {
		if t.free[i] == index {
			t.free = append(t.free[:i], t.free[i+1:]...)
			t.slots[index] = h
			return
		}
	}
	t.insertLocked(h)
}

// Len reports the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - len(t.free)
}

// Cap reports the number of slots, occupied or not.
func (t *Table) Cap() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Each calls fn for every live handle in index order. fn must not call back
// into the table.
func (t *Table) Each(fn func(index uint32, h *Handle)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range t.slots {
		if h != nil {
			fn(uint32(i), h)
		}
	}
}

// Close releases every remaining handle and empties the table. Later
// inserts fail with BadState.
func (t *Table) Close() {
	t.mu.Lock()
	slots := t.slots
	t.slots = nil
	t.free = nil
	t.closed = true
	t.mu.Unlock()

	released := 0
	for _, h := range slots {
		if h != nil {
			h.Release()
			released++
		}
	}
	slog.Debug("handle: table closed", "released", released)
}

func (t *Table) getLocked(index uint32) (*Handle, error) {
	if uint64(index) >= uint64(len(t.slots)) {
		return nil, kerr.NotFound
	}
	h := t.slots[index]
	if h == nil {
		return nil, kerr.NotFound
	}
	return h, nil
}

func (t *Table) insertLocked(h *Handle) uint32 {
	if n := len(t.free); n > 0 {
		index := t.free[n-1]
		t.free = t.free[:n-1]
		if t.slots[index] != nil {
			panic("handle: free list points at an occupied slot")
		}
		t.slots[index] = h
		return index
	}
	t.slots = append(t.slots, h)
	return uint32(len(t.slots) - 1)
}

func duplicate(h *Handle, rights Rights) (*Handle, error) {
	if !h.Rights().Contains(RightTransfer) {
		return nil, kerr.AccessDenied
	}
	dup, ok := h.Duplicate(rights)
	if !ok {
		return nil, kerr.AccessDenied
	}
	return dup, nil
}
