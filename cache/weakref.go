// Package cache memoizes compilation results per accelerator: a two-tier
// weak-reference cache (compiled → loaded) with incremental GC.
package cache

import "sync"

// Ref is a weak reference: a (holder id, epoch) pair resolved through the
// Table that issued it. Liveness is checked against the slot's current
// epoch, so a Ref issued before the last strong holder was released
// observes the slot as dead even if the id is later reused.
type Ref struct {
	table *Table
	id    uint64
	epoch uint64
}

// Get returns the referent if it is still strongly held.
func (r Ref) Get() (any, bool) {
	if r.table == nil {
		return nil, false
	}
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	s, ok := r.table.slots[r.id]
	if !ok || s.epoch != r.epoch || s.refs == 0 {
		return nil, false
	}
	return s.value, true
}

// Alive reports whether the referent is still strongly held.
func (r Ref) Alive() bool {
	_, ok := r.Get()
	return ok
}

// Holder is the strong side of a weak reference. Whoever retains a
// Holder keeps the referent alive; once every Holder for a slot is
// released, the slot's epoch advances and every outstanding Ref goes
// dead.
type Holder struct {
	table *Table
	id    uint64

	mu       sync.Mutex
	released bool
}

// Retain adds another strong count and returns a new Holder for it.
func (h *Holder) Retain() *Holder {
	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	if s, ok := h.table.slots[h.id]; ok && s.refs > 0 {
		s.refs++
	}
	return &Holder{table: h.table, id: h.id}
}

// Release drops this Holder's strong count. Releasing the last count
// kills the slot: its value is cleared and its epoch advances. Release
// is idempotent per Holder.
func (h *Holder) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	s, ok := h.table.slots[h.id]
	if !ok || s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 {
		s.value = nil
		s.epoch++
	}
}

type slot struct {
	value any
	epoch uint64
	refs  int
}

// Table is the shared holder table backing every Ref/Holder pair a cache
// issues. One Table belongs to one Cache.
type Table struct {
	mu    sync.Mutex
	slots map[uint64]*slot
	next  uint64
}

// NewTable creates an empty holder table.
func NewTable() *Table {
	return &Table{slots: make(map[uint64]*slot)}
}

// Hold registers v and returns the strong Holder plus a weak Ref to it.
func (t *Table) Hold(v any) (*Holder, Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	s := &slot{value: v, refs: 1}
	t.slots[id] = s
	return &Holder{table: t, id: id}, Ref{table: t, id: id, epoch: s.epoch}
}
