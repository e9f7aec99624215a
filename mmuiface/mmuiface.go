// Package mmuiface abstracts the page-table primitives the fault handler
// and frame table need: installing/removing translations and reading or
// clearing the accessed/dirty bits used by the clock eviction policy.
// Biscuit programs real x86-64 page tables directly (mem.Pmap_t); vmkern
// has no hardware to program, so SoftTable simulates the same primitives
// with a plain map.
package mmuiface

import (
	"sync"

	"vmkern/mem"
)

// Table is the per-address-space page-table view consumed by the rest of
// vmkern. Every method is keyed by page-aligned virtual address.
type Table interface {
	// Map installs or replaces the translation for va.
	Map(va uintptr, frame mem.Frame, writable bool)
	// Unmap removes the translation for va, if any.
	Unmap(va uintptr)
	// Present reports whether va currently has a translation installed.
	Present(va uintptr) bool
	// Frame returns the frame va maps to and whether a mapping exists.
	Frame(va uintptr) (mem.Frame, bool)
	// Writable reports whether va's mapping, if any, permits writes.
	Writable(va uintptr) bool
	// Dirty reports the hardware dirty bit without changing it.
	Dirty(va uintptr) bool
	// SetDirty forces the dirty bit to v.
	SetDirty(va uintptr, v bool)
	// Accessed reports the hardware accessed bit.
	Accessed(va uintptr) bool
	// SetAccessed forces the accessed bit to v.
	SetAccessed(va uintptr, v bool)
}

type entry struct {
	frame    mem.Frame
	writable bool
	dirty    bool
	accessed bool
}

// SoftTable is a reference Table implementation backed by a mutex-guarded
// map, standing in for real hardware page-table walks.
type SoftTable struct {
	mu   sync.Mutex
	ptes map[uintptr]*entry
}

// NewSoftTable returns an empty SoftTable.
func NewSoftTable() *SoftTable {
	return &SoftTable{ptes: make(map[uintptr]*entry)}
}

func (t *SoftTable) Map(va uintptr, frame mem.Frame, writable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ptes[mem.PageRoundDown(va)] = &entry{frame: frame, writable: writable}
}

func (t *SoftTable) Unmap(va uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ptes, mem.PageRoundDown(va))
}

func (t *SoftTable) Present(va uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ptes[mem.PageRoundDown(va)]
	return ok
}

func (t *SoftTable) Frame(va uintptr) (mem.Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[mem.PageRoundDown(va)]
	if !ok {
		return 0, false
	}
	return e.frame, true
}

func (t *SoftTable) Writable(va uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[mem.PageRoundDown(va)]
	return ok && e.writable
}

func (t *SoftTable) Dirty(va uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[mem.PageRoundDown(va)]
	return ok && e.dirty
}

func (t *SoftTable) SetDirty(va uintptr, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.ptes[mem.PageRoundDown(va)]; ok {
		e.dirty = v
	}
}

func (t *SoftTable) Accessed(va uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[mem.PageRoundDown(va)]
	return ok && e.accessed
}

func (t *SoftTable) SetAccessed(va uintptr, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.ptes[mem.PageRoundDown(va)]; ok {
		e.accessed = v
	}
}
