// Package spt implements the per-process supplemental page table: the
// find/insert/remove/copy/kill operations Pintos' vm.c builds directly on
// top of its hash table. Here the underlying map is pagehash.Map (an
// out-of-scope assumed-correct collaborator), and this package owns all of
// the actual SPT semantics spec.md describes, including the fork-time
// deep-copy rules.
package spt

import (
	"vmkern/frame"
	"vmkern/internal/pagehash"
	"vmkern/mem"
	"vmkern/page"
	"vmkern/swap"
)

// Table is one process's supplemental page table.
type Table struct {
	entries *pagehash.Map[*page.Page]
	frames  *frame.Table
	swap    *swap.Allocator
}

// New constructs an empty Table bound to the given frame table and swap
// allocator, which Insert uses to stamp newly inserted pages so they can
// later be evicted and reclaimed.
func New(frames *frame.Table, sw *swap.Allocator) *Table {
	return &Table{
		entries: pagehash.New[*page.Page](),
		frames:  frames,
		swap:    sw,
	}
}

// Find returns the page covering va, if any.
func (t *Table) Find(va uintptr) (*page.Page, bool) {
	return t.entries.Get(mem.PageRoundDown(va))
}

// Insert adds p to the table. It fails if a page already covers p's
// virtual address.
func (t *Table) Insert(p *page.Page) bool {
	if _, exists := t.entries.Get(p.VA); exists {
		return false
	}
	p.SW = t.swap
	t.entries.Set(p.VA, p)
	return true
}

// Remove drops the page covering va from the table, destroying its
// backing resources (and writing back a dirty mmap page) along the way.
// It reports whether a page was present.
func (t *Table) Remove(va uintptr) bool {
	va = mem.PageRoundDown(va)
	p, ok := t.entries.Get(va)
	if !ok {
		return false
	}
	t.destroy(p)
	t.entries.Del(va)
	return true
}

func (t *Table) destroy(p *page.Page) {
	var resident []byte
	var dirty bool
	if p.Frame != nil {
		resident = p.Frame.Bytes
		dirty = p.MMU.Dirty(p.VA)
	}
	p.Destroy(t.swap, resident, dirty)
	if p.Frame != nil {
		p.MMU.Unmap(p.VA)
		t.frames.Release(p.Frame)
		p.Frame = nil
	}
}

// Kill tears down every page in the table, in no particular order. After
// Kill the table must not be used again.
func (t *Table) Kill() {
	var all []uintptr
	t.entries.Iter(func(va uintptr, _ *page.Page) { all = append(all, va) })
	for _, va := range all {
		t.Remove(va)
	}
}

// Copy deep-copies every entry of src into a fresh child Table, per the
// fork rules: Uninit pages get a copy of their deferred payload, and for a
// File target the copy retains the parent's file backing rather than
// reopening it (substituting execSubstitute for an executable origin's
// handle, so the parent's own loader handle is never referenced); every already-materialized page collapses to a fresh Anon
// snapshot with a byte-for-byte copy of the parent's current contents,
// regardless of the parent's original backing kind.
func Copy(src *Table, dstFrames *frame.Table, dstSwap *swap.Allocator, execSubstitute page.FileBacking) (*Table, error) {
	dst := New(dstFrames, dstSwap)
	var copyErr error
	src.entries.Iter(func(va uintptr, p *page.Page) {
		if copyErr != nil {
			return
		}
		if p.Kind == page.Uninit {
			np, err := p.CloneUninit(execSubstitute)
			if err != nil {
				copyErr = err
				return
			}
			dst.Insert(np)
			return
		}
		contents := make([]byte, mem.PageSize)
		if p.Resident() {
			copy(contents, p.Frame.Bytes)
		} else if err := p.Peek(src.swap, contents); err != nil {
			copyErr = err
			return
		}
		np, err := page.CloneSnapshot(p.VA, p.Writable, dstSwap, contents)
		if err != nil {
			copyErr = err
			return
		}
		dst.Insert(np)
	})
	return dst, copyErr
}
