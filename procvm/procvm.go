// Package procvm is the per-process address-space orchestrator exposing
// the subsystem's public operations (SptInit/SptKill/SptCopy/
// AllocWithInitializer/Claim/Mmap/Munmap/TryHandleFault), grounded on
// biscuit's Vm_t (the embedded-mutex Vmregion/Pmap/P_pmap bundle and its
// Lock_pmap/Unlock_pmap discipline) generalized from that teacher's
// COW-only semantics to the anon/file/uninit state machine this module
// implements.
package procvm

import (
	"sync"

	"vmkern/fault"
	"vmkern/fsiface"
	"vmkern/frame"
	"vmkern/mmap"
	"vmkern/mmuiface"
	"vmkern/page"
	"vmkern/spt"
	"vmkern/swap"
)

// AddressSpace binds one process' supplemental page table, page-table
// view, and live mmap regions together, and dispatches through a
// fault.Handler for claim/fault resolution.
type AddressSpace struct {
	mu      sync.Mutex
	spt     *spt.Table
	mmu     mmuiface.Table
	frames  *frame.Table
	swap    *swap.Allocator
	handler *fault.Handler
	regions map[uintptr]*mmap.Region
}

// New constructs an AddressSpace over a shared frame table and swap
// allocator (both process-independent, system-wide resources) with a
// fresh, private page-table view.
func New(frames *frame.Table, sw *swap.Allocator, mmu mmuiface.Table) *AddressSpace {
	as := &AddressSpace{
		spt:     spt.New(frames, sw),
		mmu:     mmu,
		frames:  frames,
		swap:    sw,
		regions: make(map[uintptr]*mmap.Region),
	}
	as.handler = &fault.Handler{SPT: as.spt, MMU: mmu, Frames: frames, Swap: sw}
	return as
}

// SptInit is a no-op beyond New; it exists to name the operation spec.md
// lists explicitly, for callers that construct an AddressSpace value
// separately from its SPT initialization step.
func (as *AddressSpace) SptInit() {}

// SptKill tears down every page and mapping the address space owns. The
// AddressSpace must not be used again afterward.
func (as *AddressSpace) SptKill() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.spt.Kill()
	as.regions = nil
}

// SptCopy deep-copies this address space's SPT into a fresh child,
// sharing no frames or swap slots with the parent, per the fork semantics
// recorded for spt.Copy (a not-yet-materialized file page in the child
// still shares the parent's file backing). execSubstitute stands in for the child's own
// executable handle wherever the parent had a loader (executable-origin)
// uninit file page.
func (as *AddressSpace) SptCopy(childFrames *frame.Table, childSwap *swap.Allocator, childMMU mmuiface.Table, execSubstitute fsiface.File) (*AddressSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	var backing page.FileBacking
	if execSubstitute != nil {
		backing = fileBackingFor(execSubstitute)
	}
	childSPT, err := spt.Copy(as.spt, childFrames, childSwap, backing)
	if err != nil {
		return nil, err
	}
	child := &AddressSpace{
		spt:     childSPT,
		mmu:     childMMU,
		frames:  childFrames,
		swap:    childSwap,
		regions: make(map[uintptr]*mmap.Region),
	}
	child.handler = &fault.Handler{SPT: childSPT, MMU: childMMU, Frames: childFrames, Swap: childSwap}
	return child, nil
}

// plainFileBacking adapts an fsiface.File to page.FileBacking for a
// one-off (non-refcounted) substitution, used only for the exec-handle
// substitution case, never for mmap's own shared context.
type plainFileBacking struct{ f fsiface.File }

func (p plainFileBacking) ReadAt(b []byte, off int64) (int, error)  { return p.f.ReadAt(b, off) }
func (p plainFileBacking) WriteAt(b []byte, off int64) (int, error) { return p.f.WriteAt(b, off) }
func (p plainFileBacking) Retain()                                  {}
func (p plainFileBacking) Release()                                 { p.f.Close() }

func fileBackingFor(f fsiface.File) page.FileBacking {
	return plainFileBacking{f}
}

// AllocWithInitializer registers a new, not-yet-resident page at va that
// will be materialized into Anon the first time it is claimed.
func (as *AddressSpace) AllocWithInitializer(va uintptr, writable bool, init page.Initializer) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.spt.Insert(page.NewUninitAnon(va, writable, init))
}

// Claim ensures the page at va is resident, faulting it in if necessary.
func (as *AddressSpace) Claim(va uintptr) bool {
	as.mu.Lock()
	p, ok := as.spt.Find(va)
	as.mu.Unlock()
	if !ok {
		return false
	}
	return as.handler.Claim(p)
}

// Mmap maps length bytes of file starting at offset at addr, returning
// the mapping's base address. A zero length or misaligned argument is
// rejected outright.
func (as *AddressSpace) Mmap(addr uintptr, length int, writable bool, file fsiface.File, offset int64) (uintptr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	region, err := mmap.DoMmap(as.spt, addr, length, writable, file, offset)
	if err != nil {
		return 0, false
	}
	as.regions[addr] = region
	return addr, true
}

// Munmap tears down the mapping previously returned by Mmap at addr.
func (as *AddressSpace) Munmap(addr uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	region, ok := as.regions[addr]
	if !ok {
		return
	}
	mmap.DoMunmap(as.spt, region)
	delete(as.regions, addr)
}

// TryHandleFault resolves a page fault at addr, per fault.Handler.
func (as *AddressSpace) TryHandleFault(trap fault.Trap, addr uintptr) bool {
	return as.handler.TryHandleFault(trap, addr)
}

// SPT exposes the underlying supplemental page table for callers (tests,
// diagnostics) that need direct access beyond the operations above.
func (as *AddressSpace) SPT() *spt.Table { return as.spt }
