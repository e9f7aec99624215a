// Package fault implements the page-fault classification and claim
// procedure, grounded on biscuit's Sys_pgfault (guard-page/write-
// protection checks, VANON/VFILE dispatch, Page_insert) and on the exact
// stack-growth heuristic of Pintos' vm_try_handle_fault — its rsp-32
// slack window and its choice of rsp source depending on whether the
// fault came from user or kernel mode — read this session before the
// reference pack was lost and treated here as ground truth from memory of
// that reading rather than from a file still on disk.
package fault

import (
	"vmkern/frame"
	"vmkern/mem"
	"vmkern/mmuiface"
	"vmkern/page"
	"vmkern/spt"
	"vmkern/swap"
)

// StackMax bounds how far the stack is allowed to grow downward from its
// initial top, matching the 1 MiB limit the original stack-growth
// heuristic enforces.
const StackMax = 1 << 20

// Trap carries the minimal trap-frame information the fault handler
// needs, standing in for the CPU trap frame spec.md's interface section
// describes.
type Trap struct {
	RSP        uintptr
	User       bool
	Write      bool
	NotPresent bool
}

// Handler ties together one address space's SPT, MMU, frame table, and
// swap allocator to resolve page faults and service on-demand claims.
type Handler struct {
	SPT    *spt.Table
	MMU    mmuiface.Table
	Frames *frame.Table
	Swap   *swap.Allocator

	// KernelUserRSP returns the current thread's saved user-mode stack
	// pointer, consulted only when a fault's Trap.User is false (the
	// fault happened while running kernel code on the process' behalf),
	// mirroring thread_current()->user_rsp in the component this claim
	// procedure is grounded on.
	KernelUserRSP func() uintptr
}

// TryHandleFault resolves a not-present fault at addr. It returns true if
// the fault was resolved (the instruction may be retried) and false if it
// must be treated as a genuine, unrecoverable access violation; a
// write-protection fault (NotPresent false) always returns false.
func (h *Handler) TryHandleFault(trap Trap, addr uintptr) bool {
	if !trap.NotPresent {
		// A write-protection fault against a page we already mapped
		// read-only is never recoverable here: vmkern carries no COW.
		return false
	}

	va := mem.PageRoundDown(addr)
	if p, ok := h.SPT.Find(va); ok {
		if trap.Write && !p.Writable {
			return false
		}
		return h.claim(p)
	}

	if h.growsStack(trap, addr) {
		p := page.NewUninitAnon(va, true, nil)
		if !h.SPT.Insert(p) {
			return false
		}
		return h.claim(p)
	}

	return false
}

// growsStack applies the exact heuristic recorded for stack growth: the
// fault address must fall within StackMax below the reference stack
// pointer (the overall growth cap) and within a small slack window above
// it (the rsp+32 allowance for a PUSH that faults before rsp is
// decremented), and the chosen rsp must itself look like a plausible
// user-space address.
func (h *Handler) growsStack(trap Trap, addr uintptr) bool {
	rsp := trap.RSP
	if !trap.User {
		if h.KernelUserRSP == nil {
			return false
		}
		rsp = h.KernelUserRSP()
	}
	if rsp == 0 {
		return false
	}
	var low uintptr
	if rsp >= StackMax {
		low = rsp - StackMax
	}
	high := rsp + 32
	return addr >= low && addr <= high
}

// Claim ensures p is resident, faulting its contents in if necessary. It
// is exported as the spec's claim operation, used directly by callers
// (e.g. a syscall validating a user buffer) that already hold the target
// page rather than an address.
func (h *Handler) Claim(p *page.Page) bool {
	return h.claim(p)
}

func (h *Handler) claim(p *page.Page) bool {
	if p.Resident() {
		return true
	}
	f, err := h.Frames.GetFrame(p)
	if err != nil {
		return false
	}

	if p.Kind == page.Uninit {
		if err := p.Materialize(f.Bytes); err != nil {
			h.Frames.Release(f)
			return false
		}
	} else if err := p.SwapIn(h.Swap, f.Bytes); err != nil {
		h.Frames.Release(f)
		return false
	}

	p.MMU = h.MMU
	p.Frame = f
	h.MMU.Map(p.VA, f.Num, p.Writable)
	h.Frames.Unpin(f)
	return true
}
