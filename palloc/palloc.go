// Package palloc models the physical-frame allocator the frame table sits
// on top of. Real kernels own physical memory directly; this module stands
// in a simulated pool so the rest of vmkern can run and be tested without
// hardware, the way biscuit's own Physmem_t owns a free list of Physpg_t.
package palloc

import (
	"sync"

	"github.com/pkg/errors"

	"vmkern/mem"
)

// ErrExhausted is returned by Get when the pool has no free frames left.
var ErrExhausted = errors.New("palloc: no free frames")

// Pool hands out and reclaims physical frames. Implementations must be
// safe for concurrent use.
type Pool interface {
	// Get allocates one zero-filled frame.
	Get() (mem.Frame, []byte, error)
	// Free returns a frame to the pool. The caller must not touch the
	// frame's backing bytes afterward.
	Free(mem.Frame)
}

// SimPool is a reference Pool backed by a single contiguous Go arena,
// standing in for biscuit's Physmem_t free-list allocator (simplified to
// exclusive ownership: vmkern's frame table never shares a frame between
// two pages, so no refcounting is needed here).
type SimPool struct {
	mu    sync.Mutex
	arena []byte
	free  []mem.Frame
}

// NewSimPool creates a pool of nframes frames, all initially free.
func NewSimPool(nframes int) *SimPool {
	p := &SimPool{
		arena: make([]byte, nframes*mem.PageSize),
		free:  make([]mem.Frame, nframes),
	}
	for i := 0; i < nframes; i++ {
		p.free[i] = mem.Frame(i)
	}
	return p
}

// Get implements Pool.
func (p *SimPool) Get() (mem.Frame, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, nil, ErrExhausted
	}
	n := len(p.free) - 1
	f := p.free[n]
	p.free = p.free[:n]
	b := p.bytesLocked(f)
	for i := range b {
		b[i] = 0
	}
	return f, b, nil
}

// Free implements Pool.
func (p *SimPool) Free(f mem.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, f)
}

// Bytes returns the backing slice for a frame currently on loan from the
// pool. Callers use this to read/write frame contents after Get.
func (p *SimPool) Bytes(f mem.Frame) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesLocked(f)
}

func (p *SimPool) bytesLocked(f mem.Frame) []byte {
	off := int(f) * mem.PageSize
	return p.arena[off : off+mem.PageSize]
}

// FreeCount reports the number of frames currently available.
func (p *SimPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
