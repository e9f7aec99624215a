// Package swap implements the slot bitmap allocator over a blockdev.Disk,
// in the shape Pintos' vm/anon.c sketches (a bitmap plus a single lock
// guarding only slot bookkeeping, never the I/O itself) — though that
// source's own anon_swap_in/anon_swap_out were unimplemented stubs, so the
// actual read/write logic below is original, built from the page-vs-slot
// sizing relationship that source does establish (SECTORS_PER_SLOT).
package swap

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"vmkern/blockdev"
	"vmkern/internal/klog"
	"vmkern/mem"
)

var (
	swapIns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vmkern_swap_ins_total",
		Help: "Number of pages read back in from the swap device.",
	})
	swapOuts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vmkern_swap_outs_total",
		Help: "Number of pages written out to the swap device.",
	})
)

func init() {
	prometheus.MustRegister(swapIns, swapOuts)
}

// Slot identifies one page-sized region of the swap device. NoSlot means
// "never swapped".
type Slot int64

// NoSlot is the sentinel value meaning a page has never been written to
// swap.
const NoSlot Slot = -1

// ErrNoSwapSpace is the fatal condition raised when every slot is in use.
var ErrNoSwapSpace = errors.New("swap: device exhausted")

// Allocator manages the swap device's slot bitmap and page-granular I/O.
// The mutex protects only the bitset (swap_lock in the component this is
// grounded on); Read and Write release it before touching the disk.
type Allocator struct {
	mu    sync.Mutex
	disk  blockdev.Disk
	used  []bool
	nslot int64
}

// New constructs an Allocator over disk, sizing the slot count from the
// device's sector capacity.
func New(disk blockdev.Disk) *Allocator {
	n := disk.Size() / mem.SectorsPerSlot
	return &Allocator{
		disk:  disk,
		used:  make([]bool, n),
		nslot: n,
	}
}

// Alloc reserves and returns one free slot.
func (a *Allocator) Alloc() (Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, inUse := range a.used {
		if !inUse {
			a.used[i] = true
			return Slot(i), nil
		}
	}
	klog.L.Warn("swap: device exhausted")
	return NoSlot, ErrNoSwapSpace
}

// Free releases slot back to the pool. Freeing NoSlot or an already-free
// slot is a no-op.
func (a *Allocator) Free(slot Slot) {
	if slot == NoSlot {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot >= 0 && int64(slot) < a.nslot {
		a.used[slot] = false
	}
}

// Write stores one page's worth of data into slot.
func (a *Allocator) Write(slot Slot, page []byte) error {
	if slot == NoSlot {
		return errors.New("swap: write to NoSlot")
	}
	if len(page) != mem.PageSize {
		return errors.Errorf("swap: page must be %d bytes", mem.PageSize)
	}
	base := int64(slot) * mem.SectorsPerSlot
	for i := int64(0); i < mem.SectorsPerSlot; i++ {
		start := i * mem.SectorSize
		if err := a.disk.WriteSector(base+i, page[start:start+mem.SectorSize]); err != nil {
			return errors.Wrapf(err, "swap: write slot %d sector %d", slot, i)
		}
	}
	swapOuts.Inc()
	return nil
}

// Read loads one page's worth of data from slot into page.
func (a *Allocator) Read(slot Slot, page []byte) error {
	if slot == NoSlot {
		return errors.New("swap: read from NoSlot")
	}
	if len(page) != mem.PageSize {
		return errors.Errorf("swap: page must be %d bytes", mem.PageSize)
	}
	base := int64(slot) * mem.SectorsPerSlot
	for i := int64(0); i < mem.SectorsPerSlot; i++ {
		start := i * mem.SectorSize
		if err := a.disk.ReadSector(base+i, page[start:start+mem.SectorSize]); err != nil {
			return errors.Wrapf(err, "swap: read slot %d sector %d", slot, i)
		}
	}
	swapIns.Inc()
	return nil
}

// Capacity returns the total number of slots the device provides.
func (a *Allocator) Capacity() int64 {
	return a.nslot
}

// InUse returns the number of slots currently allocated, for diagnostics.
func (a *Allocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, u := range a.used {
		if u {
			n++
		}
	}
	return n
}
