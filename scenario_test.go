package vmkern

import (
	"bytes"
	"testing"

	"vmkern/fault"
	"vmkern/fsiface"
	"vmkern/mem"
	"vmkern/mmuiface"
	"vmkern/procvm"
)

func newScenarioSpace(t *testing.T, nframes int, swapSlots int64) (*procvm.AddressSpace, mmuiface.Table) {
	t.Helper()
	sys := Init(WithFrameCount(nframes), WithSwapSlots(swapSlots))
	mmu := mmuiface.NewSoftTable()
	return procvm.New(sys.Frames, sys.Swap, mmu), mmu
}

// Scenario 1: lazy anon allocation.
func TestScenarioLazyAnonAllocation(t *testing.T) {
	as, mmu := newScenarioSpace(t, 4, 16)
	const va = 0x400000
	if !as.AllocWithInitializer(va, true, nil) {
		t.Fatal("AllocWithInitializer should succeed")
	}
	if !as.TryHandleFault(fault.Trap{NotPresent: true, User: true}, va) {
		t.Fatal("touching the page should resolve the fault")
	}
	if !mmu.Present(va) {
		t.Fatal("MMU should map the va")
	}
	if !mmu.Writable(va) {
		t.Fatal("page should be writable")
	}
	f, ok := mmu.Frame(va)
	if !ok {
		t.Fatal("expected a bound frame")
	}
	_ = f
	p, _ := as.SPT().Find(va)
	for i, b := range p.Frame.Bytes {
		if b != 0 {
			t.Fatalf("byte %d not zero: %#x", i, b)
		}
	}
}

// Scenario 2: mmap 3 pages over a 6000-byte file at offset 0, dirty the
// middle page, munmap, and check the write-back.
func TestScenarioMmapThreePagesPartialTail(t *testing.T) {
	as, mmu := newScenarioSpace(t, 8, 16)
	contents := bytes.Repeat([]byte{0x1}, 6000)
	mf := fsiface.NewMemFile(contents)

	const base = 0x50000000
	got, ok := as.Mmap(base, 3*mem.PageSize, true, mf, 0)
	if !ok || got != base {
		t.Fatalf("Mmap = %v,%v", got, ok)
	}

	p0, _ := as.SPT().Find(base)
	p1, _ := as.SPT().Find(base + mem.PageSize)
	p2, _ := as.SPT().Find(base + 2*mem.PageSize)
	if p0 == nil || p1 == nil || p2 == nil {
		t.Fatal("expected three distinct page table entries")
	}

	for _, va := range []uintptr{base, base + mem.PageSize, base + 2*mem.PageSize} {
		if !as.Claim(va) {
			t.Fatalf("Claim(%#x) failed", va)
		}
	}

	// Dirty page 1 by writing one byte at file offset 5000 (virtual
	// base+4096+904) and mark the translation dirty, as a real write
	// fault would via the hardware dirty bit.
	page1, _ := as.SPT().Find(base + mem.PageSize)
	page1.Frame.Bytes[904] = 0xEE
	mmu.SetDirty(base+mem.PageSize, true)

	as.Munmap(base)

	readBack := make([]byte, 1)
	mf.ReadAt(readBack, 5000)
	if readBack[0] != 0xEE {
		t.Fatalf("file byte at offset 5000 = %#x, want 0xEE", readBack[0])
	}
}

// Scenario 3: swap cycle — fill every frame, force an eviction, then read
// the evicted page back.
func TestScenarioSwapCycle(t *testing.T) {
	as, _ := newScenarioSpace(t, 2, 16)
	pattern := func(b byte) func([]byte) error {
		return func(dst []byte) error {
			for i := range dst {
				dst[i] = b
			}
			return nil
		}
	}

	as.AllocWithInitializer(0x1000, true, pattern(0x11))
	as.AllocWithInitializer(0x2000, true, pattern(0x22))
	as.AllocWithInitializer(0x3000, true, pattern(0x33))

	if !as.Claim(0x1000) {
		t.Fatal("Claim 0x1000 failed")
	}
	if !as.Claim(0x2000) {
		t.Fatal("Claim 0x2000 failed")
	}
	// Both frames are now full; claiming a third forces an eviction.
	if !as.Claim(0x3000) {
		t.Fatal("Claim 0x3000 (forcing eviction) failed")
	}

	p1, _ := as.SPT().Find(0x1000)
	if !p1.Resident() {
		// evicted; touch it again to bring it back.
		if !as.TryHandleFault(fault.Trap{NotPresent: true, User: true}, 0x1000) {
			t.Fatal("re-fault on evicted page failed")
		}
		p1, _ = as.SPT().Find(0x1000)
	}
	for i, b := range p1.Frame.Bytes {
		if b != 0x11 {
			t.Fatalf("byte %d = %#x, want 0x11 (evicted page must round-trip)", i, b)
		}
	}
}

// Scenario 4: overlap rejection.
func TestScenarioOverlapRejection(t *testing.T) {
	as, _ := newScenarioSpace(t, 8, 16)
	mf := fsiface.NewMemFile(bytes.Repeat([]byte{0x2}, 2*mem.PageSize))
	const a = 0x60000000
	base, ok := as.Mmap(a, 2*mem.PageSize, true, mf, 0)
	if !ok {
		t.Fatal("first mmap should succeed")
	}

	mf2 := fsiface.NewMemFile(bytes.Repeat([]byte{0x3}, mem.PageSize))
	if _, ok := as.Mmap(a+mem.PageSize, mem.PageSize, true, mf2, 0); ok {
		t.Fatal("overlapping mmap should be rejected")
	}

	if !as.Claim(base) {
		t.Fatal("first mapping's first page should still fault in")
	}
	if !as.Claim(base + mem.PageSize) {
		t.Fatal("first mapping's second page should still fault in")
	}
}

// Scenario 5: stack growth near rsp.
func TestScenarioStackGrowthNearRSP(t *testing.T) {
	as, _ := newScenarioSpace(t, 4, 16)
	const userStack = 0x80000000
	rsp := uintptr(userStack - 8)

	if !as.TryHandleFault(fault.Trap{RSP: rsp, User: true, Write: true, NotPresent: true}, rsp-8) {
		t.Fatal("fault at rsp-8 should grow the stack")
	}
	if _, ok := as.SPT().Find(mem.PageRoundDown(rsp - 8)); !ok {
		t.Fatal("expected a new page at pg_round_down(rsp-8)")
	}

	if as.TryHandleFault(fault.Trap{RSP: rsp, User: true, Write: true, NotPresent: true}, rsp-64-fault.StackMax) {
		t.Fatal("fault far below the growth cap must be refused")
	}
}

// Scenario 6: fork snapshot — mutations in the parent after fork are not
// visible to the child.
func TestScenarioForkSnapshot(t *testing.T) {
	parent, _ := newScenarioSpace(t, 8, 16)
	parent.AllocWithInitializer(0x7000, true, func(dst []byte) error {
		for i := range dst {
			dst[i] = 0xAA
		}
		return nil
	})
	if !parent.Claim(0x7000) {
		t.Fatal("parent Claim(anon) failed")
	}

	mf := fsiface.NewMemFile(bytes.Repeat([]byte{0x55}, mem.PageSize))
	base, ok := parent.Mmap(0x70000000, mem.PageSize, true, mf, 0)
	if !ok {
		t.Fatal("parent Mmap failed")
	}
	if !parent.Claim(base) {
		t.Fatal("parent Claim(mmap) failed")
	}

	childMMU := mmuiface.NewSoftTable()
	childSys := Init(WithFrameCount(8), WithSwapSlots(16))
	child, err := parent.SptCopy(childSys.Frames, childSys.Swap, childMMU, nil)
	if err != nil {
		t.Fatalf("SptCopy: %v", err)
	}

	// Mutate the parent's resident frames after fork.
	anonPage, _ := parent.SPT().Find(0x7000)
	for i := range anonPage.Frame.Bytes {
		anonPage.Frame.Bytes[i] = 0xBB
	}
	filePage, _ := parent.SPT().Find(base)
	for i := range filePage.Frame.Bytes {
		filePage.Frame.Bytes[i] = 0xCC
	}

	if !child.Claim(0x7000) {
		t.Fatal("child Claim(anon) failed")
	}
	if !child.Claim(base) {
		t.Fatal("child Claim(file-origin snapshot) failed")
	}
	childAnon, _ := child.SPT().Find(0x7000)
	childFile, _ := child.SPT().Find(base)

	for i, b := range childAnon.Frame.Bytes {
		if b != 0xAA {
			t.Fatalf("child anon byte %d = %#x, want 0xAA (pre-fork snapshot)", i, b)
		}
	}
	for i, b := range childFile.Frame.Bytes {
		if b != 0x55 {
			t.Fatalf("child file-origin byte %d = %#x, want 0x55 (pre-fork snapshot)", i, b)
		}
	}
}
