package page

import (
	"bytes"
	"testing"

	"vmkern/blockdev"
	"vmkern/fsiface"
	"vmkern/mem"
	"vmkern/mmuiface"
	"vmkern/swap"
)

func testSwap() *swap.Allocator {
	return swap.New(blockdev.NewMemDisk(4 * mem.SectorsPerSlot))
}

type fileBackingAdapter struct {
	f *fsiface.MemFile
}

func (a fileBackingAdapter) ReadAt(b []byte, off int64) (int, error)  { return a.f.ReadAt(b, off) }
func (a fileBackingAdapter) WriteAt(b []byte, off int64) (int, error) { return a.f.WriteAt(b, off) }
func (a fileBackingAdapter) Retain()                                  {}
func (a fileBackingAdapter) Release()                                 { a.f.Close() }

func TestMaterializeAnon(t *testing.T) {
	p := NewUninitAnon(0x1000, true, func(dst []byte) error {
		dst[0] = 0x99
		return nil
	})
	buf := make([]byte, mem.PageSize)
	if err := p.Materialize(buf); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if p.Kind != Anon {
		t.Fatalf("Kind = %v, want Anon", p.Kind)
	}
	if buf[0] != 0x99 {
		t.Fatalf("initializer did not run")
	}
}

func TestAnonSwapOutInRoundTrip(t *testing.T) {
	sw := testSwap()
	p := NewUninitAnon(0x2000, true, nil)
	buf := make([]byte, mem.PageSize)
	p.Materialize(buf)

	src := bytes.Repeat([]byte{0x7}, mem.PageSize)
	if err := p.SwapOut(sw, src, true); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}
	dst := make([]byte, mem.PageSize)
	if err := p.SwapIn(sw, dst); err != nil {
		t.Fatalf("SwapIn: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Fatal("anon round trip mismatch")
	}
}

func TestFilePageSwapInZeroFillsTail(t *testing.T) {
	mf := fsiface.NewMemFile([]byte("hello"))
	src := fileBackingAdapter{mf}
	p := NewFile(0x3000, false, src, 0, 5, mem.PageSize-5, false)
	dst := make([]byte, mem.PageSize)
	if err := p.SwapIn(nil, dst); err != nil {
		t.Fatalf("SwapIn: %v", err)
	}
	if string(dst[:5]) != "hello" {
		t.Fatalf("head mismatch: %q", dst[:5])
	}
	for i := 5; i < mem.PageSize; i++ {
		if dst[i] != 0 {
			t.Fatalf("tail not zero-filled at %d", i)
		}
	}
}

func TestMmapDirtyWriteBackOnEvictAndDestroy(t *testing.T) {
	mf := fsiface.NewMemFile(make([]byte, mem.PageSize))
	src := fileBackingAdapter{mf}
	p := NewFile(0x4000, true, src, 0, mem.PageSize, 0, true)

	dirty := bytes.Repeat([]byte{0x5}, mem.PageSize)
	if err := p.SwapOut(nil, dirty, true); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}
	got := make([]byte, mem.PageSize)
	mf.ReadAt(got, 0)
	if !bytes.Equal(got, dirty) {
		t.Fatal("SwapOut did not write back dirty mmap page")
	}

	dirty2 := bytes.Repeat([]byte{0x6}, mem.PageSize)
	if err := p.Destroy(nil, dirty2, true); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	mf.ReadAt(got, 0)
	if !bytes.Equal(got, dirty2) {
		t.Fatal("Destroy did not write back dirty mmap page")
	}
}

func TestCleanMmapNoWriteBack(t *testing.T) {
	mf := fsiface.NewMemFile(make([]byte, mem.PageSize))
	src := fileBackingAdapter{mf}
	p := NewFile(0x5000, true, src, 0, mem.PageSize, 0, true)

	poison := bytes.Repeat([]byte{0x9}, mem.PageSize)
	if err := p.SwapOut(nil, poison, false); err != nil {
		t.Fatalf("SwapOut: %v", err)
	}
	got := make([]byte, mem.PageSize)
	mf.ReadAt(got, 0)
	for _, b := range got {
		if b != 0 {
			t.Fatal("clean mmap page should not be written back")
		}
	}
}

func TestCloneSnapshotIsFreshAnon(t *testing.T) {
	p, err := CloneSnapshot(0x6000, true, testSwap(), make([]byte, mem.PageSize))
	if err != nil {
		t.Fatalf("CloneSnapshot: %v", err)
	}
	if p.Kind != Anon {
		t.Fatalf("Kind = %v, want Anon", p.Kind)
	}
	if p.Resident() {
		t.Fatal("fresh snapshot should not be resident")
	}
}

func TestEvictUnmapsAndClearsFrame(t *testing.T) {
	tb := mmuiface.NewSoftTable()
	tb.Map(0x7000, 1, true)
	tb.SetDirty(0x7000, true)
	sw := testSwap()
	p := NewUninitAnon(0x7000, true, nil)
	p.Materialize(make([]byte, mem.PageSize))
	p.MMU = tb
	p.SW = sw

	if err := p.Evict(bytes.Repeat([]byte{1}, mem.PageSize)); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if tb.Present(0x7000) {
		t.Fatal("Evict should have unmapped the translation")
	}
	if p.Frame != nil {
		t.Fatal("Evict should clear Frame")
	}
}
