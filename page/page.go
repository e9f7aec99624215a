// Package page implements the page descriptor and its three mutually
// exclusive backings (uninit, anonymous, file), mirroring the dispatch
// biscuit's Sys_pgfault performs over VANON/VFILE/VSANON and the
// anon_ops/file_ops vtables Pintos' vm/anon.c and vm/file.c define for the
// same three states — reimplemented here as a tagged struct rather than an
// interface vtable, since Go has no room for the C union trick those
// vtables stand in for and a tagged struct makes the single-consumption
// rule for the uninit initializer easy to enforce.
package page

import (
	"vmkern/frame"
	"vmkern/mem"
	"vmkern/mmuiface"
	"vmkern/swap"
)

// Kind tags which of the three backings a Page currently holds.
type Kind int

const (
	// Uninit pages carry a deferred initializer and have not yet been
	// materialized into Anon or File.
	Uninit Kind = iota
	// Anon pages are backed by swap only.
	Anon
	// File pages are backed by a file, optionally as an mmap mapping.
	File
)

func (k Kind) String() string {
	switch k {
	case Uninit:
		return "uninit"
	case Anon:
		return "anon"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// FileBacking is the narrow slice of a shared mmap file context a File
// page needs: positioned I/O plus the refcount lifecycle. mmap.SharedFile
// implements this; page never imports mmap, keeping the dependency
// one-directional (mmap depends on page, not the reverse).
type FileBacking interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Retain()
	Release()
}

// Initializer lazily produces a page's real contents the first time it is
// claimed, the way Pintos' uninit_initializer runs the loader's lazy-load
// callback. It is consumed exactly once: AllocWithInitializer stores it,
// and claim clears it after running it.
type Initializer func(dst []byte) error

// uninitPayload is the deferred-construction state for a page that has
// not yet been faulted in.
type uninitPayload struct {
	target Kind
	init   Initializer
	// fileAux is non-nil only when target == File; it lets Copy rebuild
	// an equivalent file backing in the child without running init.
	fileAux *fileUninitAux
}

// fileUninitAux lets spt.Copy deep-copy a not-yet-materialized file-backed
// page without invoking its initializer, mirroring Pintos'
// dup_aux_for_file_uninit.
type fileUninitAux struct {
	source     FileBacking
	offset     int64
	readBytes  int
	zeroBytes  int
	executable bool
}

// anonPayload is the state for a page backed purely by swap.
type anonPayload struct {
	slot swap.Slot
}

// filePayload is the state for a page backed by a file, with IsMmap true
// for mmap-created mappings (which write back on eviction and on
// destruction) and false for ordinary loader pages (which never write
// back).
type filePayload struct {
	source    FileBacking
	offset    int64
	readBytes int
	zeroBytes int
	isMmap    bool
}

// Page is the supplemental-page-table entry for one virtual page.
type Page struct {
	VA       uintptr
	Writable bool
	Kind     Kind
	MMU      mmuiface.Table
	Frame    *frame.Frame
	SW       *swap.Allocator

	uninit *uninitPayload
	anon   *anonPayload
	file   *filePayload
}

// NewUninitAnon builds a page that will lazily become Anon the first time
// it is claimed.
func NewUninitAnon(va uintptr, writable bool, init Initializer) *Page {
	return &Page{
		VA:       mem.PageRoundDown(va),
		Writable: writable,
		Kind:     Uninit,
		uninit:   &uninitPayload{target: Anon, init: init},
	}
}

// NewUninitFile builds a page that will lazily become File the first time
// it is claimed — the loader's lazy-executable-load path.
func NewUninitFile(va uintptr, writable bool, init Initializer, src FileBacking, off int64, readBytes, zeroBytes int, executable bool) *Page {
	return &Page{
		VA:       mem.PageRoundDown(va),
		Writable: writable,
		Kind:     Uninit,
		uninit: &uninitPayload{
			target: File,
			init:   init,
			fileAux: &fileUninitAux{
				source:     src,
				offset:     off,
				readBytes:  readBytes,
				zeroBytes:  zeroBytes,
				executable: executable,
			},
		},
	}
}

// NewFile builds an already-materialized File page (used directly by
// mmap.DoMmap, which never defers through Uninit: a freshly mapped page is
// immediately claimable).
func NewFile(va uintptr, writable bool, src FileBacking, off int64, readBytes, zeroBytes int, isMmap bool) *Page {
	return &Page{
		VA:       mem.PageRoundDown(va),
		Writable: writable,
		Kind:     File,
		file: &filePayload{
			source:    src,
			offset:    off,
			readBytes: readBytes,
			zeroBytes: zeroBytes,
			isMmap:    isMmap,
		},
	}
}

// Resident reports whether the page currently has a frame installed.
func (p *Page) Resident() bool {
	return p.Frame != nil
}

// Accessed implements frame.Evictable by consulting this page's PTE.
func (p *Page) Accessed() bool {
	return p.MMU.Accessed(p.VA)
}

// ClearAccessed implements frame.Evictable.
func (p *Page) ClearAccessed() {
	p.MMU.SetAccessed(p.VA, false)
}

// Dirty implements frame.Evictable by consulting this page's PTE.
func (p *Page) Dirty() bool {
	return p.MMU.Dirty(p.VA)
}

// Evict implements frame.Evictable: it persists buf via SwapOut and then
// unmaps the page's translation, leaving it non-resident until the next
// fault claims it back in.
func (p *Page) Evict(buf []byte) error {
	dirty := p.MMU.Dirty(p.VA)
	if err := p.SwapOut(p.SW, buf, dirty); err != nil {
		return err
	}
	p.MMU.Unmap(p.VA)
	p.Frame = nil
	return nil
}

// Materialize runs the uninit initializer (if any) into dst and collapses
// the page to its target kind. It is a no-op if the page is not Uninit.
func (p *Page) Materialize(dst []byte) error {
	if p.Kind != Uninit {
		return nil
	}
	u := p.uninit
	if u.init != nil {
		if err := u.init(dst); err != nil {
			return err
		}
	}
	switch u.target {
	case Anon:
		p.anon = &anonPayload{slot: swap.NoSlot}
	case File:
		fa := u.fileAux
		p.file = &filePayload{
			source:    fa.source,
			offset:    fa.offset,
			readBytes: fa.readBytes,
			zeroBytes: fa.zeroBytes,
			isMmap:    false,
		}
	}
	p.Kind = u.target
	p.uninit = nil
	return nil
}

// Peek fills dst with the page's current contents without consuming a
// swap slot or otherwise mutating the page, for use by spt.Copy when
// snapshotting a non-resident parent page into a child.
func (p *Page) Peek(sw *swap.Allocator, dst []byte) error {
	switch p.Kind {
	case Anon:
		if p.anon.slot == swap.NoSlot {
			for i := range dst {
				dst[i] = 0
			}
			return nil
		}
		return sw.Read(p.anon.slot, dst)
	case File:
		f := p.file
		for i := range dst {
			dst[i] = 0
		}
		if f.readBytes == 0 {
			return nil
		}
		n, err := f.source.ReadAt(dst[:f.readBytes], f.offset)
		if err != nil {
			return err
		}
		for i := n; i < f.readBytes; i++ {
			dst[i] = 0
		}
		return nil
	default:
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
}

// SwapIn fills dst with the page's contents, from swap for Anon pages or
// from the file for File pages (zero-filling any tail beyond readBytes).
func (p *Page) SwapIn(sw *swap.Allocator, dst []byte) error {
	switch p.Kind {
	case Anon:
		if p.anon.slot == swap.NoSlot {
			for i := range dst {
				dst[i] = 0
			}
			return nil
		}
		if err := sw.Read(p.anon.slot, dst); err != nil {
			return err
		}
		sw.Free(p.anon.slot)
		p.anon.slot = swap.NoSlot
		return nil
	case File:
		f := p.file
		for i := range dst {
			dst[i] = 0
		}
		if f.readBytes == 0 {
			return nil
		}
		n, err := f.source.ReadAt(dst[:f.readBytes], f.offset)
		if err != nil {
			return err
		}
		for i := n; i < f.readBytes; i++ {
			dst[i] = 0
		}
		return nil
	default:
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
}

// SwapOut evicts the page's resident contents: anonymous pages always go
// to swap; file pages write back to the file only when mapped via mmap
// and dirty, matching the fix recorded for both the swap_out and destroy
// paths (write-back happens from either, never only one).
func (p *Page) SwapOut(sw *swap.Allocator, src []byte, dirty bool) error {
	switch p.Kind {
	case Anon:
		slot, err := sw.Alloc()
		if err != nil {
			return err
		}
		if err := sw.Write(slot, src); err != nil {
			sw.Free(slot)
			return err
		}
		p.anon.slot = slot
		return nil
	case File:
		f := p.file
		if f.isMmap && dirty && f.readBytes > 0 {
			if _, err := f.source.WriteAt(src[:f.readBytes], f.offset); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// Destroy releases any resources the page's backing holds (swap slot or
// mmap file reference), writing back dirty mmap contents exactly as
// SwapOut would first.
func (p *Page) Destroy(sw *swap.Allocator, resident []byte, dirty bool) error {
	switch p.Kind {
	case Anon:
		if p.anon != nil && p.anon.slot != swap.NoSlot {
			sw.Free(p.anon.slot)
			p.anon.slot = swap.NoSlot
		}
	case File:
		f := p.file
		if f.isMmap {
			if resident != nil && dirty && f.readBytes > 0 {
				if _, err := f.source.WriteAt(resident[:f.readBytes], f.offset); err != nil {
					return err
				}
			}
			f.source.Release()
		}
	case Uninit:
		if p.uninit.fileAux != nil && !p.uninit.fileAux.executable {
			p.uninit.fileAux.source.Release()
		}
	}
	return nil
}

// CloneSnapshot builds a fresh Anon page at the same VA whose contents are
// a byte-for-byte copy of contents, immediately written to sw so the page
// starts out non-resident but ready to be claimed — used by spt.Copy for
// every already-materialized page regardless of its original backing
// (file-backed pages collapse to an anonymous snapshot in the child, per
// the fork semantics recorded for spt.Copy).
func CloneSnapshot(va uintptr, writable bool, sw *swap.Allocator, contents []byte) (*Page, error) {
	slot, err := sw.Alloc()
	if err != nil {
		return nil, err
	}
	if err := sw.Write(slot, contents); err != nil {
		sw.Free(slot)
		return nil, err
	}
	return &Page{
		VA:       mem.PageRoundDown(va),
		Writable: writable,
		Kind:     Anon,
		anon:     &anonPayload{slot: slot},
	}, nil
}

// CloneUninit deep-copies an Uninit page's deferred-construction payload
// for spt.Copy. For a non-executable file-uninit origin the copy retains
// and shares the parent's FileBacking; no new file handle is opened. When
// the origin is executable, execSubstitute is retained and used instead,
// so the child never references the parent's loader handle.
func (p *Page) CloneUninit(execSubstitute FileBacking) (*Page, error) {
	u := p.uninit
	np := &Page{VA: p.VA, Writable: p.Writable, Kind: Uninit}
	if u.fileAux == nil {
		np.uninit = &uninitPayload{target: u.target, init: u.init}
		return np, nil
	}
	fa := *u.fileAux
	if fa.executable {
		fa.source = execSubstitute
		fa.source.Retain()
	} else {
		fa.source.Retain()
	}
	np.uninit = &uninitPayload{target: u.target, init: u.init, fileAux: &fa}
	return np, nil
}
