// Package mmap implements do_mmap/do_munmap and the shared, refcounted
// file mapping context every page of one mapping holds a reference to —
// fixing the per-page file_reopen duplication Pintos' vm/file.c do_mmap
// performs (read this session before the reference pack was lost; its
// control flow is this package's ground truth, its per-page handle
// duplication is the variant this package does not repeat) in favor of the
// shared Mfile_t-style context biscuit's Vmadd_sharefile builds.
package mmap

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"vmkern/fsiface"
	"vmkern/mem"
	"vmkern/page"
	"vmkern/spt"
)

// ErrInvalidArgs is returned for any mmap request spec.md treats as
// invalid: zero length, misaligned address or offset, or a nil file.
var ErrInvalidArgs = errors.New("mmap: invalid arguments")

// ErrOverlap is returned when the requested range overlaps an existing
// mapping or other SPT entry.
var ErrOverlap = errors.New("mmap: range overlaps an existing mapping")

var regionsLive = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "vmkern_mmap_regions_live",
	Help: "Number of currently active mmap regions.",
})

func init() {
	prometheus.MustRegister(regionsLive)
}

// SharedFile is the refcounted context every page of one mmap mapping
// shares, so the underlying file handle is reopened exactly once per
// mapping rather than once per page.
type SharedFile struct {
	mu   sync.Mutex
	file fsiface.File
	refs int
}

// newSharedFile wraps file with an initial refcount of one.
func newSharedFile(file fsiface.File) *SharedFile {
	return &SharedFile{file: file, refs: 1}
}

func (s *SharedFile) ReadAt(b []byte, off int64) (int, error)  { return s.file.ReadAt(b, off) }
func (s *SharedFile) WriteAt(b []byte, off int64) (int, error) { return s.file.WriteAt(b, off) }

// Retain implements page.FileBacking: one more live page now references
// this mapping.
func (s *SharedFile) Retain() {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

// Release implements page.FileBacking: one fewer live page references
// this mapping; the underlying handle is closed once the count reaches
// zero.
func (s *SharedFile) Release() {
	s.mu.Lock()
	s.refs--
	done := s.refs == 0
	s.mu.Unlock()
	if done {
		s.file.Close()
	}
}

// Region records one live mmap mapping's extent, for Munmap to locate and
// tear down.
type Region struct {
	Base   uintptr
	NPages int
	shared *SharedFile
}

// DoMmap maps length bytes of file starting at offset into the address
// space's table at addr, writable as given, following the exact algorithm
// and rollback discipline recorded for this component: addr and offset
// must be page-aligned and length positive, the range must not overlap an
// existing entry, and any failure partway through tears down every page
// already inserted before returning the error.
func DoMmap(tbl *spt.Table, addr uintptr, length int, writable bool, file fsiface.File, offset int64) (*Region, error) {
	if length <= 0 || addr%mem.PageSize != 0 || offset%mem.PageSize != 0 || file == nil {
		return nil, ErrInvalidArgs
	}
	flen, err := file.Length()
	if err != nil {
		return nil, err
	}
	npages := (length + mem.PageSize - 1) / mem.PageSize

	for i := 0; i < npages; i++ {
		if _, ok := tbl.Find(addr + uintptr(i)*mem.PageSize); ok {
			return nil, ErrOverlap
		}
	}

	reopened, err := file.Reopen()
	if err != nil {
		return nil, err
	}
	shared := newSharedFile(reopened)

	remaining := length
	for i := 0; i < npages; i++ {
		va := addr + uintptr(i)*mem.PageSize
		fileOff := offset + int64(i)*mem.PageSize
		readBytes := mem.PageSize
		if remaining < mem.PageSize {
			readBytes = remaining
		}
		remaining -= readBytes
		if fileOff >= flen {
			readBytes = 0
		} else if fileOff+int64(readBytes) > flen {
			readBytes = int(flen - fileOff)
		}
		zeroBytes := mem.PageSize - readBytes

		p := page.NewFile(va, writable, shared, fileOff, readBytes, zeroBytes, true)
		if !tbl.Insert(p) {
			rollback(tbl, addr, i)
			return nil, ErrOverlap
		}
		shared.Retain()
	}
	// The table's own Insert does not retain on our behalf; drop the
	// extra reference DoMmap itself is not keeping.
	shared.Release()

	regionsLive.Inc()
	return &Region{Base: addr, NPages: npages, shared: shared}, nil
}

func rollback(tbl *spt.Table, addr uintptr, upTo int) {
	for i := 0; i < upTo; i++ {
		tbl.Remove(addr + uintptr(i)*mem.PageSize)
	}
}

// DoMunmap removes every page of region from tbl, writing back any dirty
// pages and releasing the shared file context once the last page is gone.
func DoMunmap(tbl *spt.Table, region *Region) {
	for i := 0; i < region.NPages; i++ {
		tbl.Remove(region.Base + uintptr(i)*mem.PageSize)
	}
	regionsLive.Dec()
}
