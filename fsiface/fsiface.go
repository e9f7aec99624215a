// Package fsiface abstracts the file handle the file-backed/mmap page
// backing reads and writes through, mirroring the narrow slice of
// file_read_at/file_write_at/file_reopen/file_close/file_deny_write that
// the page backing actually needs, the way biscuit's fd.Fd_t wraps an
// fdops.Fdops_i rather than a concrete file type.
package fsiface

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// File is the narrow file surface a file-backed page needs.
type File interface {
	// ReadAt reads len(b) bytes starting at offset off.
	ReadAt(b []byte, off int64) (int, error)
	// WriteAt writes b starting at offset off.
	WriteAt(b []byte, off int64) (int, error)
	// Length returns the file's current size in bytes.
	Length() (int64, error)
	// Reopen returns an independent handle onto the same underlying file,
	// sharing the deny-write count but not the caller's offset state.
	Reopen() (File, error)
	// Close releases this handle. The underlying file is only actually
	// closed once every handle obtained via Reopen has been closed.
	Close() error
	// DenyWrite marks the underlying file as not externally writable
	// while it is mapped executable.
	DenyWrite()
	// AllowWrite releases a DenyWrite.
	AllowWrite()
}

// sharedState is the reference count and deny-write count shared by every
// handle produced from the same OSFile chain, mirroring the way biscuit's
// Fd_t.Copyfd shares underlying vnode state across duplicated descriptors.
type sharedState struct {
	mu       sync.Mutex
	f        *os.File
	refs     int
	denyCnt  int
	closeErr error
}

func (s *sharedState) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs > 0 {
		return nil
	}
	s.closeErr = s.f.Close()
	return s.closeErr
}

// OSFile is a File backed by a real *os.File.
type OSFile struct {
	shared *sharedState
}

// OpenOSFile opens path and wraps it as a File.
func OpenOSFile(path string, flag int, perm os.FileMode) (*OSFile, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, errors.Wrap(err, "fsiface: open")
	}
	return &OSFile{shared: &sharedState{f: f, refs: 1}}, nil
}

func (o *OSFile) ReadAt(b []byte, off int64) (int, error) {
	n, err := o.shared.f.ReadAt(b, off)
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return n, errors.Wrap(err, "fsiface: read_at")
	}
	return n, err
}

func (o *OSFile) WriteAt(b []byte, off int64) (int, error) {
	n, err := o.shared.f.WriteAt(b, off)
	if err != nil {
		return n, errors.Wrap(err, "fsiface: write_at")
	}
	return n, err
}

func (o *OSFile) Length() (int64, error) {
	fi, err := o.shared.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "fsiface: stat")
	}
	return fi.Size(), nil
}

func (o *OSFile) Reopen() (File, error) {
	o.shared.mu.Lock()
	o.shared.refs++
	o.shared.mu.Unlock()
	return &OSFile{shared: o.shared}, nil
}

func (o *OSFile) Close() error {
	return o.shared.release()
}

func (o *OSFile) DenyWrite() {
	o.shared.mu.Lock()
	o.shared.denyCnt++
	o.shared.mu.Unlock()
}

func (o *OSFile) AllowWrite() {
	o.shared.mu.Lock()
	if o.shared.denyCnt > 0 {
		o.shared.denyCnt--
	}
	o.shared.mu.Unlock()
}
