package fsiface

import "sync"

// memShared is the data and refcount shared across every handle produced
// from the same MemFile via Reopen.
type memShared struct {
	mu      sync.Mutex
	data    []byte
	refs    int
	denyCnt int
}

// MemFile is an in-memory File fake used by tests across vmkern packages
// in place of a real backing file.
type MemFile struct {
	shared *memShared
}

// NewMemFile returns a MemFile whose initial contents are a copy of data.
func NewMemFile(data []byte) *MemFile {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &MemFile{shared: &memShared{data: buf, refs: 1}}
}

func (m *MemFile) ReadAt(b []byte, off int64) (int, error) {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	if off >= int64(len(m.shared.data)) {
		return 0, nil
	}
	n := copy(b, m.shared.data[off:])
	return n, nil
}

func (m *MemFile) WriteAt(b []byte, off int64) (int, error) {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	end := off + int64(len(b))
	if end > int64(len(m.shared.data)) {
		grown := make([]byte, end)
		copy(grown, m.shared.data)
		m.shared.data = grown
	}
	n := copy(m.shared.data[off:end], b)
	return n, nil
}

func (m *MemFile) Length() (int64, error) {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	return int64(len(m.shared.data)), nil
}

func (m *MemFile) Reopen() (File, error) {
	m.shared.mu.Lock()
	m.shared.refs++
	m.shared.mu.Unlock()
	return &MemFile{shared: m.shared}, nil
}

func (m *MemFile) Close() error {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	m.shared.refs--
	return nil
}

func (m *MemFile) DenyWrite() {
	m.shared.mu.Lock()
	m.shared.denyCnt++
	m.shared.mu.Unlock()
}

func (m *MemFile) AllowWrite() {
	m.shared.mu.Lock()
	if m.shared.denyCnt > 0 {
		m.shared.denyCnt--
	}
	m.shared.mu.Unlock()
}

// Refs reports the live handle count, for tests asserting refcount
// discipline.
func (m *MemFile) Refs() int {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	return m.shared.refs
}
