package block

import (
	"sync"
)

// MockDevice is an in-memory Device. It cannot be resized.
type MockDevice struct {
	data []byte
	mu   sync.RWMutex

	// Hold, when set, blocks every read and write until it is closed.
	Hold chan struct{}

	syncs     int
	discarded [][2]int64
	closed    bool
}

var (
	_ Device    = (*MockDevice)(nil)
	_ Discarder = (*MockDevice)(nil)
	_ Syncer    = (*MockDevice)(nil)
)

func NewMockDevice(data []byte) *MockDevice {
	return &MockDevice{
		data: data,
	}
}

func (m *MockDevice) wait() {
	if m.Hold != nil {
		<-m.Hold
	}
}

func (m *MockDevice) ReadAt(p []byte, off int64) (n int, err error) {
	m.wait()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	length := int64(len(p))
	if length+off > int64(len(m.data)) {
		length = int64(len(m.data)) - off
	}

	return copy(p, m.data[off:off+length]), nil
}

func (m *MockDevice) WriteAt(p []byte, off int64) (n int, err error) {
	m.wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	length := int64(len(p))
	if length+off > int64(len(m.data)) {
		length = int64(len(m.data)) - off
	}

	return copy(m.data[off:off+length], p), nil
}

// Discard zeroes the range.
func (m *MockDevice) Discard(off, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	clear(m.data[off : off+length])
	m.discarded = append(m.discarded, [2]int64{off, length})

	return nil
}

func (m *MockDevice) Discarded() [][2]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([][2]int64(nil), m.discarded...)
}

func (m *MockDevice) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncs++

	return nil
}

func (m *MockDevice) Syncs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.syncs
}

func (m *MockDevice) Size() (int64, error) {
	return int64(len(m.data)), nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.closed = true

	return nil
}

func (m *MockDevice) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.closed
}
