package debugstore

import (
	"sync"
	"sync/atomic"
)

const defaultCapacity = 100

// Memory is a bounded ring of entries. When full, the oldest entry is dropped.
type Memory struct {
	mu       sync.RWMutex
	items    []Entry
	head     int
	tail     int
	size     int
	capacity int

	offered int64
	dropped int64
}

// NewMemory returns a ring holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &Memory{
		items:    make([]Entry, capacity),
		capacity: capacity,
	}
}

func (m *Memory) Append(entry Entry) error {
	atomic.AddInt64(&m.offered, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.size < m.capacity {
		m.items[m.tail] = entry
		m.tail = (m.tail + 1) % m.capacity
		m.size++
		return nil
	}

	m.items[m.head] = entry
	m.head = (m.head + 1) % m.capacity
	m.tail = (m.tail + 1) % m.capacity
	atomic.AddInt64(&m.dropped, 1)
	return nil
}

func (m *Memory) Entries() ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.size == 0 {
		return nil, nil
	}

	result := make([]Entry, m.size)
	for i := 0; i < m.size; i++ {
		result[i] = m.items[(m.head+i)%m.capacity]
	}
	return result, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero Entry
	for i := range m.items {
		m.items[i] = zero
	}
	m.head, m.tail, m.size = 0, 0, 0
	return nil
}

// Size returns the number of entries currently held.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// DroppedCount returns how many entries were evicted to make room.
func (m *Memory) DroppedCount() int64 {
	return atomic.LoadInt64(&m.dropped)
}

// OfferedCount returns how many entries were ever appended.
func (m *Memory) OfferedCount() int64 {
	return atomic.LoadInt64(&m.offered)
}
