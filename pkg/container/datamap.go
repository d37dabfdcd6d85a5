package container

import "sync"

// dataMapBlockShift/Size fix the sparse map's block granularity at 65536
// entries per block, the ceiling named in the data map container row -
// large enough that a render session's tag space needs only a handful of
// blocks, small enough that an unused block is never touched.
const (
	dataMapBlockShift = 16
	dataMapBlockSize  = 1 << dataMapBlockShift
)

// DataMap is a sparse, tag-indexed map split into fixed-size blocks that
// are allocated lazily on first write. Most of a 32-bit tag space is
// never touched, so a flat array would waste memory; the blocks keep
// untouched ranges unallocated. pkg/database does not use it: its own
// index from Tag to record is a plain Go map.
type DataMap[T any] struct {
	mu     sync.RWMutex
	blocks map[uint32][]T
	set    map[uint32][]bool
	size   int
}

func NewDataMap[T any]() *DataMap[T] {
	return &DataMap[T]{
		blocks: make(map[uint32][]T),
		set:    make(map[uint32][]bool),
	}
}

func split(tag uint32) (block, sub uint32) {
	return tag >> dataMapBlockShift, tag & (dataMapBlockSize - 1)
}

// Insert stores value under tag, allocating the owning block if this is
// its first touch.
func (m *DataMap[T]) Insert(tag uint32, value T) {
	block, sub := split(tag)
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.blocks[block]
	if !ok {
		items = make([]T, dataMapBlockSize)
		m.blocks[block] = items
		m.set[block] = make([]bool, dataMapBlockSize)
	}
	if !m.set[block][sub] {
		m.size++
	}
	items[sub] = value
	m.set[block][sub] = true
}

// Find returns the value stored under tag, and whether it was present.
func (m *DataMap[T]) Find(tag uint32) (T, bool) {
	block, sub := split(tag)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zero T
	set, ok := m.set[block]
	if !ok || !set[sub] {
		return zero, false
	}
	return m.blocks[block][sub], true
}

// Erase removes tag from the map, if present.
func (m *DataMap[T]) Erase(tag uint32) {
	block, sub := split(tag)
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.set[block]
	if !ok || !set[sub] {
		return
	}
	var zero T
	m.blocks[block][sub] = zero
	set[sub] = false
	m.size--
}

// Size returns the number of live entries, counting only tags actually
// inserted (unlike the block arrays, which may be partially empty).
func (m *DataMap[T]) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
