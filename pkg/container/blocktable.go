package container

// BlockTable is an append-only, block-indexed sequence: growth allocates
// a new block rather than reallocating and copying everything that came
// before, so pointers/indices into an existing block stay valid across
// any number of later appends. itemsPerBlock must be a power of two so
// that splitting an index into (block, offset) is a shift and a mask,
// exactly as the data table container in the spec requires.
type BlockTable[T any] struct {
	blocks        [][]T
	blockShift    uint
	blockMask     int
	itemsPerBlock int
	size          int
}

// NewBlockTable creates a table whose blocks hold itemsPerBlock items.
// itemsPerBlock is rounded up to the next power of two if it isn't one
// already (itemsPerBlock = 1 degenerates to a table of single-item
// blocks, equivalent to a plain dynamic array of blocks).
func NewBlockTable[T any](itemsPerBlock int) *BlockTable[T] {
	if itemsPerBlock < 1 {
		itemsPerBlock = 1
	}
	n := 1
	shift := uint(0)
	for n < itemsPerBlock {
		n <<= 1
		shift++
	}
	return &BlockTable[T]{
		blockShift:    shift,
		blockMask:     n - 1,
		itemsPerBlock: n,
	}
}

func (t *BlockTable[T]) Size() int  { return t.size }
func (t *BlockTable[T]) Empty() bool { return t.size == 0 }

func (t *BlockTable[T]) split(index int) (block, sub int) {
	return index >> t.blockShift, index & t.blockMask
}

// PushBack appends an item, allocating a fresh block when the current
// tail block is full. The returned index is stable: it identifies the
// same slot for the lifetime of the table.
func (t *BlockTable[T]) PushBack(item T) int {
	block, sub := t.split(t.size)
	if block >= len(t.blocks) {
		t.blocks = append(t.blocks, make([]T, t.itemsPerBlock))
	}
	t.blocks[block][sub] = item
	t.size++
	return t.size - 1
}

// Get returns a pointer into the owning block's backing array. Because
// existing blocks are never reallocated, this pointer remains valid
// across any later PushBack, even ones that allocate new blocks.
func (t *BlockTable[T]) Get(index int) *T {
	block, sub := t.split(index)
	return &t.blocks[block][sub]
}

func (t *BlockTable[T]) Clear() {
	t.blocks = nil
	t.size = 0
}
