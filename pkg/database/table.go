package database

import (
	"encoding/binary"

	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/rferrors"
	"github.com/cuemby/rayfield/pkg/tag"
)

// DataTableTypeCode is the record type registered for a data table's
// own (block-list) record; individual blocks are plain byte records
// with no registered type of their own, since they are never accessed
// except through their owning table.
const DataTableTypeCode record.TypeCode = 2

// DataTable is an append-only, block-indexed sequence of fixed-size
// items. Unlike DataArray it never copies existing items on growth:
// each block is its own database record, and the table record only
// ever grows by appending a new block tag. itemsPerBlock is rounded up
// to a power of two so index math is a shift and a mask, exactly the
// "block size a power of two" requirement.
type DataTable struct {
	db            *Database
	tag           tag.Tag
	itemSize      int
	itemsPerBlock int
	blockShift    uint
	blockMask     int
}

func roundUpPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func log2(n int) uint {
	var s uint
	for (1 << s) < n {
		s++
	}
	return s
}

// CreateDataTable allocates an empty table record; blocks are
// allocated lazily as items are appended.
func CreateDataTable(db *Database, itemSize, itemsPerBlock int) (*DataTable, error) {
	itemsPerBlock = roundUpPow2(itemsPerBlock)
	t, _, err := db.Create(DataTableTypeCode, 4, 0) // u32 size prefix, block tags follow
	if err != nil {
		return nil, err
	}
	if err := db.End(t); err != nil {
		return nil, err
	}
	return &DataTable{
		db:            db,
		tag:           t,
		itemSize:      itemSize,
		itemsPerBlock: itemsPerBlock,
		blockShift:    log2(itemsPerBlock),
		blockMask:     itemsPerBlock - 1,
	}, nil
}

func (dt *DataTable) split(index int) (block, sub int) {
	return index >> dt.blockShift, index & dt.blockMask
}

func (dt *DataTable) size() (int, error) {
	lease, err := dt.db.Access(dt.tag)
	if err != nil {
		return 0, err
	}
	defer dt.db.End(dt.tag)
	return int(binary.LittleEndian.Uint32(lease.Payload[0:4])), nil
}

func (dt *DataTable) blockTags() ([]tag.Tag, error) {
	lease, err := dt.db.Access(dt.tag)
	if err != nil {
		return nil, err
	}
	defer dt.db.End(dt.tag)
	n := (len(lease.Payload) - 4) / 4
	tags := make([]tag.Tag, n)
	for i := 0; i < n; i++ {
		tags[i] = tag.Tag(binary.LittleEndian.Uint32(lease.Payload[4+i*4 : 8+i*4]))
	}
	return tags, nil
}

func (dt *DataTable) appendBlockTag(blockTag tag.Tag) error {
	lease, err := dt.db.Access(dt.tag)
	if err != nil {
		return err
	}
	off := len(lease.Payload)
	if err := dt.db.End(dt.tag); err != nil {
		return err
	}
	newLease, err := dt.db.Resize(dt.tag, off+4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(newLease.Payload[off:off+4], uint32(blockTag))
	return nil
}

// Size returns the number of items appended so far.
func (dt *DataTable) Size() (int, error) { return dt.size() }

// PushBack appends item, allocating a new block record if the current
// last block is full. Appending never invalidates pointers returned
// by a lease on an already-existing block: older blocks are never
// resized or moved once full.
func (dt *DataTable) PushBack(item []byte) error {
	if len(item) != dt.itemSize {
		return rferrors.ErrTypeMismatch
	}
	n, err := dt.size()
	if err != nil {
		return err
	}
	block, sub := dt.split(n)

	tags, err := dt.blockTags()
	if err != nil {
		return err
	}
	if block >= len(tags) {
		blockTag, _, err := dt.db.Create(0, dt.itemSize*dt.itemsPerBlock, 0)
		if err != nil {
			return err
		}
		if err := dt.db.End(blockTag); err != nil {
			return err
		}
		if err := dt.appendBlockTag(blockTag); err != nil {
			return err
		}
		tags = append(tags, blockTag)
	}

	lease, err := dt.db.Access(tags[block])
	if err != nil {
		return err
	}
	off := sub * dt.itemSize
	copy(lease.Payload[off:off+dt.itemSize], item)
	if err := dt.db.End(tags[block]); err != nil {
		return err
	}

	tlease, err := dt.db.Access(dt.tag)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(tlease.Payload[0:4], uint32(n+1))
	return dt.db.End(dt.tag)
}

// Read returns a lease on the block containing index i; the caller
// must End(lease.Header.Tag) when done. The returned payload offset
// for item i within the block is sub*itemSize.
func (dt *DataTable) Read(i int) (*record.Lease, int, error) {
	block, sub := dt.split(i)
	tags, err := dt.blockTags()
	if err != nil {
		return nil, 0, err
	}
	if block >= len(tags) {
		return nil, 0, rferrors.ErrUnknownTag
	}
	lease, err := dt.db.Access(tags[block])
	if err != nil {
		return nil, 0, err
	}
	return lease, sub * dt.itemSize, nil
}

// EndRead releases the lease returned by Read for the block
// containing index i.
func (dt *DataTable) EndRead(i int) error {
	block, _ := dt.split(i)
	tags, err := dt.blockTags()
	if err != nil {
		return err
	}
	if block >= len(tags) {
		return rferrors.ErrUnknownTag
	}
	return dt.db.End(tags[block])
}
