package database

import (
	"encoding/binary"

	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/rferrors"
	"github.com/cuemby/rayfield/pkg/tag"
)

// arrayHeaderSize is the fixed prefix every data-array record carries
// ahead of its items: item type code, logical size, and capacity, all
// as little-endian u32 so the record's own TypeCode's byte-swap can
// fix up the header the same way it fixes up items.
const arrayHeaderSize = 12

// DataArrayTypeCode is the record type registered for data-array
// records; its ByteSwap hook swaps the header fields and then defers
// to the item type's own byte-swap for the payload, so a data array of
// any registered type code is itself byte-order portable.
const DataArrayTypeCode record.TypeCode = 1

// DataArray is a dynamic vector of homogeneous, fixed-size items
// backed by a single database record, mirroring the source's "data
// array" container: amortized O(1) append, doubling growth capped at
// 256 items per growth step, and zero-initialized slack between size
// and capacity.
type DataArray struct {
	db       *Database
	tag      tag.Tag
	itemSize int
}

// CreateDataArray allocates a new, empty data array of items itemSize
// bytes wide, tagged with itemType for the byte-swap/generate
// dispatch table.
func CreateDataArray(db *Database, itemType record.TypeCode, itemSize int) (*DataArray, error) {
	t, lease, err := db.Create(DataArrayTypeCode, arrayHeaderSize, 0)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(lease.Payload[0:4], uint32(itemType))
	binary.LittleEndian.PutUint32(lease.Payload[4:8], 0)
	binary.LittleEndian.PutUint32(lease.Payload[8:12], 0)
	if err := db.End(t); err != nil {
		return nil, err
	}
	return &DataArray{db: db, tag: t, itemSize: itemSize}, nil
}

func OpenDataArray(db *Database, t tag.Tag, itemSize int) *DataArray {
	return &DataArray{db: db, tag: t, itemSize: itemSize}
}

func (a *DataArray) Tag() tag.Tag { return a.tag }

func (a *DataArray) Size() (int, error) {
	lease, err := a.db.Access(a.tag)
	if err != nil {
		return 0, err
	}
	defer a.db.End(a.tag)
	return int(binary.LittleEndian.Uint32(lease.Payload[4:8])), nil
}

func (a *DataArray) Capacity() (int, error) {
	lease, err := a.db.Access(a.tag)
	if err != nil {
		return 0, err
	}
	defer a.db.End(a.tag)
	return int(binary.LittleEndian.Uint32(lease.Payload[8:12])), nil
}

// nextArrayCapacity doubles the capacity, capped at a 256-item growth
// step once the array is already large, matching the array container
// primitive's own growth policy (pkg/container.Array).
func nextArrayCapacity(current int) int {
	if current == 0 {
		return 4
	}
	if current < 256 {
		doubled := current * 2
		if doubled > 256 {
			return 256
		}
		return doubled
	}
	return current + 256
}

// Reserve ensures capacity for at least n items, reallocating and
// copying existing items if needed. Reserve(0) is a documented no-op.
func (a *DataArray) Reserve(n int) error {
	if n <= 0 {
		return nil
	}
	lease, err := a.db.Access(a.tag)
	if err != nil {
		return err
	}
	cap := int(binary.LittleEndian.Uint32(lease.Payload[8:12]))
	size := int(binary.LittleEndian.Uint32(lease.Payload[4:8]))
	if cap >= n {
		return a.db.End(a.tag)
	}
	if err := a.db.End(a.tag); err != nil {
		return err
	}

	newCap := cap
	for newCap < n {
		newCap = nextArrayCapacity(newCap)
	}
	newLease, err := a.db.Resize(a.tag, arrayHeaderSize+newCap*a.itemSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(newLease.Payload[4:8], uint32(size))
	binary.LittleEndian.PutUint32(newLease.Payload[8:12], uint32(newCap))
	return nil
}

// PushBack appends item (exactly itemSize bytes) at the current size,
// growing the backing record first if needed.
func (a *DataArray) PushBack(item []byte) error {
	if len(item) != a.itemSize {
		return rferrors.ErrTypeMismatch
	}
	size, err := a.Size()
	if err != nil {
		return err
	}
	cap, err := a.Capacity()
	if err != nil {
		return err
	}
	if size >= cap {
		if err := a.Reserve(size + 1); err != nil {
			return err
		}
	}

	lease, err := a.db.Access(a.tag)
	if err != nil {
		return err
	}
	defer a.db.End(a.tag)
	off := arrayHeaderSize + size*a.itemSize
	copy(lease.Payload[off:off+a.itemSize], item)
	binary.LittleEndian.PutUint32(lease.Payload[4:8], uint32(size+1))
	return nil
}

// Get returns a copy of the item at index i; i must be < Size().
func (a *DataArray) Get(i int) ([]byte, error) {
	lease, err := a.db.Access(a.tag)
	if err != nil {
		return nil, err
	}
	defer a.db.End(a.tag)
	size := int(binary.LittleEndian.Uint32(lease.Payload[4:8]))
	if i < 0 || i >= size {
		return nil, rferrors.ErrUnknownTag
	}
	off := arrayHeaderSize + i*a.itemSize
	out := make([]byte, a.itemSize)
	copy(out, lease.Payload[off:off+a.itemSize])
	return out, nil
}

// Resize changes the logical size to n. Shrinking is logical only --
// the backing record's capacity is unchanged, so growing back within
// the previous capacity requires no reallocation. Growing past the
// current capacity reserves first and zero-fills the new slots.
func (a *DataArray) Resize(n int) error {
	size, err := a.Size()
	if err != nil {
		return err
	}
	if n > size {
		if err := a.Reserve(n); err != nil {
			return err
		}
		lease, err := a.db.Access(a.tag)
		if err != nil {
			return err
		}
		for i := size; i < n; i++ {
			off := arrayHeaderSize + i*a.itemSize
			for b := range lease.Payload[off : off+a.itemSize] {
				lease.Payload[off+b] = 0
			}
		}
		binary.LittleEndian.PutUint32(lease.Payload[4:8], uint32(n))
		return a.db.End(a.tag)
	}

	lease, err := a.db.Access(a.tag)
	if err != nil {
		return err
	}
	defer a.db.End(a.tag)
	binary.LittleEndian.PutUint32(lease.Payload[4:8], uint32(n))
	return nil
}
