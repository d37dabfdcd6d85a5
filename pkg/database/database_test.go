package database

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/rferrors"
	"github.com/cuemby/rayfield/pkg/tag"
)

func newTestDB() *Database {
	return New(Options{Host: 1}, record.NewTypeTable())
}

func TestCreateAccessEndRoundTrip(t *testing.T) {
	db := newTestDB()
	tg, lease, err := db.Create(42, 16, 0)
	require.NoError(t, err)
	lease.Payload[0] = 0xAB
	require.NoError(t, db.End(tg))

	lease2, err := db.Access(tg)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), lease2.Payload[0])
	require.NoError(t, db.End(tg))
}

func TestDeleteBusyRecordFails(t *testing.T) {
	db := newTestDB()
	tg, _, err := db.Create(1, 8, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, db.Delete(tg), rferrors.ErrBusyRecord)
	require.NoError(t, db.End(tg))
	require.NoError(t, db.Delete(tg))
	_, err = db.Access(tg)
	assert.ErrorIs(t, err, rferrors.ErrUnknownTag)
}

func TestResizePreservesPrefix(t *testing.T) {
	db := newTestDB()
	tg, lease, err := db.Create(1, 4, 0)
	require.NoError(t, err)
	copy(lease.Payload, []byte{1, 2, 3, 4})
	require.NoError(t, db.End(tg))

	grown, err := db.Resize(tg, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, grown.Payload)
}

func TestDeferInitGeneratesOnce(t *testing.T) {
	types := record.NewTypeTable()
	var calls int32
	types.Register(7, record.TypeOps{
		Generate: func(db record.Accessor, tg tag.Tag, hdr *record.Header, tls interface{}) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	db := New(Options{Host: 1}, types)
	tg, _, err := db.Create(7, 16, record.FlagDeferInit)
	require.NoError(t, err)
	require.NoError(t, db.End(tg))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Access(tg)
			assert.NoError(t, err)
			assert.NoError(t, db.End(tg))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEvictionUnderMemoryPressureRegeneratesBitIdentical(t *testing.T) {
	types := record.NewTypeTable()
	var genCount int32
	types.Register(9, record.TypeOps{
		Generate: func(db record.Accessor, tg tag.Tag, hdr *record.Header, tls interface{}) error {
			atomic.AddInt32(&genCount, 1)
			lease, err := db.Resize(tg, 16)
			if err != nil {
				return err
			}
			for i := range lease.Payload {
				lease.Payload[i] = 0x7
			}
			return nil
		},
	})
	db := New(Options{Host: 1, MemLimit: 40}, types)

	tg, _, err := db.Create(9, 16, record.FlagFlushable|record.FlagDeferInit)
	require.NoError(t, err)
	require.NoError(t, db.End(tg))

	lease, err := db.Access(tg)
	require.NoError(t, err)
	require.NoError(t, db.End(tg))
	assert.Equal(t, byte(0x7), lease.Payload[0])

	// Force eviction by creating a second, larger flushable record.
	tg2, _, err := db.Create(9, 32, record.FlagFlushable)
	require.NoError(t, err)
	require.NoError(t, db.End(tg2))

	lease2, err := db.Access(tg)
	require.NoError(t, err)
	require.NoError(t, db.End(tg))
	assert.Equal(t, byte(0x7), lease2.Payload[0])
	assert.Equal(t, int32(2), atomic.LoadInt32(&genCount))
}

func TestDataArrayPushBackAndGet(t *testing.T) {
	db := newTestDB()
	arr, err := CreateDataArray(db, 0, 4)
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		require.NoError(t, arr.PushBack([]byte{byte(i), byte(i >> 8), 0, 0}))
	}
	size, err := arr.Size()
	require.NoError(t, err)
	assert.Equal(t, 300, size)

	item, err := arr.Get(299)
	require.NoError(t, err)
	assert.Equal(t, byte(299), item[0])
}

func TestDataArrayReserveZeroIsNoOp(t *testing.T) {
	db := newTestDB()
	arr, err := CreateDataArray(db, 0, 4)
	require.NoError(t, err)
	require.NoError(t, arr.Reserve(0))
	cap, err := arr.Capacity()
	require.NoError(t, err)
	assert.Equal(t, 0, cap)
}

func TestDataTableBlocksNeverMoveOnGrowth(t *testing.T) {
	db := newTestDB()
	dt, err := CreateDataTable(db, 4, 4)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, dt.PushBack([]byte{byte(i), 0, 0, 0}))
	}
	lease, off, err := dt.Read(5)
	require.NoError(t, err)
	assert.Equal(t, byte(5), lease.Payload[off])
	require.NoError(t, dt.EndRead(5))

	for i := 20; i < 40; i++ {
		require.NoError(t, dt.PushBack([]byte{byte(i), 0, 0, 0}))
	}
	size, err := dt.Size()
	require.NoError(t, err)
	assert.Equal(t, 40, size)
}

func TestDataTableSingleItemBlocksActLikeArray(t *testing.T) {
	db := newTestDB()
	dt, err := CreateDataTable(db, 4, 1)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, dt.PushBack([]byte{byte(i * i), 0, 0, 0}))
	}
	for i := 0; i < 10; i++ {
		lease, off, err := dt.Read(i)
		require.NoError(t, err)
		assert.Equal(t, byte(i*i), lease.Payload[off])
		require.NoError(t, dt.EndRead(i))
	}
}
