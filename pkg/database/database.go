// Package database implements the tagged object store: every stored
// entity -- scene node, tessellated mesh, frame-buffer tile, job
// descriptor -- is a record addressed by a tag.Tag and typed only by
// a registered TypeCode, with byte-swap/generate/size/destroy
// dispatched through pkg/record's TypeTable rather than Go type
// assertions. Structural changes to the tag map are guarded by a
// container.RWLock, mirroring the source's single readers-writer
// lock around its record table.
package database

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/rayfield/pkg/container"
	"github.com/cuemby/rayfield/pkg/dataflow"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/rferrors"
	"github.com/cuemby/rayfield/pkg/tag"
)

// entry is the database's internal bookkeeping for one tag: the
// record header, its payload, a pin count for outstanding leases, and
// the LRU list node used to pick eviction candidates among FLUSHABLE
// records with no outstanding pins.
type entry struct {
	hdr      record.Header
	payload  []byte
	pins     int32
	lruNode  container.ListNode
	inLRU    bool
	genErr   error
}

// Options configures a Database instance.
type Options struct {
	Host      uint32
	MemLimit  int // bytes; 0 means unlimited
	Logger    zerolog.Logger
}

// Database is the runtime's tagged object store. One Database exists
// per host; the manager's Database is authoritative for tag
// allocation, workers/servers mint tags by round-tripping
// allocate_tag through the transport (pkg/transport).
type Database struct {
	opts  Options
	types *record.TypeTable
	flow  *dataflow.Engine

	lock    container.RWLock // guards entries map + LRU list structure
	entries map[tag.Tag]*entry
	lru     *container.List // FLUSHABLE, unpinned records, most-recently-used at back

	mu       sync.Mutex // guards nextTag only; memUsed is guarded by lock (see reserve/Delete/Resize)
	nextTag  uint32
	memUsed  int64
	peers    []FlushSink
	peersMu  sync.RWMutex

	// lruOwner maps a linked node's stable address back to its owning
	// entry; container.List is intrusive and returns bare *ListNode
	// from Front/Back, so the reverse lookup has to live here instead
	// of inside the container package.
	lruOwner map[*container.ListNode]*entry
}

// FlushSink receives a dirty record's bytes when flush/flush_all
// pushes it to a peer host. pkg/transport's connection type
// implements this against the wire protocol's flush_data/send_data
// messages.
type FlushSink interface {
	SendRecord(t tag.Tag, hdr record.Header, payload []byte) error
}

func New(opts Options, types *record.TypeTable) *Database {
	return &Database{
		opts:     opts,
		types:    types,
		flow:     dataflow.New(types),
		entries:  make(map[tag.Tag]*entry),
		lru:      container.NewList(),
		lruOwner: make(map[*container.ListNode]*entry),
	}
}

// AddPeer registers a host that should receive flushed records.
func (db *Database) AddPeer(sink FlushSink) {
	db.peersMu.Lock()
	defer db.peersMu.Unlock()
	db.peers = append(db.peers, sink)
}

// Create allocates a tag and reserves zeroed storage of size bytes,
// returning a write lease. Fails with ErrOutOfTags if the 32-bit tag
// space (minus tag.Null) is exhausted, or ErrOutOfMemory if the
// configured memory limit is reached and no flushable record can be
// evicted to make room.
func (db *Database) Create(typeCode record.TypeCode, size int, flags record.Flags) (tag.Tag, *record.Lease, error) {
	db.mu.Lock()
	if db.nextTag == uint32(tag.Null) {
		db.mu.Unlock()
		return tag.Null, nil, rferrors.ErrOutOfTags
	}
	t := tag.Tag(db.nextTag)
	db.nextTag++
	db.mu.Unlock()

	if err := db.reserve(int64(size)); err != nil {
		return tag.Null, nil, err
	}

	e := &entry{
		hdr: record.Header{
			Tag:   t,
			Type:  typeCode,
			Flags: flags,
			Size:  size,
			Host:  db.opts.Host,
		},
		payload: make([]byte, size),
	}

	db.lock.WriteLock()
	db.entries[t] = e
	db.lock.WriteUnlock()

	e.pins = 1
	return t, &record.Lease{Header: &e.hdr, Payload: e.payload}, nil
}

// Insert adds a record fetched from a peer at its already-assigned
// tag, used by pkg/transport's data_info/data_generated receive path
// to land a remote record without minting a new tag locally. A record
// already present at t is left untouched.
func (db *Database) Insert(t tag.Tag, typeCode record.TypeCode, payload []byte, flags record.Flags) error {
	db.lock.WriteLock()
	if _, exists := db.entries[t]; exists {
		db.lock.WriteUnlock()
		return nil
	}
	db.lock.WriteUnlock()

	if err := db.reserve(int64(len(payload))); err != nil {
		return err
	}

	e := &entry{
		hdr: record.Header{
			Tag:   t,
			Type:  typeCode,
			Flags: flags,
			Size:  len(payload),
			Host:  db.opts.Host,
		},
		payload: payload,
	}

	db.lock.WriteLock()
	db.entries[t] = e
	db.lock.WriteUnlock()

	if e.hdr.Has(record.FlagFlushable) {
		db.relink(e)
	}
	return nil
}

// Delete releases a record. Behavior is undefined if leases are
// outstanding in a release build; here we fail fast with
// ErrBusyRecord rather than silently freeing pinned storage.
func (db *Database) Delete(t tag.Tag) error {
	db.lock.WriteLock()
	defer db.lock.WriteUnlock()
	e, ok := db.entries[t]
	if !ok {
		return rferrors.ErrUnknownTag
	}
	if atomic.LoadInt32(&e.pins) != 0 {
		return rferrors.ErrBusyRecord
	}
	if e.inLRU {
		db.lru.Remove(&e.lruNode)
		delete(db.lruOwner, &e.lruNode)
		e.inLRU = false
	}
	db.memUsed -= int64(len(e.payload))
	delete(db.entries, t)
	return nil
}

// Access pins and returns the record's payload. If the record carries
// FlagDeferInit and has not yet been generated, Access runs the
// type's registered Generator first (blocking concurrent callers on
// the same in-flight generation, see pkg/dataflow).
func (db *Database) Access(t tag.Tag) (*record.Lease, error) {
	e, err := db.lookup(t)
	if err != nil {
		return nil, err
	}
	if e.genErr != nil {
		return nil, fmt.Errorf("%w: %v", rferrors.ErrGenerateFailed, e.genErr)
	}

	atomic.AddInt32(&e.pins, 1)
	db.unlink(e)

	if e.hdr.Has(record.FlagDeferInit) {
		if err := db.flow.Ensure(db, t, &e.hdr, db.opts.Host, nil); err != nil {
			e.genErr = err
			atomic.AddInt32(&e.pins, -1)
			return nil, fmt.Errorf("%w: %v", rferrors.ErrGenerateFailed, err)
		}
	}
	return &record.Lease{Header: &e.hdr, Payload: e.payload}, nil
}

// End releases a lease acquired via Access or returned by Create.
// Calling End without a matching Access is a programming error; we
// report it rather than corrupting the pin count.
func (db *Database) End(t tag.Tag) error {
	e, err := db.lookup(t)
	if err != nil {
		return err
	}
	if atomic.AddInt32(&e.pins, -1) < 0 {
		atomic.StoreInt32(&e.pins, 0)
		return fmt.Errorf("database: unbalanced end(%s)", t)
	}
	if atomic.LoadInt32(&e.pins) == 0 && e.hdr.Has(record.FlagFlushable) {
		db.relink(e)
	}
	return nil
}

// Resize reallocates the payload, preserving the prefix
// min(old,new) and zero-filling any newly-added bytes. Callers must
// reacquire any derived pointers since the backing array may move.
func (db *Database) Resize(t tag.Tag, newSize int) (*record.Lease, error) {
	e, err := db.lookup(t)
	if err != nil {
		return nil, err
	}
	delta := int64(newSize - len(e.payload))
	if delta > 0 {
		if err := db.reserve(delta); err != nil {
			return nil, err
		}
	} else {
		db.lock.WriteLock()
		db.memUsed += delta
		db.lock.WriteUnlock()
	}

	grown := make([]byte, newSize)
	copy(grown, e.payload)
	e.payload = grown
	e.hdr.Size = newSize
	return &record.Lease{Header: &e.hdr, Payload: e.payload}, nil
}

// Dirt marks a record for re-send on the next Flush/FlushAll.
func (db *Database) Dirt(t tag.Tag) error {
	e, err := db.lookup(t)
	if err != nil {
		return err
	}
	e.hdr.Set(record.FlagDirty)
	return nil
}

// Flush pushes a single dirty record to every registered peer,
// clearing its dirty bit on success.
func (db *Database) Flush(t tag.Tag) error {
	e, err := db.lookup(t)
	if err != nil {
		return err
	}
	return db.flushEntry(t, e)
}

// FlushAll pushes every dirty record to every registered peer.
func (db *Database) FlushAll() error {
	db.lock.ReadLock()
	dirty := make([]tag.Tag, 0)
	for t, e := range db.entries {
		if e.hdr.Has(record.FlagDirty) {
			dirty = append(dirty, t)
		}
	}
	db.lock.ReadUnlock()

	for _, t := range dirty {
		e, err := db.lookup(t)
		if err != nil {
			continue
		}
		if err := db.flushEntry(t, e); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) flushEntry(t tag.Tag, e *entry) error {
	db.peersMu.RLock()
	peers := db.peers
	db.peersMu.RUnlock()

	for _, p := range peers {
		if err := p.SendRecord(t, e.hdr, e.payload); err != nil {
			return err
		}
	}
	e.hdr.Clear(record.FlagDirty)
	return nil
}

// TypeSize returns the registered atomic size for an atomic type, or
// 0 for compound types with no fixed size.
func (db *Database) TypeSize(code record.TypeCode) int {
	ops, ok := db.types.Lookup(code)
	if !ok || ops.Size == nil {
		return 0
	}
	return ops.Size(nil)
}

// Byteswap dispatches to the registered byte-swap function for code,
// a no-op if the type declared none (e.g. opaque byte blobs).
func (db *Database) Byteswap(code record.TypeCode, payload []byte) {
	ops, ok := db.types.Lookup(code)
	if !ok || ops.ByteSwap == nil {
		return
	}
	ops.ByteSwap(payload)
}

// Stats is a snapshot of database occupancy for metrics polling.
type Stats struct {
	RecordCount int
	MemoryBytes int64
	ByType      map[record.TypeCode]int
}

// Stats returns a point-in-time snapshot of record population and
// memory usage, broken down by type code for the database's
// rayfield_records_total gauge.
func (db *Database) Stats() Stats {
	db.lock.ReadLock()
	byType := make(map[record.TypeCode]int, len(db.entries))
	for _, e := range db.entries {
		byType[e.hdr.Type]++
	}
	count := len(db.entries)
	mem := db.memUsed
	db.lock.ReadUnlock()

	return Stats{
		RecordCount: count,
		MemoryBytes: mem,
		ByType:      byType,
	}
}

func (db *Database) lookup(t tag.Tag) (*entry, error) {
	db.lock.ReadLock()
	e, ok := db.entries[t]
	db.lock.ReadUnlock()
	if !ok {
		return nil, rferrors.ErrUnknownTag
	}
	return e, nil
}

// unlink removes e from the LRU list (it is now pinned and no longer
// an eviction candidate).
func (db *Database) unlink(e *entry) {
	db.lock.WriteLock()
	defer db.lock.WriteUnlock()
	if e.inLRU {
		db.lru.Remove(&e.lruNode)
		delete(db.lruOwner, &e.lruNode)
		e.inLRU = false
	}
}

// relink pushes e to the back of the LRU list as the most recently
// released flushable record; eviction always takes from the front.
func (db *Database) relink(e *entry) {
	db.lock.WriteLock()
	defer db.lock.WriteUnlock()
	if e.inLRU {
		db.lru.MoveToBack(&e.lruNode)
		return
	}
	db.lru.PushBack(&e.lruNode)
	db.lruOwner[&e.lruNode] = e
	e.inLRU = true
}

// reserve accounts for n additional bytes of payload, evicting
// flushable records in LRU order until the budget is satisfied.
// Returns ErrOutOfMemory if no unpinned flushable record remains and
// the limit would still be exceeded.
func (db *Database) reserve(n int64) error {
	if db.opts.MemLimit == 0 {
		db.lock.WriteLock()
		db.memUsed += n
		db.lock.WriteUnlock()
		return nil
	}

	db.lock.WriteLock()
	defer db.lock.WriteUnlock()
	for db.memUsed+n > int64(db.opts.MemLimit) {
		front := db.lru.Front()
		if front == nil {
			return rferrors.ErrOutOfMemory
		}
		e, ok := db.lruOwner[front]
		if !ok {
			// should not happen: every linked node has an owner
			db.lru.Remove(front)
			continue
		}
		db.lru.Remove(front)
		delete(db.lruOwner, front)
		e.inLRU = false
		db.memUsed -= int64(len(e.payload))
		e.payload = nil
		e.hdr.Set(record.FlagDeferInit)
	}
	db.memUsed += n
	return nil
}
