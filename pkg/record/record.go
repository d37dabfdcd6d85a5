// Package record defines the shapes every stored object shares,
// independent of how the database stores them or how the dataflow
// layer generates them. It sits below both pkg/database and
// pkg/dataflow so those two packages can depend on each other's
// contracts (Accessor, Generator) without importing each other.
package record

import "github.com/cuemby/rayfield/pkg/tag"

// TypeCode names a registered record type. The zero value is never a
// valid registration; the database treats a tag whose header carries
// TypeCode(0) as not-yet-typed.
type TypeCode uint32

// Flags records per-record bookkeeping bits, packed into the header
// rather than kept in separate bool fields so a header copy carries
// its full state in one word.
type Flags uint32

const (
	// Flushable marks a record the database may write out to a peer
	// and evict under memory pressure; records without this flag are
	// pinned for the life of the process (e.g. scene-graph nodes).
	FlagFlushable Flags = 1 << iota
	// FlagDeferInit marks a record whose contents are produced lazily
	// by its type's Generator on first access rather than at Create
	// time.
	FlagDeferInit
	// FlagDirty marks a record modified since its last flush to peers.
	FlagDirty
)

// Header is the fixed-layout portion of every record, stored alongside
// the type-specific payload. TypeTable dispatch (ByteSwap/Size) never
// touches Header directly; it operates on the payload the header
// describes.
type Header struct {
	Tag      tag.Tag
	Type     TypeCode
	Flags    Flags
	Size     int // payload size in bytes, authoritative for flat types
	Host     uint32
	Checksum uint32 // set by Flush, verified by peers accepting a flushed blob
}

func (h *Header) Has(f Flags) bool { return h.Flags&f != 0 }
func (h *Header) Set(f Flags)      { h.Flags |= f }
func (h *Header) Clear(f Flags)    { h.Flags &^= f }

// Lease is returned by Accessor.Access and must be released exactly
// once via Accessor.End. It exposes the payload as an opaque byte
// slice; typed wrappers in pkg/database cast it to the concrete Go
// type registered for the record's TypeCode.
type Lease struct {
	Header  *Header
	Payload []byte
}

// Accessor is the subset of database behavior a Generator is allowed
// to call back into: acquiring/releasing a lease on another tag, and
// resizing the payload of the tag currently being generated. Defining
// it here, rather than importing pkg/database from pkg/dataflow,
// avoids a cycle between the two: pkg/database implements Accessor,
// pkg/dataflow only consumes it.
type Accessor interface {
	Access(t tag.Tag) (*Lease, error)
	End(t tag.Tag) error
	Resize(t tag.Tag, newSize int) (*Lease, error)
}

// Generator produces or repairs the contents of tag t the first time
// it is accessed (FlagDeferInit) or after an upstream dependency
// invalidates it. db is the accessor generators use to pull any data
// they depend on; tls is a per-call scratch pointer the scheduler
// supplies so concurrent generations on the same worker thread don't
// share mutable state.
type Generator func(db Accessor, t tag.Tag, hdr *Header, tls interface{}) error

// TypeOps is the per-TypeCode function table the database consults
// instead of runtime type reflection: byte-swap, on-disk/wire size,
// generation, and teardown are all dispatched through this table, the
// only place the runtime needs to know what a TypeCode actually is.
type TypeOps struct {
	Name      string
	ByteSwap  func(payload []byte)
	Size      func(payload []byte) int
	Generate  Generator
	Destroy   func(payload []byte)
}

// TypeTable is the process-wide registry of TypeOps, keyed by
// TypeCode. It is built once at startup (each package registering the
// types it owns via init or an explicit Register call) and read
// concurrently thereafter, so no lock guards lookups.
type TypeTable struct {
	ops map[TypeCode]TypeOps
}

func NewTypeTable() *TypeTable {
	return &TypeTable{ops: make(map[TypeCode]TypeOps)}
}

func (t *TypeTable) Register(code TypeCode, ops TypeOps) {
	t.ops[code] = ops
}

func (t *TypeTable) Lookup(code TypeCode) (TypeOps, bool) {
	ops, ok := t.ops[code]
	return ops, ok
}
