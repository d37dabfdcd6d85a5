// Package container implements the lock-free and slab-allocated building
// blocks the rest of RayField is built on: a dynamic array, a block-indexed
// table, an AVL tree, an intrusive list, a fixed-size pool, a tag-indexed
// data map, a single-word reader/writer lock, and a string intern table.
//
// These mirror the eiCORE primitives of the renderer this runtime replaces:
// small, dependency-free containers meant to be embedded in hot paths
// without per-call heap churn. None of the examples this repository is
// built from ship an equivalent package, so this one is plain standard
// library - see DESIGN.md for why no third-party container library was a
// better fit.
package container

import "sync/atomic"

// Atomic32 is a CAS/fetch-add/masked-AND/OR capable 32-bit counter, the Go
// equivalent of eiAtomic. Reads and writes use the standard library's
// sequentially consistent atomics, which already provide the read/write
// fences ei_read_barrier/ei_write_barrier existed to express by hand.
type Atomic32 struct {
	v int32
}

func NewAtomic32(initial int32) *Atomic32 { return &Atomic32{v: initial} }

func (a *Atomic32) Read() int32 { return atomic.LoadInt32(&a.v) }

func (a *Atomic32) Set(val int32) { atomic.StoreInt32(&a.v, val) }

func (a *Atomic32) Inc() int32 { return atomic.AddInt32(&a.v, 1) }

func (a *Atomic32) Dec() int32 { return atomic.AddInt32(&a.v, -1) }

func (a *Atomic32) Add(delta int32) int32 { return atomic.AddInt32(&a.v, delta) }

func (a *Atomic32) CAS(old, new int32) bool { return atomic.CompareAndSwapInt32(&a.v, old, new) }

func (a *Atomic32) Swap(new int32) int32 { return atomic.SwapInt32(&a.v, new) }

// And applies a bitwise AND and returns the resulting value.
func (a *Atomic32) And(mask int32) int32 {
	for {
		old := a.Read()
		new := old & mask
		if a.CAS(old, new) {
			return new
		}
	}
}

// Or applies a bitwise OR and returns the resulting value.
func (a *Atomic32) Or(mask int32) int32 {
	for {
		old := a.Read()
		new := old | mask
		if a.CAS(old, new) {
			return new
		}
	}
}

// ReadBarrier, WriteBarrier and FullBarrier exist to name the fences
// explicitly at call sites that care about ordering against non-atomic
// memory, even though the Go memory model already gives every atomic
// operation acquire/release semantics.
func ReadBarrier()  { atomic.LoadInt32(&fence) }
func WriteBarrier() { atomic.StoreInt32(&fence, atomic.LoadInt32(&fence)) }
func FullBarrier()  { atomic.AddInt32(&fence, 0) }

var fence int32
