// Package connection defines the explicit context object a render
// host hands to its scheduler and executors in place of a process-wide
// callback singleton (spec.md §9's redesign: process-wide singletons
// become explicit context objects passed down the call stack). A
// Connection is the application's window into a running render: it
// receives progress updates, tile completions, and answers whether the
// application wants to keep going.
package connection

import (
	"image"
	"sync/atomic"
)

// TileResult is one completed bucket job's output, handed to the
// application as soon as the bucket executor finishes - tile arrival
// order is not guaranteed (spec.md §4.3 "Ordering").
type TileResult struct {
	Rect image.Rectangle
	Pass string // "frame", "final_gather_initial", "final_gather_refine"
}

// Connection is implemented by the embedding application (a CLI
// driver, a preview window, a batch render farm controller). All
// methods may be called concurrently from multiple worker goroutines
// and must not block the caller for long: the scheduler polls
// Progress and CheckAbort at coarse per-job boundaries, so a slow
// implementation directly slows render cancellation latency.
type Connection interface {
	// Progress reports the current completion ratio in [0,1].
	// Returning false requests that all in-flight jobs abort at their
	// next cancellation point.
	Progress(pct float64) bool

	// UpdateTile is called once per completed bucket job.
	UpdateTile(tile TileResult)

	// CheckAbort reports whether the application has independently
	// requested cancellation (e.g. a user clicked Cancel) since the
	// last call.
	CheckAbort() bool
}

// Null is a Connection that never aborts and ignores every update -
// used by headless invocations (batch render CLI, tests) that have no
// interactive progress surface to drive.
type Null struct{}

func (Null) Progress(float64) bool { return true }
func (Null) UpdateTile(TileResult) {}
func (Null) CheckAbort() bool      { return false }

// Holder lets long-lived executors (registered once at startup) reach
// whichever Connection the current render is using, since a bucket or
// photon job's Executor closure is built before BeginRender knows
// which Connection this particular render was given. Swap is called
// once per BeginRender; Get is called from worker goroutines and is
// safe to call concurrently with Swap.
type Holder struct {
	v atomic.Value
}

// NewHolder creates a Holder defaulting to Null{} until the first Swap.
func NewHolder() *Holder {
	h := &Holder{}
	h.v.Store(Connection(Null{}))
	return h
}

// Swap installs conn as the current render's Connection, defaulting
// to Null{} if conn is nil.
func (h *Holder) Swap(conn Connection) {
	if conn == nil {
		conn = Null{}
	}
	h.v.Store(conn)
}

// Get returns the currently installed Connection.
func (h *Holder) Get() Connection {
	return h.v.Load().(Connection)
}
