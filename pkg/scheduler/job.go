// Package scheduler implements the job queue and worker pool that
// execute tessellation, bucket, and photon jobs across local threads
// and, when configured, remote hosts reached through pkg/transport.
package scheduler

import (
	"context"

	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/tag"
)

// Result is the outcome reported by job_finished: zero means success,
// any non-zero value is carried back to the master as a failure code
// without aborting the remaining queue.
type Result int

const (
	ResultOK Result = iota
	ResultFailed
	ResultAborted
)

// Executor runs one job's payload. ctx carries cooperative abort: the
// pool passes an already-cancelled ctx once Pool.Abort has been
// called (see Pool.Aborted); tls points at the calling worker's
// thread-local scratch slot, reused across jobs on the same worker to
// avoid per-job allocation of sample pools and RNG state. An Executor
// that allocates its scratch on first use (*tls == nil) must store it
// back through the pointer so the next job on this worker reuses it.
type Executor func(ctx context.Context, db record.Accessor, job tag.Tag, tls *interface{}) (Result, error)

// ExecutorTable maps a job record's TypeCode to the Executor that
// knows how to run it -- the scheduler never switches on job kind
// directly, mirroring the database's own type-code dispatch.
type ExecutorTable struct {
	executors map[record.TypeCode]Executor
}

func NewExecutorTable() *ExecutorTable {
	return &ExecutorTable{executors: make(map[record.TypeCode]Executor)}
}

func (t *ExecutorTable) Register(code record.TypeCode, fn Executor) {
	t.executors[code] = fn
}

func (t *ExecutorTable) Lookup(code record.TypeCode) (Executor, bool) {
	fn, ok := t.executors[code]
	return fn, ok
}
