package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cuemby/rayfield/pkg/connection"
	"github.com/cuemby/rayfield/pkg/events"
	"github.com/cuemby/rayfield/pkg/metrics"
)

// Process observes the job_started/job_finished/worker_finished event
// stream from a Pool's broker, maintains a completion percentage, and
// polls the embedding application through a connection.Connection
// (spec.md §4.3 "Progress & abort"). Returning false from the
// connection's Progress callback aborts every in-flight job at its
// next cancellation point.
type Process struct {
	// RenderID distinguishes overlapping BeginRender calls in log
	// lines and metrics exemplars; it has no protocol meaning.
	RenderID string

	conn  connection.Connection
	pool  *Pool
	total int64

	mu        sync.Mutex
	started   int64
	finished  int64
	failed    int64
	workersUp int64

	done chan struct{}
}

// NewProcess creates a progress tracker for total jobs, observing
// broker and aborting pool when the application declines to continue.
// total is the number of jobs this render is expected to submit; it
// only affects the percentage reported to conn.Progress, never
// scheduling itself.
func NewProcess(pool *Pool, broker *events.Broker, conn connection.Connection, total int) *Process {
	if conn == nil {
		conn = connection.Null{}
	}
	p := &Process{RenderID: uuid.NewString(), conn: conn, pool: pool, total: int64(total), done: make(chan struct{})}
	if broker != nil {
		sub := broker.Subscribe()
		go p.run(broker, sub)
	}
	return p
}

func (p *Process) run(broker *events.Broker, sub events.Subscriber) {
	defer broker.Unsubscribe(sub)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			p.handle(ev)
		case <-p.done:
			return
		}
	}
}

func (p *Process) handle(ev *events.Event) {
	switch ev.Type {
	case events.JobStarted:
		atomic.AddInt64(&p.started, 1)
	case events.JobFinished:
		atomic.AddInt64(&p.finished, 1)
		if result, ok := ev.Data["result"].(int); ok && Result(result) != ResultOK {
			atomic.AddInt64(&p.failed, 1)
		}
		p.reportProgress()
	case events.WorkerFinished:
		atomic.AddInt64(&p.workersUp, -1)
	case events.WorkerJoined:
		atomic.AddInt64(&p.workersUp, 1)
	}
}

func (p *Process) reportProgress() {
	pct := p.Percent()
	metrics.RenderProgress.Set(pct)
	if !p.conn.Progress(pct) {
		p.pool.Abort()
	}
	if p.conn.CheckAbort() {
		p.pool.Abort()
	}
}

// Percent returns the current completion ratio in [0,1]. If total was
// never set (total == 0), it reports 0 until Finished reaches a
// positive count, then 1 - open-ended renders have no meaningful
// fractional progress.
func (p *Process) Percent() float64 {
	total := atomic.LoadInt64(&p.total)
	if total <= 0 {
		if atomic.LoadInt64(&p.finished) > 0 {
			return 1
		}
		return 0
	}
	finished := atomic.LoadInt64(&p.finished)
	pct := float64(finished) / float64(total)
	if pct > 1 {
		pct = 1
	}
	return pct
}

// Started, Finished, and Failed report raw event counts for callers
// that want more than the percentage (CLI summary output, tests).
func (p *Process) Started() int64  { return atomic.LoadInt64(&p.started) }
func (p *Process) Finished() int64 { return atomic.LoadInt64(&p.finished) }
func (p *Process) Failed() int64   { return atomic.LoadInt64(&p.failed) }

// Close stops the tracker's event subscription. Safe to call more
// than once.
func (p *Process) Close() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}
