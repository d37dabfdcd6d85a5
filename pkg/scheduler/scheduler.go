package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cuemby/rayfield/pkg/events"
	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/tag"
)

// Queue is the shared FIFO job queue described in spec.md §4.3: a
// buffered channel of job tags, each naming a record whose type code
// selects its Executor. Workers pull from it; when the buffer is
// full, Submit blocks, which is the queue's own backpressure.
type Queue struct {
	ch     chan tag.Tag
	closed int32
}

// NewQueue creates a job queue with room for depth pending jobs
// before Submit blocks.
func NewQueue(depth int) *Queue {
	return &Queue{ch: make(chan tag.Tag, depth)}
}

// Submit enqueues a job tag, blocking if the queue is full. It
// returns false if the queue has already been closed.
func (q *Queue) Submit(t tag.Tag) bool {
	if atomic.LoadInt32(&q.closed) != 0 {
		return false
	}
	q.ch <- t
	metrics.QueueDepth.Set(float64(len(q.ch)))
	return true
}

// Next blocks until a job is available, the queue closes, or ctx is
// cancelled.
func (q *Queue) Next(ctx context.Context) (tag.Tag, bool) {
	select {
	case t, ok := <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return t, ok
	case <-ctx.Done():
		return tag.Null, false
	}
}

// Close stops the queue from accepting new jobs; workers already
// blocked in Next still drain whatever was buffered before it closed.
func (q *Queue) Close() {
	if atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Len reports the number of jobs currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// WorkerID identifies one execution unit in the pool, local or
// remote. The manager assigns ids in allocation order; 0 is reserved
// for the manager's own host.
type WorkerID uint32

// RemoteDispatcher is the subset of a transport connection the
// scheduler needs in order to run a job on a remote host: forward
// process_job(tag), block for job_finished, and surface a
// lost-connection or protocol-violation error if the peer goes away
// mid-job. pkg/transport.RemoteWorker satisfies this without the
// scheduler importing the wire-level types directly.
type RemoteDispatcher interface {
	RunJob(ctx context.Context, job tag.Tag) (Result, error)
}

// Pool runs jobs pulled from a Queue across a fixed set of local
// worker goroutines and, optionally, remote dispatchers reached over
// the network (spec.md §4.3's "master host owns the authoritative
// queue; workers pull jobs").
type Pool struct {
	queue     *Queue
	executors *ExecutorTable
	db        record.Accessor
	broker    *events.Broker
	abort     int32

	mu       sync.Mutex
	remotes  map[WorkerID]RemoteDispatcher
	limiters map[WorkerID]*rate.Limiter
	group    *errgroup.Group
}

// remoteInFlightLimit sets each remote worker's rate.Limiter: at most
// this many process_job dispatches per second, with a burst of the
// same size. Each dispatch consumes one token. The number of jobs
// outstanding on a remote is bounded separately: runRemote sends one
// process_job and waits for its job_finished before taking the next
// job, so a remote never has more than one job in flight.
const remoteInFlightLimit = 4

// NewPool builds a worker pool over queue, dispatching jobs through
// executors against db. broker, if non-nil, receives
// job_started/job_finished/worker_evicted events for a Process
// tracker to observe.
func NewPool(queue *Queue, executors *ExecutorTable, db record.Accessor, broker *events.Broker) *Pool {
	return &Pool{
		queue:     queue,
		executors: executors,
		db:        db,
		broker:    broker,
		remotes:   make(map[WorkerID]RemoteDispatcher),
		limiters:  make(map[WorkerID]*rate.Limiter),
		group:     &errgroup.Group{},
	}
}

// Abort sets the cooperative cancellation flag every executor polls
// at its next coarse boundary (spec.md §4.3 "Suspension & blocking").
// Every in-flight and subsequently dequeued job observes it.
func (p *Pool) Abort() {
	atomic.StoreInt32(&p.abort, 1)
}

// Aborted reports whether Abort has been called.
func (p *Pool) Aborted() bool {
	return atomic.LoadInt32(&p.abort) != 0
}

// Reset clears the abort flag; called when the scene resets and a new
// render begins.
func (p *Pool) Reset() {
	atomic.StoreInt32(&p.abort, 0)
}

// StartLocal launches n local worker goroutines pulling from the
// pool's queue until it closes.
func (p *Pool) StartLocal(n int) {
	metrics.WorkersActive.Add(float64(n))
	for i := 0; i < n; i++ {
		id := WorkerID(i + 1)
		p.publish(events.WorkerJoined, map[string]interface{}{"worker": uint32(id)})
		p.group.Go(func() error {
			p.runLocal(id)
			return nil
		})
	}
}

// AddRemote registers a remote dispatcher as worker id, making it
// eligible to pull jobs from the same queue as local workers. A
// rate.Limiter caps how fast jobs are dispatched to this worker; see
// remoteInFlightLimit.
func (p *Pool) AddRemote(id WorkerID, d RemoteDispatcher) {
	limiter := rate.NewLimiter(rate.Limit(remoteInFlightLimit), remoteInFlightLimit)
	p.mu.Lock()
	p.remotes[id] = d
	p.limiters[id] = limiter
	p.mu.Unlock()
	metrics.WorkersActive.Inc()
	p.publish(events.WorkerJoined, map[string]interface{}{"worker": uint32(id)})
	p.group.Go(func() error {
		p.runRemote(id, d, limiter)
		return nil
	})
}

// EvictRemote drops a remote worker after a failed connection or
// protocol violation (spec.md §4.3 "Failure semantics").
func (p *Pool) EvictRemote(id WorkerID) {
	p.mu.Lock()
	_, existed := p.remotes[id]
	delete(p.remotes, id)
	delete(p.limiters, id)
	p.mu.Unlock()
	if existed {
		metrics.WorkersEvicted.Inc()
		metrics.WorkersActive.Dec()
		p.publish(events.WorkerEvicted, nil)
	}
}

// Wait blocks until every worker goroutine has returned, which
// happens once the queue is closed and drained. The error return is
// always nil today (workers run to queue closure, not to failure) but
// is kept so a future hard worker failure can propagate without an
// API change.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

func (p *Pool) runLocal(id WorkerID) {
	logger := log.WithComponent("scheduler").With().Uint32("worker", uint32(id)).Str("role", "local").Logger()
	ctx := context.Background()
	tls := make(map[record.TypeCode]interface{})
	for {
		job, ok := p.queue.Next(ctx)
		if !ok {
			p.publish(events.WorkerFinished, map[string]interface{}{"worker": uint32(id)})
			return
		}
		p.dispatch(ctx, job, tls, &logger)
	}
}

func (p *Pool) runRemote(id WorkerID, d RemoteDispatcher, limiter *rate.Limiter) {
	logger := log.WithComponent("scheduler").With().Uint32("worker", uint32(id)).Str("role", "remote").Logger()
	ctx := context.Background()
	for {
		job, ok := p.queue.Next(ctx)
		if !ok {
			p.publish(events.WorkerFinished, map[string]interface{}{"worker": uint32(id)})
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			p.queue.Submit(job)
			return
		}
		p.publish(events.JobStarted, map[string]interface{}{"tag": uint32(job)})
		timer := metrics.NewTimer()
		result, err := d.RunJob(ctx, job)
		if err != nil {
			logger.Warn().Uint32("tag", uint32(job)).Err(err).Msg("remote job failed, evicting worker and requeuing")
			p.EvictRemote(id)
			p.queue.Submit(job)
			return
		}
		timer.ObserveDurationVec(metrics.JobLatency, "render")
		p.recordResult(job, result, &logger)
	}
}

// dispatch runs one job locally: look up its executor by the job
// record's type code, run it with cooperative-abort context, report
// the result.
func (p *Pool) dispatch(ctx context.Context, job tag.Tag, tls map[record.TypeCode]interface{}, logger *zerolog.Logger) {
	p.publish(events.JobStarted, map[string]interface{}{"tag": uint32(job)})
	timer := metrics.NewTimer()

	lease, err := p.db.Access(job)
	if err != nil {
		logger.Warn().Uint32("tag", uint32(job)).Err(err).Msg("could not access job record")
		p.recordResult(job, ResultFailed, logger)
		return
	}
	typeCode := lease.Header.Type
	_ = p.db.End(job)

	executor, ok := p.executors.Lookup(typeCode)
	if !ok {
		logger.Error().Uint32("tag", uint32(job)).Uint32("type", uint32(typeCode)).Msg("no executor registered for job type")
		p.recordResult(job, ResultFailed, logger)
		return
	}

	runCtx := ctx
	if p.Aborted() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		cancel()
	}

	slot := tls[typeCode]
	result, err := executor(runCtx, p.db, job, &slot)
	tls[typeCode] = slot
	if err != nil {
		logger.Warn().Uint32("tag", uint32(job)).Err(err).Msg("job executor returned error")
		if result == ResultOK {
			result = ResultFailed
		}
	}
	timer.ObserveDurationVec(metrics.JobLatency, "render")
	p.recordResult(job, result, logger)
}

func (p *Pool) recordResult(job tag.Tag, result Result, logger *zerolog.Logger) {
	label := "ok"
	switch result {
	case ResultFailed:
		label = "failed"
	case ResultAborted:
		label = "aborted"
	}
	metrics.JobsFinished.WithLabelValues("render", label).Inc()
	p.publish(events.JobFinished, map[string]interface{}{"tag": uint32(job), "result": int(result)})
}

func (p *Pool) publish(kind events.EventType, data map[string]interface{}) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(&events.Event{Type: kind, Data: data})
}
