/*
Package scheduler implements the FIFO job queue and worker pool of
spec.md §4.3: parallel OS threads (or remote hosts) pull tagged job
records from a shared queue, dispatching each to the Executor
registered for the job record's type code.

# Architecture

A Queue is a buffered channel of job tags. A Pool runs a fixed set of
local worker goroutines and, optionally, RemoteDispatcher stubs
representing peer hosts reached over pkg/transport, all pulling from
the same Queue. Workers may complete out of order; only explicit
data-dependencies expressed through pkg/dataflow generators impose any
ordering.

A failed local job reports ResultFailed without stopping the pool. A
failed remote dispatch (lost connection, protocol violation) evicts
that worker and re-submits its job to the queue for another worker to
pick up - spec.md §4.3's "Failure semantics."

Cancellation is cooperative: Pool.Abort sets a flag every dispatched
job's context carries as already-cancelled, and executors are expected
to recheck ctx at coarse boundaries (per scanline, per photon batch)
rather than expect the scheduler to interrupt them.

Process subscribes to the Pool's event broker to maintain a completion
percentage and poll the embedding application's connection.Connection
for whether to keep going, per spec.md §4.3 "Progress & abort."

# Usage

	executors := scheduler.NewExecutorTable()
	executors.Register(bucketJobType, bucketExecutor)

	queue := scheduler.NewQueue(256)
	broker := events.NewBroker()
	broker.Start()

	pool := scheduler.NewPool(queue, executors, db, broker)
	pool.StartLocal(runtime.NumCPU())

	proc := scheduler.NewProcess(pool, broker, conn, len(tiles))
	for _, t := range tiles {
		queue.Submit(t)
	}
	queue.Close()
	pool.Wait()
*/
package scheduler
