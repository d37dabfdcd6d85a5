/*
Package worker implements RayField's worker role (spec.md §4.3): a
process that holds no authoritative state of its own and exists only
to execute jobs the manager hands it.

A worker never dials out and never mints tags. It listens for
connections the manager opens after negotiating create_threads - one
connection per thread slot - and each connection's goroutine loops
independently, pulling process_job/job_finished requests against the
worker's own local database.Database. A job record the worker doesn't
already hold is fetched on demand over the very same connection via
send_data, after the manager has told the worker its type code with a
prior create_data (the worker tracks tag -> type code locally so a
later fetch knows how to byte-swap and dispatch the record once
received).

This mirrors the teacher's LocalWorker/Server split in spirit - a
thin peer-side listener spawning one goroutine per unit of work - but
trades Warren's heartbeat/container-lifecycle loop for the render
job's single request/response cycle: there is no separate status-sync
ticker because job_finished on the same connection already tells the
manager everything it needs to know.

# Usage

	types := record.NewTypeTable()
	types.Register(bucketType, bucketOps)

	w := worker.New(worker.Config{
		ListenAddr: ":9001",
		MemLimit:   1 << 30,
		Checksum:   protocolChecksum,
	}, types)
	w.RegisterExecutor(bucketType, renderBucket)

	if err := w.Start(); err != nil {
		log.Fatal(err)
	}
	defer w.Stop()
*/
package worker
