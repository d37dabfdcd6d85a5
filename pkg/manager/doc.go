/*
Package manager implements RayField's manager role (spec.md §4.3): the
single authoritative host in a render. The manager owns the tagged
database, mints every tag handed out during the render, queues jobs
and dispatches them across a local worker pool and any connected
remote workers/servers, and persists just enough state - the tag
high-water mark and the known-host table - to resume after a restart.

Unlike the teacher's Raft-quorum control plane, a RayField manager is
not elected and does not replicate its state to peers: spec.md §9 and
SPEC_FULL.md's non-goals call for a single authoritative host, not a
consensus cluster, so Manager composes the pieces below directly
rather than proposing commands through a replicated log.

# Architecture

	┌───────────────────────── MANAGER ─────────────────────────┐
	│                                                             │
	│  pkg/storage.TagStore    durable tag high-water mark,      │
	│                          known-host reconnection table     │
	│                                                             │
	│  pkg/database.Database   the tagged, leased record store   │
	│                                                             │
	│  pkg/scheduler.Queue +   FIFO job queue, local + remote     │
	│       .Pool              worker dispatch, abort flag       │
	│                                                             │
	│  pkg/transport.Registry  connected peer bookkeeping         │
	│       .Listener           accepts worker/server handshakes  │
	│                                                             │
	│  pkg/reconciler          pings idle peers, evicts the dead  │
	│                                                             │
	│  pkg/events.Broker       job/worker lifecycle pub/sub       │
	│                                                             │
	│  MetricsCollector        polls database occupancy gauges    │
	│                                                             │
	└─────────────────────────────────────────────────────────────┘

New wires a Database, a Queue/ExecutorTable/Pool, a peer Registry, and
a Reconciler together over a shared Broker. Start opens the transport
Listener, brings up nthreads local workers, and begins reconciliation;
every accepted peer connection is registered and added to the pool as
a RemoteDispatcher via onPeerConnected. BeginRender hands the caller a
scheduler.Process that drives an application-supplied
connection.Connection's progress and abort callbacks as jobs complete.

# Usage

	types := record.NewTypeTable()
	types.Register(bucketType, bucketOps)

	mgr, err := manager.New(manager.Config{
		DataDir:    "/var/lib/rayfield",
		ListenAddr: ":9000",
		MemLimit:   2 << 30,
		Checksum:   protocolChecksum,
	}, types)
	if err != nil {
		log.Fatal(err)
	}
	mgr.RegisterExecutor(bucketType, renderBucket)

	if err := mgr.Start(runtime.NumCPU()); err != nil {
		log.Fatal(err)
	}
	defer mgr.Stop()

	proc := mgr.BeginRender(conn, totalBuckets)
	for _, job := range buckets {
		mgr.Submit(job)
	}
	proc.Close()
*/
package manager
