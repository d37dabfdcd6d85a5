/*
Package reconciler detects dead remote workers before a real job
dispatch would otherwise surface the failure.

Spec.md §4.3 specifies that "a failed worker (socket closed, protocol
violation) is evicted; its outstanding jobs are re-queued to the
remaining workers." The requeue itself is handled inline by
pkg/scheduler's remote dispatch path the moment a process_job request
fails. This package closes the remaining gap: a worker that has gone
silent but currently has no job in flight would otherwise stay
registered, accepting jobs that are doomed to fail, until the next
dispatch attempt notices.

Reconciler runs a ticker loop that periodically sends a lightweight
check_abort ping to every peer in a transport.Registry. A peer that
fails to answer within a short timeout is removed from the registry
and evicted from the scheduler's worker pool, and a worker.evicted
event is published on the broker for any subscriber to observe.

# Usage

	rec := reconciler.New(registry, pool, broker).WithInterval(5 * time.Second)
	rec.Start()
	defer rec.Stop()
*/
package reconciler
