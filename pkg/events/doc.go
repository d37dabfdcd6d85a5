/*
Package events provides an in-memory event broker used to observe the
scheduler's job and worker lifecycle (spec.md §4.3): "a process object
observes the stream of job_started / job_finished / worker_finished
events, maintains a completion percentage."

# Architecture

A single Broker fans out every published Event to all current
subscribers over buffered channels; a full subscriber buffer skips
rather than blocks the publisher.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.JobFinished:
				tag := event.Data["tag"].(uint32)
				_ = tag
			case events.WorkerEvicted:
				// requeue handled by the scheduler itself; this is for
				// progress tracking and logging only
			}
		}
	}()

	broker.Publish(&events.Event{
		Type: events.JobStarted,
		Data: map[string]interface{}{"tag": uint32(42)},
	})

# Integration points

  - pkg/scheduler publishes job_started/job_finished/worker_finished,
    worker_joined, and worker_evicted (from Pool.EvictRemote).
  - pkg/reconciler publishes worker_evicted after evicting a dead
    remote worker.
  - pkg/scheduler's Process tracker (created by pkg/manager's
    BeginRender) subscribes to compute completion percentage and drive
    the application's progress callback.

# Limitations

In-memory only, no persistence or replay, best-effort delivery (a slow
subscriber drops events rather than stalling the broker). None of
these matter for progress reporting, which only cares about the most
recent state.
*/
package events
