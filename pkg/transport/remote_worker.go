package transport

import (
	"context"
	"fmt"

	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/tag"
)

// RemoteWorker forwards process_job requests to a peer host and
// blocks for job_finished, implementing scheduler.RemoteDispatcher
// over a live Conn (spec.md §4.3: "Remote worker is a stub
// representing a peer host; it forwards process_job(tag) as a
// message, awaits job_finished").
type RemoteWorker struct {
	Conn *Conn
}

// RunJob implements scheduler.RemoteDispatcher. A transport-level
// error (lost connection, protocol violation) is returned as-is so
// the scheduler can evict this worker and re-queue the job; a
// successfully received job_finished with a non-zero result is
// translated into scheduler.ResultFailed without an error, matching
// spec.md §4.3's "failed job reports a non-zero result... continues
// processing remaining jobs."
func (w *RemoteWorker) RunJob(ctx context.Context, job tag.Tag) (scheduler.Result, error) {
	metrics.MessagesSent.WithLabelValues(MsgProcessJob.String()).Inc()
	if err := w.Conn.Send(MsgProcessJob, &ProcessJob{JobTag: uint32(job)}); err != nil {
		return scheduler.ResultFailed, err
	}
	msgType, err := w.Conn.RecvType()
	if err != nil {
		return scheduler.ResultFailed, err
	}
	if msgType != MsgJobFinished {
		return scheduler.ResultFailed, fmt.Errorf("transport: process_job reply: unexpected message %s", msgType)
	}
	var reply JobFinished
	if err := w.Conn.ReadParam(&reply); err != nil {
		return scheduler.ResultFailed, err
	}
	metrics.MessagesReceived.WithLabelValues(MsgJobFinished.String()).Inc()
	if reply.Result != 0 {
		return scheduler.ResultFailed, nil
	}
	return scheduler.ResultOK, nil
}
