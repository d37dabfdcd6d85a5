package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/tag"
	"github.com/cuemby/rayfield/pkg/transport"
)

const testType record.TypeCode = 1

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	types := record.NewTypeTable()
	w := New(Config{ListenAddr: "127.0.0.1:0", Checksum: 0xC0FFEE}, types)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWorkerRunsJobFetchedOverTheWire(t *testing.T) {
	w := newTestWorker(t)
	w.RegisterExecutor(testType, func(_ context.Context, db record.Accessor, job tag.Tag, _ interface{}) (scheduler.Result, error) {
		lease, err := db.Access(job)
		if err != nil {
			return scheduler.ResultFailed, err
		}
		defer db.End(job)
		lease.Payload[0] = 0xAB
		return scheduler.ResultOK, nil
	})

	c, err := transport.DialHost(w.Addr(), 0xC0FFEE, transport.HostID(0))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(transport.MsgCreateThreads, &transport.CreateThreads{N: 1}))
	msgType, err := c.RecvType()
	require.NoError(t, err)
	require.Equal(t, transport.MsgThreadCreated, msgType)
	var created transport.ThreadCreated
	require.NoError(t, c.ReadParam(&created))
	require.Equal(t, uint32(1), created.NumThreads)

	const jobTag = uint32(42)
	require.NoError(t, c.Send(transport.MsgCreateData, &transport.CreateData{
		Type: uint32(testType),
		Size: 4,
		Tag:  jobTag,
	}))
	msgType, err = c.RecvType()
	require.NoError(t, err)
	require.Equal(t, transport.MsgGeneric, msgType)
	var ack transport.Generic
	require.NoError(t, c.ReadParam(&ack))

	require.NoError(t, c.Send(transport.MsgProcessJob, &transport.ProcessJob{JobTag: jobTag}))

	msgType, err = c.RecvType()
	require.NoError(t, err)
	require.Equal(t, transport.MsgSendData, msgType)
	var req transport.SendData
	require.NoError(t, c.ReadParam(&req))
	require.Equal(t, jobTag, req.Tag)
	require.NoError(t, c.SendPayload(true, []byte{1, 2, 3, 4}))

	msgType, err = c.RecvType()
	require.NoError(t, err)
	require.Equal(t, transport.MsgJobFinished, msgType)
	var reply transport.JobFinished
	require.NoError(t, c.ReadParam(&reply))
	require.Equal(t, int32(scheduler.ResultOK), reply.Result)
}

func TestWorkerAnswersCheckAbort(t *testing.T) {
	w := newTestWorker(t)

	c, err := transport.DialHost(w.Addr(), 0xC0FFEE, transport.HostID(0))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping(time.Second))
}
