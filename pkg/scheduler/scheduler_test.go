package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/connection"
	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/events"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/tag"
)

const testJobType record.TypeCode = 100

func newTestPool(t *testing.T, executor Executor) (*Pool, *database.Database, *Queue) {
	t.Helper()
	types := record.NewTypeTable()
	db := database.New(database.Options{Host: 1}, types)
	executors := NewExecutorTable()
	executors.Register(testJobType, executor)
	queue := NewQueue(16)
	pool := NewPool(queue, executors, db, nil)
	return pool, db, queue
}

func submitJob(t *testing.T, db *database.Database, queue *Queue) tag.Tag {
	t.Helper()
	tg, _, err := db.Create(testJobType, 0, 0)
	require.NoError(t, err)
	require.NoError(t, db.End(tg))
	require.True(t, queue.Submit(tg))
	return tg
}

func TestPoolRunsSubmittedJobToCompletion(t *testing.T) {
	var ran int32
	pool, db, queue := newTestPool(t, func(ctx context.Context, db record.Accessor, job tag.Tag, tls *interface{}) (Result, error) {
		atomic.AddInt32(&ran, 1)
		return ResultOK, nil
	})
	submitJob(t, db, queue)
	pool.StartLocal(1)
	queue.Close()
	pool.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPoolContinuesAfterFailedJob(t *testing.T) {
	var ran int32
	pool, db, queue := newTestPool(t, func(ctx context.Context, db record.Accessor, job tag.Tag, tls *interface{}) (Result, error) {
		n := atomic.AddInt32(&ran, 1)
		if n == 1 {
			return ResultFailed, nil
		}
		return ResultOK, nil
	})
	submitJob(t, db, queue)
	submitJob(t, db, queue)
	pool.StartLocal(1)
	queue.Close()
	pool.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

func TestPoolUnknownExecutorReportsFailed(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	types := record.NewTypeTable()
	db := database.New(database.Options{Host: 1}, types)
	executors := NewExecutorTable() // nothing registered
	queue := NewQueue(4)
	pool := NewPool(queue, executors, db, broker)

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	submitJob(t, db, queue)
	pool.StartLocal(1)
	queue.Close()
	pool.Wait()

	var sawFailed bool
	for {
		select {
		case ev := <-sub:
			if ev.Type == events.JobFinished {
				if r, ok := ev.Data["result"].(int); ok && Result(r) == ResultFailed {
					sawFailed = true
				}
			}
		case <-time.After(50 * time.Millisecond):
			assert.True(t, sawFailed, "expected a job.finished event with a failed result")
			return
		}
	}
}

type fakeRemote struct {
	result Result
	err    error
	calls  int32
}

func (f *fakeRemote) RunJob(ctx context.Context, job tag.Tag) (Result, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

func TestRemoteWorkerFailureEvictsAndRequeues(t *testing.T) {
	types := record.NewTypeTable()
	db := database.New(database.Options{Host: 1}, types)
	executors := NewExecutorTable()
	var localRan int32
	executors.Register(testJobType, func(ctx context.Context, db record.Accessor, job tag.Tag, tls *interface{}) (Result, error) {
		atomic.AddInt32(&localRan, 1)
		return ResultOK, nil
	})
	queue := NewQueue(4)
	pool := NewPool(queue, executors, db, nil)

	tg := submitJob(t, db, queue)

	bad := &fakeRemote{err: assertErr{}}
	pool.AddRemote(1, bad)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		pool.mu.Lock()
		_, stillPresent := pool.remotes[1]
		pool.mu.Unlock()
		if !stillPresent {
			break
		}
		time.Sleep(time.Millisecond)
	}

	pool.StartLocal(1)
	queue.Close()
	pool.Wait()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&bad.calls), int32(1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&localRan))
	_ = tg
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated remote failure" }

func TestProcessTracksCompletionPercentage(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	pool, db, queue := newTestPool(t, func(ctx context.Context, db record.Accessor, job tag.Tag, tls *interface{}) (Result, error) {
		return ResultOK, nil
	})
	proc := NewProcess(pool, broker, connection.Null{}, 2)
	defer proc.Close()

	submitJob(t, db, queue)
	submitJob(t, db, queue)
	pool.StartLocal(1)
	queue.Close()
	pool.Wait()

	require.Eventually(t, func() bool {
		return proc.Finished() == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, float64(1), proc.Percent())
}

func TestProcessAbortsPoolWhenProgressDeclines(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	pool, db, queue := newTestPool(t, func(ctx context.Context, db record.Accessor, job tag.Tag, tls *interface{}) (Result, error) {
		return ResultOK, nil
	})

	declining := &decliningConnection{}
	proc := NewProcess(pool, broker, declining, 1)
	defer proc.Close()

	submitJob(t, db, queue)
	pool.StartLocal(1)
	queue.Close()
	pool.Wait()

	require.Eventually(t, func() bool {
		return pool.Aborted()
	}, time.Second, time.Millisecond)
}

type decliningConnection struct{ connection.Null }

func (decliningConnection) Progress(float64) bool { return false }
