package reconciler

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/transport"
)

// serveCheckAbort answers every check_abort request on nc with
// is_aborted{0} until nc is closed, simulating a live, healthy peer.
func serveCheckAbort(t *testing.T, nc net.Conn) {
	t.Helper()
	c := transport.NewConn(nc)
	for {
		msgType, err := c.RecvType()
		if err != nil {
			return
		}
		if msgType != transport.MsgCheckAbort {
			return
		}
		if err := c.Send(transport.MsgIsAborted, &transport.IsAborted{}); err != nil {
			return
		}
	}
}

func newTestPool(t *testing.T) *scheduler.Pool {
	t.Helper()
	types := record.NewTypeTable()
	db := database.New(database.Options{Host: 1}, types)
	return scheduler.NewPool(scheduler.NewQueue(4), scheduler.NewExecutorTable(), db, nil)
}

func TestReconcilerKeepsResponsivePeer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go serveCheckAbort(t, server)

	registry := transport.NewRegistry()
	registry.Add(&transport.Peer{Host: 7, Role: transport.RoleWorker, Conn: transport.NewConn(client)})

	pool := newTestPool(t)
	rec := New(registry, pool, nil).WithInterval(5 * time.Millisecond)
	rec.Start()
	defer rec.Stop()

	time.Sleep(30 * time.Millisecond)
	_, ok := registry.Get(7)
	assert.True(t, ok, "responsive peer should not be evicted")
}

func TestReconcilerEvictsUnresponsivePeer(t *testing.T) {
	client, server := net.Pipe()
	server.Close() // peer never answers check_abort

	registry := transport.NewRegistry()
	registry.Add(&transport.Peer{Host: 9, Role: transport.RoleWorker, Conn: transport.NewConn(client)})

	pool := newTestPool(t)
	rec := New(registry, pool, nil).WithInterval(5 * time.Millisecond)
	rec.Start()
	defer rec.Stop()

	require.Eventually(t, func() bool {
		_, ok := registry.Get(9)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
