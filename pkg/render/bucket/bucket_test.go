package bucket

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/connection"
	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/node"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/tag"
)

func newTestDB() *database.Database {
	types := record.NewTypeTable()
	types.Register(TypeCode, record.TypeOps{Name: "bucket_job", ByteSwap: ByteSwap})
	return database.New(database.Options{Host: 1}, types)
}

func TestJobEncodeDecodeRoundTrip(t *testing.T) {
	j := Job{MinX: 0, MinY: 0, MaxX: 16, MaxY: 16, FBWidth: 64, Opt: 1, Cam: 2, Pass: PassFinalGatherInitial}
	got, err := DecodeJob(j.Encode())
	require.NoError(t, err)
	assert.Equal(t, j, *got)
}

func TestDecodeJobRejectsWrongSize(t *testing.T) {
	_, err := DecodeJob([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestByteSwapIsInvolution(t *testing.T) {
	j := Job{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4, FBWidth: 8, Pass: PassFrame}
	payload := j.Encode()
	original := append([]byte(nil), payload...)
	ByteSwap(payload)
	ByteSwap(payload)
	assert.Equal(t, original, payload)
}

func TestPassString(t *testing.T) {
	assert.Equal(t, "frame", PassFrame.String())
	assert.Equal(t, "final_gather_initial", PassFinalGatherInitial.String())
	assert.Equal(t, "final_gather_refine", PassFinalGatherRefine.String())
}

type fakeConn struct {
	tiles []connection.TileResult
}

func (c *fakeConn) Progress(float64) bool { return true }
func (c *fakeConn) UpdateTile(tile connection.TileResult) {
	c.tiles = append(c.tiles, tile)
}
func (c *fakeConn) CheckAbort() bool { return false }

func TestExecutorRendersTileAndPushesUpdateTile(t *testing.T) {
	types := record.NewTypeTable()
	types.Register(TypeCode, record.TypeOps{Name: "bucket_job", ByteSwap: ByteSwap})
	db := database.New(database.Options{Host: 1}, types)
	fbTag, err := NewFrameBuffer(db, 8, 8)
	require.NoError(t, err)

	sys := node.NewSystem(db, types)
	desc := &node.Descriptor{Name: "point_light"}
	require.NoError(t, sys.RegisterDescriptor(desc))
	sys.RegisterShaderFunc("point_light", func(params map[string]node.Value, state node.State, arg interface{}) (node.Color, error) {
		return node.Color{R: 1, G: 0.5, B: 0.25, Opacity: 1}, nil
	})
	lightInstTag, err := sys.CreateNode("point_light")
	require.NoError(t, err)

	listTag, err := NewLightList(db, []tag.Tag{lightInstTag})
	require.NoError(t, err)

	job := Job{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4, FBWidth: 8, LightInstances: listTag, FrameBuffer: fbTag, Pass: PassFrame}
	jobTag, err := NewJob(db, job)
	require.NoError(t, err)

	holder := connection.NewHolder()
	conn := &fakeConn{}
	holder.Swap(conn)

	exec := NewExecutor(sys, holder)
	var tls interface{}
	result, err := exec(context.Background(), db, jobTag, &tls)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultOK, result)
	require.Len(t, conn.tiles, 1)
	assert.Equal(t, "frame", conn.tiles[0].Pass)

	fbLease, err := db.Access(fbTag)
	require.NoError(t, err)
	defer db.End(fbTag)
	r := binary.LittleEndian.Uint32(fbLease.Payload[0:4])
	assert.NotZero(t, r)
}

func TestExecutorPersistsScratchAcrossJobs(t *testing.T) {
	types := record.NewTypeTable()
	types.Register(TypeCode, record.TypeOps{Name: "bucket_job", ByteSwap: ByteSwap})
	db := database.New(database.Options{Host: 1}, types)
	fbTag, err := NewFrameBuffer(db, 8, 8)
	require.NoError(t, err)

	sys := node.NewSystem(db, record.NewTypeTable())
	holder := connection.NewHolder()
	holder.Swap(&fakeConn{})
	exec := NewExecutor(sys, holder)

	job := Job{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2, FBWidth: 8, FrameBuffer: fbTag, Pass: PassFrame}
	jobTag, err := NewJob(db, job)
	require.NoError(t, err)

	var tls interface{}
	_, err = exec(context.Background(), db, jobTag, &tls)
	require.NoError(t, err)
	require.NotNil(t, tls, "executor must store its allocated scratch back through the tls pointer")
	first, ok := tls.(*Scratch)
	require.True(t, ok)

	jobTag2, err := NewJob(db, job)
	require.NoError(t, err)
	_, err = exec(context.Background(), db, jobTag2, &tls)
	require.NoError(t, err)
	second, ok := tls.(*Scratch)
	require.True(t, ok)
	assert.Same(t, first, second, "scratch must be reused across jobs on the same worker, not reallocated")
}

func TestExecutorFailsOnUnknownJobPayload(t *testing.T) {
	db := newTestDB()
	sys := node.NewSystem(db, record.NewTypeTable())
	holder := connection.NewHolder()
	badTag, _, err := db.Create(TypeCode, 3, 0)
	require.NoError(t, err)
	require.NoError(t, db.End(badTag))

	exec := NewExecutor(sys, holder)
	var tls interface{}
	_, err = exec(context.Background(), db, badTag, &tls)
	assert.Error(t, err)
}
