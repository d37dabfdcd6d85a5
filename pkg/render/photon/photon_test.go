package photon

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/tag"
)

func newTestDB() *database.Database {
	types := record.NewTypeTable()
	types.Register(TypeCode, record.TypeOps{Name: "photon_job", ByteSwap: ByteSwap})
	types.Register(MapTypeCode, record.TypeOps{Name: "photon_map"})
	return database.New(database.Options{Host: 1}, types)
}

func TestJobEncodeDecodeRoundTrip(t *testing.T) {
	j := Job{Opt: 1, Cam: 2, NumTargetPhotons: 1000, Kind: KindCaustic, HaltonNum: 5}
	got, err := DecodeJob(j.Encode())
	require.NoError(t, err)
	assert.Equal(t, j, *got)
}

func TestByteSwapIsInvolution(t *testing.T) {
	j := Job{Opt: 1, Cam: 2, NumTargetPhotons: 42, Kind: KindGlobalIllumination}
	payload := j.Encode()
	original := append([]byte(nil), payload...)
	ByteSwap(payload)
	ByteSwap(payload)
	assert.Equal(t, original, payload)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "caustic", KindCaustic.String())
	assert.Equal(t, "globillum", KindGlobalIllumination.String())
}

func fixedEmitter(count int) Emitter {
	return func(job *Job, rng *rand.Rand, n int) []Photon {
		if n > count {
			n = count
		}
		count -= n
		out := make([]Photon, n)
		for i := range out {
			out[i] = Photon{X: 1, Y: 2, Z: 3}
		}
		return out
	}
}

func TestExecutorDepositsPhotonsIntoTargetMap(t *testing.T) {
	db := newTestDB()
	mapTag, err := NewMap(db)
	require.NoError(t, err)

	job := Job{NumTargetPhotons: 10, Kind: KindCaustic, CausticPhotons: mapTag, HaltonNum: 1}
	jobTag, err := NewJob(db, job)
	require.NoError(t, err)

	exec := NewExecutor(fixedEmitter(10), 0)
	var tls interface{}
	result, err := exec(context.Background(), db, jobTag, &tls)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultOK, result)

	lease, err := db.Access(mapTag)
	require.NoError(t, err)
	defer db.End(mapTag)
	assert.Equal(t, 10*photonSize, len(lease.Payload))
}

func TestExecutorTruncatesAtMaxPhotonsWithoutFailing(t *testing.T) {
	db := newTestDB()
	mapTag, err := NewMap(db)
	require.NoError(t, err)

	job := Job{NumTargetPhotons: 1000, Kind: KindGlobalIllumination, GlobalIllumPhotons: mapTag, HaltonNum: 2}
	jobTag, err := NewJob(db, job)
	require.NoError(t, err)

	exec := NewExecutor(fixedEmitter(50), 50)
	var tls interface{}
	result, err := exec(context.Background(), db, jobTag, &tls)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultOK, result)

	lease, err := db.Access(mapTag)
	require.NoError(t, err)
	defer db.End(mapTag)
	assert.Equal(t, 50*photonSize, len(lease.Payload))
}

func TestExecutorDefaultEmitterLeavesMapEmpty(t *testing.T) {
	db := newTestDB()
	mapTag, err := NewMap(db)
	require.NoError(t, err)

	job := Job{NumTargetPhotons: 5, Kind: KindCaustic, CausticPhotons: mapTag, HaltonNum: 3}
	jobTag, err := NewJob(db, job)
	require.NoError(t, err)

	exec := NewExecutor(nil, 0)
	var tls interface{}
	result, err := exec(context.Background(), db, jobTag, &tls)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultOK, result)

	lease, err := db.Access(mapTag)
	require.NoError(t, err)
	defer db.End(mapTag)
	assert.Equal(t, 0, len(lease.Payload))
}

func TestExecutorPersistsScratchAcrossJobs(t *testing.T) {
	db := newTestDB()
	mapTag, err := NewMap(db)
	require.NoError(t, err)

	exec := NewExecutor(fixedEmitter(10), 0)
	var tls interface{}

	job1 := Job{NumTargetPhotons: 1, Kind: KindCaustic, CausticPhotons: mapTag, HaltonNum: 1}
	jobTag1, err := NewJob(db, job1)
	require.NoError(t, err)
	_, err = exec(context.Background(), db, jobTag1, &tls)
	require.NoError(t, err)
	require.NotNil(t, tls, "executor must store its allocated scratch back through the tls pointer")
	first, ok := tls.(*Scratch)
	require.True(t, ok)

	job2 := Job{NumTargetPhotons: 1, Kind: KindCaustic, CausticPhotons: mapTag, HaltonNum: 2}
	jobTag2, err := NewJob(db, job2)
	require.NoError(t, err)
	_, err = exec(context.Background(), db, jobTag2, &tls)
	require.NoError(t, err)
	second, ok := tls.(*Scratch)
	require.True(t, ok)
	assert.Same(t, first, second, "scratch must be reused across jobs on the same worker, not reallocated")
}

func TestTargetMapSelectsByKind(t *testing.T) {
	j := &Job{CausticPhotons: tag.Tag(1), GlobalIllumPhotons: tag.Tag(2), Kind: KindCaustic}
	assert.Equal(t, tag.Tag(1), targetMap(j))
	j.Kind = KindGlobalIllumination
	assert.Equal(t, tag.Tag(2), targetMap(j))
}
