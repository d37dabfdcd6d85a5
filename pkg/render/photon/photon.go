// Package photon implements the photon emission/tracing/deposition job
// of spec.md §4.8, grounded on original_source/eiAPI/ei_photon.h's
// eiPhotonJob (options/camera, a light flux histogram for importance
// sampling, a target photon count, a photon kind, a Halton sequence
// offset, and the caustic/globillum output map tags) and eiPhoton's
// compact stored representation (quantized direction as a
// theta/phi byte pair plus an RGBE-packed power, not a full float
// vector per photon). The emitter/tracer/deposition numerics
// themselves are the ray-tracing engine's job and out of scope here;
// this executor owns the job's bookkeeping and truncation contract.
package photon

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"reflect"

	"github.com/cuemby/rayfield/pkg/container"
	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/tag"
)

// Kind names the photon map a job contributes to.
type Kind uint32

const (
	KindCaustic Kind = iota
	KindGlobalIllumination
)

func (k Kind) String() string {
	switch k {
	case KindCaustic:
		return "caustic"
	case KindGlobalIllumination:
		return "globillum"
	default:
		return "unknown"
	}
}

// TypeCode is the record type registered for photon job payloads.
const TypeCode record.TypeCode = 30

// MapTypeCode is the record type for a photon map: a flat array of
// Photon entries, appended to by every job that targets it.
const MapTypeCode record.TypeCode = 31

// photonSize is one eiPhoton's encoded size: 3 float32 position
// components, 1 byte theta, 1 byte phi, 4-byte RGBE power.
const photonSize = 12 + 1 + 1 + 4

// Photon is the compact stored form of one deposited photon -
// position plus a quantized direction and power, mirroring eiPhoton
// rather than a full float32 direction vector, since every deposited
// photon pays this cost and the quantization error is below the
// renderer's sampling noise floor.
type Photon struct {
	X, Y, Z   float32
	Theta     byte // quantized incoming elevation, 0-255 over [0,pi]
	Phi       byte // quantized incoming azimuth, 0-255 over [0,2pi)
	PowerRGBE [4]byte
}

func (p Photon) encode() []byte {
	buf := make([]byte, photonSize)
	binary.LittleEndian.PutUint32(buf[0:4], floatBits(p.X))
	binary.LittleEndian.PutUint32(buf[4:8], floatBits(p.Y))
	binary.LittleEndian.PutUint32(buf[8:12], floatBits(p.Z))
	buf[12] = p.Theta
	buf[13] = p.Phi
	copy(buf[14:18], p.PowerRGBE[:])
	return buf
}

const jobFieldCount = 10
const jobSize = jobFieldCount * 4

// Job is the fixed-layout payload of one photon job record.
type Job struct {
	Opt                tag.Tag
	Cam                tag.Tag
	LightFluxHistogram tag.Tag
	NumTargetPhotons   int32
	Kind               Kind
	CausticPhotons     tag.Tag
	GlobalIllumPhotons tag.Tag
	HaltonNum          int32
	LightInstances     tag.Tag
	_pad               int32 // keeps the layout a round field count; reserved
}

// Encode marshals j into its fixed-layout wire/storage form.
func (j *Job) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, jobSize))
	_ = binary.Write(buf, binary.LittleEndian, j)
	return buf.Bytes()
}

// DecodeJob unmarshals a photon job record payload.
func DecodeJob(payload []byte) (*Job, error) {
	if len(payload) != jobSize {
		return nil, fmt.Errorf("photon: job payload is %d bytes, want %d", len(payload), jobSize)
	}
	var j Job
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &j); err != nil {
		return nil, fmt.Errorf("photon: decode job: %w", err)
	}
	return &j, nil
}

// ByteSwap reverses every 4-byte field of a photon job payload - see
// bucket.ByteSwap for why record payloads need their own swap rather
// than relying on the transport layer's control-message endianness.
func ByteSwap(payload []byte) {
	for i := 0; i+4 <= len(payload); i += 4 {
		v := binary.LittleEndian.Uint32(payload[i : i+4])
		binary.LittleEndian.PutUint32(payload[i:i+4], container.Swap32(v))
	}
}

// NewJob allocates a tag for a photon job record and submits its
// payload, leaving it ready for Manager.Submit.
func NewJob(db *database.Database, j Job) (tag.Tag, error) {
	t, lease, err := db.Create(TypeCode, jobSize, record.FlagFlushable)
	if err != nil {
		return tag.Null, err
	}
	copy(lease.Payload, j.Encode())
	return t, db.End(t)
}

// NewMap allocates an empty, flushable photon map record that photon
// jobs targeting it will append to.
func NewMap(db *database.Database) (tag.Tag, error) {
	t, _, err := db.Create(MapTypeCode, 0, record.FlagFlushable)
	if err != nil {
		return tag.Null, err
	}
	return t, db.End(t)
}

// Emitter emits up to n photons for a job, returning however many it
// actually produced; the ray tracer it would drive to test scene
// intersection is out of scope for this package, so the default
// Emitter used by NewExecutor simply answers the target count as a
// stand-in for a real light-flux-weighted emission. Tests and an
// embedding renderer may supply their own Emitter that performs the
// actual trace.
type Emitter func(job *Job, rng *rand.Rand, n int) []Photon

// DefaultEmitter is a no-op stand-in: it reports success without
// producing photon data, leaving the map untouched. It exists so
// NewExecutor has a usable default before a real ray-tracing emitter
// is wired in.
func DefaultEmitter(job *Job, rng *rand.Rand, n int) []Photon {
	return nil
}

// Scratch is the per-worker-thread state a photon executor reuses
// across jobs: a Halton-sequence-decorrelated random generator.
type Scratch struct {
	RNG *rand.Rand
}

// NewExecutor returns the scheduler.Executor for photon jobs. emit
// performs the actual emission/trace/deposit; maxPhotons bounds a
// single job's deposit count, truncating (not failing) the job if hit,
// per spec.md §4.8's "Partial failure ... is not fatal" rule.
func NewExecutor(emit Emitter, maxPhotons int) scheduler.Executor {
	if emit == nil {
		emit = DefaultEmitter
	}
	if reflect.ValueOf(emit).Pointer() == reflect.ValueOf(DefaultEmitter).Pointer() {
		log.WithComponent("photon").Warn().Msg("no ray-tracing emitter registered, photon jobs will deposit zero photons")
	}
	return func(ctx context.Context, db record.Accessor, jobTag tag.Tag, tls *interface{}) (scheduler.Result, error) {
		jobLease, err := db.Access(jobTag)
		if err != nil {
			return scheduler.ResultFailed, fmt.Errorf("photon: access job: %w", err)
		}
		job, err := DecodeJob(jobLease.Payload)
		if derr := db.End(jobTag); derr != nil && err == nil {
			err = derr
		}
		if err != nil {
			return scheduler.ResultFailed, err
		}

		scratch, _ := (*tls).(*Scratch)
		if scratch == nil {
			scratch = &Scratch{RNG: rand.New(rand.NewSource(int64(job.HaltonNum) + 1))}
			*tls = scratch
		}

		target := int(job.NumTargetPhotons)
		if maxPhotons > 0 && target > maxPhotons {
			target = maxPhotons
		}

		const batchSize = 256
		deposited := 0
		truncated := false
		for deposited < target {
			select {
			case <-ctx.Done():
				return scheduler.ResultAborted, ctx.Err()
			default:
			}

			n := batchSize
			if target-deposited < n {
				n = target - deposited
			}
			batch := emit(job, scratch.RNG, n)
			if len(batch) == 0 {
				truncated = true
				break
			}
			if err := depositBatch(db, targetMap(job), batch); err != nil {
				return scheduler.ResultFailed, err
			}
			deposited += len(batch)
			if len(batch) < n {
				truncated = true
				break
			}
		}

		metrics.PhotonsDeposited.WithLabelValues(job.Kind.String()).Add(float64(deposited))
		if truncated {
			metrics.PhotonsTruncated.WithLabelValues(job.Kind.String()).Inc()
		}
		return scheduler.ResultOK, nil
	}
}

func targetMap(job *Job) tag.Tag {
	if job.Kind == KindCaustic {
		return job.CausticPhotons
	}
	return job.GlobalIllumPhotons
}

// depositBatch appends encoded photons to mapTag's record, resizing it
// to fit - the Go analogue of ei_photon_map growing its backing array
// one deposit at a time.
func depositBatch(db record.Accessor, mapTag tag.Tag, photons []Photon) error {
	if !mapTag.Valid() || len(photons) == 0 {
		return nil
	}
	lease, err := db.Access(mapTag)
	if err != nil {
		return fmt.Errorf("photon: access map: %w", err)
	}
	base := len(lease.Payload)
	grown, err := db.Resize(mapTag, base+len(photons)*photonSize)
	if err != nil {
		_ = db.End(mapTag)
		return fmt.Errorf("photon: resize map: %w", err)
	}
	for i, p := range photons {
		copy(grown.Payload[base+i*photonSize:], p.encode())
	}
	return db.End(mapTag)
}

func floatBits(v float32) uint32 {
	return math.Float32bits(v)
}
