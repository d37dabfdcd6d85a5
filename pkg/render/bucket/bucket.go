// Package bucket implements the tile-rendering job of spec.md §4.8: one
// bucket job owns a rectangular region of the frame buffer and one of
// the {Frame, FinalGatherInitial, FinalGatherRefine} passes. It is
// grounded on original_source/eiAPI/ei_base_bucket.c's base-bucket
// setup (accessing options/camera, iterating light instances, seeding
// a per-job decorrelated random generator) and on ei_photon.h's
// EI_BUCKET_FRAME/EI_BUCKET_PHOTON_GI/EI_BUCKET_PHOTON_CAUSTIC pass
// split, expressed here as the Pass enum. The actual intersection and
// shading math those buckets drove is explicitly out of scope
// (spec.md's Non-goals); this executor stands in for it by calling
// pkg/node's shader-instance evaluator once per pixel, which is the
// real seam spec.md asks the core to provide.
package bucket

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"math/rand"

	"github.com/cuemby/rayfield/pkg/connection"
	"github.com/cuemby/rayfield/pkg/container"
	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/node"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/tag"
)

// Pass names the render pass a bucket job belongs to.
type Pass uint32

const (
	PassFrame Pass = iota
	PassFinalGatherInitial
	PassFinalGatherRefine
)

func (p Pass) String() string {
	switch p {
	case PassFrame:
		return "frame"
	case PassFinalGatherInitial:
		return "final_gather_initial"
	case PassFinalGatherRefine:
		return "final_gather_refine"
	default:
		return "unknown"
	}
}

// TypeCode is the record type registered for bucket job payloads.
const TypeCode record.TypeCode = 20

// FrameBufferTypeCode is the record type for the full-image pixel
// accumulation buffer a bucket job writes its tile's rectangle into -
// a flat array of packed float32 RGBA quads, row-major over the whole
// image so every bucket job can address its rect by stride alone.
const FrameBufferTypeCode record.TypeCode = 21

// LightListTypeCode is the record type for a bucket job's light
// instance list: a flat array of tag.Tag values, the Go analogue of
// ei_base_bucket.c's light_insts_iter data-table iteration.
const LightListTypeCode record.TypeCode = 22

const jobFieldCount = 12
const jobSize = jobFieldCount * 4

// Job is the fixed-layout payload of one bucket job record: the tile
// rectangle, the full frame-buffer width (needed to compute this
// tile's stride into the shared buffer), and every tag the executor
// needs to reach the scene.
type Job struct {
	MinX, MinY, MaxX, MaxY int32
	FBWidth                int32
	Opt                    tag.Tag
	Cam                    tag.Tag
	LightInstances         tag.Tag
	FrameBuffer            tag.Tag
	PhotonMap              tag.Tag
	IrradianceCache        tag.Tag
	Pass                   Pass
}

// Rect returns the job's tile as an image.Rectangle.
func (j *Job) Rect() image.Rectangle {
	return image.Rect(int(j.MinX), int(j.MinY), int(j.MaxX), int(j.MaxY))
}

// Encode marshals j into its fixed-layout wire/storage form.
func (j *Job) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, jobSize))
	_ = binary.Write(buf, binary.LittleEndian, j)
	return buf.Bytes()
}

// DecodeJob unmarshals a bucket job record payload.
func DecodeJob(payload []byte) (*Job, error) {
	if len(payload) != jobSize {
		return nil, fmt.Errorf("bucket: job payload is %d bytes, want %d", len(payload), jobSize)
	}
	var j Job
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &j); err != nil {
		return nil, fmt.Errorf("bucket: decode job: %w", err)
	}
	return &j, nil
}

// ByteSwap reverses every 4-byte field of a bucket job payload -
// registered as the job type's record.TypeOps.ByteSwap so a job
// record minted on one host's byte order decodes correctly on
// another (spec.md §4.4: record payloads are sender-native, swapped
// on arrival by the destination record's own TypeOps).
func ByteSwap(payload []byte) {
	for i := 0; i+4 <= len(payload); i += 4 {
		v := binary.LittleEndian.Uint32(payload[i : i+4])
		binary.LittleEndian.PutUint32(payload[i:i+4], container.Swap32(v))
	}
}

// NewJob allocates a tag for a bucket job record and submits its
// payload, leaving it ready for Manager.Submit.
func NewJob(db *database.Database, j Job) (tag.Tag, error) {
	t, lease, err := db.Create(TypeCode, jobSize, record.FlagFlushable)
	if err != nil {
		return tag.Null, err
	}
	copy(lease.Payload, j.Encode())
	return t, db.End(t)
}

// NewFrameBuffer allocates the pinned, whole-image accumulation
// buffer bucket jobs write their tiles into.
func NewFrameBuffer(db *database.Database, width, height int) (tag.Tag, error) {
	t, _, err := db.Create(FrameBufferTypeCode, width*height*4*4, 0)
	if err != nil {
		return tag.Null, err
	}
	return t, db.End(t)
}

// NewLightList allocates a light instance list record from lights.
func NewLightList(db *database.Database, lights []tag.Tag) (tag.Tag, error) {
	payload := make([]byte, len(lights)*4)
	for i, l := range lights {
		binary.LittleEndian.PutUint32(payload[i*4:i*4+4], uint32(l))
	}
	t, lease, err := db.Create(LightListTypeCode, len(payload), 0)
	if err != nil {
		return tag.Null, err
	}
	copy(lease.Payload, payload)
	return t, db.End(t)
}

func decodeLightList(payload []byte) []tag.Tag {
	lights := make([]tag.Tag, 0, len(payload)/4)
	for i := 0; i+4 <= len(payload); i += 4 {
		lights = append(lights, tag.Tag(binary.LittleEndian.Uint32(payload[i:i+4])))
	}
	return lights
}

// Scratch is the per-worker-thread state a bucket executor reuses
// across jobs: a decorrelated random generator, seeded the way
// ei_build_approx_bucket seeds randGen from EI_DEFAULT_RANDOM_SEED
// plus a per-job offset, so neighboring threads don't correlate their
// sampling patterns.
type Scratch struct {
	RNG *rand.Rand
}

// shadePoint is the opaque per-pixel State CallShaderInstance expects;
// the real shading engine that would fill it in with a ray's
// intersection data is out of scope here.
type shadePoint struct {
	X, Y int
}

// NewExecutor returns the scheduler.Executor for bucket jobs. sys
// evaluates shader instances against each pixel; holder reaches
// whichever Connection the render currently in progress installed via
// Manager.BeginRender - this Executor is registered once at process
// startup, long before any particular render's Connection exists.
func NewExecutor(sys *node.System, holder *connection.Holder) scheduler.Executor {
	return func(ctx context.Context, db record.Accessor, jobTag tag.Tag, tls *interface{}) (scheduler.Result, error) {
		jobLease, err := db.Access(jobTag)
		if err != nil {
			return scheduler.ResultFailed, fmt.Errorf("bucket: access job: %w", err)
		}
		job, err := DecodeJob(jobLease.Payload)
		if derr := db.End(jobTag); derr != nil && err == nil {
			err = derr
		}
		if err != nil {
			return scheduler.ResultFailed, err
		}

		width := int(job.MaxX - job.MinX)
		height := int(job.MaxY - job.MinY)
		if width <= 0 || height <= 0 {
			return scheduler.ResultFailed, fmt.Errorf("bucket: empty rect %v", job.Rect())
		}

		scratch, _ := (*tls).(*Scratch)
		if scratch == nil {
			scratch = &Scratch{RNG: rand.New(rand.NewSource(int64(jobTag)))}
			*tls = scratch
		}

		var lights []tag.Tag
		if job.LightInstances.Valid() {
			listLease, err := db.Access(job.LightInstances)
			if err != nil {
				return scheduler.ResultFailed, fmt.Errorf("bucket: access light list: %w", err)
			}
			lights = decodeLightList(listLease.Payload)
			if err := db.End(job.LightInstances); err != nil {
				return scheduler.ResultFailed, err
			}
		}

		fbLease, err := db.Access(job.FrameBuffer)
		if err != nil {
			return scheduler.ResultFailed, fmt.Errorf("bucket: access frame buffer: %w", err)
		}

		for y := 0; y < height; y++ {
			if y%16 == 0 {
				select {
				case <-ctx.Done():
					_ = db.End(job.FrameBuffer)
					return scheduler.ResultAborted, ctx.Err()
				default:
				}
			}
			for x := 0; x < width; x++ {
				color, err := shadePixel(sys, lights, shadePoint{X: int(job.MinX) + x, Y: int(job.MinY) + y})
				if err != nil {
					_ = db.End(job.FrameBuffer)
					return scheduler.ResultFailed, err
				}
				writePixel(fbLease.Payload, int(job.FBWidth), int(job.MinX)+x, int(job.MinY)+y, color)
			}
		}
		if err := db.End(job.FrameBuffer); err != nil {
			return scheduler.ResultFailed, err
		}

		metrics.BucketsRendered.Inc()
		holder.Get().UpdateTile(connection.TileResult{Rect: job.Rect(), Pass: job.Pass.String()})
		return scheduler.ResultOK, nil
	}
}

// shadePixel evaluates every light instance's shader against point and
// composites the result with straight alpha-over, the same
// accumulation CallShaderList uses for a material's shader list.
func shadePixel(sys *node.System, lights []tag.Tag, point shadePoint) (node.Color, error) {
	if sys == nil || len(lights) == 0 {
		return node.Color{}, nil
	}
	return sys.CallShaderList(lights, point, nil)
}

func writePixel(fb []byte, fbWidth, x, y int, c node.Color) {
	offset := (y*fbWidth + x) * 16
	if offset+16 > len(fb) {
		return
	}
	putFloat32(fb[offset:], c.R)
	putFloat32(fb[offset+4:], c.G)
	putFloat32(fb[offset+8:], c.B)
	putFloat32(fb[offset+12:], c.Opacity)
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
