package main

import (
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/render/bucket"
	"github.com/cuemby/rayfield/pkg/render/photon"
)

// buildTypeTable registers every record type rayfieldd's manager and
// worker roles need to agree on byte-for-byte: the bucket/photon job
// payloads and their map/frame-buffer targets. Scene-graph node types
// (pkg/node) are process-local and carry no ByteSwap of their own, so
// they are not registered here.
func buildTypeTable() *record.TypeTable {
	types := record.NewTypeTable()
	types.Register(bucket.TypeCode, record.TypeOps{Name: "bucket_job", ByteSwap: bucket.ByteSwap})
	types.Register(bucket.FrameBufferTypeCode, record.TypeOps{Name: "frame_buffer"})
	types.Register(bucket.LightListTypeCode, record.TypeOps{Name: "light_list"})
	types.Register(photon.TypeCode, record.TypeOps{Name: "photon_job", ByteSwap: photon.ByteSwap})
	types.Register(photon.MapTypeCode, record.TypeOps{Name: "photon_map"})
	return types
}
