// Package transport implements the framed request/response protocol
// that connects the manager, remote workers, and servers described in
// spec.md §4.4: every message on the wire is a 4-byte message type
// followed by a fixed-layout parameter record, both canonically
// little-endian regardless of either host's native byte order. Only
// record payload blobs that ride along with send_data/data_generated
// carry sender-native bytes, byte-swapped on arrival by the
// destination record's own TypeOps.ByteSwap (pkg/record), not by this
// package - see DESIGN.md for why the control channel and the record
// payloads use two different endianness rules.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType names one request or reply in the lifecycle table of
// spec.md §4.4. The wire representation is a plain uint32, not an
// enumerated tag union, so a peer running a newer protocol version can
// still frame-skip messages it doesn't understand.
type MessageType uint32

const (
	MsgHostAllocated MessageType = iota + 1
	MsgHostAuthorized
	MsgCreateThreads
	MsgThreadCreated
	MsgLink
	MsgSetScene
	MsgUpdateScene
	MsgEndScene
	MsgAllocateTag
	MsgTagAllocated
	MsgProcessJob
	MsgJobFinished
	MsgCreateData
	MsgDataGenerated
	MsgDeleteData
	MsgSendData
	MsgDataInfo
	MsgFlushData
	MsgCheckAbort
	MsgIsAborted
	MsgStepProgress
	MsgGeneric
	MsgDisconnect
)

func (m MessageType) String() string {
	switch m {
	case MsgHostAllocated:
		return "host_allocated"
	case MsgHostAuthorized:
		return "host_authorized"
	case MsgCreateThreads:
		return "create_threads"
	case MsgThreadCreated:
		return "thread_created"
	case MsgLink:
		return "link"
	case MsgSetScene:
		return "set_scene"
	case MsgUpdateScene:
		return "update_scene"
	case MsgEndScene:
		return "end_scene"
	case MsgAllocateTag:
		return "allocate_tag"
	case MsgTagAllocated:
		return "tag_allocated"
	case MsgProcessJob:
		return "process_job"
	case MsgJobFinished:
		return "job_finished"
	case MsgCreateData:
		return "create_data"
	case MsgDataGenerated:
		return "data_generated"
	case MsgDeleteData:
		return "delete_data"
	case MsgSendData:
		return "send_data"
	case MsgDataInfo:
		return "data_info"
	case MsgFlushData:
		return "flush_data"
	case MsgCheckAbort:
		return "check_abort"
	case MsgIsAborted:
		return "is_aborted"
	case MsgStepProgress:
		return "step_progress"
	case MsgGeneric:
		return "generic"
	case MsgDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("message(%d)", uint32(m))
	}
}

// ModuleNameSize is the fixed width of the Link message's module name
// field - plugin module names are short and this keeps the request a
// fixed-layout record with no length prefix of its own.
const ModuleNameSize = 128

// HostAllocated is the handshake request a connecting host sends
// first: its own checksum (protocol/version fingerprint), its
// assigned host id, and its native endianness so the manager can
// decide whether either side needs to byte-swap record payloads.
type HostAllocated struct {
	Checksum1 uint32
	Host      uint32
	MgrEndian uint32 // 0 = little-endian, 1 = big-endian
}

// HostAuthorized is the manager's handshake reply: its own checksum,
// a Result code (0 = ok), and NeedByteswap telling the connecting
// host whether record payloads crossing this connection require a
// byte-swap on arrival.
type HostAuthorized struct {
	Checksum2    uint32
	Result       int32
	NeedByteswap uint32
}

type CreateThreads struct{ N uint32 }
type ThreadCreated struct{ NumThreads uint32 }

type Link struct{ ModuleName [ModuleNameSize]byte }

type SetScene struct{ SceneTag uint32 }

type AllocateTag struct{ Host uint32 }
type TagAllocated struct{ Tag uint32 }

type ProcessJob struct{ JobTag uint32 }
type JobFinished struct{ Result int32 }

type CreateData struct {
	Type uint32
	Size uint32
	Flag uint32
	Tag  uint32
	Host uint32
}
type DataGenerated struct {
	Tag  uint32
	Host uint32
}

type DeleteData struct {
	Tag  uint32
	Host uint32
}

// SendData requests a peer transfer a record's current bytes. DeferInit
// carries the record's FlagDeferInit bit so the receiving side knows
// whether to mark the inserted copy for lazy regeneration rather than
// treating the transferred bytes as final.
type SendData struct {
	Tag       uint32
	DeferInit uint32
}

// DataInfo is the send_data reply's fixed header; Size raw payload
// bytes follow immediately on the connection, read by the caller
// after decoding this struct.
type DataInfo struct {
	Size   uint32
	Inited uint32
}

type FlushData struct {
	Tag  uint32
	Host uint32
}

type IsAborted struct{ Abort uint32 }

type StepProgress struct{ Count uint32 }

// Generic is the catch-all reply for requests whose only meaningful
// response is a result code: link, set_scene, update_scene, end_scene,
// delete_data, flush_data, step_progress, disconnect.
type Generic struct{ Result int32 }

// wireOrder is the canonical byte order for every control message on
// the wire, independent of either host's native endianness.
var wireOrder = binary.LittleEndian

// WriteParam encodes a fixed-layout parameter struct in wire order.
// param must be a pointer to a struct of fixed-size fields only
// (uint32/int32/[N]byte), matching every type defined above.
func WriteParam(w io.Writer, param interface{}) error {
	return binary.Write(w, wireOrder, param)
}

// ReadParam decodes a fixed-layout parameter struct from wire order
// into param, which must be a pointer to one of the structs above.
func ReadParam(r io.Reader, param interface{}) error {
	return binary.Read(r, wireOrder, param)
}

func linkModuleName(name string) [ModuleNameSize]byte {
	var buf [ModuleNameSize]byte
	copy(buf[:ModuleNameSize-1], name)
	return buf
}

// NewLink builds a Link request for module name, truncating to
// ModuleNameSize-1 bytes plus a trailing NUL if it overruns.
func NewLink(moduleName string) Link {
	return Link{ModuleName: linkModuleName(moduleName)}
}

// ModuleNameString recovers the module name string from a Link request,
// trimming at the first NUL byte.
func (l Link) ModuleNameString() string {
	n := 0
	for n < len(l.ModuleName) && l.ModuleName[n] != 0 {
		n++
	}
	return string(l.ModuleName[:n])
}
