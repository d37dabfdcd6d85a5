package transport

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/cuemby/rayfield/pkg/rferrors"
)

// Empty is the zero-length parameter record used by requests that
// carry no fields of their own: update_scene, end_scene, check_abort,
// disconnect.
type Empty struct{}

// HostID names a participant in the render cluster: the manager is
// always host 0, and a connecting host declares its own id in the
// host_allocated handshake message, which the accepting side records
// as PeerHost.
type HostID uint32

// Conn wraps one framed connection to a peer host. Every Send is
// serialized behind a mutex so concurrent goroutines issuing requests
// on the same socket (the scheduler's RemoteWorker and the database's
// flush path, say) don't interleave partial frames.
type Conn struct {
	nc           net.Conn
	mu           sync.Mutex
	recvMu       sync.Mutex
	PeerHost     HostID
	NeedByteswap bool // true if the peer's native endianness differs from ours
}

// NewConn wraps an already-connected net.Conn. The handshake
// (NegotiateClient/NegotiateServer) still needs to run before the
// connection is usable for anything but the handshake messages
// themselves.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Dial opens a plain, unauthenticated TCP connection to addr. It
// exists for tests and any deployment that has deliberately opted out
// of host-identity verification; DialTLS is what every manager/worker
// process actually calls once pkg/security has issued it a
// certificate.
func Dial(addr string) (*Conn, error) {
	return DialTLS(addr, nil)
}

// DialTLS connects to addr, mutually authenticating with tlsConfig if
// non-nil (the certificate and peer trust pool pkg/security.Bootstrap
// returns) or falling back to a bare TCP socket if tlsConfig is nil.
func DialTLS(addr string, tlsConfig *tls.Config) (*Conn, error) {
	if tlsConfig != nil {
		nc, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		return NewConn(nc), nil
	}
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}

func (c *Conn) Close() error { return c.nc.Close() }

// Ping round-trips a check_abort/is_aborted exchange within timeout,
// used by the reconciler to detect a dead worker before a real job
// dispatch would otherwise surface the failure.
func (c *Conn) Ping(timeout time.Duration) error {
	if err := c.nc.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer c.nc.SetDeadline(time.Time{})

	if err := c.Send(MsgCheckAbort, nil); err != nil {
		return err
	}
	msgType, err := c.RecvType()
	if err != nil {
		return err
	}
	if msgType != MsgIsAborted {
		return fmt.Errorf("%w: expected is_aborted, got %s", rferrors.ErrProtocolViolation, msgType)
	}
	var reply IsAborted
	return c.ReadParam(&reply)
}

// Send writes one frame: a 4-byte message type followed by param's
// fixed-layout encoding, both in wire (little-endian) order.
func (c *Conn) Send(msgType MessageType, param interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := binary.Write(c.nc, wireOrder, uint32(msgType)); err != nil {
		return fmt.Errorf("transport: write type %s: %w", msgType, err)
	}
	if param != nil {
		if err := WriteParam(c.nc, param); err != nil {
			return fmt.Errorf("transport: write params for %s: %w", msgType, err)
		}
	}
	return nil
}

// SendRaw appends len(payload) raw bytes after a frame already
// written by Send - used for send_data/data_generated's trailing
// record payload blob, which is never byte-swapped by the transport
// layer itself (see pkg/transport's package doc).
func (c *Conn) SendRaw(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.nc.Write(payload)
	return err
}

// RecvType blocks until the next frame's message type arrives. The
// caller must follow with ReadParam(conn, &matchingStruct) to consume
// that message's parameter record before the next RecvType call, or
// the stream desyncs - this is the one suspension point the transport
// exposes per spec.md §4.3/§5 (a blocking socket read with an implicit
// length prefix of "whatever this message type's struct size is").
func (c *Conn) RecvType() (MessageType, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	var raw uint32
	if err := binary.Read(c.nc, wireOrder, &raw); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, rferrors.ErrConnectionLost
		}
		return 0, fmt.Errorf("transport: read type: %w", err)
	}
	return MessageType(raw), nil
}

// ReadParam decodes the parameter record following a type already
// consumed by RecvType.
func (c *Conn) ReadParam(param interface{}) error {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if err := ReadParam(c.nc, param); err != nil {
		return fmt.Errorf("transport: read params: %w", err)
	}
	return nil
}

// RecvRaw reads exactly n raw payload bytes following a data_info /
// data_generated header.
func (c *Conn) RecvRaw(n uint32) ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return nil, fmt.Errorf("transport: read payload: %w", err)
	}
	return buf, nil
}

// nativeEndian reports this process's native integer byte order, used
// only to populate the handshake's MgrEndian/NeedByteswap fields - the
// control channel itself is always encoded canonically little-endian
// regardless of this value.
func nativeEndian() uint32 {
	var x uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&x))
	if b[0] == 1 {
		return 0 // little-endian
	}
	return 1 // big-endian
}

// NegotiateClient runs the host_allocated/host_authorized handshake as
// the connecting side: it sends its own checksum/endianness and
// blocks for the peer's reply, recording NeedByteswap for every later
// record-payload transfer on this connection. The reply carries no
// host id, so PeerHost is left unset on the connecting side.
func NegotiateClient(c *Conn, checksum uint32, host HostID) error {
	if err := c.Send(MsgHostAllocated, &HostAllocated{
		Checksum1: checksum,
		Host:      uint32(host),
		MgrEndian: nativeEndian(),
	}); err != nil {
		return err
	}
	msgType, err := c.RecvType()
	if err != nil {
		return err
	}
	if msgType != MsgHostAuthorized {
		return fmt.Errorf("%w: expected host_authorized, got %s", rferrors.ErrProtocolViolation, msgType)
	}
	var reply HostAuthorized
	if err := c.ReadParam(&reply); err != nil {
		return err
	}
	if reply.Result != 0 {
		return fmt.Errorf("transport: handshake rejected, result=%d", reply.Result)
	}
	c.NeedByteswap = reply.NeedByteswap != 0
	return nil
}

// NegotiateServer runs the handshake as the accepting side: it reads
// the peer's host_allocated, computes NeedByteswap by comparing the
// peer's reported endianness against our own, and replies with
// host_authorized.
func NegotiateServer(c *Conn, checksum uint32) (HostID, error) {
	msgType, err := c.RecvType()
	if err != nil {
		return 0, err
	}
	if msgType != MsgHostAllocated {
		return 0, fmt.Errorf("%w: expected host_allocated, got %s", rferrors.ErrProtocolViolation, msgType)
	}
	var req HostAllocated
	if err := c.ReadParam(&req); err != nil {
		return 0, err
	}
	needSwap := req.MgrEndian != nativeEndian()
	c.NeedByteswap = needSwap
	c.PeerHost = HostID(req.Host)

	byteswapField := uint32(0)
	if needSwap {
		byteswapField = 1
	}
	if err := c.Send(MsgHostAuthorized, &HostAuthorized{
		Checksum2:    checksum,
		Result:       0,
		NeedByteswap: byteswapField,
	}); err != nil {
		return 0, err
	}
	return HostID(req.Host), nil
}
