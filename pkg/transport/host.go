package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/rs/zerolog"
)

// Role identifies what a connected peer is doing for the cluster:
// a manager holds the authoritative database and job queue, a worker
// executes jobs handed to it by the manager, and a server is a pure
// remote-database peer used by render/preview clients with no queue
// of their own (spec.md §4.3/§6).
type Role int

const (
	RoleManager Role = iota
	RoleWorker
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleManager:
		return "manager"
	case RoleWorker:
		return "worker"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// Peer is one connected host as seen from the local process: its
// connection, address, role, and the checksum it authenticated with.
type Peer struct {
	Host HostID
	Addr string
	Role Role
	Conn *Conn
}

// Registry tracks every connected peer host, keyed by the host id the
// peer declared in its host_allocated handshake. The manager adds each
// accepted peer to it, and pkg/reconciler pings and removes peers
// through it; a RemoteWorker holds its own Conn and does not look
// peers up here.
type Registry struct {
	mu    sync.RWMutex
	peers map[HostID]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[HostID]*Peer)}
}

func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.Host] = p
}

func (r *Registry) Remove(host HostID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[host]; ok {
		_ = p.Conn.Close()
		delete(r.peers, host)
	}
}

func (r *Registry) Get(host HostID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[host]
	return p, ok
}

// All returns a snapshot of every currently connected peer, safe to
// range over without holding the registry lock.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Listener accepts incoming connections from workers/servers dialing
// the manager (or a server accepting manager/worker connections),
// running the host_authorized handshake on each before handing it to
// onAccept.
type Listener struct {
	ln       net.Listener
	checksum uint32
	logger   zerolog.Logger
}

// Listen opens a plain, unauthenticated listener, for tests and any
// deployment that has opted out of host-identity verification.
// ListenTLS is what a manager/worker process actually calls once it
// holds a certificate from pkg/security.
func Listen(addr string, checksum uint32) (*Listener, error) {
	return ListenTLS(addr, checksum, nil)
}

// ListenTLS opens a listener that requires and verifies a client
// certificate on every accepted connection when tlsConfig is
// non-nil (spec.md §0's "mTLS host identity"), or falls back to a
// bare TCP listener if tlsConfig is nil.
func ListenTLS(addr string, checksum uint32, tlsConfig *tls.Config) (*Listener, error) {
	var ln net.Listener
	var err error
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, checksum: checksum, logger: log.WithComponent("transport")}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
func (l *Listener) Close() error   { return l.ln.Close() }

// Serve accepts connections until the listener is closed, running the
// handshake on each and invoking onAccept with the negotiated Conn.
// A handshake failure drops that connection and continues serving.
func (l *Listener) Serve(onAccept func(*Conn, HostID)) error {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			c := NewConn(nc)
			host, err := NegotiateServer(c, l.checksum)
			if err != nil {
				l.logger.Warn().Err(err).Msg("handshake failed, dropping connection")
				_ = c.Close()
				return
			}
			metrics.MessagesReceived.WithLabelValues(MsgHostAllocated.String()).Inc()
			onAccept(c, host)
		}()
	}
}

// DialHost connects to addr as host over a plain socket, completing
// the client side of the handshake before returning. See DialHostTLS
// for the mTLS-authenticated form every real manager/worker dial uses.
func DialHost(addr string, checksum uint32, host HostID) (*Conn, error) {
	return DialHostTLS(addr, checksum, host, nil)
}

// DialHostTLS connects to addr as host, mutually authenticating with
// tlsConfig if non-nil before running the application-level
// host_allocated/host_authorized handshake on top of the now-trusted
// socket.
func DialHostTLS(addr string, checksum uint32, host HostID, tlsConfig *tls.Config) (*Conn, error) {
	c, err := DialTLS(addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	if err := NegotiateClient(c, checksum, host); err != nil {
		_ = c.Close()
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(MsgHostAllocated.String()).Inc()
	return c, nil
}
