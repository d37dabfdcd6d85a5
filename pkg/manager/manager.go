// Package manager implements the authoritative host of spec.md §4.3:
// it owns the tagged database, mints tags on request, owns the job
// queue and worker pool, and tracks the connected host registry. The
// manager is not Raft-elected or consensus-backed - per spec.md §9 and
// SPEC_FULL.md's non-goals, it is simply authoritative, with its tag
// high-water mark and host table persisted to survive a restart.
package manager

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/rayfield/pkg/connection"
	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/events"
	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/reconciler"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/security"
	"github.com/cuemby/rayfield/pkg/storage"
	"github.com/cuemby/rayfield/pkg/tag"
	"github.com/cuemby/rayfield/pkg/transport"
)

// Config holds the manager's startup configuration, populated from
// pkg/config's parsed config file plus anything the CLI overrides.
type Config struct {
	DataDir    string
	ListenAddr string
	MemLimit   int
	Checksum   uint32

	// CertDir, if non-empty, turns on mTLS: the manager owns the
	// cluster's CertAuthority and bootstraps (or reloads) its own
	// host certificate under this directory before Start opens its
	// listener. Left empty, the manager listens over plain TCP - the
	// default for unit tests that build Config literals directly.
	CertDir string
}

// Manager is the single authoritative host in a RayField render: it
// owns the Database, mints every tag in the process, and schedules
// jobs across local workers and any remote workers/servers that have
// connected.
type Manager struct {
	cfg Config

	store  *storage.TagStore
	db     *database.Database
	types  *record.TypeTable
	broker *events.Broker

	ca         *security.CertAuthority
	registry   *transport.Registry
	listener   *transport.Listener
	queue      *scheduler.Queue
	executors  *scheduler.ExecutorTable
	pool       *scheduler.Pool
	reconciler *reconciler.Reconciler
	metricsC   *MetricsCollector
	connHolder *connection.Holder

	logger zerolog.Logger

	mu      sync.Mutex
	process *scheduler.Process
}

// New creates a manager over cfg. types must already have every job
// and record type the render will create registered (bucket, photon,
// scene-graph nodes, ...).
func New(cfg Config, types *record.TypeTable) (*Manager, error) {
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("manager: open state store: %w", err)
	}

	db := database.New(database.Options{
		Host:     0,
		MemLimit: cfg.MemLimit,
		Logger:   log.WithComponent("database"),
	}, types)

	broker := events.NewBroker()
	broker.Start()

	executors := scheduler.NewExecutorTable()
	queue := scheduler.NewQueue(1024)
	pool := scheduler.NewPool(queue, executors, db, broker)
	registry := transport.NewRegistry()

	m := &Manager{
		cfg:        cfg,
		store:      store,
		db:         db,
		types:      types,
		broker:     broker,
		ca:         security.NewCertAuthority(store),
		registry:   registry,
		queue:      queue,
		executors:  executors,
		pool:       pool,
		reconciler: reconciler.New(registry, pool, broker),
		connHolder: connection.NewHolder(),
		logger:     log.WithComponent("manager"),
	}
	m.metricsC = NewMetricsCollector(m)
	return m, nil
}

// ConnectionHolder exposes the manager's current-render Connection
// indirection for bucket/photon executors registered at startup,
// before any particular render's Connection is known.
func (m *Manager) ConnectionHolder() *connection.Holder { return m.connHolder }

// RegisterExecutor installs the Executor for a job record's type
// code. Must be called before Start.
func (m *Manager) RegisterExecutor(code record.TypeCode, fn scheduler.Executor) {
	m.executors.Register(code, fn)
}

// Start brings the manager online: spawns nthreads local workers,
// listens for remote worker/server connections, and begins the
// reconciliation loop.
func (m *Manager) Start(nthreads int) error {
	var ln *transport.Listener
	var err error
	if m.cfg.CertDir != "" {
		dir := security.CertDir(m.cfg.CertDir, "manager", 0)
		cert, pool, berr := security.Bootstrap(m.ca, dir, 0, "manager")
		if berr != nil {
			return fmt.Errorf("manager: bootstrap mTLS identity: %w", berr)
		}
		ln, err = transport.ListenTLS(m.cfg.ListenAddr, m.cfg.Checksum, security.ServerTLSConfig(cert, pool))
	} else {
		ln, err = transport.Listen(m.cfg.ListenAddr, m.cfg.Checksum)
	}
	if err != nil {
		return fmt.Errorf("manager: listen: %w", err)
	}
	m.listener = ln

	m.pool.StartLocal(nthreads)
	m.reconciler.Start()
	m.metricsC.Start()

	metrics.RegisterComponent("database", true, "")
	metrics.RegisterComponent("scheduler", true, "")
	metrics.RegisterComponent("transport", true, "")

	go func() {
		if err := ln.Serve(m.onPeerConnected); err != nil {
			m.logger.Warn().Err(err).Msg("listener stopped")
		}
	}()

	m.logger.Info().Str("addr", ln.Addr().String()).Int("threads", nthreads).Msg("manager started")
	return nil
}

// Stop tears down the manager: stops accepting connections, closes
// the job queue, waits for in-flight jobs, and flushes persisted
// state.
func (m *Manager) Stop() error {
	metrics.UpdateComponent("database", false, "manager stopping")
	metrics.UpdateComponent("scheduler", false, "manager stopping")
	metrics.UpdateComponent("transport", false, "manager stopping")

	if m.listener != nil {
		_ = m.listener.Close()
	}
	m.reconciler.Stop()
	m.metricsC.Stop()
	m.queue.Close()
	m.pool.Wait()
	m.broker.Stop()
	return m.store.Close()
}

// AllocateTag mints a new tag, persisting the new high-water mark
// before handing it out (spec.md §4.2/§4.4 allocate_tag).
func (m *Manager) AllocateTag() (tag.Tag, error) {
	t, err := m.store.NextTag()
	if err != nil {
		return tag.Null, err
	}
	metrics.TagsAllocated.Inc()
	return t, nil
}

// Database returns the manager's tagged database, the Accessor every
// local executor and node operation runs against.
func (m *Manager) Database() *database.Database { return m.db }

// Submit enqueues a job tag for execution by the next available
// worker, local or remote.
func (m *Manager) Submit(job tag.Tag) bool {
	metrics.JobsScheduled.WithLabelValues("render").Inc()
	return m.queue.Submit(job)
}

// BeginRender starts a Process tracker over total expected jobs that
// drives conn's progress/abort callbacks until the render completes.
func (m *Manager) BeginRender(conn connection.Connection, total int) *scheduler.Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connHolder.Swap(conn)
	m.pool.Reset()
	m.process = scheduler.NewProcess(m.pool, m.broker, conn, total)
	m.logger.Info().Str("render", m.process.RenderID).Int("jobs", total).Msg("render started")
	return m.process
}

// Abort requests cancellation of the current render at its workers'
// next cooperative checkpoint.
func (m *Manager) Abort() {
	m.pool.Abort()
}

// Registry exposes the connected-peer registry for transport-layer
// wiring (RemoteWorker construction, server dispatch).
func (m *Manager) Registry() *transport.Registry { return m.registry }

// onPeerConnected is invoked once per accepted connection after its
// handshake completes; it records the peer in the registry and
// registers it as a remote dispatcher in the scheduler pool.
func (m *Manager) onPeerConnected(c *transport.Conn, host transport.HostID) {
	peer := &transport.Peer{Host: host, Role: transport.RoleWorker, Conn: c}
	m.registry.Add(peer)
	if err := m.store.SaveHost(uint32(host), storage.HostRecord{Role: "worker"}); err != nil {
		m.logger.Warn().Err(err).Uint32("host", uint32(host)).Msg("failed to persist host record")
	}
	m.pool.AddRemote(scheduler.WorkerID(host), &transport.RemoteWorker{Conn: c})
}
