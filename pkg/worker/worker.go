package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/rayfield/pkg/database"
	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/record"
	"github.com/cuemby/rayfield/pkg/rferrors"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/security"
	"github.com/cuemby/rayfield/pkg/tag"
	"github.com/cuemby/rayfield/pkg/transport"
)

// Config configures a worker process.
type Config struct {
	ListenAddr string
	MemLimit   int
	Checksum   uint32

	// CertDir, if non-empty, turns on mTLS: the worker must already
	// hold a certificate and the cluster's ca.crt under this
	// directory, provisioned out of band from the manager that owns
	// the CertAuthority (a worker never holds the root key itself).
	// Left empty, the worker listens over plain TCP.
	CertDir string
}

// Worker is the peer-side "Server" of spec.md §4.3/§3.4: it accepts
// connections dialed in by the manager (one per thread slot, opened
// after a create_threads handshake), and each connection's goroutine
// loops pulling process_job/job_finished requests against the
// worker's own local Database, fetching any record it doesn't already
// hold over the same connection via send_data.
type Worker struct {
	cfg       Config
	db        *database.Database
	executors *scheduler.ExecutorTable
	listener  *transport.Listener
	logger    zerolog.Logger

	mu      sync.Mutex
	threads int
	types   map[tag.Tag]record.TypeCode

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a worker over a local Database built from types. The
// worker never mints tags itself - every tag it sees originates with
// the manager and arrives over the wire.
func New(cfg Config, types *record.TypeTable) *Worker {
	db := database.New(database.Options{
		MemLimit: cfg.MemLimit,
		Logger:   log.WithComponent("database"),
	}, types)

	return &Worker{
		cfg:       cfg,
		db:        db,
		executors: scheduler.NewExecutorTable(),
		types:     make(map[tag.Tag]record.TypeCode),
		logger:    log.WithComponent("worker"),
		stopCh:    make(chan struct{}),
	}
}

// RegisterExecutor installs the Executor for a job record's type
// code. Must be called before Start.
func (w *Worker) RegisterExecutor(code record.TypeCode, fn scheduler.Executor) {
	w.executors.Register(code, fn)
}

// Database returns the worker's local tagged store.
func (w *Worker) Database() *database.Database { return w.db }

// Start opens the worker's listener at its configured ListenAddr and
// begins accepting thread-slot connections from the manager.
func (w *Worker) Start() error {
	var ln *transport.Listener
	var err error
	if w.cfg.CertDir != "" {
		cert, pool, berr := security.Bootstrap(nil, w.cfg.CertDir, 0, "worker")
		if berr != nil {
			return fmt.Errorf("worker: bootstrap mTLS identity: %w", berr)
		}
		ln, err = transport.ListenTLS(w.cfg.ListenAddr, w.cfg.Checksum, security.ServerTLSConfig(cert, pool))
	} else {
		ln, err = transport.Listen(w.cfg.ListenAddr, w.cfg.Checksum)
	}
	if err != nil {
		return fmt.Errorf("worker: listen: %w", err)
	}
	w.listener = ln

	metrics.RegisterComponent("database", true, "")
	metrics.RegisterComponent("scheduler", true, "")
	metrics.RegisterComponent("transport", true, "")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := ln.Serve(w.onThreadConnected); err != nil {
			w.logger.Warn().Err(err).Msg("listener stopped")
		}
	}()

	w.logger.Info().Str("addr", ln.Addr().String()).Msg("worker started")
	return nil
}

// Addr reports the worker's listen address, useful when ListenAddr
// was ":0" and the OS picked an ephemeral port.
func (w *Worker) Addr() string {
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

// Stop closes the listener and waits for every thread-slot connection
// to finish its in-flight job.
func (w *Worker) Stop() error {
	metrics.UpdateComponent("database", false, "worker stopping")
	metrics.UpdateComponent("scheduler", false, "worker stopping")
	metrics.UpdateComponent("transport", false, "worker stopping")

	close(w.stopCh)
	var err error
	if w.listener != nil {
		err = w.listener.Close()
	}
	w.wg.Wait()
	return err
}

// onThreadConnected is invoked once per accepted connection after its
// handshake completes; each connection is handled by its own thread
// goroutine for the rest of its lifetime.
func (w *Worker) onThreadConnected(c *transport.Conn, host transport.HostID) {
	w.mu.Lock()
	w.threads++
	id := w.threads
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		logger := w.logger.With().Int("thread", id).Uint32("manager_host", uint32(host)).Logger()
		if err := w.serveThread(c, &logger); err != nil {
			logger.Warn().Err(err).Msg("thread connection closed")
		}
	}()
}

// serveThread runs the request loop for one thread-slot connection:
// it answers create_threads, check_abort, and repeated process_job
// requests until the connection is closed or the worker stops.
func (w *Worker) serveThread(c *transport.Conn, logger *zerolog.Logger) error {
	ctx := context.Background()
	tls := make(map[record.TypeCode]interface{})

	for {
		select {
		case <-w.stopCh:
			return nil
		default:
		}

		msgType, err := c.RecvType()
		if err != nil {
			return err
		}
		metrics.MessagesReceived.WithLabelValues(msgType.String()).Inc()

		switch msgType {
		case transport.MsgCreateThreads:
			var req transport.CreateThreads
			if err := c.ReadParam(&req); err != nil {
				return err
			}
			if err := c.Send(transport.MsgThreadCreated, &transport.ThreadCreated{NumThreads: req.N}); err != nil {
				return err
			}

		case transport.MsgCreateData:
			var req transport.CreateData
			if err := c.ReadParam(&req); err != nil {
				return err
			}
			t := tag.Tag(req.Tag)
			w.mu.Lock()
			w.types[t] = record.TypeCode(req.Type)
			w.mu.Unlock()
			if err := c.Send(transport.MsgGeneric, &transport.Generic{Result: 0}); err != nil {
				return err
			}

		case transport.MsgCheckAbort:
			if err := c.Send(transport.MsgIsAborted, &transport.IsAborted{Abort: 0}); err != nil {
				return err
			}

		case transport.MsgProcessJob:
			var req transport.ProcessJob
			if err := c.ReadParam(&req); err != nil {
				return err
			}
			result := w.runJob(ctx, c, tag.Tag(req.JobTag), tls, logger)
			if err := c.Send(transport.MsgJobFinished, &transport.JobFinished{Result: int32(result)}); err != nil {
				return err
			}

		case transport.MsgDisconnect:
			return nil

		default:
			logger.Warn().Str("message", msgType.String()).Msg("unexpected message on thread connection")
			return fmt.Errorf("worker: unexpected message %s", msgType)
		}
	}
}

// runJob executes job against the worker's local database, fetching
// its record from the manager over c first if it isn't already
// cached locally (spec.md §4.4 send_data).
func (w *Worker) runJob(ctx context.Context, c *transport.Conn, job tag.Tag, tls map[record.TypeCode]interface{}, logger *zerolog.Logger) scheduler.Result {
	lease, err := w.db.Access(job)
	if err == rferrors.ErrUnknownTag {
		w.mu.Lock()
		typeCode, known := w.types[job]
		w.mu.Unlock()
		if !known {
			logger.Warn().Uint32("tag", uint32(job)).Msg("job record has no prior create_data, cannot fetch type")
			return scheduler.ResultFailed
		}
		if ferr := w.fetchRecord(c, job, typeCode); ferr != nil {
			logger.Warn().Uint32("tag", uint32(job)).Err(ferr).Msg("could not fetch job record from manager")
			return scheduler.ResultFailed
		}
		lease, err = w.db.Access(job)
	}
	if err != nil {
		logger.Warn().Uint32("tag", uint32(job)).Err(err).Msg("could not access job record")
		return scheduler.ResultFailed
	}
	typeCode := lease.Header.Type
	_ = w.db.End(job)

	executor, ok := w.executors.Lookup(typeCode)
	if !ok {
		logger.Error().Uint32("tag", uint32(job)).Uint32("type", uint32(typeCode)).Msg("no executor registered for job type")
		return scheduler.ResultFailed
	}

	slot := tls[typeCode]
	result, err := executor(ctx, w.db, job, &slot)
	tls[typeCode] = slot
	if err != nil {
		logger.Warn().Uint32("tag", uint32(job)).Err(err).Msg("job executor returned error")
		if result == scheduler.ResultOK {
			result = scheduler.ResultFailed
		}
	}
	return result
}

// fetchRecord requests job's bytes from the manager over c and lands
// them in the local database under the same tag and type.
func (w *Worker) fetchRecord(c *transport.Conn, t tag.Tag, typeCode record.TypeCode) error {
	metrics.MessagesSent.WithLabelValues(transport.MsgSendData.String()).Inc()
	payload, inited, err := c.RequestData(uint32(t), false)
	if err != nil {
		return fmt.Errorf("worker: fetch %s: %w", t, err)
	}

	flags := record.Flags(0)
	if !inited {
		flags = record.FlagDeferInit
	}
	if c.NeedByteswap {
		w.db.Byteswap(typeCode, payload)
	}
	return w.db.Insert(t, typeCode, payload, flags)
}
