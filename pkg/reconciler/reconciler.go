package reconciler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/rayfield/pkg/events"
	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
	"github.com/cuemby/rayfield/pkg/scheduler"
	"github.com/cuemby/rayfield/pkg/transport"
)

// pingTimeout bounds how long a single worker health check may take
// before the peer is declared unresponsive.
const pingTimeout = 2 * time.Second

// Reconciler periodically health-checks every remote worker the
// manager has connected to, evicting any that fail to answer a
// check_abort ping before a real job dispatch would otherwise surface
// the failure - spec.md §4.3 "A failed worker (socket closed,
// protocol violation) is evicted; its outstanding jobs are re-queued
// to the remaining workers." The re-queue itself happens inline in
// pkg/scheduler's remote dispatch path; this loop only shortens the
// detection latency for workers that are dead but not currently
// running a job.
type Reconciler struct {
	registry *transport.Registry
	pool     *scheduler.Pool
	broker   *events.Broker
	logger   zerolog.Logger
	interval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a reconciler that pings every peer in registry on each
// tick, evicting dead ones from pool.
func New(registry *transport.Registry, pool *scheduler.Pool, broker *events.Broker) *Reconciler {
	return &Reconciler{
		registry: registry,
		pool:     pool,
		broker:   broker,
		logger:   log.WithComponent("reconciler"),
		interval: 10 * time.Second,
	}
}

// WithInterval overrides the default 10s tick, primarily for tests.
func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	r.interval = d
	return r
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.stopCh != nil {
		r.mu.Unlock()
		return
	}
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.mu.Unlock()
	go r.run(stop)
}

// Stop ends the reconciliation loop. Safe to call once Start has run.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
}

func (r *Reconciler) run(stop chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-stop:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile pings every registered peer once and evicts unresponsive
// ones from both the transport registry and the scheduler's pool.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.JobLatency, "reconcile")

	for _, peer := range r.registry.All() {
		if peer.Role != transport.RoleWorker && peer.Role != transport.RoleServer {
			continue
		}
		if err := peer.Conn.Ping(pingTimeout); err != nil {
			r.logger.Warn().
				Uint32("host", uint32(peer.Host)).
				Str("addr", peer.Addr).
				Err(err).
				Msg("worker unresponsive, evicting")
			r.registry.Remove(peer.Host)
			r.pool.EvictRemote(scheduler.WorkerID(peer.Host))
			if r.broker != nil {
				r.broker.Publish(&events.Event{
					Type: events.WorkerEvicted,
					Data: map[string]interface{}{"host": uint32(peer.Host), "reason": err.Error()},
				})
			}
		}
	}
}
