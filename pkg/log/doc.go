/*
Package log provides RayField's structured logging, a thin wrapper
around zerolog shared by every package in the runtime: the database,
scheduler, transport, node system, plugin loader, and the bucket/photon
job executors all log through a component-scoped child of the same
global logger rather than through per-package ad hoc output.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	dbLog := log.WithComponent("database")
	dbLog.Warn().Uint32("tag", uint32(t)).Msg("evicting flushable record under memory pressure")

	hostLog := log.WithHost(hostID)
	hostLog.Info().Msg("worker connected")

# Levels

Recoverable conditions (job failure, tile regeneration, worker
disconnect, memory-pressure eviction) log at Warn; render continues.
A user-requested abort logs at Info. Fatal conditions (handshake
failure, corrupt config, missing plugin symbol) log a single Error
line before the process exits non-zero - see spec.md §7.

Debug is reserved for per-record/per-job detail (lease acquisition,
generator invocation) that would otherwise flood production logs;
Info is the default production level.
*/
package log
