/*
Package metrics defines RayField's Prometheus instrumentation: counters
and histograms for database record churn, job scheduling, transport
traffic, and the bucket/photon render pipeline, plus a small process
health-check registry. cmd/rayfieldd serves the registry's handlers at
/health, /ready, and /live alongside /metrics; the manager and worker
call RegisterComponent/UpdateComponent for "database", "scheduler",
and "transport" from their respective Start methods so /ready reflects
real subsystem state rather than an always-empty registry.

# Metric families

  - rayfield_records_* - database record population, set per type
    code by pkg/manager's MetricsCollector. The generation and eviction
    counters in this family are registered but nothing increments them;
    pkg/database does not touch metrics.
  - rayfield_jobs_*, rayfield_queue_depth, rayfield_workers_* -
    scheduler and worker-pool activity (pkg/scheduler).
  - rayfield_tags_allocated_total, rayfield_messages_* - tag minting
    and wire-protocol traffic (pkg/manager, pkg/transport).
  - rayfield_buckets_rendered_total, rayfield_photons_*,
    rayfield_render_progress_ratio - the render pipeline
    (pkg/render/bucket, pkg/render/photon).

pkg/manager's MetricsCollector polls the manager's Database on an
interval and republishes its memory use and per-type record counts.
Queue depth and worker gauges, like the counters and histograms, are
updated inline by the packages that own the events they measure
(pkg/scheduler sets them as jobs are queued and workers join or are
evicted).

Handler exposes the registry for scraping; Timer is a small helper for
observing operation duration into a histogram without repeating
time.Since bookkeeping at every call site.
*/
package metrics
