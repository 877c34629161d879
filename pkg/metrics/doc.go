/*
Package metrics provides Prometheus metrics collection and exposition for Vigil.

The metrics package defines and registers all Vigil metrics using the Prometheus
client library, providing observability into the scanning pipeline, ticket
population, balancer activity, and snapshot assembly. Metrics are exposed via
HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry               │           │
	│  │  - Global DefaultRegistry                  │           │
	│  │  - MustRegister at package init            │           │
	│  │  - Automatic Go runtime metrics            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                │           │
	│  │                                            │           │
	│  │  Pipeline: hosts by stage/status,          │           │
	│  │    transitions, scheduled rescans          │           │
	│  │  Tickets: open by severity, false          │           │
	│  │    positives                               │           │
	│  │  Balancer: promotions, demotions,          │           │
	│  │    pass duration                           │           │
	│  │  Snapshots: build duration, success        │           │
	│  │    and failure counts                      │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Metrics Endpoint             │           │
	│  │  - Path: /metrics                          │           │
	│  │  - Format: Prometheus text exposition      │           │
	│  │  - Handler: promhttp.Handler()             │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Collector:
  - Polls the store every 15 seconds
  - Sums per-owner tallies into the host gauges
  - Counts open tickets by severity
  - Started and stopped with the commander

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Health Checker:
  - Component health registration and readiness
  - /health, /ready, and /live HTTP handlers

# Metrics Catalog

Pipeline Metrics:

vigil_hosts_total{stage, status}:
  - Type: Gauge
  - Description: Total hosts by pipeline stage and status
  - Example: vigil_hosts_total{stage="PORTSCAN",status="RUNNING"} 32

vigil_requests_total:
  - Type: Gauge
  - Description: Total number of scan requests
  - Example: vigil_requests_total 120

vigil_host_transitions_total:
  - Type: Counter
  - Description: Total host state transitions applied

vigil_rescans_queued_total:
  - Type: Counter
  - Description: Hosts requeued because their next_scan came due

Ticket Metrics:

vigil_tickets_open_total{severity}:
  - Type: Gauge
  - Description: Open tickets by severity (0-4)
  - Example: vigil_tickets_open_total{severity="4"} 17

vigil_tickets_false_positive_total:
  - Type: Gauge
  - Description: Open tickets currently flagged false positive

Balancer Metrics:

vigil_hosts_promoted_total:
  - Type: Counter
  - Description: Hosts promoted from WAITING to READY

vigil_hosts_demoted_total:
  - Type: Counter
  - Description: Hosts demoted from READY to WAITING

vigil_balance_duration_seconds:
  - Type: Histogram
  - Description: Duration of one fleet balance pass
  - Buckets: Default Prometheus buckets

Snapshot Metrics:

vigil_snapshot_build_duration_seconds:
  - Type: Histogram
  - Description: Snapshot assembly duration
  - Buckets: Exponential from 0.1s

vigil_snapshots_built_total:
  - Type: Counter
  - Description: Snapshots built successfully

vigil_snapshots_failed_total:
  - Type: Counter
  - Description: Snapshot builds that failed

# Usage

Expose the metrics endpoint:

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())

Run the store collector alongside the commander:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

Time an operation into a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotBuildDuration)
*/
package metrics
