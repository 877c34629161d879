package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_hosts_total",
			Help: "Total number of hosts by stage and status",
		},
		[]string{"stage", "status"},
	)

	RequestsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_requests_total",
			Help: "Total number of scan requests",
		},
	)

	HostTransitionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_host_transitions_total",
			Help: "Total number of host state transitions",
		},
	)

	RescansQueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_rescans_queued_total",
			Help: "Total number of hosts requeued for a scheduled rescan",
		},
	)

	// Ticket metrics
	TicketsOpenTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_tickets_open_total",
			Help: "Open tickets by severity",
		},
		[]string{"severity"},
	)

	TicketsFalsePositiveTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_tickets_false_positive_total",
			Help: "Open tickets currently marked false positive",
		},
	)

	// Balancer metrics
	HostsPromotedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_hosts_promoted_total",
			Help: "Total number of hosts promoted from WAITING to READY",
		},
	)

	HostsDemotedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_hosts_demoted_total",
			Help: "Total number of hosts demoted from READY to WAITING",
		},
	)

	BalanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_balance_duration_seconds",
			Help:    "Time taken for one fleet balance pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Snapshot metrics
	SnapshotBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_snapshot_build_duration_seconds",
			Help:    "Snapshot assembly duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	SnapshotsBuiltTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_snapshots_built_total",
			Help: "Total number of snapshots built successfully",
		},
	)

	SnapshotsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_snapshots_failed_total",
			Help: "Total number of snapshot builds that failed",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(HostTransitionsTotal)
	prometheus.MustRegister(RescansQueuedTotal)
	prometheus.MustRegister(TicketsOpenTotal)
	prometheus.MustRegister(TicketsFalsePositiveTotal)
	prometheus.MustRegister(HostsPromotedTotal)
	prometheus.MustRegister(HostsDemotedTotal)
	prometheus.MustRegister(BalanceDuration)
	prometheus.MustRegister(SnapshotBuildDuration)
	prometheus.MustRegister(SnapshotsBuiltTotal)
	prometheus.MustRegister(SnapshotsFailedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
