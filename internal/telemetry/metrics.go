package telemetry

import "github.com/prometheus/client_golang/prometheus"

var JobsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sumoctl",
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Total number of jobs submitted, by tenant.",
	},
	[]string{"tenant"},
)

var JobsRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sumoctl",
		Subsystem: "jobs",
		Name:      "rejected_total",
		Help:      "Total number of job submissions rejected at admission, by reason.",
	},
	[]string{"reason"},
)

var JobsTerminalTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sumoctl",
		Subsystem: "jobs",
		Name:      "terminal_total",
		Help:      "Total number of jobs that reached a terminal status, by status.",
	},
	[]string{"status"},
)

var ReconcileSweepDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sumoctl",
		Subsystem: "reconciler",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a single reconciler sweep pass in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"pass"},
)

var OrphanConfigBlobsDeletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sumoctl",
		Subsystem: "reconciler",
		Name:      "orphan_configblobs_deleted_total",
		Help:      "Total number of orphaned config blobs deleted by the orphan sweep.",
	},
)

var LogRelayErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sumoctl",
		Subsystem: "logrelay",
		Name:      "errors_total",
		Help:      "Total number of orchestrator errors observed while tailing pod logs.",
	},
	[]string{"namespace"},
)

// All returns every sumoctl-specific metric collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsSubmittedTotal,
		JobsRejectedTotal,
		JobsTerminalTotal,
		ReconcileSweepDuration,
		OrphanConfigBlobsDeletedTotal,
		LogRelayErrorsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with the given collectors
// plus the standard Go runtime/process collectors.
func NewMetricsRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
