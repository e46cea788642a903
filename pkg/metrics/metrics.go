package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windrose_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	EnqueuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_enqueues_total",
			Help: "Total number of admissions by outcome",
		},
		[]string{"outcome"},
	)

	LeasesGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windrose_leases_granted_total",
			Help: "Total number of job leases granted",
		},
	)

	LeasesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windrose_leases_expired_total",
			Help: "Total number of leases reclaimed by the expiry sweeper",
		},
	)

	LeaseSelectionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "windrose_lease_selection_seconds",
			Help:    "Time taken to select and lease eligible jobs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "windrose_sweep_duration_seconds",
			Help:    "Lease expiry sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windrose_sweep_cycles_total",
			Help: "Total number of lease expiry sweep cycles",
		},
	)

	// Ledger metrics
	LedgerAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_ledger_appends_total",
			Help: "Total number of ledger entries appended by signature algorithm",
		},
		[]string{"algorithm"},
	)

	LedgerVerifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windrose_ledger_verify_failures_total",
			Help: "Total number of ledger entries that failed verification",
		},
	)

	// Policy metrics
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_policy_decisions_total",
			Help: "Total number of policy evaluations by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	// Health engine metrics
	HealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windrose_health_score",
			Help: "Most recent business health score by tenant",
		},
		[]string{"tenant_id"},
	)

	// Solver metrics
	SolverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "windrose_solver_duration_seconds",
			Help:    "Solver invocation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	SolverTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windrose_solver_timeouts_total",
			Help: "Total number of solver invocations that exceeded their deadline",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(EnqueuesTotal)
	prometheus.MustRegister(LeasesGranted)
	prometheus.MustRegister(LeasesExpired)
	prometheus.MustRegister(LeaseSelectionLatency)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SweepCyclesTotal)
	prometheus.MustRegister(LedgerAppendsTotal)
	prometheus.MustRegister(LedgerVerifyFailures)
	prometheus.MustRegister(PolicyDecisions)
	prometheus.MustRegister(HealthScore)
	prometheus.MustRegister(SolverDuration)
	prometheus.MustRegister(SolverTimeouts)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
