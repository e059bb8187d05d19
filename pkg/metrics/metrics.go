package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BuildPhaseDuration is labeled by build phase; pkg/build observes only
	// the "total" phase, once per run.
	BuildPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maand_build_phase_duration_seconds",
			Help:    "Duration of each build pipeline phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maand_builds_total",
			Help: "Total number of build runs by outcome",
		},
		[]string{"outcome"},
	)

	// AllocationTransitionsTotal counts the hash-diff buckets the
	// deployment orchestrator computes for each job tier (new, unchanged,
	// changed, removed), plus the build-time kinds job_built, host_detained
	// and withdrawn.
	AllocationTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maand_allocation_transitions_total",
			Help: "Allocation, job and host transitions observed during build and deploy, by kind",
		},
		[]string{"kind"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maand_deployment_duration_seconds",
			Help:    "Duration of a full deploy run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	JobsDeployedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maand_jobs_deployed_total",
			Help: "Total number of job lifecycle actions run, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// CertificatesIssuedTotal counts CA and leaf certificate issuance by
	// the certificate engine, split by reason (init for the CA; new,
	// renewed, ca_rotated for leaves).
	CertificatesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maand_certificates_issued_total",
			Help: "Certificates issued by the certificate engine",
		},
		[]string{"kind", "reason"},
	)

	HealthCheckAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maand_health_check_attempts_total",
			Help: "Health check hook attempts by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	KVWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maand_kv_writes_total",
			Help: "KV store writes by kind",
		},
		[]string{"kind"},
	)

	KVGCRowsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "maand_kv_gc_rows_deleted_total",
			Help: "Rows physically removed by the last gc run",
		},
	)
)

func init() {
	prometheus.MustRegister(BuildPhaseDuration)
	prometheus.MustRegister(BuildsTotal)
	prometheus.MustRegister(AllocationTransitionsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(JobsDeployedTotal)
	prometheus.MustRegister(CertificatesIssuedTotal)
	prometheus.MustRegister(HealthCheckAttemptsTotal)
	prometheus.MustRegister(KVWritesTotal)
	prometheus.MustRegister(KVGCRowsDeletedTotal)
}

// Handler returns the Prometheus HTTP handler, used when an operator wants
// to scrape a one-shot controller run (e.g. from a sidecar textfile
// collector); maand itself never listens on a port for this.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
