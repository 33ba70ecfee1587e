// Package metrics exposes Prometheus instrumentation for the lease
// runtime: delta-lease renewal outcomes, paxos ballot outcomes,
// resource acquire/release counts, and watchdog petting.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants shared by the counters/gauges/histograms below.
const (
	LabelLockspace = "lockspace"
	LabelResource  = "resource"
	LabelStatus    = "status"
	LabelMode      = "mode"
)

// Status label values for renewal and acquire outcomes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Mode label values distinguishing exclusive from shared acquires.
const (
	ModeExclusive = "exclusive"
	ModeShared    = "shared"
)

// Metrics provides Prometheus instrumentation for pkg/lockspace,
// pkg/paxoslease, and pkg/token. A nil *Metrics is safe to call every
// method on; all are no-ops, so components can hold a *Metrics field
// that is never set in tests.
type Metrics struct {
	renewalTotal   *prometheus.CounterVec
	renewalLatency *prometheus.HistogramVec
	hostsLiveGauge *prometheus.GaugeVec

	ballotTotal    *prometheus.CounterVec
	acquireTotal   *prometheus.CounterVec
	releaseTotal   *prometheus.CounterVec
	acquireLatency *prometheus.HistogramVec

	tokensHeldGauge *prometheus.GaugeVec
	watchdogPetTotal *prometheus.CounterVec

	fencingTotal *prometheus.CounterVec

	registered bool
}

// New creates lease-runtime metrics. If registry is nil the metrics
// are constructed but not registered, for use in tests that don't
// want a global Prometheus registry touched.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		renewalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "lockspace",
				Name:      "renewal_total",
				Help:      "Total number of delta-lease renewal attempts",
			},
			[]string{LabelLockspace, LabelStatus},
		),
		renewalLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sanlockd",
				Subsystem: "lockspace",
				Name:      "renewal_latency_seconds",
				Help:      "Time taken by a delta-lease renewal round-trip",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{LabelLockspace},
		),
		hostsLiveGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sanlockd",
				Subsystem: "lockspace",
				Name:      "hosts_live",
				Help:      "Number of host_id slots read successfully on the last scan, free and stale slots included",
			},
			[]string{LabelLockspace},
		),
		ballotTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "paxos",
				Name:      "ballot_total",
				Help:      "Total number of run_ballot rounds, by outcome",
			},
			[]string{LabelLockspace, LabelResource, LabelStatus},
		),
		acquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "token",
				Name:      "acquire_total",
				Help:      "Total number of resource acquire attempts",
			},
			[]string{LabelLockspace, LabelResource, LabelMode, LabelStatus},
		),
		releaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "token",
				Name:      "release_total",
				Help:      "Total number of resource releases",
			},
			[]string{LabelLockspace, LabelResource, LabelStatus},
		),
		acquireLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sanlockd",
				Subsystem: "token",
				Name:      "acquire_latency_seconds",
				Help:      "Time taken to complete an acquire_token pipeline",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{LabelLockspace, LabelResource},
		),
		tokensHeldGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sanlockd",
				Subsystem: "token",
				Name:      "held",
				Help:      "Number of resource tokens currently held per lockspace",
			},
			[]string{LabelLockspace},
		),
		watchdogPetTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "watchdog",
				Name:      "pet_total",
				Help:      "Total number of successful watchdog pets",
			},
			[]string{LabelLockspace},
		),
		fencingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sanlockd",
				Subsystem: "supervisor",
				Name:      "fencing_total",
				Help:      "Total number of kill_pids fencing rounds, by outcome",
			},
			[]string{LabelLockspace, LabelStatus},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.renewalTotal,
			m.renewalLatency,
			m.hostsLiveGauge,
			m.ballotTotal,
			m.acquireTotal,
			m.releaseTotal,
			m.acquireLatency,
			m.tokensHeldGauge,
			m.watchdogPetTotal,
			m.fencingTotal,
		)
		m.registered = true
	}

	return m
}

// ObserveRenewal records a delta-lease renewal attempt and its
// latency.
func (m *Metrics) ObserveRenewal(lockspace string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.renewalTotal.WithLabelValues(lockspace, status).Inc()
	m.renewalLatency.WithLabelValues(lockspace).Observe(d.Seconds())
}

// SetHostsLive sets the count of host_id slots read successfully on
// the last scan; free and stale slots are counted too.
func (m *Metrics) SetHostsLive(lockspace string, count float64) {
	if m == nil {
		return
	}
	m.hostsLiveGauge.WithLabelValues(lockspace).Set(count)
}

// ObserveBallot records a run_ballot outcome.
func (m *Metrics) ObserveBallot(lockspace, resource string, success bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.ballotTotal.WithLabelValues(lockspace, resource, status).Inc()
}

// ObserveAcquire records an acquire_token pipeline outcome and its
// latency.
func (m *Metrics) ObserveAcquire(lockspace, resource string, shared, success bool, d time.Duration) {
	if m == nil {
		return
	}
	mode := ModeExclusive
	if shared {
		mode = ModeShared
	}
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.acquireTotal.WithLabelValues(lockspace, resource, mode, status).Inc()
	m.acquireLatency.WithLabelValues(lockspace, resource).Observe(d.Seconds())
}

// ObserveRelease records a release outcome.
func (m *Metrics) ObserveRelease(lockspace, resource string, success bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.releaseTotal.WithLabelValues(lockspace, resource, status).Inc()
}

// SetTokensHeld sets the number of tokens currently held for a
// lockspace, across all registered clients.
func (m *Metrics) SetTokensHeld(lockspace string, count float64) {
	if m == nil {
		return
	}
	m.tokensHeldGauge.WithLabelValues(lockspace).Set(count)
}

// ObserveWatchdogPet records a successful watchdog pet.
func (m *Metrics) ObserveWatchdogPet(lockspace string) {
	if m == nil {
		return
	}
	m.watchdogPetTotal.WithLabelValues(lockspace).Inc()
}

// ObserveFencingRound records one kill_pids escalation round.
func (m *Metrics) ObserveFencingRound(lockspace string, abandoned bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if abandoned {
		status = StatusFailure
	}
	m.fencingTotal.WithLabelValues(lockspace, status).Inc()
}
