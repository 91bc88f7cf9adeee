// Package metrics exposes Prometheus metrics for the sidecar. A Metrics value starts
// disabled and records nothing until Init registers its collectors, so components can
// always be handed one (or nil) without checking whether metrics are configured.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "bridge"
	subsystem = "sidecar"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	PartialAccepted  = "accepted"
	PartialDuplicate = "duplicate"
	PartialLate      = "late"
	PartialRejected  = "rejected"

	SubmissionSimulated = "simulated"
	SubmissionReverted  = "reverted"
	SubmissionTimeout   = "timeout"
)

type Metrics struct {
	disabled bool

	messagesObserved   *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	watcherReconnects  *prometheus.CounterVec
	watcherCursor      *prometheus.GaugeVec
	partialsReceived   *prometheus.CounterVec
	recoveries         *prometheus.CounterVec
	pendingAttestation prometheus.Gauge
	submissions        *prometheus.CounterVec
	submissionLatency  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		disabled: true,
	}
}

// Init creates and registers the collectors and enables recording.
func (m *Metrics) Init(reg prometheus.Registerer, constLabels prometheus.Labels) error {
	m.messagesObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "messages_observed_total",
		Help:        "MessageSent events decoded, partitioned by origin chain_id",
		ConstLabels: constLabels,
	}, []string{"chain_id"})

	m.decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "decode_errors_total",
		Help:        "Logs that matched the filter but could not be decoded, partitioned by chain_id",
		ConstLabels: constLabels,
	}, []string{"chain_id"})

	m.watcherReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "watcher_reconnects_total",
		Help:        "Watcher restarts after a transport error, partitioned by chain_id",
		ConstLabels: constLabels,
	}, []string{"chain_id"})

	m.watcherCursor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "watcher_cursor_block",
		Help:        "Last block fully processed by the watcher, partitioned by chain_id",
		ConstLabels: constLabels,
	}, []string{"chain_id"})

	m.partialsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "partials_received_total",
		Help:        "Partial signatures offered to the aggregator, partitioned by status[accepted,duplicate,late,rejected]",
		ConstLabels: constLabels,
	}, []string{"status"})

	m.recoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "recoveries_total",
		Help:        "Threshold signature recoveries, partitioned by status[success,failed]",
		ConstLabels: constLabels,
	}, []string{"status"})

	m.pendingAttestation = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "pending_attestations",
		Help:        "Attestations collecting partial signatures",
		ConstLabels: constLabels,
	})

	m.submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "submissions_total",
		Help:        "Bridge write submissions, partitioned by destination chain_id and status[success,simulated,reverted,timeout,failed]",
		ConstLabels: constLabels,
	}, []string{"chain_id", "status"})

	m.submissionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "submission_seconds",
		Help:        "Time from sending a bridge write to its receipt, partitioned by destination chain_id",
		ConstLabels: constLabels,
		Buckets:     []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"chain_id"})

	collectors := []struct {
		name string
		c    prometheus.Collector
	}{
		{"messages_observed_total", m.messagesObserved},
		{"decode_errors_total", m.decodeErrors},
		{"watcher_reconnects_total", m.watcherReconnects},
		{"watcher_cursor_block", m.watcherCursor},
		{"partials_received_total", m.partialsReceived},
		{"recoveries_total", m.recoveries},
		{"pending_attestations", m.pendingAttestation},
		{"submissions_total", m.submissions},
		{"submission_seconds", m.submissionLatency},
	}
	for _, c := range collectors {
		if err := reg.Register(c.c); err != nil {
			return fmt.Errorf("register %s error: %w", c.name, err)
		}
	}

	m.disabled = false
	return nil
}

func (m *Metrics) Disable() {
	m.disabled = true
}

func (m *Metrics) enabled() bool {
	return m != nil && !m.disabled
}

func (m *Metrics) PartialReceived(status string) {
	if !m.enabled() {
		return
	}
	m.partialsReceived.WithLabelValues(status).Inc()
}

func (m *Metrics) Recovery(status string) {
	if !m.enabled() {
		return
	}
	m.recoveries.WithLabelValues(status).Inc()
}

func (m *Metrics) PendingAttestations(n int) {
	if !m.enabled() {
		return
	}
	m.pendingAttestation.Set(float64(n))
}

// ChainMetrics returns the per-chain view used by watchers and submitters.
func (m *Metrics) ChainMetrics(chainId uint64) *ChainMetrics {
	return &ChainMetrics{
		m:       m,
		chainId: strconv.FormatUint(chainId, 10),
	}
}
