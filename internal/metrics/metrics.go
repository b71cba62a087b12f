package metrics

import (
	"time"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vulndetector"

// Metrics holds all the Prometheus metrics for the detector service
type Metrics struct {
	MessagesReceived     prometheus.Counter
	MessagesByOutcome    *prometheus.CounterVec
	VulnerabilitiesTotal *prometheus.CounterVec
	PersistErrors        prometheus.Counter
	PublishErrors        prometheus.Counter
	MalformedDocuments   prometheus.Counter
	ProcessingDuration   prometheus.Histogram
	ModelLoaded          prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of run-ready messages received",
		}),
		MessagesByOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Total number of run-ready messages by handling outcome",
		}, []string{"outcome"}),
		VulnerabilitiesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vulnerabilities_detected_total",
			Help:      "Total number of vulnerabilities detected by severity",
		}, []string{"severity"}),
		PersistErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Total number of failed vulnerability inserts",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_publish_errors_total",
			Help:      "Total number of NATS publish errors",
		}),
		MalformedDocuments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_documents_total",
			Help:      "Total number of event documents skipped because they could not be decoded",
		}),
		ProcessingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_seconds",
			Help:      "Time spent handling one run-ready message",
			Buckets:   prometheus.DefBuckets,
		}),
		ModelLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when the risk model artifacts are loaded, 0 in rules-only mode",
		}),
	}
}

// IncrementMessagesReceived increments the received counter
func (m *Metrics) IncrementMessagesReceived() {
	m.MessagesReceived.Inc()
}

// ObserveOutcome records how a message was handled and how long it took
func (m *Metrics) ObserveOutcome(outcome string, elapsed time.Duration) {
	m.MessagesByOutcome.WithLabelValues(outcome).Inc()
	m.ProcessingDuration.Observe(elapsed.Seconds())
}

// RecordVulnerabilities counts vulns by severity
func (m *Metrics) RecordVulnerabilities(vulns []model.Vulnerability) {
	for _, v := range vulns {
		m.VulnerabilitiesTotal.WithLabelValues(string(v.Severity)).Inc()
	}
}

// IncrementPersistErrors increments the persist error counter
func (m *Metrics) IncrementPersistErrors() {
	m.PersistErrors.Inc()
}

// IncrementPublishErrors increments the publish error counter
func (m *Metrics) IncrementPublishErrors() {
	m.PublishErrors.Inc()
}

// SetModelLoaded reports whether the risk model is active
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
		return
	}
	m.ModelLoaded.Set(0)
}
