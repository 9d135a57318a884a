package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "event_pipeline"

// Failure reasons used as the "reason" label on EventsFailed.
const (
	ReasonMalformed   = "malformed"
	ReasonValidation  = "validation"
	ReasonUnknownType = "unknown_type"
	ReasonRouting     = "routing"
	ReasonNormalize   = "normalize"
	ReasonSink        = "sink"
	ReasonRiskCheck   = "risk_check"
)

// PipelineMetrics holds the Prometheus collectors shared by the binaries.
type PipelineMetrics struct {
	EventsGenerated *prometheus.CounterVec
	PublishErrors   prometheus.Counter
	AttackMode      prometheus.Gauge

	EventsProcessed *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec
	HighRiskFlags   *prometheus.CounterVec
	SinkLatency     *prometheus.HistogramVec
	LastProcessed   prometheus.Gauge

	QueryDuration *prometheus.HistogramVec
}

// NewPipelineMetrics registers every collector with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		EventsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "events_total",
			Help:      "Total number of generated events by type and mode.",
		}, []string{"type", "mode"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "publish_errors_total",
			Help:      "Total number of events that could not be published.",
		}),
		AttackMode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "attack_mode",
			Help:      "1 while the generator is in attack mode, 0 otherwise.",
		}),
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_processed_total",
			Help:      "Total number of events validated and written, by type.",
		}, []string{"type"}),
		EventsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_failed_total",
			Help:      "Total number of skipped messages, by topic and reason.",
		}, []string{"topic", "reason"}), // reason: malformed, validation, unknown_type, routing, normalize, sink, risk_check
		HighRiskFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "high_risk_flags_total",
			Help:      "Total number of account activity events flagged as high risk, by risk score.",
		}, []string{"score"}),
		SinkLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "sink_write_seconds",
			Help:      "Latency of sink writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		LastProcessed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "last_processed_timestamp_seconds",
			Help:      "Unix time of the last successfully processed event.",
		}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "query_seconds",
			Help:      "Latency of metrics and search queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
	}
}
