package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cvproc"

// Registry owns the service collectors. A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	quotaDecisions    *prometheus.CounterVec
	quotaRollbacks    prometheus.Counter
	jobsSubmitted     *prometheus.CounterVec
	jobTransitions    *prometheus.CounterVec
	processorCalls    *prometheus.CounterVec
	processorDuration *prometheus.HistogramVec
	webhookDeliveries *prometheus.CounterVec
	reapedJobs        prometheus.Counter
}

// New constructs a Registry with Go runtime and process collectors attached.
func New() *Registry {
	registry := prometheus.NewRegistry()

	quotaDecisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Quota admission decisions by outcome.",
		},
		[]string{"outcome"},
	)
	quotaRollbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "rollbacks_total",
			Help:      "Quota units returned after a failed job.",
		},
	)
	jobsSubmitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Jobs created by processing mode.",
		},
		[]string{"mode"},
	)
	jobTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Job status transitions.",
		},
		[]string{"from", "to"},
	)
	processorCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "calls_total",
			Help:      "Remote processor calls by delivery and outcome.",
		},
		[]string{"delivery", "outcome"},
	)
	processorDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "call_duration_seconds",
			Help:      "Remote processor call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"delivery"},
	)
	webhookDeliveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook result deliveries by correlation outcome.",
		},
		[]string{"outcome"},
	)
	reapedJobs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "reaped_total",
			Help:      "Stale processing jobs failed by the reaper.",
		},
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		quotaDecisions,
		quotaRollbacks,
		jobsSubmitted,
		jobTransitions,
		processorCalls,
		processorDuration,
		webhookDeliveries,
		reapedJobs,
	)

	return &Registry{
		registry:          registry,
		quotaDecisions:    quotaDecisions,
		quotaRollbacks:    quotaRollbacks,
		jobsSubmitted:     jobsSubmitted,
		jobTransitions:    jobTransitions,
		processorCalls:    processorCalls,
		processorDuration: processorDuration,
		webhookDeliveries: webhookDeliveries,
		reapedJobs:        reapedJobs,
	}
}

// Handler exposes metrics in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) ObserveQuotaDecision(allowed bool) {
	if r == nil {
		return
	}
	outcome := "admitted"
	if !allowed {
		outcome = "rejected"
	}
	r.quotaDecisions.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncQuotaRollback() {
	if r == nil {
		return
	}
	r.quotaRollbacks.Inc()
}

func (r *Registry) IncJobSubmitted(mode string) {
	if r == nil {
		return
	}
	r.jobsSubmitted.WithLabelValues(mode).Inc()
}

func (r *Registry) ObserveTransition(from, to string) {
	if r == nil {
		return
	}
	r.jobTransitions.WithLabelValues(from, to).Inc()
}

func (r *Registry) ObserveProcessorCall(delivery, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.processorCalls.WithLabelValues(delivery, outcome).Inc()
	r.processorDuration.WithLabelValues(delivery).Observe(duration.Seconds())
}

func (r *Registry) ObserveWebhook(outcome string) {
	if r == nil {
		return
	}
	r.webhookDeliveries.WithLabelValues(outcome).Inc()
}

func (r *Registry) IncReaped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.reapedJobs.Add(float64(n))
}
