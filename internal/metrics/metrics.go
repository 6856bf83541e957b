package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatbot"

// Recorder holds the gateway metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	agentRequests *prometheus.CounterVec
	agentLatency  *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	widgets       prometheus.Gauge
	rateLimited   prometheus.Counter
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		agentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Requests sent to the conversational agent by command and outcome.",
		}, []string{"command", "code"}),
		agentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_request_duration_seconds",
			Help:      "Latency of agent requests by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions.",
		}, []string{"from", "to"}),
		widgets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "widgets_active",
			Help:      "Widgets currently held by the gateway.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per widget rate limit.",
		}),
	}

	r.registry.MustRegister(
		r.agentRequests,
		r.agentLatency,
		r.transitions,
		r.widgets,
		r.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRequest records one agent request. code is empty on success.
func (r *Recorder) ObserveRequest(command string, duration time.Duration, code string) {
	if code == "" {
		code = "ok"
	}
	r.agentRequests.WithLabelValues(command, code).Inc()
	r.agentLatency.WithLabelValues(command).Observe(duration.Seconds())
}

// StatusChanged records a session status transition.
func (r *Recorder) StatusChanged(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

// Widgets returns the active widget gauge.
func (r *Recorder) Widgets() prometheus.Gauge { return r.widgets }

// RateLimited counts a rejected request.
func (r *Recorder) RateLimited() { r.rateLimited.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
