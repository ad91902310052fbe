package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redirect"

// Outcome labels.
const (
	OutcomeRedirect    = "redirect"
	OutcomeNotFound    = "not_found"
	OutcomeRateLimited = "rate_limited"
)

// Registry holds the gateway collectors on a private prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	matches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rules    prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests by outcome, method and status code",
		}, []string{"outcome", "method", "code"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Redirects served per table pattern",
		}, []string{"pattern", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent answering a request",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"outcome"}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rules",
			Help:      "Number of rules in the loaded redirect table",
		}),
	}
	r.registry.MustRegister(
		r.requests,
		r.matches,
		r.duration,
		r.rules,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) IncRequest(outcome, method string, status int) {
	r.requests.WithLabelValues(outcome, method, strconv.Itoa(status)).Inc()
}

func (r *Registry) IncMatch(pattern string, status int) {
	r.matches.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
}

func (r *Registry) ObserveDuration(outcome string, d time.Duration) {
	r.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *Registry) SetRules(n int) {
	r.rules.Set(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }
