// Package metrics holds the prometheus collectors of the HTTP gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Outcomes per upstream call, labelled by provider and result.
	Transcriptions *prometheus.CounterVec
	Prompts        *prometheus.CounterVec
	Syntheses      *prometheus.CounterVec
	RateLimited    prometheus.Counter
}

// New creates the collectors on a private registry, so that several
// gateways (and tests) never collide on the default one.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phonio_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phonio_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phonio_transcriptions_total",
			Help: "Transcriptions by outcome",
		}, []string{"result"}),
		Prompts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phonio_prompts_total",
			Help: "Text prompts by provider and outcome",
		}, []string{"provider", "result"}),
		Syntheses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phonio_speech_syntheses_total",
			Help: "Speech syntheses by outcome",
		}, []string{"result"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "phonio_rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
