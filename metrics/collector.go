// Package metrics exposes pipeline events as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gaborage/go-costops/middleware"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "costops"

// Collector owns the Prometheus vectors fed by pipeline events
type Collector struct {
	// Requests counts attempts started, by method
	Requests *prometheus.CounterVec
	// Responses counts successful responses, by method and status
	Responses *prometheus.CounterVec
	// Errors counts terminal failures, by error kind
	Errors *prometheus.CounterVec
	// Retries counts scheduled retries, by the kind that triggered them
	Retries *prometheus.CounterVec
	// Latency observes response time in seconds, by method
	Latency *prometheus.HistogramVec
	// RetryDelay observes the backoff delay chosen before each retry
	RetryDelay prometheus.Histogram
}

// NewCollector registers the collector's metrics with reg under namespace.
// An empty namespace uses DefaultNamespace. Registration panics on duplicate names,
// so create one Collector per registry.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Collector{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of cost API attempts started",
			},
			[]string{"method"},
		),
		Responses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Total number of successful cost API responses",
			},
			[]string{"method", "status"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed cost API calls",
			},
			[]string{"kind"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retries scheduled",
			},
			[]string{"kind"},
		),
		Latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "Cost API response latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RetryDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_delay_seconds",
				Help:      "Backoff delay before each retry in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
	}
}

// Attach subscribes the collector to m and returns the unsubscribe function
func (c *Collector) Attach(m *middleware.Manager) func() {
	return m.SubscribeAll(c.Observe)
}

// Observe updates the metrics for a single event
func (c *Collector) Observe(ev middleware.Event) {
	switch e := ev.(type) {
	case middleware.RequestStart:
		c.Requests.WithLabelValues(e.Request.Request.Method).Inc()
	case middleware.RequestEnd:
		method := e.Response.Request.Request.Method
		c.Responses.WithLabelValues(method, strconv.Itoa(e.Response.StatusCode)).Inc()
		c.Latency.WithLabelValues(method).Observe(e.Response.Elapsed.Seconds())
	case middleware.RequestError:
		kind := "unknown"
		if e.Error.Err != nil {
			kind = e.Error.Err.Kind().String()
		}
		c.Errors.WithLabelValues(kind).Inc()
	case middleware.RetryAttempt:
		kind := "unknown"
		if e.Err != nil {
			kind = e.Err.Kind().String()
		}
		c.Retries.WithLabelValues(kind).Inc()
		c.RetryDelay.Observe(e.Delay.Seconds())
	}
}
