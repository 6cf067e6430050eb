// Package metrics defines the Prometheus collectors for the review
// platform. Recording is fire-and-forget; a failed scrape never affects
// the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Gateway
	EventsReceived *prometheus.CounterVec // label: event
	EventsIgnored  *prometheus.CounterVec // label: reason
	EventsEnqueued *prometheus.CounterVec // label: trigger

	// Worker
	ReviewsSuccess prometheus.Counter
	ReviewsFailed  prometheus.Counter
	ReviewsSkipped *prometheus.CounterVec // label: reason
	ReviewDuration prometheus.Histogram

	// Outbound
	LLMCalls        *prometheus.CounterVec   // labels: capability, outcome
	LLMCallDuration *prometheus.HistogramVec // label: capability
	ForgeRequests   *prometheus.CounterVec   // labels: operation, outcome
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semreview_events_received_total",
			Help: "Webhook deliveries received, by event type.",
		}, []string{"event"}),
		EventsIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semreview_events_ignored_total",
			Help: "Webhook deliveries classified as ignorable, by reason.",
		}, []string{"reason"}),
		EventsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semreview_events_enqueued_total",
			Help: "Canonical events published to the review stream, by trigger.",
		}, []string{"trigger"}),

		ReviewsSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "semreview_reviews_success_total",
			Help: "Review executions that completed, including neutral outcomes.",
		}),
		ReviewsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "semreview_reviews_failed_total",
			Help: "Review executions returned to the queue for redelivery.",
		}),
		ReviewsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semreview_reviews_skipped_total",
			Help: "Review executions skipped before the pipeline ran, by reason.",
		}, []string{"reason"}),
		ReviewDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "semreview_review_duration_seconds",
			Help:    "End-to-end duration of a review execution.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),

		LLMCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semreview_llm_calls_total",
			Help: "LLM completion calls, by capability and outcome.",
		}, []string{"capability", "outcome"}),
		LLMCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "semreview_llm_call_duration_seconds",
			Help:    "Duration of LLM completion calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"capability"}),
		ForgeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semreview_forge_requests_total",
			Help: "Forge API requests, by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
