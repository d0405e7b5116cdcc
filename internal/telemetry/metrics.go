// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports per-request counters to Prometheus. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	Queries          *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	TokensUsed       *prometheus.CounterVec
	TokensSaved      prometheus.Counter
	Latency          *prometheus.HistogramVec
	SpecialCases     prometheus.Counter
	TierFailures     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	DictionaryReload prometheus.Counter
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Queries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kgassist_queries_total",
				Help: "Completed assistant queries by final tier",
			},
			[]string{"tier"},
		),
		Escalations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kgassist_escalations_total",
				Help: "Tier escalations after failed validation",
			},
			[]string{"from", "to", "reason"},
		),
		TokensUsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kgassist_tokens_used_total",
				Help: "Tokens charged by final tier",
			},
			[]string{"tier"},
		),
		TokensSaved: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kgassist_tokens_saved_total",
				Help: "Tokens saved against the reference budget",
			},
		),
		Latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kgassist_query_duration_seconds",
				Help:    "End-to-end query latency",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tier"},
		),
		SpecialCases: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kgassist_special_cases_total",
				Help: "Queries answered by a special-case handler",
			},
		),
		TierFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kgassist_tier_failures_total",
				Help: "Tier results rejected by validation",
			},
			[]string{"tier", "reason"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kgassist_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "kgassist_http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),
		DictionaryReload: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kgassist_dictionary_reloads_total",
				Help: "Keyword dictionary hot reloads",
			},
		),
	}
}

// Record observes one completed request.
func (m *Metrics) Record(o Outcome, budget int) {
	if m == nil {
		return
	}
	tier := o.Tier.String()
	m.Queries.WithLabelValues(tier).Inc()
	if o.TokensUsed > 0 {
		m.TokensUsed.WithLabelValues(tier).Add(float64(o.TokensUsed))
	}
	m.TokensSaved.Add(float64(TokensSaved(budget, o.TokensUsed)))
	m.Latency.WithLabelValues(tier).Observe(o.Latency.Seconds())
	if o.SpecialCase {
		m.SpecialCases.Inc()
	}
	if o.Escalated {
		m.Escalations.WithLabelValues(o.RoutedTier.String(), tier, o.InvalidReason).Inc()
	}
}

// TierFailed counts a validation rejection.
func (m *Metrics) TierFailed(tier, reason string) {
	if m == nil {
		return
	}
	m.TierFailures.WithLabelValues(tier, reason).Inc()
}

// HTTPRequest observes one HTTP exchange.
func (m *Metrics) HTTPRequest(method, endpoint string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

// Reloaded counts a dictionary reload.
func (m *Metrics) Reloaded() {
	if m == nil {
		return
	}
	m.DictionaryReload.Inc()
}
