package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_provider_requests_total",
			Help: "Total number of generation provider requests.",
		},
		[]string{"provider", "model", "operation", "status"},
	)
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novel_provider_request_duration_seconds",
			Help:    "Duration of generation provider requests.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider", "model", "operation"},
	)
	providerTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_provider_tokens_total",
			Help: "Total number of tokens processed, partitioned by direction.",
		},
		[]string{"provider", "model", "direction"},
	)
	providerThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "novel_provider_throttled_total",
			Help: "Requests that could not acquire a rate limiter token before their deadline.",
		},
	)
)

func observeRequest(provider, model, operation string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	providerRequestsTotal.WithLabelValues(provider, model, operation, status).Inc()
	providerRequestDuration.WithLabelValues(provider, model, operation).Observe(time.Since(started).Seconds())
}

func observeUsage(provider, model string, usage Usage) {
	if usage.PromptTokens > 0 {
		providerTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		providerTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
	}
}
