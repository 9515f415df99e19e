package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "fpilot"

var (
	FlowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Total number of task runs, labeled by final outcome.",
		},
		[]string{"task", "outcome"},
	)

	FlowStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_stage_failures_total",
			Help:      "Total number of failed runs, labeled by the stage that failed.",
		},
		[]string{"task", "stage"},
	)

	FlowRunLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_run_latency_seconds",
			Help:      "End-to-end latency of a task run from input validation to result (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"task", "outcome"},
	)

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of completion requests sent to the model backend, labeled by outcome.",
		},
		[]string{"provider", "outcome"},
	)

	BackendLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Latency of a single completion request (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"provider"},
	)

	BackendTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_tokens_total",
			Help:      "Total number of tokens reported by the model backend, labeled by kind (prompt, completion).",
		},
		[]string{"provider", "kind"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook deliveries, labeled by kind and outcome.",
		},
		[]string{"kind", "task", "outcome"},
	)

	FlowCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_cache_total",
			Help:      "Total number of cached task lookups, labeled by result (hit, miss).",
		},
		[]string{"task", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		FlowRunsTotal,
		FlowStageFailuresTotal,
		FlowRunLatencySeconds,
		BackendRequestsTotal,
		BackendLatencySeconds,
		BackendTokensTotal,
		RateLimitHitsTotal,
		WebhookDeliveriesTotal,
		FlowCacheTotal,
	)
}
