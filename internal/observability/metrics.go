package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerMetricsOnce sync.Once

	GuardrailChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prguard_guardrail_checks_total",
			Help: "Guardrail checks reported, by check name and conclusion",
		},
		[]string{"check", "conclusion"},
	)

	ChildIssues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prguard_child_issues_total",
			Help: "Findings materialized as child issues, by outcome and severity",
		},
		[]string{"outcome", "severity"},
	)

	DispatchGates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prguard_dispatch_gate_total",
			Help: "Reviewer dispatch gate decisions",
		},
		[]string{"decision"},
	)

	ReviewerTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prguard_reviewer_tasks_total",
			Help: "Reviewer tasks run, by skill and result",
		},
		[]string{"skill", "result"},
	)

	ReviewerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prguard_reviewer_latency_seconds",
			Help:    "Reviewer task latency",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"skill"},
	)

	APIRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prguard_github_retries_total",
			Help: "Retried GitHub API calls, by operation",
		},
		[]string{"operation"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prguard_webhook_events_total",
			Help: "Webhook deliveries received, by event and outcome",
		},
		[]string{"event", "outcome"},
	)
)

// InitMetrics registers all collectors with the default registry once.
func InitMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(GuardrailChecks, ChildIssues, DispatchGates,
			ReviewerTasks, ReviewerLatency, APIRetries, WebhookEvents)
	})
}
