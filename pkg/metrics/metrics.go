package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	ExecutionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_executions_started_total",
		Help: "The total number of executions started",
	})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_executions_finished_total",
		Help: "The total number of executions that reached a terminal status",
	}, []string{"status"})

	ActiveExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rebalancer_active_executions",
		Help: "The number of executions currently being driven",
	})

	ActionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_actions_processed_total",
		Help: "The total number of plan actions by chain, kind and outcome",
	}, []string{"chain", "kind", "status"})

	ActionProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_action_processing_seconds",
		Help:    "Time taken to drive one action to a terminal sub-state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"chain"})

	DependencyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_dependency_failures_total",
		Help: "Actions failed without being attempted because a dependency failed",
	}, []string{"chain"})

	SignatureRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_signature_requests_total",
		Help: "The total number of signing jobs opened on the threshold signer",
	})

	SignatureTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_signature_timeouts_total",
		Help: "Signing jobs that did not complete within the polling budget",
	})

	SignatureWaitTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebalancer_signature_wait_seconds",
		Help:    "Time from signature request to availability",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	ConfirmationTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_confirmation_wait_seconds",
		Help:    "Time waiting for transaction confirmation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"chain"})

	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_gas_used",
		Help:    "Gas used by rebalance transactions",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10), // Start at 21000 with 10 buckets doubling in size
	}, []string{"chain"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rebalancer_gas_price_gwei",
		Help: "Current gas price in gwei",
	}, []string{"chain"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_cache_hits_total",
		Help: "The total number of cache reads served from a fresh entry",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_cache_misses_total",
		Help: "The total number of cache reads that found no fresh entry",
	})

	TriggerEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_trigger_evaluations_total",
		Help: "The total number of trigger monitor wallet evaluations",
	})

	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_triggers_fired_total",
		Help: "Automatic rebalances enqueued by the trigger monitor, by predicate",
	}, []string{"reason"})

	TriggersSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_triggers_skipped_total",
		Help: "Trigger evaluations skipped, by reason",
	}, []string{"reason"})
)
