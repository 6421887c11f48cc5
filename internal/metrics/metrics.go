// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResultsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_results_processed_total",
			Help: "Check results processed by outcome.",
		},
		[]string{"outcome"},
	)

	KeepalivesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitoring_keepalives_processed_total",
			Help: "Client keepalives stored.",
		},
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_events_dispatched_total",
			Help: "Handler dispatches by handler type and outcome.",
		},
		[]string{"handler_type", "outcome"},
	)

	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitoring_dispatch_seconds",
			Help:    "Time spent mutating and delivering one event to one handler.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"handler_type"},
	)

	HandlersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitoring_handlers_in_flight",
			Help: "Handler dispatches started but not finished.",
		},
	)

	IsMaster = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitoring_is_master",
			Help: "1 while this instance holds the master lease.",
		},
	)

	CheckRequestsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_check_requests_total",
			Help: "Check request publications by outcome.",
		},
		[]string{"outcome"},
	)

	AggregatesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitoring_aggregates_pruned_total",
			Help: "Aggregate issued timestamps removed by pruning.",
		},
	)

	StaleClientResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitoring_keepalive_results_total",
			Help: "Keepalive check results published by status.",
		},
		[]string{"status"},
	)

	FilterEvalErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitoring_filter_eval_errors_total",
			Help: "Filter eval expressions that failed.",
		},
	)
)
