// Package metrics holds the Prometheus collectors of sifgraph. They are registered with the
// default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoaderBatches counts batches delivered by data loaders, by outcome (ok or error)
	LoaderBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sifgraph_loader_batches_total",
			Help: "Total number of minibatches delivered by data loaders",
		},
		[]string{"outcome"},
	)

	// LoaderStageDuration measures the time each pipeline stage spends on one batch
	LoaderStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sifgraph_loader_stage_duration_seconds",
			Help:    "Duration of a pipeline stage on a single minibatch",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"stage"},
	)

	// LoaderQueueDepth tracks the number of finished batches waiting for the consumer
	LoaderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sifgraph_loader_queue_depth",
			Help: "Number of finished minibatches waiting to be consumed",
		},
	)

	// KVRequests counts key-value store requests handled by servers, by operation and status
	KVRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sifgraph_kv_requests_total",
			Help: "Total number of key-value store requests handled",
		},
		[]string{"op", "status"},
	)

	// KVRequestDuration measures client-side round trips to the key-value store
	KVRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sifgraph_kv_request_duration_seconds",
			Help:    "Duration of key-value store operations, as seen by clients",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	// KVRows counts rows stored by key-value servers, by tensor name
	KVRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sifgraph_kv_rows",
			Help: "Number of rows held by a key-value server",
		},
		[]string{"name"},
	)
)
