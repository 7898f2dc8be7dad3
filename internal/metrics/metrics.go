// Package metrics holds the Prometheus collectors for the sale, refund and
// stock engines. They register on the default registry and are served by
// promhttp under /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollyshop",
		Name:      "sales_created_total",
		Help:      "Committed sales.",
	})

	RefundsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollyshop",
		Name:      "refunds_created_total",
		Help:      "Committed refunds.",
	})

	StockAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollyshop",
		Name:      "stock_adjustments_total",
		Help:      "Stock ledger entries written, by adjustment type.",
	}, []string{"type"})

	ConflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollyshop",
		Name:      "concurrency_conflict_retries_total",
		Help:      "Units of work retried after a concurrency conflict.",
	}, []string{"operation"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollyshop",
		Name:      "operation_duration_seconds",
		Help:      "Latency of engine operations including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollyshop",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "status"})
)

// ObserveOperation records the duration since start under operation with an
// "ok" or "error" outcome.
func ObserveOperation(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	OperationDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
